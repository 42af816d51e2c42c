package csvrow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultDateLayouts are tried in order for every date column.
var DefaultDateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", "2006/01/02"}

// HeaderMapping maps canonical columns to the headers a source system uses.
//
// Example (YAML):
//
//	version: v1
//	columns:
//	  case_number: "Case No"
//	aliases:
//	  court_code: ["Court", "Bench"]
//	date_layouts: ["02.01.2006"]
type HeaderMapping struct {
	Version     string              `yaml:"version" toml:"version"`
	Columns     map[string]string   `yaml:"columns" toml:"columns"`
	Aliases     map[string][]string `yaml:"aliases" toml:"aliases"`
	DateLayouts []string            `yaml:"date_layouts" toml:"date_layouts"`
}

// LoadHeaderMapping reads a YAML (.yaml, .yml) or TOML (.toml) mapping file.
// An empty path yields the canonical mapping.
func LoadHeaderMapping(path string) (HeaderMapping, error) {
	if strings.TrimSpace(path) == "" {
		return HeaderMapping{Version: SchemaV1.Version}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return HeaderMapping{}, fmt.Errorf("read header mapping %s: %w", path, err)
	}

	var mapping HeaderMapping
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&mapping); err != nil {
			return HeaderMapping{}, fmt.Errorf("decode yaml header mapping %s: %w", path, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&mapping); err != nil {
			return HeaderMapping{}, fmt.Errorf("decode toml header mapping %s: %w", path, err)
		}
	default:
		return HeaderMapping{}, fmt.Errorf("unsupported header mapping format %q", filepath.Ext(path))
	}

	if err := mapping.Validate(SchemaV1); err != nil {
		return HeaderMapping{}, fmt.Errorf("header mapping %s: %w", path, err)
	}
	return mapping, nil
}

func (m HeaderMapping) Validate(schema Schema) error {
	if m.Version != "" && m.Version != schema.Version {
		return fmt.Errorf("mapping version %q does not match row schema %q", m.Version, schema.Version)
	}
	for canonical := range m.Columns {
		if _, ok := schema.spec(Column(canonical)); !ok {
			return fmt.Errorf("unknown column %q", canonical)
		}
	}
	for canonical := range m.Aliases {
		if _, ok := schema.spec(Column(canonical)); !ok {
			return fmt.Errorf("unknown column %q in aliases", canonical)
		}
	}
	return nil
}

// candidates lists the header names accepted for a column, most specific first.
func (m HeaderMapping) candidates(col Column) []string {
	out := make([]string, 0, 4)
	if name, ok := m.Columns[string(col)]; ok && strings.TrimSpace(name) != "" {
		out = append(out, name)
	}
	out = append(out, m.Aliases[string(col)]...)
	out = append(out, string(col))
	return out
}

func (m HeaderMapping) layouts() []string {
	if len(m.DateLayouts) == 0 {
		return DefaultDateLayouts
	}
	return m.DateLayouts
}
