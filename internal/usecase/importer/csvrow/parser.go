package csvrow

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"caseimport/internal/domain/importing"
)

// MaxRawRowBytes bounds the raw row text kept on an error detail.
const MaxRawRowBytes = 4096

type Parser struct {
	schema  Schema
	mapping HeaderMapping
}

func NewParser(mapping HeaderMapping) *Parser {
	return &Parser{schema: SchemaV1, mapping: mapping}
}

// Stream yields one Validated per data row. It is not safe for concurrent use.
type Stream struct {
	schema  Schema
	layouts []string
	cr      *csv.Reader
	index   map[Column]int
	width   int
	ordinal int
}

// Open reads the header and returns a stream over the data rows. Header
// problems are file-fatal and wrap importing.ErrFileFatal.
func (p *Parser) Open(ctx context.Context, r io.Reader) (*Stream, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	br := stripUTF8BOM(bufio.NewReader(r))
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", importing.ErrFileFatal)
		}
		return nil, fmt.Errorf("%w: unreadable header: %w", importing.ErrFileFatal, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
		if !utf8.ValidString(header[i]) {
			return nil, fmt.Errorf("%w: %w: header", importing.ErrFileFatal, importing.ErrMalformedEncoding)
		}
	}

	index, err := resolveHeader(p.schema, p.mapping, header)
	if err != nil {
		return nil, err
	}

	return &Stream{
		schema:  p.schema,
		layouts: p.mapping.layouts(),
		cr:      cr,
		index:   index,
		width:   len(header),
	}, nil
}

func resolveHeader(schema Schema, mapping HeaderMapping, header []string) (map[Column]int, error) {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(name)
		if _, dup := positions[key]; dup {
			return nil, fmt.Errorf("%w: duplicate header column %q", importing.ErrFileFatal, name)
		}
		positions[key] = i
	}

	index := make(map[Column]int, len(schema.Columns))
	var missing []string
	for _, col := range schema.Columns {
		found := false
		for _, candidate := range mapping.candidates(col.Name) {
			if pos, ok := positions[strings.ToLower(strings.TrimSpace(candidate))]; ok {
				index[col.Name] = pos
				found = true
				break
			}
		}
		if !found && col.Required {
			missing = append(missing, string(col.Name))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %w: %s", importing.ErrFileFatal, importing.ErrMissingHeader, strings.Join(missing, ", "))
	}
	return index, nil
}

// Next returns the next data row, or io.EOF after the last one. Row defects
// come back as a Failure with a nil error; a non-nil error other than
// io.EOF is file-fatal.
func (s *Stream) Next() (Validated, error) {
	record, err := s.cr.Read()
	if errors.Is(err, io.EOF) {
		return Validated{}, io.EOF
	}
	s.ordinal++

	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return s.fail(record, "malformed CSV: %v", parseErr.Err), nil
		}
		return Validated{}, fmt.Errorf("%w: read row %d: %w", importing.ErrFileFatal, s.ordinal, err)
	}

	for _, field := range record {
		if !utf8.ValidString(field) {
			return Validated{}, fmt.Errorf("%w: %w: row %d", importing.ErrFileFatal, importing.ErrMalformedEncoding, s.ordinal)
		}
	}

	if len(record) != s.width {
		return s.fail(record, "expected %d fields, got %d", s.width, len(record)), nil
	}

	row, problems := s.convert(record)
	if len(problems) > 0 {
		return s.fail(record, "%s", strings.Join(problems, "; ")), nil
	}
	return Validated{Row: row}, nil
}

// RowsRead reports how many data rows Next has consumed.
func (s *Stream) RowsRead() int {
	return s.ordinal
}

func (s *Stream) fail(record []string, format string, args ...any) Validated {
	return Validated{Failure: &Failure{
		RowNumber: s.ordinal,
		Raw:       encodeRaw(record),
		Type:      importing.ErrorTypeValidation,
		Reason:    fmt.Sprintf(format, args...),
	}}
}

func (s *Stream) convert(record []string) (*Row, []string) {
	var problems []string
	get := func(col Column) string {
		pos, ok := s.index[col]
		if !ok {
			return ""
		}
		value := strings.TrimSpace(record[pos])
		spec, _ := s.schema.spec(col)
		if spec.Required && value == "" {
			problems = append(problems, fmt.Sprintf("%s is required", col))
		}
		if spec.MaxLen > 0 && utf8.RuneCountInString(value) > spec.MaxLen {
			problems = append(problems, fmt.Sprintf("%s exceeds %d characters", col, spec.MaxLen))
		}
		return value
	}
	date := func(col Column, value string) time.Time {
		if value == "" {
			return time.Time{}
		}
		t, ok := parseDate(value, s.layouts)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s %q is not a valid date", col, value))
		}
		return t
	}

	row := &Row{
		Number:      s.ordinal,
		Raw:         encodeRaw(record),
		CaseNumber:  get(ColCaseNumber),
		CourtCode:   get(ColCourtCode),
		CaseType:    strings.ToUpper(get(ColCaseType)),
		CaseStatus:  strings.ToUpper(get(ColCaseStatus)),
		Petitioner:  get(ColPetitioner),
		Respondent:  get(ColRespondent),
		Outcome:     get(ColOutcome),
		Remarks:     get(ColRemarks),
		ActivityRef: get(ColActivityRef),
	}

	if year := get(ColFilingYear); year != "" {
		n, err := strconv.Atoi(year)
		if err != nil {
			problems = append(problems, fmt.Sprintf("filing_year %q is not a number", year))
		}
		row.FilingYear = n
	}

	row.FilingDate = date(ColFilingDate, get(ColFilingDate))
	row.ActivityDate = date(ColActivityDate, get(ColActivityDate))
	if raw := get(ColNextHearingDate); raw != "" {
		if t := date(ColNextHearingDate, raw); !t.IsZero() {
			row.NextHearingDate = &t
		}
	}

	if raw := get(ColAdjournments); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			problems = append(problems, fmt.Sprintf("adjournments %q must be a non-negative integer", raw))
		}
		row.Adjournments = n
	}

	return row, problems
}

func parseDate(value string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// encodeRaw re-encodes fields as one CSV line, bounded to MaxRawRowBytes.
func encodeRaw(record []string) string {
	if len(record) == 0 {
		return ""
	}
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write(record)
	w.Flush()
	return truncate(strings.TrimRight(b.String(), "\r\n"), MaxRawRowBytes)
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
