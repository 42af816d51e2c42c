package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/fx"

	"caseimport/internal/bootstrap/config"
	"caseimport/internal/domain/importing"
	"caseimport/internal/usecase/importer"
)

func TestModuleWiresMemoryPipeline(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	body := "database:\n  dsn: " + filepath.ToSlash(filepath.Join(dir, "db", "import.sqlite")) + "\n" +
		"import:\n  base_dir: " + filepath.ToSlash(dir) + "\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	csv := "case_number,court_code,filing_year,case_type,filing_date,petitioner,respondent,activity_date\n" +
		"WP-1,HC,2021,WP,2021-02-01,A,B,2021-03-01\n"
	if err := os.WriteFile(filepath.Join(dir, "cases.csv"), []byte(csv), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	ctx := context.Background()
	var app *App
	var svc *importer.Service
	var pool *importer.Pool
	fxApp := fx.New(
		Module,
		fx.NopLogger,
		fx.Provide(func() context.Context { return ctx }),
		fx.Provide(
			fx.Annotate(
				func() string { return configPath },
				fx.ResultTags(`name:"configFile"`),
			),
		),
		fx.Populate(&app, &svc, &pool),
	)
	if err := fxApp.Err(); err != nil {
		t.Fatalf("fx.New() error = %v", err)
	}
	if err := fxApp.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = fxApp.Stop(context.Background())
	})

	if err := app.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	if err := app.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() second run error = %v", err)
	}
	version, err := app.RowSchemaVersion(ctx)
	if err != nil || version != "v1" {
		t.Fatalf("RowSchemaVersion() = %q, %v", version, err)
	}

	res, err := svc.Submit(ctx, importer.Submission{FilePath: "cases.csv"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Status != importing.StatusPending || !res.DryRun {
		t.Fatalf("Submit() = %+v", res)
	}
	if stats := svc.Stats(ctx); stats.QueueDepth != 1 || !stats.BrokerConnected {
		t.Fatalf("Stats() = %+v", stats)
	}
	if pool == nil {
		t.Fatalf("pool was not provided")
	}
}

func TestParserAndMapperFollowImportConfig(t *testing.T) {
	csv := "case_number,court_code,filing_year,case_type,case_status,filing_date,petitioner,respondent,activity_date\n" +
		"WP-1,HC,2021,WP,ARCHIVED,01.02.2021,A,B,01.03.2021\n"
	cfg := config.Config{Import: config.ImportConfig{
		DateLayouts:  []string{"02.01.2006"},
		CaseStatuses: []string{"ACTIVE", "ARCHIVED"},
	}}

	parser, err := provideParser(cfg)
	if err != nil {
		t.Fatalf("provideParser() error = %v", err)
	}
	stream, err := parser.Open(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	v, err := stream.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if v.Failure != nil {
		t.Fatalf("row failed with configured layouts: %v", v.Failure)
	}
	projection, failure := provideMapper(cfg).Map(*v.Row)
	if failure != nil {
		t.Fatalf("Map() failure = %v", failure)
	}
	if projection.Case.CaseStatus != "ARCHIVED" {
		t.Fatalf("case status = %q, want ARCHIVED", projection.Case.CaseStatus)
	}

	defaults, err := provideParser(config.Config{})
	if err != nil {
		t.Fatalf("provideParser() error = %v", err)
	}
	stream, err = defaults.Open(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if v, err := stream.Next(); err != nil || v.Failure == nil {
		t.Fatalf("Next() with default layouts = %+v, %v, want row failure", v, err)
	}
}
