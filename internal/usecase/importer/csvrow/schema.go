package csvrow

// Column is a canonical row-schema column name.
type Column string

const (
	ColCaseNumber      Column = "case_number"
	ColCourtCode       Column = "court_code"
	ColFilingYear      Column = "filing_year"
	ColCaseType        Column = "case_type"
	ColCaseStatus      Column = "case_status"
	ColFilingDate      Column = "filing_date"
	ColPetitioner      Column = "petitioner"
	ColRespondent      Column = "respondent"
	ColActivityDate    Column = "activity_date"
	ColOutcome         Column = "outcome"
	ColNextHearingDate Column = "next_hearing_date"
	ColRemarks         Column = "remarks"
	ColAdjournments    Column = "adjournments"
	ColActivityRef     Column = "activity_ref"
)

type ColumnSpec struct {
	Name     Column
	Required bool
	// MaxLen bounds the trimmed value in runes; 0 means unbounded.
	MaxLen int
}

// Schema is a fixed, versioned row layout.
type Schema struct {
	Version string
	Columns []ColumnSpec
}

var SchemaV1 = Schema{
	Version: "v1",
	Columns: []ColumnSpec{
		{Name: ColCaseNumber, Required: true, MaxLen: 64},
		{Name: ColCourtCode, Required: true, MaxLen: 32},
		{Name: ColFilingYear, Required: true},
		{Name: ColCaseType, Required: true, MaxLen: 32},
		{Name: ColCaseStatus, MaxLen: 32},
		{Name: ColFilingDate, Required: true},
		{Name: ColPetitioner, MaxLen: 512},
		{Name: ColRespondent, MaxLen: 512},
		{Name: ColActivityDate, Required: true},
		{Name: ColOutcome, MaxLen: 256},
		{Name: ColNextHearingDate},
		{Name: ColRemarks, MaxLen: 2000},
		{Name: ColAdjournments},
		{Name: ColActivityRef, MaxLen: 128},
	},
}

func (s Schema) Required() []Column {
	out := make([]Column, 0, len(s.Columns))
	for _, c := range s.Columns {
		if c.Required {
			out = append(out, c.Name)
		}
	}
	return out
}

func (s Schema) spec(name Column) (ColumnSpec, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}
