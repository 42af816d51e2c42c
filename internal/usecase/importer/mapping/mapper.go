package mapping

import (
	"fmt"
	"strings"
	"time"

	"caseimport/internal/domain/importing"
	"caseimport/internal/usecase/importer/csvrow"
)

// DefaultCaseTypes maps source codes to canonical case types.
var DefaultCaseTypes = map[string]string{
	"CV":   "CIVIL",
	"CR":   "CRIMINAL",
	"FAM":  "FAMILY",
	"WP":   "WRIT_PETITION",
	"APP":  "APPEAL",
	"MISC": "MISCELLANEOUS",
	"LAB":  "LABOUR",
	"TAX":  "TAX",
}

// DefaultCaseStatuses lists accepted case status codes.
var DefaultCaseStatuses = []string{"PENDING", "ACTIVE", "DISPOSED", "ADJOURNED", "STAYED", "TRANSFERRED", "CLOSED"}

// DefaultCaseStatus is applied to new cases whose row carries no status.
const DefaultCaseStatus = "PENDING"

const minFilingYear = 1900

type CaseProjection struct {
	Key        importing.NaturalKey
	CaseType   string
	CaseStatus string
	FilingDate time.Time
	Petitioner string
	Respondent string
}

type ActivityProjection struct {
	ActivityDate    time.Time
	Outcome         string
	NextHearingDate *time.Time
	Remarks         string
	Adjournments    int
	ActivityRef     string
}

// Projection is one row mapped onto the domain model.
type Projection struct {
	RowNumber int
	Raw       string
	Case      CaseProjection
	Activity  ActivityProjection
}

type Mapper struct {
	caseTypes    map[string]string
	caseStatuses map[string]struct{}
	now          func() time.Time
}

type Option func(*Mapper)

// WithCaseTypes replaces the case type code table. Keys are matched
// case-insensitively.
func WithCaseTypes(table map[string]string) Option {
	return func(m *Mapper) {
		if len(table) == 0 {
			return
		}
		m.caseTypes = normalizeTable(table)
	}
}

func WithCaseStatuses(codes []string) Option {
	return func(m *Mapper) {
		if len(codes) == 0 {
			return
		}
		m.caseStatuses = toSet(codes)
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Mapper) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMapper(opts ...Option) *Mapper {
	m := &Mapper{
		caseTypes:    normalizeTable(DefaultCaseTypes),
		caseStatuses: toSet(DefaultCaseStatuses),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map projects a parsed row. It never touches storage.
func (m *Mapper) Map(row csvrow.Row) (Projection, *csvrow.Failure) {
	var problems []string

	caseType, ok := m.resolveCaseType(row.CaseType)
	if !ok {
		problems = append(problems, fmt.Sprintf("unknown case type %q", row.CaseType))
	}

	if row.CaseStatus != "" {
		if _, ok := m.caseStatuses[row.CaseStatus]; !ok {
			problems = append(problems, fmt.Sprintf("unknown case status %q", row.CaseStatus))
		}
	}

	today := m.now()
	if row.FilingYear < minFilingYear || row.FilingYear > today.Year() {
		problems = append(problems, fmt.Sprintf("filing year %d outside %d..%d", row.FilingYear, minFilingYear, today.Year()))
	}
	if !row.FilingDate.IsZero() && row.FilingDate.Year() != row.FilingYear {
		problems = append(problems, fmt.Sprintf("filing date %s does not fall in filing year %d", row.FilingDate.Format(time.DateOnly), row.FilingYear))
	}
	if row.FilingDate.After(endOfDay(today)) {
		problems = append(problems, fmt.Sprintf("filing date %s is in the future", row.FilingDate.Format(time.DateOnly)))
	}
	if row.ActivityDate.Before(row.FilingDate) {
		problems = append(problems, fmt.Sprintf("activity date %s precedes filing date %s", row.ActivityDate.Format(time.DateOnly), row.FilingDate.Format(time.DateOnly)))
	}
	if row.NextHearingDate != nil && row.NextHearingDate.Before(row.ActivityDate) {
		problems = append(problems, fmt.Sprintf("next hearing %s precedes activity date %s", row.NextHearingDate.Format(time.DateOnly), row.ActivityDate.Format(time.DateOnly)))
	}

	if len(problems) > 0 {
		return Projection{}, &csvrow.Failure{
			RowNumber: row.Number,
			Raw:       row.Raw,
			Type:      importing.ErrorTypeMapping,
			Reason:    strings.Join(problems, "; "),
		}
	}

	key := importing.NaturalKey{
		CaseNumber: row.CaseNumber,
		CourtCode:  row.CourtCode,
		FilingYear: row.FilingYear,
	}
	return Projection{
		RowNumber: row.Number,
		Raw:       row.Raw,
		Case: CaseProjection{
			Key:        key.Normalize(),
			CaseType:   caseType,
			CaseStatus: row.CaseStatus,
			FilingDate: row.FilingDate,
			Petitioner: row.Petitioner,
			Respondent: row.Respondent,
		},
		Activity: ActivityProjection{
			ActivityDate:    row.ActivityDate,
			Outcome:         row.Outcome,
			NextHearingDate: row.NextHearingDate,
			Remarks:         row.Remarks,
			Adjournments:    row.Adjournments,
			ActivityRef:     row.ActivityRef,
		},
	}, nil
}

// resolveCaseType accepts a code or an already canonical type name.
func (m *Mapper) resolveCaseType(token string) (string, bool) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if canonical, ok := m.caseTypes[token]; ok {
		return canonical, true
	}
	for _, canonical := range m.caseTypes {
		if canonical == token {
			return canonical, true
		}
	}
	return "", false
}

func normalizeTable(table map[string]string) map[string]string {
	out := make(map[string]string, len(table))
	for code, canonical := range table {
		out[strings.ToUpper(strings.TrimSpace(code))] = strings.ToUpper(strings.TrimSpace(canonical))
	}
	return out
}

func toSet(codes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		out[strings.ToUpper(strings.TrimSpace(code))] = struct{}{}
	}
	return out
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}
