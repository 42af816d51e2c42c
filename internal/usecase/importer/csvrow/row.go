package csvrow

import (
	"time"

	"caseimport/internal/domain/importing"
)

// Row is a structurally valid, typed data row. Enum tokens are upper-cased
// but not yet resolved against code tables.
type Row struct {
	Number int
	Raw    string

	CaseNumber      string
	CourtCode       string
	FilingYear      int
	CaseType        string
	CaseStatus      string
	FilingDate      time.Time
	Petitioner      string
	Respondent      string
	ActivityDate    time.Time
	Outcome         string
	NextHearingDate *time.Time
	Remarks         string
	Adjournments    int
	ActivityRef     string
}

// Failure describes a row that cannot be imported. Parser and mapper
// failures share this shape.
type Failure struct {
	RowNumber int
	Raw       string
	Type      importing.ErrorType
	Reason    string
}

func (f *Failure) Error() string {
	return f.Reason
}

// Detail converts the failure into an error detail for batchID.
func (f *Failure) Detail(batchID string) importing.ImportErrorDetail {
	return importing.ImportErrorDetail{
		BatchID:      batchID,
		RowNumber:    f.RowNumber,
		RawRowData:   f.Raw,
		ErrorType:    f.Type,
		ErrorMessage: f.Reason,
	}
}

// Validated is the per-row parser result. Exactly one field is set.
type Validated struct {
	Row     *Row
	Failure *Failure
}
