package importing

import (
	"fmt"
	"strings"
	"time"
)

// SystemUsername is the identity recorded when a job has no submitting user.
const SystemUsername = "system-import"

// NaturalKey identifies a case across imports.
type NaturalKey struct {
	CaseNumber string
	CourtCode  string
	FilingYear int
}

// Normalize trims whitespace and upper-cases the court code and case number
// so that equal keys from different files compare equal.
func (k NaturalKey) Normalize() NaturalKey {
	return NaturalKey{
		CaseNumber: strings.ToUpper(strings.TrimSpace(k.CaseNumber)),
		CourtCode:  strings.ToUpper(strings.TrimSpace(k.CourtCode)),
		FilingYear: k.FilingYear,
	}
}

func (k NaturalKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.CourtCode, k.CaseNumber, k.FilingYear)
}

type CaseRecord struct {
	ID                string
	Key               NaturalKey
	CaseType          string
	CaseStatus        string
	FilingDate        time.Time
	Petitioner        string
	Respondent        string
	NextHearingDate   *time.Time
	LastImportBatchID string

	// Owned by other subsystems; import never writes these.
	AssignedJudge string
	Priority      string
	InternalNotes string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type CaseActivity struct {
	ID              string
	CaseID          string
	BatchID         string
	RowNumber       int
	ActivityDate    time.Time
	Outcome         string
	NextHearingDate *time.Time
	Remarks         string
	Adjournments    int
	ActivityRef     string
	CreatedAt       time.Time
}

type User struct {
	ID          string
	Username    string
	DisplayName string
	IsSystem    bool
}
