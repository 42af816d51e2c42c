package model

type Case struct {
	CaseID            string  `gorm:"column:case_id;type:text;primaryKey"`
	CaseNumber        string  `gorm:"column:case_number;type:text;not null;uniqueIndex:idx_case_natural_key,priority:1"`
	CourtCode         string  `gorm:"column:court_code;type:text;not null;uniqueIndex:idx_case_natural_key,priority:2"`
	FilingYear        int     `gorm:"column:filing_year;not null;uniqueIndex:idx_case_natural_key,priority:3"`
	CaseType          string  `gorm:"column:case_type;type:text;not null"`
	CaseStatus        string  `gorm:"column:case_status;type:text;not null"`
	FilingDate        string  `gorm:"column:filing_date;type:text;not null"`
	Petitioner        string  `gorm:"column:petitioner;type:text;not null"`
	Respondent        string  `gorm:"column:respondent;type:text;not null"`
	NextHearingDate   *string `gorm:"column:next_hearing_date;type:text"`
	LastImportBatchID string  `gorm:"column:last_import_batch_id;type:text;not null"`
	AssignedJudge     string  `gorm:"column:assigned_judge;type:text;not null;default:''"`
	Priority          string  `gorm:"column:priority;type:text;not null;default:''"`
	InternalNotes     string  `gorm:"column:internal_notes;type:text;not null;default:''"`
	CreatedAt         string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt         string  `gorm:"column:updated_at;type:text;not null"`
}

func (Case) TableName() string {
	return "cases"
}
