package model

type CaseActivity struct {
	ActivityID      string  `gorm:"column:activity_id;type:text;primaryKey"`
	CaseID          string  `gorm:"column:case_id;type:text;not null;index;uniqueIndex:idx_case_activity_ref,priority:1"`
	BatchID         string  `gorm:"column:batch_id;type:text;not null;index"`
	RowNumber       int     `gorm:"column:row_number;not null"`
	ActivityDate    string  `gorm:"column:activity_date;type:text;not null"`
	Outcome         string  `gorm:"column:outcome;type:text;not null"`
	NextHearingDate *string `gorm:"column:next_hearing_date;type:text"`
	Remarks         string  `gorm:"column:remarks;type:text;not null"`
	Adjournments    int     `gorm:"column:adjournments;not null;default:0"`

	// NULL refs never collide, so rows without a business key always append.
	ActivityRef *string `gorm:"column:activity_ref;type:text;uniqueIndex:idx_case_activity_ref,priority:2"`
	CreatedAt   string  `gorm:"column:created_at;type:text;not null"`
}

func (CaseActivity) TableName() string {
	return "case_activities"
}
