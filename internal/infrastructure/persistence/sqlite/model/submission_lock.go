package model

// SubmissionLock holds the checksum guard. One row per checksum.
type SubmissionLock struct {
	Checksum  string `gorm:"column:checksum;type:text;primaryKey"`
	BatchID   string `gorm:"column:batch_id;type:text;not null"`
	UpdatedAt string `gorm:"column:updated_at;type:text;not null"`
}

func (SubmissionLock) TableName() string {
	return "submission_locks"
}
