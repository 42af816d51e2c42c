package model

type ImportBatch struct {
	BatchID           string  `gorm:"column:batch_id;type:text;primaryKey"`
	Filename          string  `gorm:"column:filename;type:text;not null"`
	Checksum          string  `gorm:"column:checksum;type:text;not null;index"`
	Status            string  `gorm:"column:status;type:text;not null;index"`
	TotalRecords      int     `gorm:"column:total_records;not null;default:0"`
	SuccessfulRecords int     `gorm:"column:successful_records;not null;default:0"`
	FailedRecords     int     `gorm:"column:failed_records;not null;default:0"`
	CreatedRecords    int     `gorm:"column:created_records;not null;default:0"`
	UpdatedRecords    int     `gorm:"column:updated_records;not null;default:0"`
	ErrorLogsJSON     string  `gorm:"column:error_logs_json;type:text;not null"`
	DryRun            bool    `gorm:"column:dry_run;not null;default:false"`
	CreatedBy         string  `gorm:"column:created_by;type:text;not null"`
	CreatedAt         string  `gorm:"column:created_at;type:text;not null"`
	StartedAt         *string `gorm:"column:started_at;type:text"`
	CompletedAt       *string `gorm:"column:completed_at;type:text"`
}

func (ImportBatch) TableName() string {
	return "import_batches"
}
