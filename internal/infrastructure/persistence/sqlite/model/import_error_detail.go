package model

type ImportErrorDetail struct {
	DetailID     string `gorm:"column:detail_id;type:text;primaryKey"`
	BatchID      string `gorm:"column:batch_id;type:text;not null;index:idx_error_detail_batch_row,priority:1"`
	RowNumber    int    `gorm:"column:row_number;not null;index:idx_error_detail_batch_row,priority:2"`
	RawRowData   string `gorm:"column:raw_row_data;type:text;not null"`
	ErrorType    string `gorm:"column:error_type;type:text;not null"`
	ErrorMessage string `gorm:"column:error_message;type:text;not null"`
	CreatedAt    string `gorm:"column:created_at;type:text;not null"`
}

func (ImportErrorDetail) TableName() string {
	return "import_error_details"
}
