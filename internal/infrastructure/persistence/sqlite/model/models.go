package model

// All lists every table the import service owns, in migration order.
func All() []any {
	return []any{
		&User{},
		&ImportBatch{},
		&ImportErrorDetail{},
		&Case{},
		&CaseActivity{},
		&SubmissionLock{},
	}
}
