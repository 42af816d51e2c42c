package importing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ImportJob is the unit of work carried by the queue.
type ImportJob struct {
	FilePath string `json:"filePath"`
	Filename string `json:"filename"`
	FileSize int64  `json:"fileSize"`
	Checksum string `json:"checksum"`
	UserID   string `json:"userId,omitempty"`
	BatchID  string `json:"batchId"`
	DryRun   bool   `json:"dryRun"`
}

func (j ImportJob) Validate() error {
	if strings.TrimSpace(j.FilePath) == "" {
		return fmt.Errorf("%w: filePath is required", ErrInvalidSubmission)
	}
	if strings.TrimSpace(j.Filename) == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidSubmission)
	}
	if j.FileSize < 0 {
		return fmt.Errorf("%w: fileSize must be >= 0", ErrInvalidSubmission)
	}
	if strings.TrimSpace(j.Checksum) == "" {
		return fmt.Errorf("%w: checksum is required", ErrInvalidSubmission)
	}
	if strings.TrimSpace(j.BatchID) == "" {
		return fmt.Errorf("%w: batchId is required", ErrInvalidSubmission)
	}
	return nil
}

func EncodeJob(job ImportJob) ([]byte, error) {
	return json.Marshal(job)
}

func DecodeJob(data []byte) (ImportJob, error) {
	var job ImportJob
	if err := json.Unmarshal(data, &job); err != nil {
		return ImportJob{}, fmt.Errorf("decode import job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return ImportJob{}, err
	}
	return job, nil
}
