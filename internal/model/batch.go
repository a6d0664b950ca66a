package model

import "time"

// BatchStatus describes the upload lifecycle. Completed and failed are terminal.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// Batch is one ingestion attempt over a single uploaded file.
type Batch struct {
	ID             string      `json:"id"`
	Kind           RecordKind  `json:"kind"`
	SegmentID      *string     `json:"segmentId,omitempty"`
	FileName       string      `json:"fileName"`
	FileSize       int64       `json:"fileSize"`
	ObjectKey      string      `json:"-"`
	Status         BatchStatus `json:"status"`
	TotalRows      int         `json:"totalRows"`
	ValidRows      int         `json:"validRows"`
	InvalidRows    int         `json:"invalidRows"`
	ErrorReportKey *string     `json:"errorReportKey,omitempty"`
	FailureReason  *string     `json:"failureReason,omitempty"`
	CreatedBy      string      `json:"createdBy"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
}

// BatchOutcome is the terminal write applied to a batch exactly once.
type BatchOutcome struct {
	Status         BatchStatus
	TotalRows      int
	ValidRows      int
	InvalidRows    int
	ErrorReportKey *string
	FailureReason  *string
}
