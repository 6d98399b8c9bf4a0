package model

import "time"

// FileType identifies the kind of document submitted for ingestion.
type FileType string

// File type constants.
const (
	FileCSV   FileType = "csv"
	FilePDF   FileType = "pdf"
	FileImage FileType = "image"
)

// ImportStatus is the state of an import record.
// State machine: pending -> processing -> {completed, failed}.
type ImportStatus string

// Import status constants.
const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
)

// Import tracks one ingestion of a document against an account. Terminal
// states are immutable.
type Import struct {
	ID               string       `json:"id"`
	OwnerID          string       `json:"ownerId"`
	AccountID        string       `json:"accountId"`
	Filename         string       `json:"filename"`
	FileType         FileType     `json:"fileType"`
	Status           ImportStatus `json:"status"`
	TransactionCount int          `json:"transactionCount"`
	ErrorMessage     string       `json:"errorMessage,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
}

// Terminal reports whether the status is a terminal state.
func (s ImportStatus) Terminal() bool {
	return s == ImportCompleted || s == ImportFailed
}
