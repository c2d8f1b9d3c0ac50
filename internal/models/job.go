package models

import (
	"time"
)

// JobStatus values persisted in Postgres. Transitions only move forward:
// PENDING -> PROCESSING -> DONE | FAILED.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Analysis categories assigned by the dispatcher.
const (
	CategoryText        = "text"
	CategoryImage       = "image"
	CategoryUnsupported = "unsupported"
)

// Failure reasons recorded with StatusFailed.
const (
	ReasonUnsupportedType     = "unsupported_type"
	ReasonAnalyzerUnreachable = "analyzer_unreachable"
	ReasonAnalysisError       = "analysis_error"
)

// Job represents one uploaded file tracked end-to-end by its id. The id is
// both the store key and the queue payload, and also keys the raw bytes in
// object storage.
type Job struct {
	ID               string    `json:"id"`
	Filename         string    `json:"filename"`
	ContentType      string    `json:"content_type"`
	Status           string    `json:"status"`
	AnalysisCategory *string   `json:"analysis_category,omitempty"`
	Result           *string   `json:"result,omitempty"`
	FailureReason    *string   `json:"failure_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Terminal reports whether no further transitions can occur.
func (j Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}
