package model

import (
	"time"
)

// ReportStatus tracks a persisted evaluation through its lifecycle.
type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "pending"
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusFailed     ReportStatus = "failed"
)

// Report is the stored record of one credential evaluation.
type Report struct {
	ID             string        `json:"id"`
	Status         ReportStatus  `json:"status"`
	Files          FilePaths     `json:"files"`
	CredentialName string        `json:"credential_name,omitempty"`
	ResumeName     string        `json:"resume_name,omitempty"`
	CredentialType Category      `json:"credential_type,omitempty"`
	Result         *Result       `json:"result,omitempty"`
	Failure        *Failure      `json:"failure,omitempty"`
	Stages         []ReportStage `json:"stages,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Failure describes why an evaluation stopped.
type Failure struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StageStatus is the outcome of one pipeline stage.
type StageStatus string

const (
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// ReportStage records one stage execution within a report.
type ReportStage struct {
	ID         string      `json:"id"`
	ReportID   string      `json:"report_id"`
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
}
