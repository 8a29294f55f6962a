package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credcheck/internal/model"
)

// ErrNotFound is wrapped by lookups and updates that match no row.
var ErrNotFound = eris.New("store: not found")

// NewReport holds the fields known when an evaluation is accepted.
type NewReport struct {
	Files          model.FilePaths
	CredentialName string
	ResumeName     string
}

// ReportFilter specifies criteria for listing reports.
type ReportFilter struct {
	Status         model.ReportStatus `json:"status,omitempty"`
	CredentialType model.Category     `json:"credential_type,omitempty"`
	Limit          int                `json:"limit,omitempty"`
	Offset         int                `json:"offset,omitempty"`
}

// StageResult is the outcome written when a stage finishes.
type StageResult struct {
	Status     model.StageStatus
	DurationMs int64
	Error      string
}

// Store defines the persistence interface for evaluation reports.
type Store interface {
	// Reports
	CreateReport(ctx context.Context, in NewReport) (*model.Report, error)
	UpdateReportStatus(ctx context.Context, reportID string, status model.ReportStatus) error
	CompleteReport(ctx context.Context, reportID string, credentialType model.Category, result *model.Result) error
	FailReport(ctx context.Context, reportID string, credentialType model.Category, failure *model.Failure) error
	GetReport(ctx context.Context, reportID string) (*model.Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error)

	// Stages
	CreateStage(ctx context.Context, reportID, name string) (*model.ReportStage, error)
	CompleteStage(ctx context.Context, stageID string, result StageResult) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
