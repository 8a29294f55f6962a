package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/credcheck/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the handle so the reference index can share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'pending',
	credential_path TEXT NOT NULL,
	resume_path     TEXT NOT NULL,
	credential_name TEXT NOT NULL DEFAULT '',
	resume_name     TEXT NOT NULL DEFAULT '',
	credential_type TEXT NOT NULL DEFAULT '',
	result          TEXT,
	failure         TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS report_stages (
	id          TEXT PRIMARY KEY,
	report_id   TEXT NOT NULL REFERENCES reports(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
CREATE INDEX IF NOT EXISTS idx_reports_credential_type ON reports(credential_type);
CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
CREATE INDEX IF NOT EXISTS idx_report_stages_report_id ON report_stages(report_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateReport(ctx context.Context, in NewReport) (*model.Report, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, status, credential_path, resume_path, credential_name, resume_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(model.ReportStatusPending), in.Files.CredentialPath, in.Files.ResumePath,
		in.CredentialName, in.ResumeName, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert report")
	}

	return &model.Report{
		ID:             id,
		Status:         model.ReportStatusPending,
		Files:          in.Files,
		CredentialName: in.CredentialName,
		ResumeName:     in.ResumeName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *SQLiteStore) UpdateReportStatus(ctx context.Context, reportID string, status model.ReportStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update report status %s", reportID)
	}
	return checkRowsAffected(res, "report", reportID)
}

func (s *SQLiteStore) CompleteReport(ctx context.Context, reportID string, credentialType model.Category, result *model.Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET status = ?, credential_type = ?, result = ?, failure = NULL, updated_at = ? WHERE id = ?`,
		string(model.ReportStatusCompleted), string(credentialType), string(resultJSON), time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete report %s", reportID)
	}
	return checkRowsAffected(res, "report", reportID)
}

func (s *SQLiteStore) FailReport(ctx context.Context, reportID string, credentialType model.Category, failure *model.Failure) error {
	failureJSON, err := json.Marshal(failure)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal failure")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET status = ?, credential_type = ?, failure = ?, updated_at = ? WHERE id = ?`,
		string(model.ReportStatusFailed), string(credentialType), string(failureJSON), time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail report %s", reportID)
	}
	return checkRowsAffected(res, "report", reportID)
}

const reportColumns = `id, status, credential_path, resume_path, credential_name, resume_name, credential_type, result, failure, created_at, updated_at`

func (s *SQLiteStore) GetReport(ctx context.Context, reportID string) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, reportID)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("report", reportID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_id, name, status, duration_ms, error, started_at
		 FROM report_stages WHERE report_id = ? ORDER BY started_at, rowid`,
		reportID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list stages %s", reportID)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var st model.ReportStage
		if err := rows.Scan(&st.ID, &st.ReportID, &st.Name, &st.Status, &st.DurationMs, &st.Error, &st.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage")
		}
		r.Stages = append(r.Stages, st)
	}
	return r, eris.Wrap(rows.Err(), "sqlite: list stages iterate")
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.CredentialType != "" {
		query += ` AND credential_type = ?`
		args = append(args, string(filter.CredentialType))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close() //nolint:errcheck

	var reports []model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) CreateStage(ctx context.Context, reportID, name string) (*model.ReportStage, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO report_stages (id, report_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, reportID, name, string(model.StageStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert stage for report %s", reportID)
	}

	return &model.ReportStage{
		ID:        id,
		ReportID:  reportID,
		Name:      name,
		Status:    model.StageStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteStage(ctx context.Context, stageID string, result StageResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE report_stages SET status = ?, duration_ms = ?, error = ? WHERE id = ?`,
		string(result.Status), result.DurationMs, result.Error, stageID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete stage %s", stageID)
	}
	return checkRowsAffected(res, "stage", stageID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

// scanReport reads one reports row; sql.ErrNoRows is returned unwrapped.
func scanReport(row scannable) (*model.Report, error) {
	var r model.Report
	var resultJSON, failureJSON sql.NullString

	err := row.Scan(&r.ID, &r.Status, &r.Files.CredentialPath, &r.Files.ResumePath,
		&r.CredentialName, &r.ResumeName, &r.CredentialType, &resultJSON, &failureJSON,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan report")
	}

	if resultJSON.Valid {
		r.Result = &model.Result{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	if failureJSON.Valid {
		r.Failure = &model.Failure{}
		if err := json.Unmarshal([]byte(failureJSON.String), r.Failure); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal failure")
		}
	}
	return &r, nil
}
