package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/credcheck/internal/db"
	"github.com/sells-group/credcheck/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_report":        `INSERT INTO reports (id, status, credential_path, resume_path, credential_name, resume_name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"update_report_status": `UPDATE reports SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_report":           `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`,
	"insert_stage":         `INSERT INTO report_stages (id, report_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_stage":       `UPDATE report_stages SET status = $1, duration_ms = $2, error = $3 WHERE id = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	cfg := db.PoolConfig{Prepared: preparedStatements}
	if poolCfg != nil {
		cfg.MaxConns = poolCfg.MaxConns
		cfg.MinConns = poolCfg.MinConns
	}
	pool, err := db.NewPool(ctx, connString, &cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool so the reference index can
// share it.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status          TEXT NOT NULL DEFAULT 'pending',
	credential_path TEXT NOT NULL,
	resume_path     TEXT NOT NULL,
	credential_name TEXT NOT NULL DEFAULT '',
	resume_name     TEXT NOT NULL DEFAULT '',
	credential_type TEXT NOT NULL DEFAULT '',
	result          JSONB,
	failure         JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS report_stages (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	report_id   TEXT NOT NULL REFERENCES reports(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
CREATE INDEX IF NOT EXISTS idx_reports_credential_type ON reports(credential_type);
CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_report_stages_report_id ON report_stages(report_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateReport(ctx context.Context, in NewReport) (*model.Report, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (id, status, credential_path, resume_path, credential_name, resume_name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, string(model.ReportStatusPending), in.Files.CredentialPath, in.Files.ResumePath,
		in.CredentialName, in.ResumeName, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert report")
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

func (s *PostgresStore) UpdateReportStatus(ctx context.Context, reportID string, status model.ReportStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update report status %s", reportID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("report", reportID)
	}
	return nil
}

func (s *PostgresStore) CompleteReport(ctx context.Context, reportID string, credentialType model.Category, result *model.Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET status = $1, credential_type = $2, result = $3, failure = NULL, updated_at = $4 WHERE id = $5`,
		string(model.ReportStatusCompleted), string(credentialType), resultJSON, time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete report %s", reportID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("report", reportID)
	}
	return nil
}

func (s *PostgresStore) FailReport(ctx context.Context, reportID string, credentialType model.Category, failure *model.Failure) error {
	failureJSON, err := json.Marshal(failure)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal failure")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET status = $1, credential_type = $2, failure = $3, updated_at = $4 WHERE id = $5`,
		string(model.ReportStatusFailed), string(credentialType), failureJSON, time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail report %s", reportID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("report", reportID)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (*model.Report, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, reportID)
	r, err := scanPgReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("report", reportID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", reportID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, report_id, name, status, duration_ms, error, started_at
		 FROM report_stages WHERE report_id = $1 ORDER BY started_at`,
		reportID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list stages %s", reportID)
	}
	defer rows.Close()

	for rows.Next() {
		var st model.ReportStage
		var status string
		if err := rows.Scan(&st.ID, &st.ReportID, &st.Name, &status, &st.DurationMs, &st.Error, &st.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage")
		}
		st.Status = model.StageStatus(status)
		r.Stages = append(r.Stages, st)
	}
	return r, eris.Wrap(rows.Err(), "postgres: list stages iterate")
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.CredentialType != "" {
		query += fmt.Sprintf(` AND credential_type = $%d`, argIdx)
		args = append(args, string(filter.CredentialType))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		r, err := scanPgReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) CreateStage(ctx context.Context, reportID, name string) (*model.ReportStage, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_stages (id, report_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, reportID, name, string(model.StageStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert stage for report %s", reportID)
	}

	return &model.ReportStage{
		ID:        id,
		ReportID:  reportID,
		Name:      name,
		Status:    model.StageStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteStage(ctx context.Context, stageID string, result StageResult) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE report_stages SET status = $1, duration_ms = $2, error = $3 WHERE id = $4`,
		string(result.Status), result.DurationMs, result.Error, stageID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete stage %s", stageID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("stage", stageID)
	}
	return nil
}

func scanPgReport(row scannable) (*model.Report, error) {
	var r model.Report
	var status, credType string
	var resultJSON, failureJSON []byte

	if err := row.Scan(&r.ID, &status, &r.Files.CredentialPath, &r.Files.ResumePath,
		&r.CredentialName, &r.ResumeName, &credType, &resultJSON, &failureJSON,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.ReportStatus(status)
	r.CredentialType = model.Category(credType)

	if resultJSON != nil {
		r.Result = &model.Result{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	if failureJSON != nil {
		r.Failure = &model.Failure{}
		if err := json.Unmarshal(failureJSON, r.Failure); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal failure")
		}
	}
	return &r, nil
}
