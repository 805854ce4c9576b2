package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

const findingBatchSize = 100

// PostgresStore keeps scans in two tables: one row per scan and one row per
// finding, the finding itself stored as JSONB next to its identity key.
type PostgresStore struct {
	Pool   *pgxpool.Pool
	logger *logrus.Logger
}

func NewPostgresStore(ctx context.Context, url string, logger *logrus.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}
	var pool *pgxpool.Pool
	err := utils.RetryWithContext(ctx, 3, 500*time.Millisecond, func() error {
		p, err := pgxpool.New(ctx, url)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s := &PostgresStore{Pool: pool, logger: logger}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS vulnlynx_scans (
  id UUID PRIMARY KEY,
  label TEXT NOT NULL,
  source TEXT,
  captured_at TIMESTAMPTZ NOT NULL,
  saved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  score_column TEXT NOT NULL,
  processed BOOLEAN NOT NULL DEFAULT FALSE,
  columns JSONB NOT NULL DEFAULT '[]'::jsonb,
  findings INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_vulnlynx_scans_captured ON vulnlynx_scans (captured_at DESC, saved_at DESC);

CREATE TABLE IF NOT EXISTS vulnlynx_findings (
  scan_id UUID NOT NULL REFERENCES vulnlynx_scans(id) ON DELETE CASCADE,
  ord INTEGER NOT NULL,
  server TEXT NOT NULL,
  cve_code TEXT NOT NULL,
  component TEXT NOT NULL,
  priority SMALLINT,
  status TEXT,
  raw JSONB NOT NULL,
  PRIMARY KEY (scan_id, ord)
);

CREATE INDEX IF NOT EXISTS idx_vulnlynx_findings_key ON vulnlynx_findings (scan_id, server, cve_code, component);
`)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, scan *models.Scan) (ScanRecord, error) {
	if scan == nil || scan.ID == "" {
		return ScanRecord{}, fmt.Errorf("scan ID is required")
	}
	columns, err := json.Marshal(scan.Columns)
	if err != nil {
		return ScanRecord{}, fmt.Errorf("marshal columns: %w", err)
	}
	rec := recordOf(scan)

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ScanRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM vulnlynx_scans WHERE id=$1::uuid`, scan.ID); err != nil {
		return ScanRecord{}, err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO vulnlynx_scans (id, label, source, captured_at, saved_at, score_column, processed, columns, findings)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)`,
		scan.ID, scan.Label, nullableString(scan.Source), scan.CapturedAt, rec.SavedAt,
		rec.ScoreColumn, scan.Processed, string(columns), rec.Findings,
	); err != nil {
		return ScanRecord{}, fmt.Errorf("insert scan: %w", err)
	}
	if err := batchInsertFindings(ctx, tx, scan.ID, scan.Findings); err != nil {
		return ScanRecord{}, fmt.Errorf("batch insert findings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ScanRecord{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"scan":     scan.ID,
		"label":    scan.Label,
		"findings": rec.Findings,
	}).Info("Scan saved to postgres history")
	return rec, nil
}

func batchInsertFindings(ctx context.Context, tx pgx.Tx, scanID string, findings []models.Finding) error {
	for start := 0; start < len(findings); start += findingBatchSize {
		end := start + findingBatchSize
		if end > len(findings) {
			end = len(findings)
		}

		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			f := &findings[i]
			raw, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("marshal finding %d: %w", i, err)
			}
			var priority *int
			if f.Priority != models.PriorityUnset {
				p := int(f.Priority)
				priority = &p
			}
			batch.Queue(`
INSERT INTO vulnlynx_findings (scan_id, ord, server, cve_code, component, priority, status, raw)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8::jsonb)`,
				scanID, i, f.Server, f.CVECode, f.Component, priority, nullableString(string(f.Status)), string(raw))
		}

		br := tx.SendBatch(ctx, batch)
		for i := start; i < end; i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*models.Scan, error) {
	scan := &models.Scan{ID: id}
	var (
		source  *string
		columns []byte
	)
	err := s.Pool.QueryRow(ctx, `
SELECT label, source, captured_at, score_column, processed, columns
FROM vulnlynx_scans WHERE id=$1::uuid`, id).
		Scan(&scan.Label, &source, &scan.CapturedAt, &scan.ScoreColumn, &scan.Processed, &columns)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrScanNotFound, id)
		}
		return nil, err
	}
	if source != nil {
		scan.Source = *source
	}
	if err := json.Unmarshal(columns, &scan.Columns); err != nil {
		return nil, fmt.Errorf("unmarshal columns: %w", err)
	}

	rows, err := s.Pool.Query(ctx, `SELECT raw FROM vulnlynx_findings WHERE scan_id=$1::uuid ORDER BY ord`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var f models.Finding
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("unmarshal finding: %w", err)
		}
		scan.Findings = append(scan.Findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scan, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]ScanRecord, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT id::text, label, COALESCE(source, ''), captured_at, saved_at, score_column, processed, findings
FROM vulnlynx_scans
ORDER BY captured_at DESC, saved_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		var r ScanRecord
		if err := rows.Scan(&r.ID, &r.Label, &r.Source, &r.CapturedAt, &r.SavedAt, &r.ScoreColumn, &r.Processed, &r.Findings); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM vulnlynx_scans WHERE id=$1::uuid`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrScanNotFound, id)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.Pool.Close()
	return nil
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
