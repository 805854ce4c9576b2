package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

// ScanRecord is the index entry of one stored scan.
type ScanRecord struct {
	ID          string    `json:"id" yaml:"id"`
	Label       string    `json:"label" yaml:"label"`
	Source      string    `json:"source,omitempty" yaml:"source,omitempty"`
	CapturedAt  time.Time `json:"captured_at" yaml:"captured_at"`
	SavedAt     time.Time `json:"saved_at" yaml:"saved_at"`
	ScoreColumn string    `json:"score_column" yaml:"score_column"`
	Processed   bool      `json:"processed" yaml:"processed"`
	Findings    int       `json:"findings" yaml:"findings"`
	File        string    `json:"file,omitempty" yaml:"file,omitempty"`
	Size        int64     `json:"size,omitempty" yaml:"size,omitempty"`
}

func recordOf(s *models.Scan) ScanRecord {
	return ScanRecord{
		ID:          s.ID,
		Label:       s.Label,
		Source:      s.Source,
		CapturedAt:  s.CapturedAt,
		SavedAt:     time.Now().UTC(),
		ScoreColumn: s.ScoreColumn,
		Processed:   s.Processed,
		Findings:    len(s.Findings),
	}
}

// sortNewestFirst orders records by capture time, newest first. Saves of
// the same capture time keep the later save first.
func sortNewestFirst(records []ScanRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CapturedAt.Equal(records[j].CapturedAt) {
			return records[i].CapturedAt.After(records[j].CapturedAt)
		}
		return records[i].SavedAt.After(records[j].SavedAt)
	})
}

// HistoryStore persists processed scans so later runs can reuse them as the
// baseline chain.
type HistoryStore interface {
	Save(ctx context.Context, scan *models.Scan) (ScanRecord, error)
	Load(ctx context.Context, id string) (*models.Scan, error)
	// List returns every stored scan, newest first.
	List(ctx context.Context) ([]ScanRecord, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open builds the history store configured in cfg.
func Open(ctx context.Context, cfg models.StorageConfig, logger *logrus.Logger) (HistoryStore, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(LocalOptions{
			BaseDir:     cfg.Path,
			Compression: cfg.Compression,
			Passphrase:  encryptionKey(cfg),
		}, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}

func encryptionKey(cfg models.StorageConfig) string {
	if !cfg.Encryption {
		return ""
	}
	return cfg.EncryptionKey
}
