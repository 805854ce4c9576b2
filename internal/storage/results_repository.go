package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

type RepositoryOptions struct {
	// MaxHistory caps the number of stored scans; 0 keeps everything.
	MaxHistory int
	// Retention drops scans captured longer ago; 0 keeps everything.
	Retention time.Duration
}

// HistoryRepository sits in front of a HistoryStore. It caches loaded scans
// for the lifetime of one run and prunes the store after each save.
type HistoryRepository struct {
	store  HistoryStore
	opts   RepositoryOptions
	logger *logrus.Logger
	mu     sync.RWMutex
	cache  map[string]*models.Scan
}

func NewHistoryRepository(store HistoryStore, opts RepositoryOptions, logger *logrus.Logger) *HistoryRepository {
	if logger == nil {
		logger = logrus.New()
	}
	return &HistoryRepository{
		store:  store,
		opts:   opts,
		logger: logger,
		cache:  make(map[string]*models.Scan),
	}
}

// Store saves a processed scan. Unprocessed scans are refused: the history
// must only hold scans whose lifecycle columns are final.
func (hr *HistoryRepository) Store(ctx context.Context, scan *models.Scan) (ScanRecord, error) {
	if err := validateScan(scan); err != nil {
		return ScanRecord{}, fmt.Errorf("invalid scan: %w", err)
	}
	rec, err := hr.store.Save(ctx, scan)
	if err != nil {
		return ScanRecord{}, fmt.Errorf("failed to save scan: %w", err)
	}

	hr.mu.Lock()
	hr.cache[scan.ID] = scan.Clone()
	hr.mu.Unlock()

	if _, err := hr.Prune(ctx); err != nil {
		hr.logger.Warnf("Failed to prune history: %v", err)
	}
	return rec, nil
}

func (hr *HistoryRepository) Get(ctx context.Context, id string) (*models.Scan, error) {
	hr.mu.RLock()
	cached, ok := hr.cache[id]
	hr.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	scan, err := hr.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	hr.mu.Lock()
	hr.cache[id] = scan
	hr.mu.Unlock()
	return scan.Clone(), nil
}

// Find resolves a full ID, a unique ID prefix or a label; the newest scan
// wins when several share a label.
func (hr *HistoryRepository) Find(ctx context.Context, ref string) (*models.Scan, error) {
	records, err := hr.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var byPrefix []ScanRecord
	for _, r := range records {
		if r.ID == ref {
			return hr.Get(ctx, r.ID)
		}
		if len(ref) >= 4 && len(r.ID) > len(ref) && r.ID[:len(ref)] == ref {
			byPrefix = append(byPrefix, r)
		}
	}
	if len(byPrefix) == 1 {
		return hr.Get(ctx, byPrefix[0].ID)
	}
	if len(byPrefix) > 1 {
		return nil, fmt.Errorf("scan reference %q is ambiguous (%d matches)", ref, len(byPrefix))
	}
	for _, r := range records {
		if r.Label == ref {
			return hr.Get(ctx, r.ID)
		}
	}
	return nil, fmt.Errorf("%w: %s", models.ErrScanNotFound, ref)
}

// Latest loads up to n stored scans, newest first. n <= 0 loads all of them.
func (hr *HistoryRepository) Latest(ctx context.Context, n int) ([]*models.Scan, error) {
	records, err := hr.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[:n]
	}
	scans := make([]*models.Scan, 0, len(records))
	for _, r := range records {
		s, err := hr.Get(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("load scan %s: %w", r.ID, err)
		}
		scans = append(scans, s)
	}
	return scans, nil
}

func (hr *HistoryRepository) List(ctx context.Context) ([]ScanRecord, error) {
	return hr.store.List(ctx)
}

func (hr *HistoryRepository) Delete(ctx context.Context, id string) error {
	hr.mu.Lock()
	delete(hr.cache, id)
	hr.mu.Unlock()
	return hr.store.Delete(ctx, id)
}

// Prune enforces MaxHistory and Retention and returns the removed records.
func (hr *HistoryRepository) Prune(ctx context.Context) ([]ScanRecord, error) {
	if hr.opts.MaxHistory <= 0 && hr.opts.Retention <= 0 {
		return nil, nil
	}
	records, err := hr.store.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-hr.opts.Retention)
	var removed []ScanRecord
	for i, r := range records {
		tooMany := hr.opts.MaxHistory > 0 && i >= hr.opts.MaxHistory
		tooOld := hr.opts.Retention > 0 && r.CapturedAt.Before(cutoff)
		if !tooMany && !tooOld {
			continue
		}
		if err := hr.Delete(ctx, r.ID); err != nil {
			return removed, err
		}
		removed = append(removed, r)
	}
	if len(removed) > 0 {
		hr.logger.WithField("removed", len(removed)).Info("History pruned")
	}
	return removed, nil
}

func (hr *HistoryRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	records, err := hr.store.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := map[string]interface{}{
		"total_scans": len(records),
		"max_history": hr.opts.MaxHistory,
		"retention":   hr.opts.Retention.String(),
	}
	var size int64
	findings := 0
	for _, r := range records {
		size += r.Size
		findings += r.Findings
	}
	stats["total_findings"] = findings
	if size > 0 {
		stats["total_size"] = utils.HumanizeBytes(size)
	}
	if len(records) > 0 {
		stats["newest"] = records[0].CapturedAt.Format(time.RFC3339)
		stats["oldest"] = records[len(records)-1].CapturedAt.Format(time.RFC3339)
	}
	return stats, nil
}

func (hr *HistoryRepository) Close() error {
	return hr.store.Close()
}

func validateScan(scan *models.Scan) error {
	if scan == nil {
		return fmt.Errorf("scan is nil")
	}
	if scan.ID == "" {
		return fmt.Errorf("scan ID is required")
	}
	if scan.CapturedAt.IsZero() {
		return fmt.Errorf("capture time is required")
	}
	if !scan.Processed {
		return fmt.Errorf("scan %s has not been classified", scan.ID)
	}
	return nil
}
