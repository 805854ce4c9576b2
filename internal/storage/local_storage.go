package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

const indexFile = "history_index.json"

type LocalOptions struct {
	BaseDir     string
	Compression bool
	// Passphrase enables AES-GCM sealing of every scan file when set.
	Passphrase string
}

// LocalStorage keeps one file per scan under <base>/scans and an index of
// records next to it.
type LocalStorage struct {
	opts   LocalOptions
	logger *logrus.Logger
	mu     sync.RWMutex
	index  map[string]ScanRecord
}

func NewLocalStorage(opts LocalOptions, logger *logrus.Logger) (*LocalStorage, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.BaseDir == "" {
		return nil, fmt.Errorf("storage base directory is required")
	}
	if err := utils.EnsureDir(filepath.Join(opts.BaseDir, "scans")); err != nil {
		return nil, fmt.Errorf("failed to create scans directory: %w", err)
	}

	ls := &LocalStorage{
		opts:   opts,
		logger: logger,
		index:  make(map[string]ScanRecord),
	}
	if err := ls.loadIndex(); err != nil {
		return nil, err
	}
	return ls, nil
}

func (ls *LocalStorage) scanPath(name string) string {
	return filepath.Join(ls.opts.BaseDir, "scans", name)
}

func (ls *LocalStorage) fileName(id string) string {
	name := id + ".json"
	if ls.opts.Compression {
		name += ".gz"
	}
	if ls.opts.Passphrase != "" {
		name += ".enc"
	}
	return name
}

func (ls *LocalStorage) Save(_ context.Context, scan *models.Scan) (ScanRecord, error) {
	if scan == nil || scan.ID == "" {
		return ScanRecord{}, fmt.Errorf("scan ID is required")
	}
	data, err := ls.encode(scan)
	if err != nil {
		return ScanRecord{}, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	rec := recordOf(scan)
	rec.File = ls.fileName(scan.ID)
	rec.Size = int64(len(data))
	if old, ok := ls.index[scan.ID]; ok && old.File != rec.File {
		_ = os.Remove(ls.scanPath(old.File))
	}
	if err := utils.SafeWriteFile(ls.scanPath(rec.File), data, 0o600); err != nil {
		return ScanRecord{}, fmt.Errorf("write scan file: %w", err)
	}
	ls.index[scan.ID] = rec
	if err := ls.saveIndex(); err != nil {
		return ScanRecord{}, err
	}

	ls.logger.WithFields(logrus.Fields{
		"scan":     scan.ID,
		"label":    scan.Label,
		"findings": rec.Findings,
		"file":     rec.File,
	}).Info("Scan saved to history")
	return rec, nil
}

func (ls *LocalStorage) Load(_ context.Context, id string) (*models.Scan, error) {
	ls.mu.RLock()
	rec, ok := ls.index[id]
	ls.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrScanNotFound, id)
	}

	data, err := os.ReadFile(ls.scanPath(rec.File))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (file %s is gone)", models.ErrScanNotFound, id, rec.File)
		}
		return nil, fmt.Errorf("read scan file: %w", err)
	}
	return ls.decode(data)
}

func (ls *LocalStorage) List(_ context.Context) ([]ScanRecord, error) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	out := make([]ScanRecord, 0, len(ls.index))
	for _, r := range ls.index {
		out = append(out, r)
	}
	sortNewestFirst(out)
	return out, nil
}

func (ls *LocalStorage) Delete(_ context.Context, id string) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	rec, ok := ls.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrScanNotFound, id)
	}
	if err := os.Remove(ls.scanPath(rec.File)); err != nil && !os.IsNotExist(err) {
		ls.logger.Warnf("Failed to delete scan file %s: %v", rec.File, err)
	}
	delete(ls.index, id)
	if err := ls.saveIndex(); err != nil {
		return err
	}
	ls.logger.Infof("Scan %s removed from history", id)
	return nil
}

func (ls *LocalStorage) Close() error { return nil }

// encode serialises scan as JSON, then gzips and seals it as configured.
func (ls *LocalStorage) encode(scan *models.Scan) ([]byte, error) {
	data, err := json.Marshal(scan)
	if err != nil {
		return nil, fmt.Errorf("marshal scan: %w", err)
	}
	if ls.opts.Compression {
		var buf bytes.Buffer
		gzw := gzip.NewWriter(&buf)
		if _, err := gzw.Write(data); err != nil {
			return nil, fmt.Errorf("gzip scan: %w", err)
		}
		if err := gzw.Close(); err != nil {
			return nil, fmt.Errorf("close gzip: %w", err)
		}
		data = buf.Bytes()
	}
	if ls.opts.Passphrase != "" {
		data, err = utils.SealWithPassphrase(ls.opts.Passphrase, data)
		if err != nil {
			return nil, fmt.Errorf("seal scan: %w", err)
		}
	}
	return data, nil
}

// decode sniffs the layers instead of trusting the current options, so files
// written under an older configuration stay readable.
func (ls *LocalStorage) decode(data []byte) (*models.Scan, error) {
	var err error
	if utils.IsSealed(data) {
		if ls.opts.Passphrase == "" {
			return nil, fmt.Errorf("scan file is encrypted and no encryption key is configured")
		}
		data, err = utils.OpenWithPassphrase(ls.opts.Passphrase, data)
		if err != nil {
			return nil, fmt.Errorf("open sealed scan: %w", err)
		}
	}
	if len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b {
		gzr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gzr.Close()
		data, err = io.ReadAll(gzr)
		if err != nil {
			return nil, fmt.Errorf("decompress scan: %w", err)
		}
	}
	var scan models.Scan
	if err := json.Unmarshal(data, &scan); err != nil {
		return nil, fmt.Errorf("unmarshal scan: %w", err)
	}
	return &scan, nil
}

func (ls *LocalStorage) loadIndex() error {
	path := filepath.Join(ls.opts.BaseDir, indexFile)
	if !utils.FileExists(path) {
		return nil
	}
	var records []ScanRecord
	if err := utils.ReadFileJSON(path, &records); err != nil {
		return fmt.Errorf("failed to load history index: %w", err)
	}
	for _, r := range records {
		ls.index[r.ID] = r
	}
	return nil
}

func (ls *LocalStorage) saveIndex() error {
	records := make([]ScanRecord, 0, len(ls.index))
	for _, r := range ls.index {
		records = append(records, r)
	}
	sortNewestFirst(records)
	if err := utils.WriteFileJSON(filepath.Join(ls.opts.BaseDir, indexFile), records, true); err != nil {
		return fmt.Errorf("failed to save history index: %w", err)
	}
	return nil
}
