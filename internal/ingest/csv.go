package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

type CSVOptions struct {
	Delimiter rune
}

func DefaultCSVOptions() CSVOptions {
	return CSVOptions{Delimiter: ';'}
}

// ReadCSV loads a delimited export into a raw text table with canonical headers.
func ReadCSV(r io.Reader, name string, opts CSVOptions) (*models.Table, error) {
	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return models.NewTable(name, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := models.NewTable(name, NormalizeHeaders(header))

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if isBlank(rec) {
			continue
		}
		row := make([]models.Value, len(t.Columns))
		for i := range t.Columns {
			if i < len(rec) {
				row[i] = models.Text(strings.TrimSpace(rec[i]))
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func ReadCSVFile(path string, opts CSVOptions) (*models.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	t, err := ReadCSV(f, name, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
