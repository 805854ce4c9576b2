package ingest

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

var (
	folder    = cases.Fold()
	canonical = buildCanonical()
)

func foldHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = norm.NFC.String(h)
	h = strings.Join(strings.Fields(h), " ")
	return folder.String(h)
}

func buildCanonical() map[string]string {
	m := make(map[string]string)
	for _, c := range models.RawColumns {
		m[foldHeader(c)] = c
	}
	for _, c := range models.ComputedColumns {
		m[foldHeader(c)] = c
	}
	m[foldHeader("CVE")] = models.ColumnCVECode
	m[foldHeader("EPSS")] = models.ColumnEPSS
	m[foldHeader("EPSS Score")] = models.ColumnEPSS
	m[foldHeader("CISA")] = models.ColumnCisaReference
	return m
}

// NormalizeHeader maps a raw header to its canonical column name. Unknown
// headers come back trimmed but otherwise untouched.
func NormalizeHeader(h string) string {
	if c, ok := canonical[foldHeader(h)]; ok {
		return c
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
}

func NormalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = NormalizeHeader(h)
	}
	return out
}
