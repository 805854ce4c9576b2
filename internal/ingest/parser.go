package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

type Options struct {
	DateLayout string
}

type ParseStats struct {
	Rows           int      `json:"rows"`
	MalformedCells int      `json:"malformed_cells"`
	UnknownDates   int      `json:"unknown_dates"`
	ExtraColumns   []string `json:"extra_columns,omitempty"`
	Processed      bool     `json:"processed"`
}

type Parser struct {
	opts   Options
	logger *logrus.Logger
}

func NewParser(opts Options, logger *logrus.Logger) *Parser {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.DateLayout == "" {
		opts.DateLayout = "2006-01-02"
	}
	return &Parser{opts: opts, logger: logger}
}

var knownColumns = func() map[string]bool {
	m := make(map[string]bool)
	for _, c := range models.RawColumns {
		m[c] = true
	}
	for _, c := range models.ComputedColumns {
		m[c] = true
	}
	return m
}()

// Parse turns a raw table into a Scan. An empty table yields an empty scan;
// otherwise every identity column must be present. Cells that cannot be
// coerced fall back to 0 or Unknown and are counted, never returned as errors.
func (p *Parser) Parse(label string, t *models.Table) (*models.Scan, ParseStats, error) {
	var stats ParseStats
	s := models.NewScan(label, t.Columns)
	s.Source = t.Name
	s.Processed = t.HasColumn(models.ColumnStatus)
	stats.Processed = s.Processed

	for _, c := range t.Columns {
		if !knownColumns[c] {
			stats.ExtraColumns = append(stats.ExtraColumns, c)
		}
	}

	if len(t.Rows) == 0 || t.IsPlaceholder() {
		return s, stats, nil
	}

	var missing []string
	for _, c := range models.IdentityColumns {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, stats, &models.MissingColumnsError{Columns: missing}
	}

	s.Findings = make([]models.Finding, 0, len(t.Rows))
	for r, row := range t.Rows {
		f := models.Finding{}
		for i, col := range t.Columns {
			if i >= len(row) {
				break
			}
			p.assign(&f, col, row[i], &stats, r)
		}
		s.Findings = append(s.Findings, f)
	}
	stats.Rows = len(s.Findings)

	if stats.MalformedCells > 0 || stats.UnknownDates > 0 {
		p.logger.WithFields(logrus.Fields{
			"scan":          label,
			"malformed":     stats.MalformedCells,
			"unknown_dates": stats.UnknownDates,
		}).Warn("Coerced unreadable cells to defaults")
	}
	return s, stats, nil
}

func (p *Parser) assign(f *models.Finding, col string, v models.Value, stats *ParseStats, row int) {
	raw := strings.TrimSpace(v.String())
	switch col {
	case models.ColumnCVECode:
		f.CVECode = raw
	case models.ColumnServer:
		f.Server = raw
	case models.ColumnComponent:
		f.Component = raw
	case models.ColumnProduct:
		f.Product = raw
	case models.ColumnVersion:
		f.Version = raw
	case models.ColumnPatch:
		f.Patch = raw
	case models.ColumnDomain:
		f.Domain = raw
	case models.ColumnSurface:
		f.Surface = raw
	case models.ColumnCVSSScore, models.ColumnCVSSTemporalScore, models.ColumnCVSSEnvironmentalScore, models.ColumnCVSSComputedScore:
		_ = f.SetScore(col, p.number(v, col, stats, row))
	case models.ColumnEPSS:
		f.EPSS = NormalizeEPSS(p.number(v, col, stats, row))
	case models.ColumnMaturity:
		f.Maturity = models.ParseMaturity(raw)
	case models.ColumnCisaReference:
		f.CisaReference = ParseCisa(raw)
	case models.ColumnVector:
		f.Vector = raw
	case models.ColumnEnvironmentalVector:
		f.EnvironmentalVector = raw
	case models.ColumnTemporalVector:
		f.TemporalVector = raw
	case models.ColumnRelatedCWEs:
		f.RelatedCWEs = raw
	case models.ColumnRelatedCAPECs:
		f.RelatedCAPECs = raw
	case models.ColumnRelatedATK:
		f.RelatedATK = raw
	case models.ColumnCertFRReferences:
		f.CertFRReferences = raw
	case models.ColumnCriticity:
		f.Criticity = raw
	case models.ColumnPublishedDate:
		f.PublishedDate = p.date(raw, stats)
	case models.ColumnLastReviewedDate:
		f.LastReviewedDate = p.date(raw, stats)
	case models.ColumnPriority:
		if pr, err := models.ParsePriority(raw); err == nil {
			f.Priority = pr
		}
	case models.ColumnStatus:
		if st, err := models.ParseStatus(raw); err == nil {
			f.Status = st
		}
	case models.ColumnUpdateCisa:
		switch strings.ToLower(raw) {
		case "added":
			f.Delta.Cisa = models.CisaAdded
		case "removed":
			f.Delta.Cisa = models.CisaRemoved
		}
	case models.ColumnUpdateEPSS:
		f.Delta.EPSS = models.ParseDeltaNumber(raw)
	case models.ColumnUpdateCVSS:
		f.Delta.CVSS = models.ParseDeltaNumber(raw)
	case models.ColumnUpdateMaturity:
		f.Delta.Maturity = raw
	default:
		if f.Extras == nil {
			f.Extras = make(map[string]string)
		}
		f.Extras[col] = raw
	}
}

func (p *Parser) number(v models.Value, col string, stats *ParseStats, row int) float64 {
	if v.Kind == models.KindNumber {
		return v.Number
	}
	n, ok := ParseNumber(v.String())
	if !ok {
		stats.MalformedCells++
		p.logger.WithFields(logrus.Fields{
			"column": col,
			"row":    row,
			"value":  v.String(),
		}).Debug("Non-numeric cell coerced to 0")
	}
	return n
}

func (p *Parser) date(raw string, stats *ParseStats) models.Date {
	d, ok := ParseDate(raw, p.opts.DateLayout)
	if !ok {
		stats.UnknownDates++
	}
	return d
}

// ParseNumber coerces a numeric cell. Undefined, None, NaN and empty cells
// are 0 and count as well formed; a decimal comma is accepted.
func ParseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "undefined", "none", "nan", "null", "n/a":
		return 0, true
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	s = strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if strings.HasSuffix(strings.TrimSpace(raw), "%") {
		v /= 100
	}
	return v, true
}

// NormalizeEPSS brings a percentage EPSS (above 1) back to a probability.
func NormalizeEPSS(v float64) float64 {
	if v > 1 && v <= 100 {
		return v / 100
	}
	return v
}

func ParseCisa(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "true", "1", "y":
		return true
	}
	return false
}

var dateFallbacks = []string{time.RFC3339, "2006-01-02 15:04:05", "02/01/2006"}

// ParseDate tries layout first, then a few common fallbacks. A miss is the
// Unknown date.
func ParseDate(raw, layout string) (models.Date, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return models.Date{}, false
	}
	layouts := append([]string{layout}, dateFallbacks...)
	for _, l := range layouts {
		if l == "" {
			continue
		}
		if t, err := time.Parse(l, s); err == nil {
			return models.Date{Time: t.UTC(), Known: true}, true
		}
	}
	return models.Date{}, false
}
