package aggregate

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

// FixedProjection is the key under which a historical finding must reappear
// in the current scan to not be reported as fixed.
var FixedProjection = []string{models.ColumnCVECode, models.ColumnServer, models.ColumnProduct}

type SynthesisOptions struct {
	Subset []string
	Rules  Rules
}

type SynthesisStats struct {
	UnionRows   int `json:"union_rows"`
	FixedRows   int `json:"fixed_rows"`
	DroppedRows int `json:"dropped_rows"`
	SummaryRows int `json:"summary_rows"`
}

func projection(f *models.Finding, columns []string) string {
	var sb strings.Builder
	for i, c := range columns {
		if i > 0 {
			sb.WriteByte(0x1f)
		}
		sb.WriteString(f.Cell(c).String())
	}
	return sb.String()
}

// Synthesize unions current with every historical scan, marks as Fixed the
// rows whose projection disappeared from current, drops duplicates on
// opts.Subset keeping the first row, and aggregates what is left.
func (a *Aggregator) Synthesize(name string, current *models.Scan, history []*models.Scan, opts SynthesisOptions) (*models.Table, SynthesisStats, error) {
	var stats SynthesisStats

	columns := append([]string{}, current.OutputColumns()...)
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c] = true
	}
	union := make([]models.Finding, 0, len(current.Findings))
	for i := range current.Findings {
		union = append(union, current.Findings[i].Clone())
	}
	for _, h := range history {
		for _, c := range h.OutputColumns() {
			if !have[c] {
				have[c] = true
				columns = append(columns, c)
			}
		}
		for i := range h.Findings {
			union = append(union, h.Findings[i].Clone())
		}
	}
	if !have[models.ColumnStatus] {
		columns = append(columns, models.ColumnStatus)
	}
	stats.UnionRows = len(union)

	present := make(map[string]struct{}, len(current.Findings))
	for i := range current.Findings {
		present[projection(&current.Findings[i], FixedProjection)] = struct{}{}
	}
	fixed := make(map[string]struct{})
	for _, h := range history {
		for i := range h.Findings {
			key := projection(&h.Findings[i], FixedProjection)
			if _, ok := present[key]; !ok {
				fixed[key] = struct{}{}
			}
		}
	}
	for i := range union {
		if _, ok := fixed[projection(&union[i], FixedProjection)]; ok {
			union[i].Status = models.StatusFixed
			stats.FixedRows++
		}
	}

	subset := opts.Subset
	if len(subset) == 0 {
		subset = []string{models.ColumnServer, models.ColumnCVECode, models.ColumnProduct}
	}
	seen := make(map[string]struct{}, len(union))
	deduped := union[:0]
	for i := range union {
		key := projection(&union[i], subset)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, union[i])
	}
	stats.DroppedRows = len(union) - len(deduped)

	t, err := a.Aggregate(name, columns, deduped, opts.Rules)
	if err != nil {
		return nil, stats, err
	}
	if !t.IsPlaceholder() {
		stats.SummaryRows = t.Len()
	}

	a.logger.WithFields(logrus.Fields{
		"union":   stats.UnionRows,
		"fixed":   stats.FixedRows,
		"dropped": stats.DroppedRows,
		"rows":    stats.SummaryRows,
	}).Info("Synthesis built")
	return t, stats, nil
}
