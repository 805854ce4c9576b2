package reporting

import (
	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

func countBy(findings []models.Finding, key func(*models.Finding) string) map[string]map[string]int {
	out := make(map[string]map[string]int)
	for i := range findings {
		f := &findings[i]
		k := key(f)
		if k == "" {
			continue
		}
		p := f.Priority.String()
		if p == "" {
			continue
		}
		if out[k] == nil {
			out[k] = make(map[string]int)
		}
		out[k][p]++
	}
	return out
}

// BuildSummary collects the per-priority, per-status and per-scan counts of a
// resolved chain. history is newest first.
func BuildSummary(current *models.Scan, summaryRows int, history []*models.Scan, ambiguous int) models.ReportSummary {
	st := current.Stats()
	sum := models.ReportSummary{
		TotalFindings:  st.TotalFindings,
		SummaryRows:    summaryRows,
		ByPriority:     st.ByPriority,
		ByStatus:       st.ByStatus,
		ServerPriority: countBy(current.Findings, func(f *models.Finding) string { return f.Server }),
		AmbiguousKeys:  ambiguous,
	}
	if current.HasColumn(models.ColumnDomain) {
		sum.DomainPriority = countBy(current.Findings, func(f *models.Finding) string { return f.Domain })
	}

	scans := append([]*models.Scan{current}, history...)
	for _, s := range scans {
		ss := s.Stats()
		sum.Trend = append(sum.Trend, models.ScanTrendPoint{
			Label:      s.Label,
			CapturedAt: s.CapturedAt,
			Findings:   ss.TotalFindings,
			MeanScore:  ss.MeanScore,
			ByPriority: ss.ByPriority,
		})
	}
	return sum
}
