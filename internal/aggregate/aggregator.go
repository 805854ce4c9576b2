package aggregate

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

type Aggregator struct {
	logger *logrus.Logger
}

func NewAggregator(logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Aggregator{logger: logger}
}

type group struct {
	rows []*models.Finding
}

// AggregateScan folds the findings of s into one summary row per grouping key.
func (a *Aggregator) AggregateScan(name string, s *models.Scan, rules Rules) (*models.Table, error) {
	return a.Aggregate(name, s.OutputColumns(), s.Findings, rules)
}

// Aggregate groups findings on rules.GroupBy and merges every kept column with
// its strategy. Groups come out sorted by Priority ascending then EPSS
// descending; ties keep first-seen order.
func (a *Aggregator) Aggregate(name string, columns []string, findings []models.Finding, rules Rules) (*models.Table, error) {
	if len(findings) == 0 {
		if requireColumns(columns, rules.GroupBy) != nil {
			return models.PlaceholderTable(name, rules.GroupBy), nil
		}
		return models.PlaceholderTable(name, rules.OutputColumns(columns)), nil
	}
	if err := requireColumns(columns, rules.GroupBy); err != nil {
		return nil, err
	}
	outCols := rules.OutputColumns(columns)

	index := make(map[string]int)
	var groups []*group
	var sb strings.Builder
	for i := range findings {
		f := &findings[i]
		sb.Reset()
		for j, k := range rules.GroupBy {
			if j > 0 {
				sb.WriteByte(0x1f)
			}
			sb.WriteString(f.Cell(k).String())
		}
		key := sb.String()
		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, &group{})
		}
		groups[gi].rows = append(groups[gi].rows, f)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		pi, pj := sortPriority(groups[i].rows[0]), sortPriority(groups[j].rows[0])
		if pi != pj {
			return pi < pj
		}
		return groups[i].rows[0].EPSS > groups[j].rows[0].EPSS
	})

	t := models.NewTable(name, outCols)
	delim := rules.delimiter()
	for _, g := range groups {
		row := make([]models.Value, len(outCols))
		for ci, col := range outCols {
			if rules.isKey(col) {
				row[ci] = g.rows[0].Cell(col)
				continue
			}
			strategy, _ := rules.Strategy(col)
			row[ci] = merge(g.rows, col, strategy, delim)
		}
		t.Rows = append(t.Rows, row)
	}

	a.logger.WithFields(logrus.Fields{
		"table":    name,
		"findings": len(findings),
		"groups":   len(groups),
		"group_by": strings.Join(rules.GroupBy, ","),
	}).Debug("Aggregated findings")
	return t, nil
}

func merge(rows []*models.Finding, column string, strategy Strategy, delim string) models.Value {
	switch strategy {
	case JoinUnique, JoinAll:
		seen := make(map[string]struct{}, len(rows))
		parts := make([]string, 0, len(rows))
		for _, r := range rows {
			v := r.Cell(column)
			if v.IsEmpty() {
				continue
			}
			s := v.String()
			if strategy == JoinUnique {
				if _, ok := seen[s]; ok {
					continue
				}
				seen[s] = struct{}{}
			}
			parts = append(parts, s)
		}
		return models.Text(strings.Join(parts, delim))
	default:
		return rows[0].Cell(column)
	}
}

// sortPriority places unset priorities after P6.
func sortPriority(f *models.Finding) int {
	if f.Priority == models.PriorityUnset {
		return int(models.P6) + 1
	}
	return int(f.Priority)
}

func requireColumns(have, want []string) error {
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	var missing []string
	for _, c := range want {
		if !set[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &models.MissingColumnsError{Columns: missing}
	}
	return nil
}
