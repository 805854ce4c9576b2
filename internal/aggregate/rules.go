package aggregate

import (
	"fmt"
	"sort"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

type Strategy string

const (
	First      Strategy = "first"
	JoinUnique Strategy = "join_unique"
	JoinAll    Strategy = "join_all"
	Drop       Strategy = "drop"
)

const DefaultDelimiter = " | "

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case First, JoinUnique, JoinAll, Drop:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown aggregation strategy %q", s)
}

type ColumnRule struct {
	Column   string   `yaml:"column" json:"column"`
	Strategy Strategy `yaml:"strategy" json:"strategy"`
}

// Rules is the full aggregation contract: the grouping key and one strategy
// per kept column, in output order. Columns not listed are dropped.
type Rules struct {
	GroupBy   []string     `yaml:"group_by" json:"group_by"`
	Columns   []ColumnRule `yaml:"columns" json:"columns"`
	Delimiter string       `yaml:"delimiter" json:"delimiter"`
}

// DefaultRules keeps identity and descriptive columns joined, and takes the
// first value for signal, priority, lifecycle and date columns. Vectors,
// reference lists and the score variants other than scoreColumn are dropped.
func DefaultRules(scoreColumn string, groupBy []string) Rules {
	if scoreColumn == "" {
		scoreColumn = models.DefaultScoreColumn
	}
	cols := []ColumnRule{
		{models.ColumnCVECode, JoinUnique},
		{models.ColumnServer, JoinUnique},
		{models.ColumnComponent, JoinUnique},
		{models.ColumnProduct, JoinUnique},
		{models.ColumnPatch, JoinUnique},
		{models.ColumnDomain, JoinUnique},
		{models.ColumnPriority, First},
		{models.ColumnStatus, First},
		{scoreColumn, First},
		{models.ColumnEPSS, First},
		{models.ColumnMaturity, First},
		{models.ColumnCisaReference, First},
		{models.ColumnUpdateCisa, First},
		{models.ColumnUpdateEPSS, First},
		{models.ColumnUpdateCVSS, First},
		{models.ColumnUpdateMaturity, First},
		{models.ColumnPublishedDate, First},
		{models.ColumnLastReviewedDate, First},
	}
	return Rules{
		GroupBy:   append([]string{}, groupBy...),
		Columns:   cols,
		Delimiter: DefaultDelimiter,
	}
}

func (r Rules) Strategy(column string) (Strategy, bool) {
	for _, c := range r.Columns {
		if c.Column == column {
			return c.Strategy, true
		}
	}
	return Drop, false
}

// WithOverrides returns a copy of r with per-column strategies replaced or
// appended. A drop override removes the column.
func (r Rules) WithOverrides(overrides map[string]string) (Rules, error) {
	out := Rules{
		GroupBy:   append([]string{}, r.GroupBy...),
		Columns:   append([]ColumnRule{}, r.Columns...),
		Delimiter: r.Delimiter,
	}
	keys := make([]string, 0, len(overrides))
	for col := range overrides {
		keys = append(keys, col)
	}
	sort.Strings(keys)
	for _, col := range keys {
		s, err := ParseStrategy(overrides[col])
		if err != nil {
			return Rules{}, fmt.Errorf("column %q: %w", col, err)
		}
		idx := -1
		for i, c := range out.Columns {
			if c.Column == col {
				idx = i
				break
			}
		}
		switch {
		case s == Drop && idx >= 0:
			out.Columns = append(out.Columns[:idx], out.Columns[idx+1:]...)
		case s == Drop:
		case idx >= 0:
			out.Columns[idx].Strategy = s
		default:
			out.Columns = append(out.Columns, ColumnRule{Column: col, Strategy: s})
		}
	}
	return out, nil
}

func (r Rules) isKey(column string) bool {
	for _, k := range r.GroupBy {
		if k == column {
			return true
		}
	}
	return false
}

// OutputColumns lists the grouping key followed by every ruled column that
// the input carries.
func (r Rules) OutputColumns(available []string) []string {
	have := make(map[string]bool, len(available))
	for _, c := range available {
		have[c] = true
	}
	out := append([]string{}, r.GroupBy...)
	for _, c := range r.Columns {
		if c.Strategy == Drop || r.isKey(c.Column) || !have[c.Column] {
			continue
		}
		out = append(out, c.Column)
	}
	return out
}

func (r Rules) delimiter() string {
	if r.Delimiter == "" {
		return DefaultDelimiter
	}
	return r.Delimiter
}
