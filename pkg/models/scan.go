package models

import (
	"time"

	"github.com/google/uuid"
)

type ScanStats struct {
	TotalFindings int            `json:"total_findings" yaml:"total_findings"`
	ByPriority    map[string]int `json:"by_priority" yaml:"by_priority"`
	ByStatus      map[string]int `json:"by_status" yaml:"by_status"`
	DistinctCVEs  int            `json:"distinct_cves" yaml:"distinct_cves"`
	Servers       int            `json:"servers" yaml:"servers"`
	MeanScore     float64        `json:"mean_score" yaml:"mean_score"`
}

// Scan is one point-in-time snapshot of findings. Baseline points at the
// next older scan of the chain and is never serialised.
type Scan struct {
	ID          string    `json:"id" yaml:"id"`
	Label       string    `json:"label" yaml:"label"`
	Source      string    `json:"source,omitempty" yaml:"source,omitempty"`
	CapturedAt  time.Time `json:"captured_at" yaml:"captured_at"`
	Columns     []string  `json:"columns" yaml:"columns"`
	ScoreColumn string    `json:"score_column" yaml:"score_column"`
	Processed   bool      `json:"processed" yaml:"processed"`
	Findings    []Finding `json:"findings" yaml:"findings"`

	Baseline *Scan `json:"-" yaml:"-"`
}

func NewScan(label string, columns []string) *Scan {
	return &Scan{
		ID:         uuid.NewString(),
		Label:      label,
		CapturedAt: time.Now().UTC(),
		Columns:    append([]string{}, columns...),
	}
}

func (s *Scan) HasColumn(column string) bool {
	for _, c := range s.Columns {
		if c == column {
			return true
		}
	}
	return false
}

func (s *Scan) IsEmpty() bool {
	return len(s.Findings) == 0
}

// Clone returns a deep copy that shares nothing with s except the Baseline pointer.
func (s *Scan) Clone() *Scan {
	out := *s
	out.Columns = append([]string{}, s.Columns...)
	out.Findings = make([]Finding, len(s.Findings))
	for i := range s.Findings {
		out.Findings[i] = s.Findings[i].Clone()
	}
	return &out
}

// OutputColumns lists the raw columns followed by the computed ones that are not
// already part of the input header. A headerless empty scan has none.
func (s *Scan) OutputColumns() []string {
	if len(s.Columns) == 0 && len(s.Findings) == 0 {
		return nil
	}
	cols := append([]string{}, s.Columns...)
	if len(s.Findings) > 0 && s.Findings[0].Priority != PriorityUnset && !s.HasColumn(ColumnPriority) {
		cols = append(cols, ColumnPriority)
	}
	if s.Processed {
		for _, c := range ComputedColumns[1:] {
			if !s.HasColumn(c) {
				cols = append(cols, c)
			}
		}
	}
	return cols
}

// Table renders every finding with all output columns.
func (s *Scan) Table(name string) *Table {
	cols := s.OutputColumns()
	if s.IsEmpty() {
		return PlaceholderTable(name, cols)
	}
	t := NewTable(name, cols)
	for i := range s.Findings {
		row := make([]Value, len(cols))
		for j, c := range cols {
			row[j] = s.Findings[i].Cell(c)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func (s *Scan) Stats() ScanStats {
	st := ScanStats{
		TotalFindings: len(s.Findings),
		ByPriority:    make(map[string]int),
		ByStatus:      make(map[string]int),
	}
	cves := make(map[string]struct{})
	servers := make(map[string]struct{})
	var sum float64
	for i := range s.Findings {
		f := &s.Findings[i]
		if p := f.Priority.String(); p != "" {
			st.ByPriority[p]++
		}
		if f.Status != "" {
			st.ByStatus[string(f.Status)]++
		}
		cves[f.CVECode] = struct{}{}
		servers[f.Server] = struct{}{}
		score, err := f.Score(s.scoreColumn())
		if err == nil {
			sum += score
		}
	}
	st.DistinctCVEs = len(cves)
	st.Servers = len(servers)
	if len(s.Findings) > 0 {
		st.MeanScore = sum / float64(len(s.Findings))
	}
	return st
}

func (s *Scan) scoreColumn() string {
	if s.ScoreColumn == "" {
		return DefaultScoreColumn
	}
	return s.ScoreColumn
}
