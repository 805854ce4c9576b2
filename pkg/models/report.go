package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	ReportFormatTXT  = "txt"
	ReportFormatCSV  = "csv"
	ReportFormatJSON = "json"
	ReportFormatYAML = "yaml"

	ReportKindScan      = "scan"
	ReportKindSynthesis = "synthesis"

	SheetData      = "Data"
	SheetCVEScan   = "CVE Scan"
	SheetPatchPlan = "Patch Plan"
	SheetLegend    = "Legend"
	SheetSynthesis = "Synthesis"
)

var (
	allowedFormats = map[string]bool{ReportFormatTXT: true, ReportFormatCSV: true, ReportFormatJSON: true, ReportFormatYAML: true}
	allowedKinds   = map[string]bool{ReportKindScan: true, ReportKindSynthesis: true}

	filenameSanitizer = regexp.MustCompile(`[^\w\-.]+`)
)

func IsValidFormat(format string) bool {
	return allowedFormats[format]
}

func HistorySheetName(i int) string {
	return fmt.Sprintf("old n%d CVE Scan", i)
}

type Report struct {
	ID          string         `json:"id" yaml:"id"`
	Kind        string         `json:"kind" yaml:"kind"`
	Title       string         `json:"title" yaml:"title"`
	ScanID      string         `json:"scan_id" yaml:"scan_id"`
	GeneratedAt time.Time      `json:"generated_at" yaml:"generated_at"`
	Duration    int64          `json:"duration" yaml:"duration"`
	Metadata    ReportMetadata `json:"metadata" yaml:"metadata"`
	Summary     ReportSummary  `json:"summary" yaml:"summary"`
	Sheets      []*Table       `json:"sheets" yaml:"sheets"`
}

type ReportMetadata struct {
	ToolName     string   `json:"tool_name" yaml:"tool_name"`
	ToolVersion  string   `json:"tool_version" yaml:"tool_version"`
	ScoreColumn  string   `json:"score_column" yaml:"score_column"`
	GroupBy      []string `json:"group_by" yaml:"group_by"`
	HistoryDepth int      `json:"history_depth" yaml:"history_depth"`
	Sources      []string `json:"sources,omitempty" yaml:"sources,omitempty"`
}

type ReportSummary struct {
	TotalFindings  int                       `json:"total_findings" yaml:"total_findings"`
	SummaryRows    int                       `json:"summary_rows" yaml:"summary_rows"`
	ByPriority     map[string]int            `json:"by_priority" yaml:"by_priority"`
	ByStatus       map[string]int            `json:"by_status" yaml:"by_status"`
	DomainPriority map[string]map[string]int `json:"domain_priority,omitempty" yaml:"domain_priority,omitempty"`
	ServerPriority map[string]map[string]int `json:"server_priority" yaml:"server_priority"`
	AmbiguousKeys  int                       `json:"ambiguous_keys" yaml:"ambiguous_keys"`
	Trend          []ScanTrendPoint          `json:"trend" yaml:"trend"`
}

// ScanTrendPoint summarises one scan of the chain, newest first.
type ScanTrendPoint struct {
	Label      string         `json:"label" yaml:"label"`
	CapturedAt time.Time      `json:"captured_at" yaml:"captured_at"`
	Findings   int            `json:"findings" yaml:"findings"`
	MeanScore  float64        `json:"mean_score" yaml:"mean_score"`
	ByPriority map[string]int `json:"by_priority" yaml:"by_priority"`
}

func (r *Report) Validate() error {
	var problems []string

	if r.Title == "" {
		problems = append(problems, "report title is required")
	}
	if !allowedKinds[r.Kind] {
		problems = append(problems, fmt.Sprintf("invalid report kind: %s", r.Kind))
	}
	if len(r.Sheets) == 0 {
		problems = append(problems, "report has no sheets")
	}
	seen := make(map[string]struct{}, len(r.Sheets))
	for i, s := range r.Sheets {
		if s == nil || s.Name == "" {
			problems = append(problems, fmt.Sprintf("sheet %d has empty name", i))
			continue
		}
		if _, ok := seen[s.Name]; ok {
			problems = append(problems, fmt.Sprintf("duplicate sheet: %s", s.Name))
		}
		seen[s.Name] = struct{}{}
	}

	if len(problems) > 0 {
		return fmt.Errorf("report validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func (r *Report) Sheet(name string) *Table {
	for _, s := range r.Sheets {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (r *Report) AddSheet(t *Table) {
	if t != nil {
		r.Sheets = append(r.Sheets, t)
	}
}

func (r *Report) GenerateFileName(format string) string {
	kind := r.Kind
	if kind == "" {
		kind = ReportKindScan
	}
	label := r.Title
	if label == "" {
		label = "report"
	}
	label = strings.ToLower(filenameSanitizer.ReplaceAllString(label, "_"))

	if format == "" {
		format = ReportFormatJSON
	}

	ts := r.GeneratedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("vulnlynx_%s_%s_%s.%s", kind, label, ts.Format("20060102_150405"), format)
}

func (r *Report) GetDurationString() string {
	d := time.Duration(r.Duration) * time.Millisecond
	return fmt.Sprintf("%.2f seconds", d.Seconds())
}

// SheetFileName turns a sheet name into a file-name fragment.
func SheetFileName(name string) string {
	return strings.ToLower(filenameSanitizer.ReplaceAllString(strings.TrimSpace(name), "_"))
}
