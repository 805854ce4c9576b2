package reporting

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/vulnlynx/internal/reporting/formatters"
	"github.com/bl4ck0w1/vulnlynx/pkg/models"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

type ReportGenerator struct {
	formatters  map[string]Formatter
	logger      *logrus.Logger
	mu          sync.RWMutex
	config      ReportConfig
	templateMgr *TemplateManager
}

type Formatter interface {
	Format(report *models.Report) ([]formatters.Artifact, error)
	FileExtension() string
}

type ReportConfig struct {
	OutputDir    string        `yaml:"output_dir" json:"output_dir"`
	Formats      []string      `yaml:"formats" json:"formats"`
	TemplateDir  string        `yaml:"template_dir" json:"template_dir"`
	Compress     bool          `yaml:"compress" json:"compress"`
	PatchPlan    bool          `yaml:"patch_plan" json:"patch_plan"`
	Legend       bool          `yaml:"legend" json:"legend"`
	Delimiter    rune          `yaml:"-" json:"-"`
	DecimalComma bool          `yaml:"decimal_comma" json:"decimal_comma"`
	MaxReportAge time.Duration `yaml:"max_report_age" json:"max_report_age"`
	ToolVersion  string        `yaml:"-" json:"-"`
}

// Assembly is everything the engine produced for one report run.
type Assembly struct {
	Title   string
	Current *models.Scan
	History []*models.Scan
	// HistoryViews are the processed history tables, aligned with History.
	// A missing view is rendered from the scan itself.
	HistoryViews []*models.Table
	CVEScan      *models.Table
	Synthesis    *models.Table
	ScoreColumn  string
	GroupBy      []string
	Ambiguous    int
	Duration     time.Duration
}

func NewReportGenerator(config ReportConfig, logger *logrus.Logger) (*ReportGenerator, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if err := utils.EnsureDir(config.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	rg := &ReportGenerator{
		formatters:  make(map[string]Formatter),
		logger:      logger,
		config:      config,
		templateMgr: NewTemplateManager(),
	}
	if config.TemplateDir != "" && utils.FileExists(config.TemplateDir) {
		if err := rg.templateMgr.LoadDir(config.TemplateDir); err != nil {
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
	}

	delim := config.Delimiter
	if delim == 0 {
		delim = ';'
	}
	rg.RegisterFormatter(models.ReportFormatTXT, formatters.TXTFormatter{Template: rg.templateMgr.MustGet(SummaryTemplate)})
	rg.RegisterFormatter(models.ReportFormatCSV, formatters.CSVFormatter{Delimiter: delim, DecimalComma: config.DecimalComma})
	rg.RegisterFormatter(models.ReportFormatJSON, formatters.JSONFormatter{})
	rg.RegisterFormatter(models.ReportFormatYAML, formatters.YAMLFormatter{})

	return rg, nil
}

func (rg *ReportGenerator) RegisterFormatter(name string, formatter Formatter) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.formatters[name] = formatter
}

func (rg *ReportGenerator) newReport(kind string, a Assembly) *models.Report {
	title := a.Title
	if title == "" && a.Current != nil {
		title = a.Current.Label
	}
	r := &models.Report{
		ID:          uuid.NewString(),
		Kind:        kind,
		Title:       title,
		GeneratedAt: time.Now(),
		Duration:    a.Duration.Milliseconds(),
		Metadata: models.ReportMetadata{
			ToolName:     "vulnlynx",
			ToolVersion:  rg.config.ToolVersion,
			ScoreColumn:  a.ScoreColumn,
			GroupBy:      a.GroupBy,
			HistoryDepth: len(a.History),
		},
	}
	if a.Current != nil {
		r.ScanID = a.Current.ID
		r.Metadata.Sources = append(r.Metadata.Sources, a.Current.Source)
	}
	for _, h := range a.History {
		r.Metadata.Sources = append(r.Metadata.Sources, h.Source)
	}
	return r
}

// GenerateReport lays out the sheets of a scan report: raw data, the
// aggregated view, every previous scan, the patch plan and the legend.
func (rg *ReportGenerator) GenerateReport(a Assembly) (*models.Report, error) {
	if a.Current == nil {
		return nil, fmt.Errorf("report needs a current scan")
	}
	r := rg.newReport(models.ReportKindScan, a)

	r.AddSheet(a.Current.Table(models.SheetData))
	cve := a.CVEScan
	if cve == nil {
		cve = models.PlaceholderTable(models.SheetCVEScan, nil)
	}
	cve.Name = models.SheetCVEScan
	r.AddSheet(cve)
	for i, h := range a.History {
		name := models.HistorySheetName(i + 1)
		if i < len(a.HistoryViews) && a.HistoryViews[i] != nil {
			view := a.HistoryViews[i]
			view.Name = name
			r.AddSheet(view)
			continue
		}
		r.AddSheet(h.Table(name))
	}
	if rg.config.PatchPlan {
		if plan := BuildPatchPlan(a.Current); plan != nil {
			r.AddSheet(PatchPlanTable(plan))
		} else {
			rg.logger.Debug("No Product/Patch columns, patch plan skipped")
		}
	}
	if rg.config.Legend {
		r.AddSheet(LegendTable(a.Current.CapturedAt, len(a.History)))
	}
	if a.Synthesis != nil {
		a.Synthesis.Name = models.SheetSynthesis
		r.AddSheet(a.Synthesis)
	}

	summaryRows := 0
	if !cve.IsPlaceholder() {
		summaryRows = cve.Len()
	}
	r.Summary = BuildSummary(a.Current, summaryRows, a.History, a.Ambiguous)

	if err := r.Validate(); err != nil {
		return nil, err
	}
	rg.logger.WithFields(logrus.Fields{
		"report": r.ID,
		"sheets": len(r.Sheets),
	}).Info("Report generated")
	return r, nil
}

// GenerateSynthesisReport wraps a synthesis table with its legend.
func (rg *ReportGenerator) GenerateSynthesisReport(a Assembly) (*models.Report, error) {
	if a.Synthesis == nil {
		return nil, fmt.Errorf("synthesis report needs a synthesis table")
	}
	r := rg.newReport(models.ReportKindSynthesis, a)
	a.Synthesis.Name = models.SheetSynthesis
	r.AddSheet(a.Synthesis)
	if rg.config.Legend && a.Current != nil {
		r.AddSheet(LegendTable(a.Current.CapturedAt, len(a.History)))
	}
	if a.Current != nil {
		rows := 0
		if !a.Synthesis.IsPlaceholder() {
			rows = a.Synthesis.Len()
		}
		r.Summary = BuildSummary(a.Current, rows, a.History, a.Ambiguous)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// ExportReport writes report in one format and returns the written paths.
func (rg *ReportGenerator) ExportReport(report *models.Report, format string) ([]string, error) {
	rg.mu.RLock()
	formatter, exists := rg.formatters[format]
	outDir := rg.config.OutputDir
	compress := rg.config.Compress
	rg.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}

	artifacts, err := formatter.Format(report)
	if err != nil {
		return nil, fmt.Errorf("failed to format report: %w", err)
	}
	if err := utils.EnsureDir(outDir); err != nil {
		return nil, fmt.Errorf("failed to ensure output dir: %w", err)
	}

	base := strings.TrimSuffix(report.GenerateFileName(formatter.FileExtension()), "."+formatter.FileExtension())
	var paths []string
	for _, art := range artifacts {
		name := base
		if art.Part != "" {
			name += "_" + art.Part
		}
		name += "." + formatter.FileExtension()
		data := art.Data
		if compress {
			gz, cerr := gzipBytes(name, data)
			if cerr != nil {
				rg.logger.Warnf("Failed to compress report: %v", cerr)
			} else {
				data = gz
				name += ".gz"
			}
		}
		outPath := filepath.Join(outDir, name)
		if err := utils.SafeWriteFile(outPath, data, 0o644); err != nil {
			return paths, fmt.Errorf("failed to write report: %w", err)
		}
		paths = append(paths, outPath)
	}

	rg.logger.Infof("Report exported as %s to %d file(s)", format, len(paths))
	return paths, nil
}

// ExportAll writes the report in every configured format.
func (rg *ReportGenerator) ExportAll(report *models.Report) ([]string, error) {
	rg.mu.RLock()
	formats := append([]string{}, rg.config.Formats...)
	rg.mu.RUnlock()
	if len(formats) == 0 {
		formats = []string{models.ReportFormatJSON}
	}
	var all []string
	for _, f := range formats {
		paths, err := rg.ExportReport(report, f)
		all = append(all, paths...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

func gzipBytes(name string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Name = name
	gw.ModTime = time.Now()
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CleanupOldReports removes report files older than maxAge and returns their paths.
func (rg *ReportGenerator) CleanupOldReports(maxAge time.Duration, dryRun bool) ([]string, error) {
	rg.mu.RLock()
	outputDir := rg.config.OutputDir
	rg.mu.RUnlock()

	if maxAge <= 0 {
		return nil, nil
	}
	files, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), "vulnlynx_") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(outputDir, f.Name())
		if dryRun {
			removed = append(removed, p)
			continue
		}
		if err := os.Remove(p); err != nil {
			rg.logger.Warnf("Failed to remove old report %s: %v", f.Name(), err)
			continue
		}
		rg.logger.Infof("Removed old report: %s", f.Name())
		removed = append(removed, p)
	}
	return removed, nil
}

func (rg *ReportGenerator) GetReportStats() (map[string]interface{}, error) {
	rg.mu.RLock()
	defer rg.mu.RUnlock()

	files, err := os.ReadDir(rg.config.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var total int64
	formatCounts := make(map[string]int)
	count := 0
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		count++
		if info, err := f.Info(); err == nil {
			total += info.Size()
		}
		name := strings.TrimSuffix(f.Name(), ".gz")
		if ext := filepath.Ext(name); ext != "" {
			formatCounts[ext[1:]]++
		}
	}
	return map[string]interface{}{
		"total_reports": count,
		"output_dir":    rg.config.OutputDir,
		"total_size":    utils.HumanizeBytes(total),
		"formats":       formatCounts,
	}, nil
}
