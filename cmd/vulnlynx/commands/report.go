package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/vulnlynx/internal/orchestration"
	"github.com/bl4ck0w1/vulnlynx/internal/reporting"
	"github.com/bl4ck0w1/vulnlynx/internal/storage"
	"github.com/bl4ck0w1/vulnlynx/pkg/models"
)

func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <current.csv>",
		Short: "Prioritise a scan export and compare it with its history",
		Long: `Read a vulnerability scan export, compute the priority of every finding,
classify it against the previous scans (New, Known, Updated) and write the
report sheets: Data, CVE Scan, one sheet per previous scan, Patch Plan and Legend.

Previous scans come from --history (newest first) and/or the history store
(--from-store). --save keeps the processed scan as the baseline for the next run.`,
		Args: cobra.ExactArgs(1),
		RunE: runReport,
	}
	addRunFlags(cmd, "report")
	cmd.Flags().Bool("synthesis", false, "Append the Synthesis sheet to the report")
	cmd.Flags().Bool("save", false, "Store the processed scan in the history store")
	_ = viper.BindPFlag("report.synthesis", cmd.Flags().Lookup("synthesis"))
	_ = viper.BindPFlag("report.save", cmd.Flags().Lookup("save"))
	return cmd
}

func NewSynthesisCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synthesis <current.csv>",
		Short: "Build the longitudinal view of a scan and its history",
		Long: `Union the current scan with every previous scan, mark as Fixed the findings
that no longer appear in the current scan, and group the result into one row per
CVE, server and status.`,
		Args: cobra.ExactArgs(1),
		RunE: runSynthesis,
	}
	addRunFlags(cmd, "synthesis")
	return cmd
}

// addRunFlags registers the inputs shared by report and synthesis. Engine
// keys are bound globally so loadConfig sees them as overrides.
func addRunFlags(cmd *cobra.Command, prefix string) {
	cmd.Flags().StringSliceP("history", "H", nil, "Previous scan exports, newest first")
	cmd.Flags().IntP("from-store", "n", 0, "Append up to N scans from the history store (-1 for all)")
	cmd.Flags().String("label", "", "Label of the current scan (default: file name)")
	cmd.Flags().String("captured-at", "", "Capture date of the current scan (default: file modification time)")
	cmd.Flags().String("score-column", "", "Score column used for priority (CVSS Score, CVSS Temporal Score, ...)")
	cmd.Flags().StringSlice("group-by", nil, "Columns that identify one summary row")
	cmd.Flags().StringSliceP("formats", "f", nil, "Output formats (txt, csv, json, yaml)")
	cmd.Flags().StringP("output", "o", "", "Output directory")
	cmd.Flags().Bool("compress", false, "Gzip the written report files")
	cmd.Flags().Bool("upload", false, "Upload the written files to object storage")
	cmd.Flags().IntP("timeout", "t", 10, "Timeout in minutes")

	_ = viper.BindPFlag(prefix+".history", cmd.Flags().Lookup("history"))
	_ = viper.BindPFlag(prefix+".from_store", cmd.Flags().Lookup("from-store"))
	_ = viper.BindPFlag(prefix+".label", cmd.Flags().Lookup("label"))
	_ = viper.BindPFlag(prefix+".captured_at", cmd.Flags().Lookup("captured-at"))
	_ = viper.BindPFlag(prefix+".upload", cmd.Flags().Lookup("upload"))
	_ = viper.BindPFlag(prefix+".timeout", cmd.Flags().Lookup("timeout"))

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		bind := map[string]string{
			"score-column": "engine.score_column",
			"group-by":     "engine.group_by",
			"formats":      "reporting.formats",
			"output":       "reporting.output_dir",
			"compress":     "reporting.compression",
		}
		for flag, key := range bind {
			_ = viper.BindPFlag(key, cmd.Flags().Lookup(flag))
		}
	}
}

// runOutcome is what one engine run left behind.
type runOutcome struct {
	result *orchestration.Result
	report *models.Report
	files  []string
	keys   []string
}

func runReport(cmd *cobra.Command, args []string) error {
	out, err := runEngine(args[0], "report", viper.GetBool("report.synthesis"), viper.GetBool("report.save"))
	if err != nil {
		return err
	}
	printRunSummary(out)
	return nil
}

func runSynthesis(cmd *cobra.Command, args []string) error {
	out, err := runEngine(args[0], "synthesis", true, false)
	if err != nil {
		return err
	}
	printRunSummary(out)
	return nil
}

func runEngine(currentPath, prefix string, synthesis, save bool) (*runOutcome, error) {
	a, err := newApp()
	if err != nil {
		return nil, err
	}
	defer a.flushMetrics()

	ctx, cancel := signalContext(time.Duration(viper.GetInt(prefix+".timeout")) * time.Minute)
	defer cancel()

	current, err := currentSource(currentPath, prefix)
	if err != nil {
		return nil, err
	}

	pipeline, err := orchestration.NewPipeline(a.cfg, a.metrics, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	sources := []orchestration.Source{current}
	for _, p := range viper.GetStringSlice(prefix + ".history") {
		sources = append(sources, orchestration.Source{Path: p})
	}
	scans, err := pipeline.LoadScans(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("failed to load scans: %w", err)
	}
	history := scans[1:]

	fromStore := viper.GetInt(prefix + ".from_store")
	var repo *storage.HistoryRepository
	if fromStore != 0 || save {
		repo, err = a.openHistory(ctx)
		if err != nil {
			return nil, err
		}
		defer repo.Close()
	}
	if fromStore != 0 {
		stored, err := repo.Latest(ctx, fromStore)
		if err != nil {
			return nil, fmt.Errorf("failed to load stored history: %w", err)
		}
		a.logger.WithField("scans", len(stored)).Info("Loaded history from store")
		history = append(history, stored...)
	}

	res, err := pipeline.Run(ctx, scans[0], history, synthesis)
	if err != nil {
		return nil, err
	}

	gen, err := a.newGenerator()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize report generator: %w", err)
	}
	assembly := reporting.Assembly{
		Title:        res.Current.Label,
		Current:      res.Current,
		History:      res.History,
		HistoryViews: res.HistoryViews,
		CVEScan:      res.CVEScan,
		Synthesis:    res.Synthesis,
		ScoreColumn:  a.cfg.Engine.ScoreColumn,
		GroupBy:      a.cfg.Engine.GroupBy,
		Ambiguous:    res.Ambiguous(),
		Duration:     res.Duration,
	}
	var report *models.Report
	if prefix == "synthesis" {
		assembly.GroupBy = a.cfg.Engine.SynthesisGroupBy
		report, err = gen.GenerateSynthesisReport(assembly)
	} else {
		report, err = gen.GenerateReport(assembly)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}

	out := &runOutcome{result: res, report: report}
	for _, format := range a.cfg.Reporting.Formats {
		paths, err := gen.ExportReport(report, format)
		out.files = append(out.files, paths...)
		if a.metrics != nil {
			a.metrics.AddReportFiles(format, len(paths))
		}
		if err != nil {
			return out, err
		}
	}

	if save {
		rec, err := repo.Store(ctx, res.Current)
		if err != nil {
			return out, fmt.Errorf("failed to store scan: %w", err)
		}
		a.logger.WithFields(logrus.Fields{"id": rec.ID, "label": rec.Label}).Info("Scan stored in history")
	}

	if viper.GetBool(prefix+".upload") || a.cfg.ObjectStore.Enabled {
		out.keys, err = uploadReports(ctx, a, out.files)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func currentSource(path, prefix string) (orchestration.Source, error) {
	src := orchestration.Source{Path: path, Label: viper.GetString(prefix + ".label")}
	if raw := strings.TrimSpace(viper.GetString(prefix + ".captured_at")); raw != "" {
		t, err := parseCapturedAt(raw)
		if err != nil {
			return src, err
		}
		src.CapturedAt = t
	}
	return src, nil
}

func parseCapturedAt(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid capture date %q (want RFC3339 or YYYY-MM-DD)", raw)
}

func uploadReports(ctx context.Context, a *app, files []string) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	uploader, err := storage.NewReportUploader(a.cfg.ObjectStore, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize uploader: %w", err)
	}
	if err := uploader.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return uploader.Upload(ctx, files)
}

func printRunSummary(out *runOutcome) {
	if out == nil || out.result == nil {
		return
	}
	res := out.result
	st := res.Current.Stats()

	fmt.Println()
	fmt.Println("Run Summary:")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Scan:\t%s\n", res.Current.Label)
	fmt.Fprintf(w, "Findings:\t%d (%d CVEs on %d servers)\n", st.TotalFindings, st.DistinctCVEs, st.Servers)
	fmt.Fprintf(w, "Previous scans:\t%d\n", len(res.History))
	fmt.Fprintf(w, "Status:\tNew %d | Known %d | Updated %d\n",
		res.CurrentLink.Stats.New, res.CurrentLink.Stats.Known, res.CurrentLink.Stats.Updated)
	var prios []string
	for _, p := range sortedKeys(st.ByPriority) {
		prios = append(prios, fmt.Sprintf("%s %d", p, st.ByPriority[p]))
	}
	fmt.Fprintf(w, "Priorities:\t%s\n", emptyIf(strings.Join(prios, " | "), "-"))
	if n := res.Ambiguous(); n > 0 {
		fmt.Fprintf(w, "Ambiguous keys:\t%d (first match used)\n", n)
	}
	if res.Synthesis != nil {
		fmt.Fprintf(w, "Synthesis:\t%d rows, %d fixed\n", res.SynthesisInfo.SummaryRows, res.SynthesisInfo.FixedRows)
	}
	fmt.Fprintf(w, "Duration:\t%s\n", res.Duration.Round(time.Millisecond))
	_ = w.Flush()
	fmt.Println("═══════════════════════════════════════════════════════════════")

	for _, f := range out.files {
		fmt.Printf("  • %s\n", f)
	}
	for _, k := range out.keys {
		fmt.Printf("  ↑ %s\n", k)
	}
}
