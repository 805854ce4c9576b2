package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/vulnlynx/internal/orchestration"
	"github.com/bl4ck0w1/vulnlynx/pkg/models"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage stored scans",
		Long: `Manage the processed scans kept as baselines: list them, inspect one,
import previous exports, delete scans and show store statistics.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryImportCommand())
	cmd.AddCommand(newHistoryDeleteCommand())
	cmd.AddCommand(newHistoryStatsCommand())
	return cmd
}

func newHistoryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored scans, newest first",
		RunE:  runHistoryList,
	}
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id|prefix|label>",
		Short: "Show one stored scan",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	cmd.Flags().String("format", "text", "Output format (text, json, yaml)")
	_ = viper.BindPFlag("history.show.format", cmd.Flags().Lookup("format"))
	return cmd
}

func newHistoryImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <scan.csv>...",
		Short: "Process and store previous scan exports",
		Long: `Process scan exports in the given order (oldest first) and store them.
Each file is classified against the newest scan already in the store, so
importing a backlog oldest first rebuilds the chain.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runHistoryImport,
	}
	cmd.Flags().String("captured-at", "", "Capture date, only valid with a single file")
	_ = viper.BindPFlag("history.import.captured_at", cmd.Flags().Lookup("captured-at"))
	return cmd
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|prefix|label>...",
		Short: "Delete stored scans",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runHistoryDelete,
	}
}

func newHistoryStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show history store statistics",
		RunE:  runHistoryStats,
	}
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(time.Minute)
	defer cancel()
	repo, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	records, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if len(records) == 0 {
		logrus.Info("No stored scans.")
		logrus.Info("Run 'vulnlynx report --save' or 'vulnlynx history import' to add one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tCAPTURED\tFINDINGS\tSCORE COLUMN\tSIZE")
	fmt.Fprintln(w, "──\t─────\t────────\t────────\t────────────\t────")
	for _, r := range records {
		size := "-"
		if r.Size > 0 {
			size = utils.HumanizeBytes(r.Size)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(r.ID), r.Label, r.CapturedAt.Format("2006-01-02 15:04"), r.Findings,
			emptyIf(r.ScoreColumn, models.DefaultScoreColumn), size)
	}
	return w.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(time.Minute)
	defer cancel()
	repo, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	scan, err := repo.Find(ctx, args[0])
	if err != nil {
		return err
	}
	st := scan.Stats()

	switch viper.GetString("history.show.format") {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(scan)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(scan)
	}

	fmt.Printf("Scan: %s\n", scan.Label)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", scan.ID)
	fmt.Fprintf(w, "Source:\t%s\n", emptyIf(scan.Source, "-"))
	fmt.Fprintf(w, "Captured:\t%s\n", scan.CapturedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Score column:\t%s\n", emptyIf(scan.ScoreColumn, models.DefaultScoreColumn))
	fmt.Fprintf(w, "Findings:\t%d (%d CVEs on %d servers)\n", st.TotalFindings, st.DistinctCVEs, st.Servers)
	fmt.Fprintf(w, "Mean score:\t%.2f\n", st.MeanScore)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "BY PRIORITY:\t")
	for _, p := range sortedKeys(st.ByPriority) {
		fmt.Fprintf(w, "  %s\t%d\n", p, st.ByPriority[p])
	}
	fmt.Fprintln(w, "BY STATUS:\t")
	for _, s := range sortedKeys(st.ByStatus) {
		fmt.Fprintf(w, "  %s\t%d\n", s, st.ByStatus[s])
	}
	return w.Flush()
}

func runHistoryImport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.flushMetrics()
	ctx, cancel := signalContext(10 * time.Minute)
	defer cancel()

	var capturedAt time.Time
	if raw := viper.GetString("history.import.captured_at"); raw != "" {
		if len(args) > 1 {
			return fmt.Errorf("--captured-at needs exactly one file")
		}
		if capturedAt, err = parseCapturedAt(raw); err != nil {
			return err
		}
	}

	pipeline, err := orchestration.NewPipeline(a.cfg, a.metrics, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	repo, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	for _, path := range args {
		scan, _, err := pipeline.LoadScan(orchestration.Source{Path: path, CapturedAt: capturedAt})
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		baseline, err := repo.Latest(ctx, 1)
		if err != nil {
			return fmt.Errorf("failed to load baseline: %w", err)
		}
		if len(baseline) > 0 && baseline[0].CapturedAt.After(scan.CapturedAt) {
			a.logger.WithFields(logrus.Fields{
				"scan":     scan.Label,
				"baseline": baseline[0].Label,
			}).Warn("Imported scan is older than the newest stored scan")
		}

		processed := scan
		if !scan.Processed {
			res, err := pipeline.Run(ctx, scan, baseline, false)
			if err != nil {
				return fmt.Errorf("failed to process %s: %w", path, err)
			}
			processed = res.Current
		}
		rec, err := repo.Store(ctx, processed)
		if err != nil {
			return fmt.Errorf("failed to store %s: %w", path, err)
		}
		fmt.Printf("Imported %s as %s (%d findings)\n", path, shortID(rec.ID), rec.Findings)
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(time.Minute)
	defer cancel()
	repo, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	for _, ref := range args {
		scan, err := repo.Find(ctx, ref)
		if err != nil {
			return err
		}
		if err := repo.Delete(ctx, scan.ID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", ref, err)
		}
		logrus.Infof("Deleted scan %s (%s)", shortID(scan.ID), scan.Label)
	}
	return nil
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(time.Minute)
	defer cancel()
	repo, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	stats, err := repo.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get history statistics: %w", err)
	}

	fmt.Println("History Statistics:")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Backend:\t%s\n", a.cfg.Storage.Type)
	for _, k := range sortedKeys(stats) {
		fmt.Fprintf(w, "%s:\t%v\n", k, stats[k])
	}
	return w.Flush()
}
