package commands

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

type ReportFile struct {
	Path     string
	Kind     string
	Label    string
	Format   string
	Size     int64
	Modified time.Time
}

func NewOutputCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "output",
		Short: "Manage written reports",
		Long: `Manage the report files written by report and synthesis: list them,
print one to the terminal, remove old ones and show statistics.`,
	}
	cmd.AddCommand(newOutputListCommand())
	cmd.AddCommand(newOutputViewCommand())
	cmd.AddCommand(newOutputCleanupCommand())
	cmd.AddCommand(newOutputStatsCommand())

	return cmd
}

func newOutputListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available reports",
		Long:  `List all report files in the output directory, newest first.`,
		RunE:  runOutputList,
	}
}

func newOutputViewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <file|label>",
		Short: "View a specific report",
		Long: `Print a report file to the terminal. The argument is a path or a fragment
of the file name; the newest matching file in the requested format wins.`,
		Args: cobra.ExactArgs(1),
		RunE: runOutputView,
	}

	cmd.Flags().StringP("format", "f", "txt", "Report format to view (txt, csv, json, yaml)")
	_ = viper.BindPFlag("output.format", cmd.Flags().Lookup("format"))

	return cmd
}

func newOutputCleanupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Clean up old reports",
		Long:  `Delete reports older than the given age (reporting.retention by default).`,
		RunE:  runOutputCleanup,
	}

	cmd.Flags().String("older-than", "", "Delete reports older than this duration (e.g. 720h, 30d, 2w)")
	cmd.Flags().Bool("dry-run", false, "Dry run (show what would be deleted)")
	_ = viper.BindPFlag("output.older_than", cmd.Flags().Lookup("older-than"))
	_ = viper.BindPFlag("output.dry_run", cmd.Flags().Lookup("dry-run"))

	return cmd
}

func newOutputStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show output statistics",
		Long:  `Show statistics about the files in the output directory.`,
		RunE:  runOutputStats,
	}
}

func runOutputList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	outputDir := cfg.Reporting.OutputDir

	if _, err := os.Stat(outputDir); os.IsNotExist(err) {
		logrus.Infof("No reports directory found at %s", outputDir)
		return nil
	}

	reportFiles, err := findReportFiles(outputDir)
	if err != nil {
		return fmt.Errorf("failed to find report files: %w", err)
	}
	if len(reportFiles) == 0 {
		logrus.Info("No reports found")
		return nil
	}

	fmt.Printf("Available reports in %s:\n", outputDir)
	fmt.Println("═══════════════════════════════════════════════════════════════")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tLABEL\tFORMAT\tSIZE\tMODIFIED\tFILE")
	for _, file := range reportFiles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			emptyIf(file.Kind, "-"),
			emptyIf(file.Label, "-"),
			file.Format,
			utils.HumanizeBytes(file.Size),
			file.Modified.Format("2006-01-02 15:04"),
			filepath.Base(file.Path),
		)
	}
	return w.Flush()
}

func runOutputView(cmd *cobra.Command, args []string) error {
	ref := args[0]
	format := strings.ToLower(strings.TrimSpace(viper.GetString("output.format")))
	if format == "" {
		format = models.ReportFormatTXT
	}

	reportFile := ""
	if utils.FileExists(ref) {
		reportFile = ref
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reportFile, err = findSpecificReport(cfg.Reporting.OutputDir, ref, format)
		if err != nil {
			return fmt.Errorf("failed to find report: %w", err)
		}
	}
	if reportFile == "" {
		return fmt.Errorf("no %s report matches %q", format, ref)
	}

	f, err := os.Open(reportFile)
	if err != nil {
		return fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(reportFile, ".gz") {
		gr, gzErr := gzip.NewReader(f)
		if gzErr != nil {
			return fmt.Errorf("failed to read gzip report: %w", gzErr)
		}
		defer gr.Close()
		reader = gr
	}

	_, err = io.Copy(os.Stdout, reader)
	return err
}

func runOutputCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	gen, err := a.newGenerator()
	if err != nil {
		return err
	}

	maxAge := a.cfg.Reporting.Retention
	if olderThan := viper.GetString("output.older_than"); olderThan != "" {
		maxAge, err = utils.ParseDurationExtended(olderThan)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
	}
	dryRun := viper.GetBool("output.dry_run")

	logrus.Infof("Cleaning up reports older than %s (before %s)",
		utils.HumanizeDuration(maxAge), time.Now().Add(-maxAge).Format(time.RFC3339))
	if dryRun {
		logrus.Info("Dry run enabled - no files will be deleted")
	}

	removed, err := gen.CleanupOldReports(maxAge, dryRun)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		logrus.Info("No old reports found")
		return nil
	}
	for _, p := range removed {
		if dryRun {
			logrus.Infof("Would delete: %s", p)
		}
	}
	if dryRun {
		logrus.Infof("Would delete %d files", len(removed))
	} else {
		logrus.Infof("Deleted %d files", len(removed))
	}
	return nil
}

func runOutputStats(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	gen, err := a.newGenerator()
	if err != nil {
		return err
	}
	stats, err := gen.GetReportStats()
	if err != nil {
		return fmt.Errorf("failed to get output statistics: %w", err)
	}

	fmt.Println("Output Statistics:")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Output Directory:\t%v\n", stats["output_dir"])
	fmt.Fprintf(w, "Total Reports:\t%v\n", stats["total_reports"])
	fmt.Fprintf(w, "Total Size:\t%v\n", stats["total_size"])

	if formats, ok := stats["formats"].(map[string]int); ok && len(formats) > 0 {
		fmt.Fprintln(w, "\nReports by Format:")
		for _, format := range sortedKeys(formats) {
			fmt.Fprintf(w, "  %s:\t%d\n", format, formats[format])
		}
	}
	return w.Flush()
}

func findReportFiles(outputDir string) ([]ReportFile, error) {
	var files []ReportFile
	err := filepath.WalkDir(outputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		if !strings.HasPrefix(name, "vulnlynx_") {
			return nil
		}
		format := fileFormatFromName(name)
		if !models.IsValidFormat(format) {
			return nil
		}
		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		kind, label := parseReportName(name)
		files = append(files, ReportFile{
			Path:     path,
			Kind:     kind,
			Label:    label,
			Format:   format,
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		})
		return nil
	})
	sort.SliceStable(files, func(i, j int) bool { return files[i].Modified.After(files[j].Modified) })
	return files, err
}

// findSpecificReport returns the newest report in format whose name contains ref.
func findSpecificReport(outputDir, ref, format string) (string, error) {
	files, err := findReportFiles(outputDir)
	if err != nil {
		return "", err
	}
	needle := strings.ToLower(ref)
	for _, f := range files {
		if f.Format == format && strings.Contains(strings.ToLower(filepath.Base(f.Path)), needle) {
			return f.Path, nil
		}
	}
	return "", nil
}

func fileFormatFromName(lowerName string) string {
	return strings.TrimPrefix(filepath.Ext(strings.TrimSuffix(lowerName, ".gz")), ".")
}

// parseReportName splits vulnlynx_<kind>_<label>_<date>_<time>[_part].<ext>.
func parseReportName(lowerName string) (kind, label string) {
	base := strings.TrimSuffix(lowerName, ".gz")
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(strings.TrimPrefix(base, "vulnlynx_"), "_")
	if len(parts) < 4 {
		return "", ""
	}
	kind = parts[0]
	for i := len(parts) - 2; i >= 1; i-- {
		if len(parts[i]) == 8 && len(parts[i+1]) == 6 && isDigits(parts[i]) && isDigits(parts[i+1]) {
			return kind, strings.Join(parts[1:i], "_")
		}
	}
	return kind, ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
