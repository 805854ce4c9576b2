package commands

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

func NewConfigureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Manage VulnLynx configuration",
		Long: `Initialize a configuration file, view the effective settings
and check a configuration file for errors.`,
	}

	cmd.AddCommand(newConfigureInitCommand())
	cmd.AddCommand(newConfigureShowCommand())
	cmd.AddCommand(newConfigureValidateCommand())
	return cmd
}

func newConfigureInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Long:  `Write the default configuration (YAML, or JSON for a .json path). The default path is $HOME/.vulnlynx/config.yaml.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigureInit,
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing file without asking")
	_ = viper.BindPFlag("configure.force", cmd.Flags().Lookup("force"))
	return cmd
}

func newConfigureShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Show the configuration after defaults, config file, environment and flags are applied. Secrets are masked.`,
		RunE:  runConfigureShow,
	}
}

func newConfigureValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Check a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigureValidate,
	}
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".vulnlynx", "config.yaml"), nil
}

func runConfigureInit(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) > 0 {
		path = strings.TrimSpace(args[0])
	}
	if path == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if utils.FileExists(path) && !viper.GetBool("configure.force") {
		logrus.Warnf("Configuration file already exists: %s", path)
		ok, err := confirmOverwrite()
		if err != nil {
			return err
		}
		if !ok {
			logrus.Info("Configuration initialization cancelled")
			return nil
		}
	}

	if err := models.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	logrus.Infof("Configuration initialized: %s", path)
	logrus.Info("Edit this file to customize defaults. Run `vulnlynx configure show` to view.")
	return nil
}

func runConfigureShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	source := viper.ConfigFileUsed()
	fmt.Printf("Configuration (%s)\n", emptyIf(source, "defaults"))
	fmt.Println("═══════════════════════════════════════════════════════════════")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "GENERAL SETTINGS:\t")
	fmt.Fprintf(w, "  Log Level:\t%s\n", cfg.Global.LogLevel)
	fmt.Fprintf(w, "  Log Format:\t%s\n", cfg.Global.LogFormat)
	fmt.Fprintf(w, "  Log File:\t%s\n", emptyIf(cfg.Global.LogFile, "-"))
	fmt.Fprintf(w, "  Data Directory:\t%s\n", cfg.Global.DataDir)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "ENGINE:\t")
	fmt.Fprintf(w, "  Score Column:\t%s\n", cfg.Engine.ScoreColumn)
	fmt.Fprintf(w, "  Group By:\t%s\n", strings.Join(cfg.Engine.GroupBy, ", "))
	fmt.Fprintf(w, "  Synthesis Subset:\t%s\n", strings.Join(cfg.Engine.SynthesisSubset, ", "))
	fmt.Fprintf(w, "  Synthesis Group By:\t%s\n", strings.Join(cfg.Engine.SynthesisGroupBy, ", "))
	fmt.Fprintf(w, "  Date Layout:\t%s\n", cfg.Engine.DateLayout)
	fmt.Fprintf(w, "  Workers:\t%d\n", cfg.Engine.Workers)
	fmt.Fprintf(w, "  Input Delimiter:\t%q\n", cfg.Input.Delimiter)
	fmt.Fprintf(w, "  Decimal Comma:\t%t\n", cfg.Input.DecimalComma)
	for _, col := range sortedKeys(cfg.Aggregation.Strategies) {
		fmt.Fprintf(w, "  Strategy %s:\t%s\n", col, cfg.Aggregation.Strategies[col])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "REPORTING:\t")
	fmt.Fprintf(w, "  Output Directory:\t%s\n", cfg.Reporting.OutputDir)
	fmt.Fprintf(w, "  Formats:\t%s\n", strings.Join(cfg.Reporting.Formats, ", "))
	fmt.Fprintf(w, "  Compression:\t%t\n", cfg.Reporting.Compression)
	fmt.Fprintf(w, "  Patch Plan:\t%t\n", cfg.Reporting.PatchPlan)
	fmt.Fprintf(w, "  Legend:\t%t\n", cfg.Reporting.Legend)
	fmt.Fprintf(w, "  Retention:\t%s\n", utils.HumanizeDuration(cfg.Reporting.Retention))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "HISTORY STORE:\t")
	fmt.Fprintf(w, "  Type:\t%s\n", cfg.Storage.Type)
	if cfg.Storage.Type == "postgres" {
		fmt.Fprintf(w, "  Database URL:\t%s\n", maskURL(cfg.Storage.DatabaseURL))
	} else {
		fmt.Fprintf(w, "  Path:\t%s\n", cfg.Storage.Path)
	}
	fmt.Fprintf(w, "  Compression:\t%t\n", cfg.Storage.Compression)
	fmt.Fprintf(w, "  Encryption:\t%t\n", cfg.Storage.Encryption)
	if cfg.Storage.EncryptionKey != "" {
		fmt.Fprintf(w, "  Encryption Key:\t%s\n", utils.MaskSensitiveData(cfg.Storage.EncryptionKey))
	}
	fmt.Fprintf(w, "  Max History:\t%d\n", cfg.Storage.MaxHistory)
	fmt.Fprintf(w, "  Retention:\t%s\n", utils.HumanizeDuration(cfg.Storage.Retention))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "OBJECT STORE:\t")
	fmt.Fprintf(w, "  Enabled:\t%t\n", cfg.ObjectStore.Enabled)
	fmt.Fprintf(w, "  Endpoint:\t%s\n", emptyIf(cfg.ObjectStore.Endpoint, "-"))
	fmt.Fprintf(w, "  Bucket:\t%s\n", cfg.ObjectStore.Bucket)
	if cfg.ObjectStore.AccessKey != "" {
		fmt.Fprintf(w, "  Access Key:\t%s\n", utils.MaskSensitiveData(cfg.ObjectStore.AccessKey))
	}
	if cfg.ObjectStore.SecretKey != "" {
		fmt.Fprintf(w, "  Secret Key:\t%s\n", utils.MaskSensitiveData(cfg.ObjectStore.SecretKey))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "METRICS:\t")
	fmt.Fprintf(w, "  Enabled:\t%t\n", cfg.Metrics.Enabled)
	fmt.Fprintf(w, "  Textfile:\t%s\n", emptyIf(cfg.Metrics.TextfilePath, "-"))

	return w.Flush()
}

func runConfigureValidate(cmd *cobra.Command, args []string) error {
	cfg := models.DefaultConfig()
	if err := cfg.Load(args[0]); err != nil {
		return err
	}
	fmt.Printf("%s: OK\n", args[0])
	return nil
}

// maskURL hides the password of a connection URL.
func maskURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	creds := raw[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		creds = creds[:i+1] + utils.MaskSensitiveData(creds[i+1:])
	}
	return raw[:scheme+3] + creds + raw[at:]
}

func confirmOverwrite() (bool, error) {
	fmt.Print("Configuration file already exists. Overwrite? (y/N): ")
	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	resp = strings.TrimSpace(resp)
	return resp == "y" || resp == "Y", nil
}
