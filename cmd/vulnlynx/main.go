package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/vulnlynx/cmd/vulnlynx/commands"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

var (
	version   = "1.0.0"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "vulnlynx",
	Short:         "VulnLynx - Vulnerability scan differencing and prioritisation",
	Long:          "VulnLynx compares successive vulnerability scan exports, assigns a remediation priority to every finding and tracks what is new, known, updated or fixed.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := initLogging(); err != nil {
			return err
		}

		if !viper.GetBool("quiet") && cmd.Name() != "completion" {
			printBanner()
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.vulnlynx/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet mode (no banner output)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "log file path")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("global.log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("global.log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("global.log_file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(commands.NewSynthesisCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewOutputCommand())
	rootCmd.AddCommand(commands.NewConfigureCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(version, commit, buildDate))
	rootCmd.AddCommand(commands.NewCompletionCommand())

	installConsolidatedHelp(rootCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("VulnLynx %s (commit %s, built %s)\n", version, commit, buildDate))
	commands.SetToolVersion(version)
}

func initConfig() error {
	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Debugf("Skipping .env: %v", err)
	}

	setDefaults()
	viper.SetEnvPrefix("VULNLYNX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home dir: %w", err)
		}
		viper.AddConfigPath(filepath.Join(home, ".vulnlynx"))
		viper.AddConfigPath("/etc/vulnlynx/")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logrus.Warnf("Failed reading config file: %v", err)
		}
	} else {
		logrus.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("global.log_level", "info")
	viper.SetDefault("global.log_format", "text")
	viper.SetDefault("quiet", false)
}

func initLogging() error {
	logConfig := utils.LogConfig{
		Level:  viper.GetString("global.log_level"),
		Format: viper.GetString("global.log_format"),
		File:   viper.GetString("global.log_file"),
		Quiet:  viper.GetBool("quiet"),
	}

	logger, err := utils.NewLogger(logConfig, "vulnlynx", version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize structured logger, falling back: %v\n", err)
		basic := utils.BasicLogger()
		logrus.SetOutput(basic.Out)
		logrus.SetLevel(basic.Level)
		logrus.SetFormatter(basic.Formatter)
		return nil
	}

	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.Level)
	logrus.SetFormatter(logger.Formatter)

	for _, hooks := range logger.Hooks {
		for _, h := range hooks {
			logrus.AddHook(h)
		}
	}
	return nil
}

func printBanner() {
	const banner = `
 __      __    _       _
 \ \    / /   | |     | |
  \ \  / /   _| |_ __ | |    _   _ _ __ __  __
   \ \/ / | | | | '_ \| |   | | | | '_ \\ \/ /
    \  /| |_| | | | | | |___| |_| | | | |>  <
     \/  \__,_|_|_| |_|______\__, |_| |_/_/\_\
                              __/ |
                             |___/    v%s
        Vulnerability scan differencing and prioritisation
   ______________________________________________________________
`
	fmt.Fprintf(os.Stderr, banner, version)
	fmt.Fprintf(os.Stderr, "Build: %s (%s) | %s/%s\n\n", commit, buildDate, runtime.GOOS, runtime.GOARCH)
}

func installConsolidatedHelp(root *cobra.Command) {
	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			defaultHelp(cmd, args)
			return
		}

		if !viper.GetBool("quiet") {
			printBanner()
		}

		fmt.Println("USAGE:")
		fmt.Println("  vulnlynx [command] [global flags]")
		fmt.Println()
		fmt.Println("GLOBAL FLAGS:")
		home, _ := os.UserHomeDir()
		fmt.Printf("  -c, --config string      config file (default is %s)\n", filepath.Join(home, ".vulnlynx", "config.yaml"))
		fmt.Printf("  -q, --quiet              quiet mode (no banner output)\n")
		fmt.Printf("  -l, --log-level string   log level (debug, info, warn, error, fatal) (default %q)\n", viper.GetString("global.log_level"))
		fmt.Printf("      --log-format string  log format (text, json) (default %q)\n", viper.GetString("global.log_format"))
		fmt.Printf("      --log-file string    log file path\n")
		fmt.Printf("  -v, --version            version for vulnlynx\n\n")

		cmds := []*cobra.Command{}
		for _, c := range root.Commands() {
			if c.IsAvailableCommand() && !c.Hidden {
				cmds = append(cmds, c)
			}
		}
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name() < cmds[j].Name() })
		fmt.Println("COMMANDS OVERVIEW:")
		for _, c := range cmds {
			fmt.Printf("  %-12s %s\n", c.Name(), c.Short)
		}
		fmt.Println()

		fmt.Println("DETAILED COMMAND HELP")
		fmt.Println("─────────────────")

		for _, c := range cmds {
			fmt.Printf("\n%s\n", c.Name())
			fmt.Println(strings.Repeat("-", len(c.Name())))

			switch {
			case c.Long != "":
				fmt.Println(c.Long)
			case c.Short != "":
				fmt.Println(c.Short)
			}

			fmt.Println("\nUsage:")
			fmt.Printf("  vulnlynx %s\n\n", c.UseLine())

			if c.Flags().HasAvailableFlags() {
				fmt.Println("Flags:")
				c.Flags().PrintDefaults()
				fmt.Println()
			}

			for _, sc := range c.Commands() {
				if !sc.IsAvailableCommand() || sc.Hidden {
					continue
				}
				title := c.Name() + " " + sc.Name()
				fmt.Printf("\n%s\n", title)
				fmt.Println(strings.Repeat("-", len(title)))
				if sc.Short != "" {
					fmt.Println(sc.Short)
					fmt.Println()
				}
				fmt.Println("Usage:")
				fmt.Printf("  vulnlynx %s %s\n\n", c.Name(), sc.UseLine())
				if sc.Flags().HasAvailableFlags() {
					fmt.Println("Flags:")
					sc.Flags().PrintDefaults()
					fmt.Println()
				}
			}
		}

		fmt.Println("NOTES:")
		fmt.Println("  • Use \"vulnlynx [command] --help\" for focused help on any command.")
		fmt.Println("  • History files are given newest first; stored history is appended after them.")
	})
}

func main() {
	startTime := time.Now()
	Execute()
	if strings.EqualFold(viper.GetString("global.log_level"), "debug") {
		logrus.Debugf("Execution completed in %v", time.Since(startTime))
	}
}
