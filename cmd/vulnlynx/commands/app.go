package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/vulnlynx/internal/reporting"
	"github.com/bl4ck0w1/vulnlynx/internal/storage"
	"github.com/bl4ck0w1/vulnlynx/pkg/models"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

var toolVersion = "dev"

// SetToolVersion records the binary version stamped into reports.
func SetToolVersion(v string) { toolVersion = v }

// app bundles what a command needs for one invocation.
type app struct {
	cfg     *models.Config
	logger  *logrus.Logger
	metrics *utils.MetricsCollector
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logrus.StandardLogger()}
	if cfg.Metrics.Enabled {
		a.metrics = utils.NewMetricsCollector(cfg.Metrics.Namespace, false)
	}
	return a, nil
}

// loadConfig starts from the defaults, applies the config file viper found
// and then every key set through a flag or a VULNLYNX_* variable.
func loadConfig() (*models.Config, error) {
	cfg := models.DefaultConfig()
	if path := viper.ConfigFileUsed(); path != "" && utils.FileExists(path) {
		if err := cfg.Load(path); err != nil {
			return nil, err
		}
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *models.Config) {
	str := func(key string, dst *string) {
		if viper.IsSet(key) {
			if v := viper.GetString(key); v != "" {
				*dst = v
			}
		}
	}
	list := func(key string, dst *[]string) {
		if viper.IsSet(key) {
			if v := viper.GetStringSlice(key); len(v) > 0 {
				out := make([]string, 0, len(v))
				for _, s := range v {
					out = append(out, utils.SplitList(s)...)
				}
				*dst = utils.RemoveDuplicates(out)
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if viper.IsSet(key) {
			*dst = viper.GetBool(key)
		}
	}
	integer := func(key string, dst *int) {
		if viper.IsSet(key) {
			*dst = viper.GetInt(key)
		}
	}

	str("global.log_level", &cfg.Global.LogLevel)
	str("global.log_format", &cfg.Global.LogFormat)
	str("global.log_file", &cfg.Global.LogFile)

	str("engine.score_column", &cfg.Engine.ScoreColumn)
	list("engine.group_by", &cfg.Engine.GroupBy)
	list("engine.synthesis_subset", &cfg.Engine.SynthesisSubset)
	list("engine.synthesis_group_by", &cfg.Engine.SynthesisGroupBy)
	str("engine.date_layout", &cfg.Engine.DateLayout)
	integer("engine.workers", &cfg.Engine.Workers)

	str("input.delimiter", &cfg.Input.Delimiter)
	boolean("input.decimal_comma", &cfg.Input.DecimalComma)

	list("reporting.formats", &cfg.Reporting.Formats)
	str("reporting.output_dir", &cfg.Reporting.OutputDir)
	str("reporting.template_dir", &cfg.Reporting.TemplateDir)
	boolean("reporting.compression", &cfg.Reporting.Compression)

	str("storage.type", &cfg.Storage.Type)
	str("storage.path", &cfg.Storage.Path)
	str("storage.database_url", &cfg.Storage.DatabaseURL)
	boolean("storage.encryption", &cfg.Storage.Encryption)
	str("storage.encryption_key", &cfg.Storage.EncryptionKey)
	integer("storage.max_history", &cfg.Storage.MaxHistory)

	boolean("object_store.enabled", &cfg.ObjectStore.Enabled)
	str("object_store.endpoint", &cfg.ObjectStore.Endpoint)
	str("object_store.access_key", &cfg.ObjectStore.AccessKey)
	str("object_store.secret_key", &cfg.ObjectStore.SecretKey)
	str("object_store.bucket", &cfg.ObjectStore.Bucket)

	boolean("metrics.enabled", &cfg.Metrics.Enabled)
	str("metrics.textfile_path", &cfg.Metrics.TextfilePath)
}

func (a *app) openHistory(ctx context.Context) (*storage.HistoryRepository, error) {
	store, err := storage.Open(ctx, a.cfg.Storage, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return storage.NewHistoryRepository(store, storage.RepositoryOptions{
		MaxHistory: a.cfg.Storage.MaxHistory,
		Retention:  a.cfg.Storage.Retention,
	}, a.logger), nil
}

func (a *app) newGenerator() (*reporting.ReportGenerator, error) {
	delim := ';'
	if d := []rune(a.cfg.Input.Delimiter); len(d) == 1 {
		delim = d[0]
	}
	return reporting.NewReportGenerator(reporting.ReportConfig{
		OutputDir:    a.cfg.Reporting.OutputDir,
		Formats:      a.cfg.Reporting.Formats,
		TemplateDir:  a.cfg.Reporting.TemplateDir,
		Compress:     a.cfg.Reporting.Compression,
		PatchPlan:    a.cfg.Reporting.PatchPlan,
		Legend:       a.cfg.Reporting.Legend,
		Delimiter:    delim,
		DecimalComma: a.cfg.Input.DecimalComma,
		MaxReportAge: a.cfg.Reporting.Retention,
		ToolVersion:  toolVersion,
	}, a.logger)
}

// flushMetrics writes the registry to the configured textfile, if any.
func (a *app) flushMetrics() {
	if a.metrics == nil || a.cfg.Metrics.TextfilePath == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		a.logger.Warnf("Failed to write metrics textfile: %v", err)
		return
	}
	a.logger.Debugf("Metrics written to %s", a.cfg.Metrics.TextfilePath)
}

// signalContext is cancelled on SIGINT/SIGTERM or after timeout.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logrus.Info("Received interrupt signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func emptyIf(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
