package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Global      GlobalConfig      `yaml:"global" json:"global"`
	Engine      EngineConfig      `yaml:"engine" json:"engine"`
	Input       InputConfig       `yaml:"input" json:"input"`
	Aggregation AggregationConfig `yaml:"aggregation" json:"aggregation"`
	Reporting   ReportingConfig   `yaml:"reporting" json:"reporting"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	ObjectStore ObjectStoreConfig `yaml:"object_store" json:"object_store"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
}

type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
	LogFile   string `yaml:"log_file" json:"log_file"`
	Debug     bool   `yaml:"debug" json:"debug"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
}

type EngineConfig struct {
	ScoreColumn      string   `yaml:"score_column" json:"score_column"`
	GroupBy          []string `yaml:"group_by" json:"group_by"`
	SynthesisSubset  []string `yaml:"synthesis_subset" json:"synthesis_subset"`
	SynthesisGroupBy []string `yaml:"synthesis_group_by" json:"synthesis_group_by"`
	DateLayout       string   `yaml:"date_layout" json:"date_layout"`
	Workers          int      `yaml:"workers" json:"workers"`
}

type InputConfig struct {
	Delimiter    string `yaml:"delimiter" json:"delimiter"`
	DecimalComma bool   `yaml:"decimal_comma" json:"decimal_comma"`
}

// AggregationConfig overrides the built-in per-column strategies. Strategy
// names are first, join_unique, join_all and drop.
type AggregationConfig struct {
	Strategies map[string]string `yaml:"strategies" json:"strategies"`
	Delimiter  string            `yaml:"delimiter" json:"delimiter"`
}

type ReportingConfig struct {
	Formats     []string      `yaml:"formats" json:"formats"`
	OutputDir   string        `yaml:"output_dir" json:"output_dir"`
	TemplateDir string        `yaml:"template_dir" json:"template_dir"`
	Compression bool          `yaml:"compression" json:"compression"`
	PatchPlan   bool          `yaml:"patch_plan" json:"patch_plan"`
	Legend      bool          `yaml:"legend" json:"legend"`
	Retention   time.Duration `yaml:"retention" json:"retention"`
}

type StorageConfig struct {
	Type          string        `yaml:"type" json:"type"`
	Path          string        `yaml:"path" json:"path"`
	DatabaseURL   string        `yaml:"database_url" json:"database_url"`
	Compression   bool          `yaml:"compression" json:"compression"`
	Encryption    bool          `yaml:"encryption" json:"encryption"`
	EncryptionKey string        `yaml:"encryption_key" json:"encryption_key"`
	MaxHistory    int           `yaml:"max_history" json:"max_history"`
	Retention     time.Duration `yaml:"retention" json:"retention"`
}

type ObjectStoreConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
}

type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	TextfilePath string `yaml:"textfile_path" json:"textfile_path"`
	Namespace    string `yaml:"namespace" json:"namespace"`
}

func DefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			LogLevel:  "info",
			LogFormat: "text",
			Debug:     false,
			DataDir:   "./data",
		},
		Engine: EngineConfig{
			ScoreColumn:      DefaultScoreColumn,
			GroupBy:          []string{ColumnCVECode, ColumnServer},
			SynthesisSubset:  []string{ColumnServer, ColumnCVECode, ColumnProduct},
			SynthesisGroupBy: []string{ColumnCVECode, ColumnServer, ColumnStatus},
			DateLayout:       "2006-01-02",
			Workers:          4,
		},
		Input: InputConfig{
			Delimiter:    ";",
			DecimalComma: true,
		},
		Aggregation: AggregationConfig{
			Strategies: map[string]string{},
			Delimiter:  " | ",
		},
		Reporting: ReportingConfig{
			Formats:     []string{"txt", "csv", "json"},
			OutputDir:   "./reports",
			Compression: false,
			PatchPlan:   true,
			Legend:      true,
			Retention:   30 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			Type:        "local",
			Path:        "./data/history",
			Compression: true,
			Encryption:  false,
			MaxHistory:  12,
			Retention:   365 * 24 * time.Hour,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled: false,
			Bucket:  "vulnlynx-reports",
			Prefix:  "reports/",
			UseSSL:  true,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "vulnlynx",
		},
	}
}

func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Global.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, "global.log_level must be one of trace|debug|info|warn|error|fatal|panic")
	}
	switch c.Global.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "global.log_format must be text or json")
	}

	if !IsScoreColumn(c.Engine.ScoreColumn) {
		errs = append(errs, fmt.Sprintf("engine.score_column %q is not one of %s", c.Engine.ScoreColumn, strings.Join(ScoreColumns, ", ")))
	}
	if len(c.Engine.GroupBy) == 0 {
		errs = append(errs, "engine.group_by must name at least one column")
	}
	if len(c.Engine.SynthesisSubset) == 0 {
		errs = append(errs, "engine.synthesis_subset must name at least one column")
	}
	if len(c.Engine.SynthesisGroupBy) == 0 {
		errs = append(errs, "engine.synthesis_group_by must name at least one column")
	}
	if c.Engine.DateLayout == "" {
		errs = append(errs, "engine.date_layout must not be empty")
	}
	if c.Engine.Workers <= 0 {
		errs = append(errs, "engine.workers must be > 0")
	}

	if len([]rune(c.Input.Delimiter)) != 1 {
		errs = append(errs, "input.delimiter must be a single character")
	}

	for col, strategy := range c.Aggregation.Strategies {
		switch strategy {
		case "first", "join_unique", "join_all", "drop":
		default:
			errs = append(errs, fmt.Sprintf("aggregation.strategies[%q]: unknown strategy %q", col, strategy))
		}
	}

	if c.Reporting.OutputDir == "" {
		errs = append(errs, "reporting.output_dir must not be empty")
	}
	if len(c.Reporting.Formats) == 0 {
		errs = append(errs, "reporting.formats must include at least one format")
	}
	for _, f := range c.Reporting.Formats {
		if !IsValidFormat(f) {
			errs = append(errs, fmt.Sprintf("reporting.format %q is not supported", f))
		}
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path must not be empty")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, "storage.database_url must be set when storage.type is postgres")
		}
	default:
		errs = append(errs, "storage.type must be local or postgres")
	}
	if c.Storage.Encryption && c.Storage.EncryptionKey == "" {
		errs = append(errs, "storage.encryption_key must be set when storage.encryption is true")
	}
	if c.Storage.MaxHistory < 0 {
		errs = append(errs, "storage.max_history must be >= 0")
	}

	if c.ObjectStore.Enabled {
		if c.ObjectStore.Endpoint == "" || c.ObjectStore.Bucket == "" {
			errs = append(errs, "object_store.endpoint and object_store.bucket must be set when object storage is enabled")
		}
	}

	if c.Metrics.Enabled && c.Metrics.TextfilePath == "" {
		errs = append(errs, "metrics.textfile_path must be set when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var (
		data []byte
		err  error
	)
	switch ext {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomically write config: %w", err)
	}
	return nil
}

func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			if err2 := json.Unmarshal(data, c); err2 != nil {
				return fmt.Errorf("parse config (yaml/json): %v | %v", err, err2)
			}
		}
	}

	return c.Validate()
}
