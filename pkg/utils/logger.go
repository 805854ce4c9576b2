package utils

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	File       string `json:"file" yaml:"file"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress"`
	Quiet      bool   `json:"quiet" yaml:"quiet"`
}

// Logger is a logrus logger whose file sink rotates through lumberjack.
// Console output goes to stderr so report text on stdout stays clean.
type Logger struct {
	*logrus.Logger
	config   LogConfig
	mu       sync.Mutex
	fileSink io.WriteCloser
}

func NewLogger(config LogConfig, service, version string) (*Logger, error) {
	l := &Logger{
		Logger: logrus.New(),
		config: normalizeConfig(config),
	}

	level, err := logrus.ParseLevel(l.config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch l.config.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "15:04:05",
			FullTimestamp:   true,
		})
	}

	if err := l.setOutput(); err != nil {
		return nil, err
	}
	if l.config.Format == "json" {
		l.AddHook(&ServiceHook{Service: service, Version: version})
	}
	return l, nil
}

func normalizeConfig(c LogConfig) LogConfig {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	if c.Level == "" {
		c.Level = "info"
	}
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format == "" {
		c.Format = "text"
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 50
	}
	if c.MaxBackups < 0 {
		c.MaxBackups = 0
	}
	if c.MaxAge < 0 {
		c.MaxAge = 0
	}
	return c
}

func (l *Logger) setOutput() error {
	var writers []io.Writer

	if l.config.File != "" {
		if err := os.MkdirAll(filepath.Dir(l.config.File), 0o755); err != nil {
			return err
		}
		lj := &lumberjack.Logger{
			Filename:   l.config.File,
			MaxSize:    l.config.MaxSize,
			MaxBackups: l.config.MaxBackups,
			MaxAge:     l.config.MaxAge,
			Compress:   l.config.Compress,
		}
		l.fileSink = lj
		writers = append(writers, lj)
		if tf, ok := l.Formatter.(*logrus.TextFormatter); ok {
			tf.DisableColors = true
		}
	}
	if !l.config.Quiet || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	l.SetOutput(io.MultiWriter(writers...))
	return nil
}

func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lj, ok := l.fileSink.(*lumberjack.Logger); ok {
		return lj.Rotate()
	}
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileSink != nil {
		return l.fileSink.Close()
	}
	return nil
}

func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithField("component", component)
}

type ServiceHook struct {
	Service string
	Version string
}

func (h *ServiceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *ServiceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.Service
	entry.Data["version"] = h.Version
	return nil
}
