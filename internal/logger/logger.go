package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nexconsult/cookie-refresher/internal/config"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// New creates a new logger instance
func New(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set output; a configured file is rotated and mirrored to stdout
	logger.SetOutput(Output(cfg))

	// Set formatter
	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	return logger
}

// Output returns the writer the logger should use
func Output(cfg config.LogConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	})
}

// WithRun creates a logger entry scoped to one refresh run
func WithRun(logger *logrus.Logger, runID, trigger string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"run_id":  runID,
		"trigger": trigger,
	})
}
