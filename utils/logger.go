package utils

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerOptions mirrors the logging section of the production config
type LoggerOptions struct {
	Level      string
	Format     string // json, text
	Output     string // stdout, file, both
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Caller     bool
}

// InitLogger configures the global logrus logger
func InitLogger(opts LoggerOptions) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetReportCaller(opts.Caller)

	if strings.EqualFold(opts.Format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	var rotating io.Writer
	if opts.FilePath != "" {
		rotating = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
	}

	switch {
	case opts.Output == "file" && rotating != nil:
		logrus.SetOutput(rotating)
	case opts.Output == "both" && rotating != nil:
		logrus.SetOutput(io.MultiWriter(os.Stdout, rotating))
	default:
		logrus.SetOutput(os.Stdout)
	}
}

// LogError logs errors with structured context to both console and Sentry
func LogError(errorType string, err error, fields map[string]any) {
	if err == nil {
		return
	}
	entry := logrus.WithFields(logrus.Fields{
		"error_type": errorType,
		"error":      err.Error(),
	})
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Error("Error occurred")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_type", errorType)
		for k, v := range fields {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// LogEvent logs events with structured context
func LogEvent(eventType string, data map[string]any) {
	entry := logrus.WithField("event_type", eventType)
	for k, v := range data {
		entry = entry.WithField(k, v)
	}
	entry.Info("Event occurred")

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "info",
		Category:  eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// SentryOptions configures error reporting
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// InitSentry enables Sentry reporting when a DSN is set. The returned func flushes pending events.
func InitSentry(opts SentryOptions) (func(), error) {
	if opts.DSN == "" {
		return func() {}, nil
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 1.0
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: opts.Environment,
		Release:     opts.Release,
		SampleRate:  opts.SampleRate,
	})
	if err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}
