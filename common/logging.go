// Package common provides centralized logging infrastructure for the depictio
// backend services. This package implements intelligent log output routing that
// automatically directs error messages to stderr while sending other log levels
// to stdout, enabling proper stream separation for containerized and scripted
// environments.
//
// The logging system is built on logrus for structured logging capabilities
// with custom output handling that supports both development workflows and
// production deployment patterns. It provides a foundation for consistent
// logging across the scan engine, join engine, query pipeline and event bus.
//
// Key Features:
//   - Automatic output stream routing based on log level
//   - Structured logging with JSON and text format support
//   - Container-friendly output separation for log aggregation
//   - Global logger instance for consistent usage patterns
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter implements log output routing based on log content analysis.
// Error messages (containing "level=error") are directed to stderr; all other
// messages (info, debug, warn) go to stdout. Docker and Kubernetes environments
// capture the two streams independently, so error output can be routed to
// alerting while info logs are processed for analytics.
//
// The splitter operates on the final formatted output and works with both the
// JSON and text logrus formatters.
type OutputSplitter struct{}

// Write implements the io.Writer interface for the OutputSplitter.
// It uses plain byte searching for the literal "level=error" produced by
// logrus formatters, avoiding regex overhead on the hot logging path.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance used across depictio services.
// Services should use this logger (or a ContextLogger derived from it) to
// ensure uniform output handling and formatting.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if level, err := logrus.ParseLevel(os.Getenv("DEPICTIO_LOG_LEVEL")); err == nil {
		Logger.SetLevel(level)
	} else {
		Logger.SetLevel(logrus.InfoLevel)
	}
}
