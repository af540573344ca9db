// Package logging builds the process logger and the structured error helper shared by all components.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options selects level, format and output of the logger.
type Options struct {
	Level  string
	Format string // "json" or "text"
	Output io.Writer
}

// New returns a configured logger. An unknown level falls back to info.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()
	if strings.EqualFold(opts.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}
	return logger
}

// Discard returns a logger that writes nothing, for tests and optional dependencies.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// Module scopes a logger to one component.
func Module(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("module", name)
}

// LogError writes err with the function name, a short context and optional data.
func LogError(entry *logrus.Entry, funcName string, context string, data any, err error) {
	fields := logrus.Fields{
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	entry.WithFields(fields).Error(err.Error())
}

// LogWarn is LogError at warning level, for failures that are recovered locally.
func LogWarn(entry *logrus.Entry, funcName string, context string, err error) {
	entry.WithFields(logrus.Fields{
		"funcName": funcName,
		"context":  context,
	}).Warn(err.Error())
}
