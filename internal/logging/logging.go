// Package logging builds the logrus loggers shared by the servers and the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
)

// New creates a logger from the logging configuration. Output is "stdout",
// "stderr" or a file path; unknown levels fall back to info.
func New(config domain.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(config.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	}

	out, err := output(config.Output)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(out)
	return logger, nil
}

// ForStdio is New with output forced to stderr, for servers that speak a
// protocol on stdout.
func ForStdio(config domain.LoggingConfig) *logrus.Logger {
	config.Output = "stderr"
	logger, _ := New(config)
	return logger
}

func output(target string) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
