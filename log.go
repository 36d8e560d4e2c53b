package migrasi

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

func defaultLogger(debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// NewLogger builds a logger from a level name and a format, "text" or "json".
func NewLogger(level string, format string) (*logrus.Logger, error) {
	logger := defaultLogger(false)

	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		logger.SetLevel(lvl)
	}

	switch strings.ToLower(format) {
	case "", "text":
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	return logger, nil
}
