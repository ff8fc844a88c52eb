package log

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jaewoo-rain/webide/pkg/config"
)

// NewLogger returns a new logger
func NewLogger(config *config.AppConfig) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.Formatter = &logrus.JSONFormatter{}
	log.SetLevel(getLogLevel(config))

	return log.WithFields(logrus.Fields{
		"name":      config.Name,
		"version":   config.Version,
		"commit":    config.Commit,
		"buildDate": config.BuildDate,
	})
}

func getLogLevel(config *config.AppConfig) logrus.Level {
	if config.Debug {
		return logrus.DebugLevel
	}
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
