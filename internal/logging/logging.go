package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-api/internal/config"
)

// Setup configures the standard logrus logger. Unknown levels fall back to info.
func Setup(cfg config.LogConfig) {
	switch strings.ToLower(cfg.Format) {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logrus.SetFormatter(new(logrus.JSONFormatter))
	}

	logrus.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
