// Package logging wires github.com/sirupsen/logrus to the config.LogConfig
// level/format settings, following the SetLevel/SetFormatter pattern in
// Jointeg-ubirch-cose-client-go/main/config.go.
package logging

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brianh20/many-go/internal/config"
)

// Configure applies cfg to the standard logrus logger.
func Configure(cfg config.LogConfig) error {
	level, err := log.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	switch orDefault(cfg.Format, "text") {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000 -0700"})
	default:
		return fmt.Errorf("unknown log format %q (want \"text\" or \"json\")", cfg.Format)
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
