package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ihnore-Ihor/PI-CMS/internal/config"
)

// New creates a zerolog.Logger configured for the chat relay.
func New(cfg *config.Config) zerolog.Logger {
	var out zerolog.LevelWriter
	if cfg.IsDevelopment() {
		out = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		out = zerolog.MultiLevelWriter(os.Stdout)
	}

	return zerolog.New(out).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Logger().
		Level(parseLevel(cfg.LogLevel))
}

func parseLevel(raw string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
