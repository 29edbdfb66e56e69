// Package sysutil wires process-level concerns for the entry point,
// currently just the global log level.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
	"panic":   zerolog.PanicLevel,
}

// SetLogLevel sets the global zerolog level from a config string.
// Unknown or empty values fall back to info.
func SetLogLevel(lvl string) {
	level, known := logLevels[strings.ToLower(strings.TrimSpace(lvl))]
	if !known {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
