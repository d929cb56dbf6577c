package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// setupLogger configures the zerolog logger
func setupLogger(level string, out io.Writer) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).Level(logLevel).With().Timestamp().Logger()
}

// pickLevel returns the flag level when set, the config level otherwise
func pickLevel(flagLevel, cfgLevel string) string {
	if flagLevel != "" {
		return flagLevel
	}
	return cfgLevel
}
