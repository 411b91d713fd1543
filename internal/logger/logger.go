// SPDX-License-Identifier: BSD-2-Clause

// Package logger wires the process-wide zerolog logger used by every
// package in this module. Operations log through L; nothing allocates its
// own logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// L is the package-level logger. It defaults to a console writer on stderr
// so that callers who skip Init still see output during early bring-up.
var L zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// Init points L at a rotated file under dataPath/logs/libioc.log in
// addition to stderr, and sets the minimum level.
func Init(dataPath string, level string) error {
	logDir := filepath.Join(dataPath, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "libioc.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	writer := io.MultiWriter(console, rotator)

	zerolog.SetGlobalLevel(parseLevel(level))
	L = zerolog.New(writer).With().Timestamp().Caller().Logger()
	return nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// BootstrapFatal logs msg at fatal level and exits, for failures that occur
// before Init has configured rotation (e.g. "must run as root").
func BootstrapFatal(msg string) {
	L.Fatal().Msg(msg)
}

// BootstrapWarn logs msg at warn level before Init has run.
func BootstrapWarn(msg string) {
	L.Warn().Msg(msg)
}
