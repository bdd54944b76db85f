// Package logging builds the logrus loggers used by the TUI and the sync
// server.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewFile returns a JSON logger writing to a rotating file. The TUI owns the
// terminal, so nothing may go to stdout or stderr while it runs.
func NewFile(path, level string) (*log.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5,
		MaxBackups: 3,
		MaxAge:     28,
	}
	logger := log.New()
	logger.SetOutput(sink)
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetLevel(ParseLevel(level))
	return logger, sink, nil
}

func NewConsole(w io.Writer, level string) *log.Logger {
	logger := log.New()
	logger.SetOutput(w)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger.SetLevel(ParseLevel(level))
	return logger
}

// Discard is for tests and callers that do not care about logs.
func Discard() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

// ParseLevel falls back to info for unknown names.
func ParseLevel(level string) log.Level {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func Component(logger *log.Logger, name string) *log.Entry {
	return logger.WithField("component", name)
}
