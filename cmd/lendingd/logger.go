// logger.go - Structured logging setup.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// newLogger builds the daemon logger: human-readable console output, plus
// JSON lines appended to logFile when set. The returned closer releases the
// file handle.
func newLogger(level, logFile string) (zerolog.Logger, func() error, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	writers := []io.Writer{console}
	closer := func() error { return nil }

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
		closer = file.Close
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	return logger, closer, nil
}
