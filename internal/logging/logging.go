// Package logging configures the global zerolog logger from gateway config.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options mirrors the `logging` config block.
type Options struct {
	Level string // trace|debug|info|warn|error (default info)
	File  string // optional log file path, appended to
	JSON  bool   // force JSON output even on a TTY
}

// Setup installs the global logger. Returns a closer for the optional
// file sink (nil-safe to call).
func Setup(opts Options) func() {
	level := parseLevel(opts.Level)
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer

	if opts.JSON || !isatty.IsTerminal(os.Stdout.Fd()) {
		writers = append(writers, os.Stdout)
	} else {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}

	var file *os.File
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Warn().Str("file", opts.File).Err(err).Msg("cannot open log file, logging to stdout only")
		} else {
			file = f
			writers = append(writers, f)
		}
	}

	out := writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	return func() {
		if file != nil {
			file.Close()
		}
	}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "", "info":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}
