package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/archon-research/stl-liquidator/internal/pkg/env"
)

type logOptions struct {
	Format string
	Level  slog.Level

	// File, when set, receives the log through a rotating writer.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func logOptionsFromEnv() logOptions {
	return logOptions{
		Format:     env.Get("LOG_FORMAT", "text"),
		Level:      env.ParseLogLevel(slog.LevelInfo),
		File:       env.Get("LOG_FILE", ""),
		MaxSizeMB:  env.GetInt("LOG_MAX_SIZE_MB", 100),
		MaxBackups: env.GetInt("LOG_MAX_BACKUPS", 5),
		MaxAgeDays: env.GetInt("LOG_MAX_AGE_DAYS", 14),
	}
}

// newLogger builds the process logger. The returned func flushes and closes
// the rotating file, if any.
func newLogger(opts logOptions) (*slog.Logger, func()) {
	var w io.Writer = os.Stdout
	closeFn := func() {}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}
	return slog.New(newHandler(w, opts)), closeFn
}

func newHandler(w io.Writer, opts logOptions) slog.Handler {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	if strings.EqualFold(opts.Format, "json") {
		return slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.NewTextHandler(w, handlerOpts)
}
