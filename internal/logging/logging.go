package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for file output
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 28
)

// Config describes where and how to log
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	File   string // Rotated log file; empty logs to Console only

	// Console receives log output when File is empty, and in addition to
	// File when Tee is set. Defaults to os.Stderr. Never point it at
	// stdout while serving MCP over stdio.
	Console io.Writer
	Tee     bool

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds the process logger
func New(cfg Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}

	var sinks []zapcore.WriteSyncer
	if cfg.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefaultInt(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: orDefaultInt(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     orDefaultInt(cfg.MaxAgeDays, DefaultMaxAgeDays),
		}))
	}
	if cfg.File == "" || cfg.Tee {
		sinks = append(sinks, zapcore.Lock(zapcore.AddSync(console)))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	switch orDefault(format, "console") {
	case "json":
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(ec), nil
	case "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewConsoleEncoder(ec), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
