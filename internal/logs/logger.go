// Package logs builds the zap loggers used by every command.
package logs

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"nmhealth-go/internal/config"
)

const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

func DefaultLogConfig() *config.LogConfig {
	return config.DefaultConfig().Logging
}

// ParseLevel maps a configured level to a zap level. Trace maps to debug.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case LogLevelTrace, LogLevelDebug:
		return zap.DebugLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetupLogger tees the enabled outputs: stderr and a rotated log file.
func SetupLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultLogConfig()
	}
	level := ParseLevel(cfg.Level)

	var cores []zapcore.Core

	if cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(newEncoder(consoleEncoding), zapcore.AddSync(os.Stderr), level))
	}

	if cfg.EnableFile {
		fileCore, err := createFileCore(cfg, level)
		if err != nil {
			return nil, fmt.Errorf("failed to create file core: %w", err)
		}
		cores = append(cores, fileCore)
	}

	if len(cores) == 0 {
		return nil, errors.New("no log outputs configured")
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// SetupCommandLogger creates a logger for console commands. Long-running
// commands default to info, one-shot commands to warn so that their stdout
// stays clean.
func SetupCommandLogger(base *config.LogConfig, serverCommand bool, logLevel string, logToFile bool, logDir string) (*zap.Logger, error) {
	cfg := DefaultLogConfig()
	if base != nil {
		copied := *base
		cfg = &copied
	}

	switch {
	case logLevel != "":
		cfg.Level = logLevel
	case !serverCommand:
		cfg.Level = LogLevelWarn
	case cfg.Level == "":
		cfg.Level = LogLevelInfo
	}

	cfg.EnableConsole = true
	if logToFile {
		cfg.EnableFile = true
	}
	if logDir != "" {
		cfg.LogDir = logDir
	}

	return SetupLogger(cfg)
}

// createFileCore writes through lumberjack, which rotates by size and age.
func createFileCore(cfg *config.LogConfig, level zapcore.Level) (zapcore.Core, error) {
	filename := cfg.Filename
	if filename == "" {
		filename = "nmhealth.log"
	}
	logFilePath, err := GetLogFilePathWithDir(cfg.LogDir, filename)
	if err != nil {
		return nil, fmt.Errorf("resolve log file: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	enc := fileEncoding
	if cfg.JSONFormat {
		enc = jsonEncoding
	}
	return zapcore.NewCore(newEncoder(enc), zapcore.AddSync(rotator), level), nil
}

type encoding int

const (
	consoleEncoding encoding = iota // colored, for a terminal
	fileEncoding                    // plain text with " | " separators
	jsonEncoding
)

func newEncoder(e encoding) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	switch e {
	case consoleEncoding:
		ec = zap.NewDevelopmentEncoderConfig()
		ec.EncodeCaller = zapcore.ShortCallerEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case fileEncoding:
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		ec.ConsoleSeparator = " | "
	case jsonEncoding:
		ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}
	return zapcore.NewConsoleEncoder(ec)
}

// TargetLogger returns a child logger tagged with a target name.
func TargetLogger(logger *zap.Logger, target string) *zap.Logger {
	return logger.With(zap.String("target", target))
}
