// Package logger provides opinionated logging capabilities for koziky
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tunes where logs go.
type Options struct {
	Debug bool

	// File, when set, receives logs through a rotating writer.
	File string

	// Quiet drops the console core. Interactive front ends set it so log
	// lines do not tear the screen.
	Quiet bool
}

// NewLogger returns a console logger at info level, or debug when debug is set.
func NewLogger(debug bool) *zap.Logger {
	return New(Options{Debug: debug})
}

// New builds a logger from opts. With Quiet set and no File, it returns a
// no-op logger.
func New(opts Options) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// Set log level
	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}

	var cores []zapcore.Core
	if !opts.Quiet {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleConfig),
			zapcore.AddSync(os.Stderr),
			level,
		))
	}

	if opts.File != "" {
		fileConfig := encoderConfig
		fileConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    20,
				MaxBackups: 3,
				MaxAge:     14,
				Compress:   true,
			}),
			level,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop()
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}
