// Package log holds the process-wide zap logger.
package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base  *zap.Logger
	sugar *zap.SugaredLogger
)

// Init builds the package-level logger. Debug mode uses zap's development
// encoder and enables debug-level messages, which is where the detectors
// report aborted crossings.
func Init(debug bool) error {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}

	base = l
	sugar = l.Sugar()
	return nil
}

func ensure() {
	if sugar == nil {
		base, _ = zap.NewProduction(zap.AddCallerSkip(1))
		sugar = base.Sugar()
	}
}

// GetZapLogger returns the unsugared logger, for libraries such as GORM that
// want a *zap.Logger or a std logger bridge
func GetZapLogger() *zap.Logger {
	ensure()
	return base
}

// GetSugaredLogger returns the package-level sugared logger
func GetSugaredLogger() *zap.SugaredLogger {
	ensure()
	return sugar
}

// Sync flushes buffered entries
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}

func Info(args ...interface{}) {
	ensure()
	sugar.Info(args...)
}

func Errorf(template string, args ...interface{}) {
	ensure()
	sugar.Errorf(template, args...)
}
