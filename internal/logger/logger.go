// Package logger sets up the process-wide structured logger.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names for structured logging.
const (
	FieldCallID     = "call_id"
	FieldTaskID     = "task_id"
	FieldDedupKey   = "dedup_key"
	FieldAttempt    = "attempt"
	FieldWorker     = "worker"
	FieldURL        = "url"
	FieldMethod     = "method"
	FieldStatus     = "status"
	FieldOutcome    = "outcome"
	FieldDecision   = "decision"
	FieldReason     = "reason"
	FieldDelay      = "delay"
	FieldError      = "error"
	FieldDurationMS = "duration_ms"
	FieldAddress    = "address"
)

// Logger is the global logger. It starts as a no-op so packages can log
// before Initialize runs.
var Logger = zap.NewNop().Sugar()

// Initialize installs the global logger. jsonOutput selects the production
// encoder; otherwise a console encoder is used.
func Initialize(level string, jsonOutput bool) error {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		lvl.SetLevel(zap.InfoLevel)
	}

	var cfg zap.Config
	if jsonOutput {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	}
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	zl, err := cfg.Build()
	if err != nil {
		return err
	}
	Logger = zl.Sugar()
	return nil
}

// Named returns a component logger derived from the global one.
func Named(component string) *zap.SugaredLogger {
	return Logger.Named(component)
}

// Sync flushes buffered entries. Errors from syncing stdout are ignored.
func Sync() {
	_ = Logger.Sync()
}
