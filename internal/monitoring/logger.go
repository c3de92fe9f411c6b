package monitoring

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logf is the package-level diagnostic logger. It defaults to an info-level zap
// logger but may be replaced by SetLogger. Tests or production code can redirect
// or mute it.
var Logf func(format string, v ...interface{}) = defaultSugar().Infof

// Debugf and Warnf follow Logf but log at debug and warn level respectively.
var (
	Debugf func(format string, v ...interface{}) = defaultSugar().Debugf
	Warnf  func(format string, v ...interface{}) = defaultSugar().Warnf
)

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
// Debugf and Warnf are redirected to the same function.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
	Debugf = f
	Warnf = f
}

// UseZap routes Logf, Debugf and Warnf through the given zap logger.
func UseZap(logger *zap.Logger) {
	if logger == nil {
		SetLogger(nil)
		return
	}
	sugar := logger.Sugar()
	Logf = sugar.Infof
	Debugf = sugar.Debugf
	Warnf = sugar.Warnf
}

// NewLoggerConfig returns the console logger configuration used by the
// scanner tools: no stack traces, ISO8601 timestamps, coloured levels.
func NewLoggerConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// Configure builds a logger at the named level ("debug", "info", "warn",
// "error") and installs it with UseZap. The returned logger should be synced
// before exit.
func Configure(level string) (*zap.Logger, error) {
	cfg := NewLoggerConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	UseZap(logger)
	return logger, nil
}

func defaultSugar() *zap.SugaredLogger {
	logger, err := NewLoggerConfig().Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}
