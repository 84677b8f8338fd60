// Package logger wraps zap behind the small surface the indexer needs:
// leveled, structured logging with a per-component field so one process's
// tracker, segment pipeline, and stream server logs can be told apart.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.SugaredLogger; both structured (...w) and printf-style
// (...f) methods are available on it.
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger builds a logger at the given level ("debug", "info", "warn",
// "error"). Development mode switches from JSON to a colored console
// encoder and enables stack traces on warnings.
func NewLogger(level string, development bool) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger: parsing level %q: %w", level, err)
	}

	var enc zapcore.Encoder
	opts := []zap.Option{zap.AddCaller()}
	if development {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl)
	return &Logger{SugaredLogger: zap.New(core, opts...).Sugar()}, nil
}

// NewNopLogger returns a logger that discards everything. For tests.
func NewNopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// WithComponent returns a child logger tagged with a component name; see
// internal/common's Component constants for the names used in this tree.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{SugaredLogger: l.With("component", component)}
}

// Close flushes any buffered entries. Sync on a terminal stderr reports a
// harmless error on some platforms; callers typically defer and ignore it.
func (l *Logger) Close() error {
	return l.Sync()
}
