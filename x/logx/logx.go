// Package logx is the process-wide structured logger. Every subsystem tags
// its records with a component so output can be filtered per service.
package logx

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifies a subsystem.
type Component string

const (
	ComponentIPC      Component = "ipc"
	ComponentArbiter  Component = "arbiter"
	ComponentRecovery Component = "recovery"
	ComponentServer   Component = "i2c"
	ComponentConfig   Component = "config"
	ComponentPlatform Component = "platform"
	ComponentPriority Component = "priority"
	ComponentDriver   Component = "driver"
)

type Format int

const (
	FormatText Format = iota
	FormatJSON
)

var (
	mu    sync.RWMutex
	level = new(slog.LevelVar)
	base  *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// SetLevel sets the minimum level for all loggers, including those already
// handed out by For.
func SetLevel(l slog.Level) { level.Set(l) }

func Level() slog.Level { return level.Level() }

// ParseLevel accepts debug/info/warn/error. Anything else yields info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetOutput rebuilds the base logger on w with the given format.
func SetOutput(w io.Writer, f Format) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if f == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	SetLogger(slog.New(h))
}

// SetLogger replaces the base logger.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
}

// Discard silences all output. Tests use it to keep -v output readable.
func Discard() { SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil))) }

// For returns a logger tagged with the component.
func For(c Component) *slog.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	return l.With(slog.String("component", string(c)))
}
