// Package glog provides the structured logging facade used throughout the
// fiber runtime. It wraps github.com/joeycumines/logiface, using
// github.com/joeycumines/stumpy as the default backend, rather than
// defining a bespoke Logger interface.
package glog

import (
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is an alias for the concrete logger type this package hands out.
// Callers that need to pass a logger through an API boundary (e.g.
// SchedulerOption) should use this type rather than importing logiface
// directly.
type Logger = logiface.Logger[*stumpy.Event]

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// Default returns the process-wide default logger: structured JSON to
// stderr, informational level and above.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(os.Stderr)
	})
	return defaultLogger
}

// New builds a logger writing structured JSON to w.
func New(w *os.File) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		logiface.WithLevel[*stumpy.Event](logiface.LevelInformational),
	)
}

// Named returns a derived logger with a "component" field pre-applied,
// following the Context.Clone/Field pattern logiface is designed around.
func Named(parent *Logger, component string) *Logger {
	if parent == nil {
		parent = Default()
	}
	return parent.Clone().Str("component", component).Logger()
}
