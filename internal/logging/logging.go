// Package logging provides structured, per-component loggers. It replaces
// bare log.Printf call sites with github.com/rs/zerolog,
// following the component-logger shape of original_source's
// observability/logging.py (get_logger(name), BackpressureLogger) while
// using zerolog's field-based API instead of hand-rolled structured dicts.
package logging

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	root zerolog.Logger
)

func initRoot() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	root = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}

// For returns a component-scoped logger, e.g. logging.For("pipeline").
func For(component string) zerolog.Logger {
	once.Do(initRoot)
	return root.With().Str("component", component).Logger()
}

// Session returns a logger scoped to a component and a session/turn id pair,
// the fields every turn-pipeline log line carries.
func Session(component, sessionID, turnID string) zerolog.Logger {
	l := For(component).With().Str("session_id", sessionID)
	if turnID != "" {
		l = l.Str("turn_id", turnID)
	}
	return l.Logger()
}

// SetLevel adjusts the global minimum level, used at startup from config.
func SetLevel(level string) {
	once.Do(initRoot)
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
