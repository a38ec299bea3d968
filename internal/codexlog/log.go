// Package codexlog configures the structured logger shared by every
// package of the turn engine.
package codexlog

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	global zerolog.Logger
)

// Init configures the global logger level from the CODEX_LOG environment
// variable (default "info"). Safe to call more than once; only the first
// call takes effect.
func Init() {
	once.Do(func() {
		level := strings.ToLower(strings.TrimSpace(os.Getenv("CODEX_LOG")))
		if level == "" {
			level = "info"
		}
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			parsed = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(parsed)
		global = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
}

// For returns a component-scoped logger, e.g. codexlog.For("turnloop").
func For(component string) zerolog.Logger {
	Init()
	return global.With().Str("component", component).Logger()
}
