// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu           sync.RWMutex
	debugEnabled bool
	debugOut     io.Writer = os.Stderr
)

// Init initializes the global logger on stderr.
func Init(debug bool) {
	InitWithWriter(os.Stderr, debug)
}

// InitWithWriter initializes the global logger writing human-readable lines to out.
// In debug mode sandbox command output is also copied to out.
func InitWithWriter(out io.Writer, debug bool) {
	mu.Lock()
	debugEnabled = debug
	debugOut = out
	mu.Unlock()

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	})
}

// DebugEnabled reports whether debug logging is enabled.
func DebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugEnabled
}

// DebugWriter returns the writer debug output is teed to, or io.Discard outside debug mode.
func DebugWriter() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	if !debugEnabled {
		return io.Discard
	}
	return debugOut
}
