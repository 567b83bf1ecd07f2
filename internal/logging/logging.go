package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

type Options struct {
	Level string
	JSON  bool
	Out   io.Writer // defaults to stderr
}

var def atomic.Value

func init() {
	def.Store(newLogger(Options{}))
}

// Configure replaces the process-wide default logger.
func Configure(opts Options) {
	def.Store(newLogger(opts))
}

func newLogger(opts Options) *slog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(out, hopts)
	} else {
		h = slog.NewTextHandler(out, hopts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the current default logger.
func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

// InitFromEnv configures logging from VISIONPIPE_LOG_LEVEL and
// VISIONPIPE_LOG_JSON.
func InitFromEnv() {
	json := false
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("VISIONPIPE_LOG_JSON"))); err == nil {
		json = b
	}
	Configure(Options{Level: os.Getenv("VISIONPIPE_LOG_LEVEL"), JSON: json})
}
