package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/baechuer/kimg-panel/middleware"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

var Log = zerolog.Nop()

func Init() {
	InitWithWriter(os.Stdout)
}

// InitWithWriter configures the global logger from LOG_LEVEL and
// LOG_FORMAT ("json" or "console").
func InitWithWriter(w io.Writer) {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if os.Getenv("LOG_FORMAT") != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	Log = zerolog.New(w).With().
		Timestamp().
		Str("service", "kimg-panel").
		Logger().
		Level(level)
	zlog.Logger = Log
}

// Ctx returns the global logger tagged with the request and session ids
// found in ctx.
func Ctx(ctx context.Context) *zerolog.Logger {
	reqID := middleware.GetRequestID(ctx)
	sessID := middleware.GetSessionID(ctx)
	if reqID == "" && sessID == "" {
		return &Log
	}

	c := Log.With()
	if reqID != "" {
		c = c.Str("request_id", reqID)
	}
	if sessID != "" {
		c = c.Str("session_id", sessID)
	}
	l := c.Logger()
	return &l
}
