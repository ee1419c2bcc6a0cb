package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer; silent until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

var defaultLogLevel = LevelInfo

// SetDefaultLogLevel sets the request log level used without per-request overrides.
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// reqLog carries request-scoped logging state for a completion request.
type reqLog struct {
	lvl   LogLevel
	rid   string
	path  string
	model string
	start time.Time
}

func newReqLog(r *http.Request, model string) *reqLog {
	return &reqLog{
		lvl:   requestLogLevel(r),
		rid:   middleware.GetReqID(r.Context()),
		path:  r.URL.Path,
		model: model,
		start: time.Now(),
	}
}

func (l *reqLog) event(e *zerolog.Event) *zerolog.Event {
	e = e.Str("path", l.path).Str("model", l.model)
	if l.rid != "" {
		e = e.Str("request_id", l.rid)
	}
	return e
}

func (l *reqLog) begin() {
	if l.lvl >= LevelInfo {
		l.event(zlog.Info()).Msg("generate_start")
	}
}

// delta logs one streamed fragment at debug level.
func (l *reqLog) delta(s string) {
	if l.lvl >= LevelDebug {
		l.event(zlog.Debug()).Str("delta", s).Msg("generate_delta")
	}
}

func (l *reqLog) end(status int, deltas int, err error) {
	switch {
	case err != nil && l.lvl >= LevelError:
		l.event(zlog.Warn()).Int("status", status).Int("deltas", deltas).Dur("dur", time.Since(l.start)).Err(err).Msg("generate_end")
	case err == nil && l.lvl >= LevelInfo:
		l.event(zlog.Info()).Int("status", status).Int("deltas", deltas).Dur("dur", time.Since(l.start)).Msg("generate_end")
	}
}
