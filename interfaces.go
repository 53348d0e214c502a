package comradarr

import (
	"context"
	"net/http"
	"time"
)

// Event is a public view of one orchestrator event. Type uses the
// stable event identifiers ("sweep_completed", "search_exhausted", ...).
// Data carries the event's key/value details as stored in history.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventHook receives orchestrator events as they are dispatched.
// Hooks run synchronously on the dispatch path and must return quickly;
// failures are logged but never fail the dispatch.
type EventHook interface {
	OnEvent(ctx context.Context, event Event) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extra routes share the auth chain, rate limiting, and OTEL
// instrumentation with the built-in ops API. The function is called
// once during New() after all built-in routes are registered.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler. Applied outermost (before
// routing), so it sees all requests including /health. Multiple
// middlewares are applied in registration order (first-registered =
// outermost).
type Middleware func(http.Handler) http.Handler
