package observe

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// routeUnmatched labels requests no mux pattern claimed.
const routeUnmatched = "unmatched"

// exchange wraps the ResponseWriter of one request. It remembers the status
// and whether the connection was taken over by a WebSocket upgrade.
type exchange struct {
	http.ResponseWriter
	status   int
	upgraded bool
}

func (e *exchange) WriteHeader(code int) {
	e.status = code
	e.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to the WebSocket library. The exchange is
// then reported as 101 Switching Protocols.
func (e *exchange) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := e.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: response writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		e.status = http.StatusSwitchingProtocols
		e.upgraded = true
	}
	return conn, rw, err
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (e *exchange) Unwrap() http.ResponseWriter { return e.ResponseWriter }

// route returns the ServeMux pattern that served r, so metric labels stay
// bounded no matter which paths clients probe.
func route(r *http.Request) string {
	if r.Pattern == "" {
		return routeUnmatched
	}
	return r.Pattern
}

// quiet reports whether a request is routine enough to log at debug level.
func quiet(path string) bool {
	return path == "/healthz" || path == "/readyz" || strings.HasPrefix(path, "/metrics")
}

// Middleware traces every request, continuing a W3C trace context when the
// client sends one, and exposes the trace ID as X-Correlation-ID. It records
// [Metrics.HTTPRequestDuration] labelled by method, route and whether the
// request became a WebSocket. For upgrades the duration is the lifetime of
// the realtime connection.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			ex := &exchange{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ex, r)

			elapsed := time.Since(start)
			rt := route(r)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", rt),
					attribute.Bool("websocket", ex.upgraded),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(ex.status))
			if ex.status >= http.StatusInternalServerError {
				span.SetAttributes(attribute.Bool("error", true))
			}

			level, msg := slog.LevelInfo, "request completed"
			switch {
			case ex.upgraded:
				msg = "websocket closed"
			case quiet(r.URL.Path):
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, msg,
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("route", rt),
				slog.Int("status", ex.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
