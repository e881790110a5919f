package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware wraps the metrics/health mux with tracing and request metrics.
// Incoming W3C Trace Context headers are honoured, the trace ID is mirrored
// into the X-Correlation-ID response header, and request duration lands in
// [Metrics.HTTPRequestDuration]. Completion logs sit at Debug level; the
// traffic on this listener is dominated by scrapes and health probes.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &instrumented{next: next, metrics: m}
	}
}

type instrumented struct {
	next    http.Handler
	metrics *Metrics
	prop    propagation.TraceContext
}

func (h *instrumented) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx := h.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
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

	cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
	h.next.ServeHTTP(cw, r.WithContext(ctx))

	elapsed := time.Since(start)
	h.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", r.URL.Path),
		),
	)
	span.SetAttributes(semconv.HTTPResponseStatusCode(cw.status))

	slog.LogAttrs(ctx, slog.LevelDebug, "request served",
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", cw.status),
		slog.Int("bytes", cw.written),
		slog.Duration("elapsed", elapsed),
	)
}

// captureWriter records the status code and body size produced by the
// wrapped handler.
type captureWriter struct {
	http.ResponseWriter
	status  int
	written int
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.written += n
	return n, err
}
