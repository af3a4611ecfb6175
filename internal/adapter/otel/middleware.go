package otel

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/QueryForge/internal/logger"
)

// HTTPMiddleware traces every request except health checks. Spans carry the
// request id, so a trace can be found from a client's X-Request-ID, and the
// workspace named by X-Workspace-ID when the caller sends one.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		annotated := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			span := trace.SpanFromContext(r.Context())
			if id := logger.RequestID(r.Context()); id != "" {
				span.SetAttributes(attribute.String("request.id", id))
			}
			if ws := r.Header.Get("X-Workspace-ID"); ws != "" {
				span.SetAttributes(attribute.String("workspace.id", ws))
			}
			next.ServeHTTP(w, r)
		})
		return otelhttp.NewHandler(annotated, serviceName,
			otelhttp.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health"
			}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}
