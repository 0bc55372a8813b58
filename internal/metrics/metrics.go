package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	namespace = "ovis"

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	imageDecodeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_decode_total",
			Help:      "Number of decoded uploads",
		},
		[]string{"status", "format"},
	)

	imageDecodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_decode_duration_seconds",
			Help:      "Upload decode duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status", "format"},
	)

	analyzeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyze_total",
			Help:      "Number of analyze calls by result kind",
		},
		[]string{"kind", "source"},
	)

	generationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Model generation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	generatedTokensTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_tokens_total",
			Help:      "Number of generated tokens",
		},
	)

	generationThroughput = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_tokens_per_second",
			Help:      "Generation throughput",
			Buckets:   prometheus.LinearBuckets(5, 5, 12),
		},
	)
)

func HttpRequestsTotal(method, path, code string) {
	httpRequestsTotal.With(prometheus.Labels{
		"method": method,
		"path":   path,
		"code":   code,
	}).Inc()
}

func HttpRequestDuration(method, path string, duration time.Duration) {
	httpRequestDuration.With(prometheus.Labels{
		"method": method,
		"path":   path,
	}).Observe(duration.Seconds())
}

func ImageDecodeTotal(status, format string) {
	imageDecodeTotal.With(prometheus.Labels{
		"status": status,
		"format": format,
	}).Inc()
}

func ImageDecodeDuration(status, format string, duration time.Duration) {
	imageDecodeDuration.With(prometheus.Labels{
		"status": status,
		"format": format,
	}).Observe(duration.Seconds())
}

// AnalyzeTotal counts results; source is "model" or "cache".
func AnalyzeTotal(kind, source string) {
	analyzeTotal.With(prometheus.Labels{
		"kind":   kind,
		"source": source,
	}).Inc()
}

func Generation(duration time.Duration, tokens int, tokensPerSecond float64) {
	generationDuration.Observe(duration.Seconds())
	generatedTokensTotal.Add(float64(tokens))
	if tokensPerSecond > 0 {
		generationThroughput.Observe(tokensPerSecond)
	}
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		path := routePattern(r)
		HttpRequestsTotal(r.Method, path, strconv.Itoa(ww.status))
		HttpRequestDuration(r.Method, path, duration)
	})
}

// routePattern keeps label cardinality bounded for parameterised routes.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
