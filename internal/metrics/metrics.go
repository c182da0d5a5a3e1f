// Package metrics exposes Prometheus metrics for imports and HTTP requests.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JonMunkholm/trainingimport/internal/core"
)

// Metrics holds the collectors. It implements core.Observer.
type Metrics struct {
	parses        *prometheus.CounterVec
	parseDuration prometheus.Histogram
	parsedRows    prometheus.Counter

	commits        *prometheus.CounterVec
	commitRows     *prometheus.CounterVec
	commitDuration prometheus.Histogram
	coursesCreated prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		parses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainingimport",
			Subsystem: "parse",
			Name:      "total",
			Help:      "Import files parsed, by match strategy and result.",
		}, []string{"strategy", "result"}),
		parseDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trainingimport",
			Subsystem: "parse",
			Name:      "duration_seconds",
			Help:      "Time to parse, match and reconcile one file.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		parsedRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: "trainingimport",
			Subsystem: "parse",
			Name:      "rows_total",
			Help:      "Rows read from successfully parsed files.",
		}),
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainingimport",
			Subsystem: "commit",
			Name:      "total",
			Help:      "Confirm attempts, by result.",
		}, []string{"result"}),
		commitRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainingimport",
			Subsystem: "commit",
			Name:      "rows_total",
			Help:      "Committed rows, by outcome.",
		}, []string{"outcome"}),
		commitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trainingimport",
			Subsystem: "commit",
			Name:      "duration_seconds",
			Help:      "Time to commit one import.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		coursesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "trainingimport",
			Subsystem: "commit",
			Name:      "courses_created_total",
			Help:      "Courses created for create_new mappings.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainingimport",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by route and status class.",
		}, []string{"route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trainingimport",
			Subsystem: "http",
			Name:      "latency_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveParse records one parse attempt.
func (m *Metrics) ObserveParse(strategy core.MatchStrategy, rows int, elapsed time.Duration, err error) {
	m.parses.WithLabelValues(string(strategy), parseResult(err)).Inc()
	if err != nil {
		return
	}
	m.parseDuration.Observe(elapsed.Seconds())
	m.parsedRows.Add(float64(rows))
}

func parseResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case core.IsFileError(err):
		return "file_error"
	case errors.Is(err, core.ErrInvalidStrategy):
		return "invalid_strategy"
	case errors.Is(err, core.ErrTooManyImports):
		return "busy"
	}
	return "error"
}

// ObserveCommit records one confirm attempt.
func (m *Metrics) ObserveCommit(r *core.ImportResult, err error) {
	if r == nil {
		m.commits.WithLabelValues("rejected").Inc()
		return
	}
	result := "ok"
	switch {
	case err != nil:
		result = "unsaved"
	case r.Failed > 0:
		result = "partial"
	}
	m.commits.WithLabelValues(result).Inc()
	m.commitRows.WithLabelValues("imported").Add(float64(r.Imported))
	m.commitRows.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.commitRows.WithLabelValues("failed").Add(float64(r.Failed))
	m.commitRows.WithLabelValues("excluded").Add(float64(r.Excluded))
	m.coursesCreated.Add(float64(r.CoursesCreated))
	m.commitDuration.Observe(r.Duration.Seconds())
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, statusClass(status)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}

var _ core.Observer = (*Metrics)(nil)
