package echoapi

import (
	"strconv"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "nyumba_api"

// metricsCollector is a prometheus.Collector of the HTTP API metrics.
type metricsCollector struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	streamsOpen   prometheus.Gauge
	notesStreamed prometheus.Counter
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "The number of handled HTTP requests.",
			}, []string{"method", "route", "code"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "The time taken to handle HTTP requests.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			}, []string{"method", "route"},
		),
		streamsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "notification_streams",
				Help:      "The number of open notification websockets.",
			},
		),
		notesStreamed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_streamed_total",
				Help:      "The number of notifications pushed over websockets.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.latency.Describe(ch)
	c.streamsOpen.Describe(ch)
	c.notesStreamed.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.latency.Collect(ch)
	c.streamsOpen.Collect(ch)
	c.notesStreamed.Collect(ch)
}

func (c *metricsCollector) middleware(translator ut.Translator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			code := ctx.Response().Status
			if err != nil {
				code, _ = errorResponse(err, translator)
			}
			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			method := ctx.Request().Method
			c.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
			c.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (s *Server) metricsHandler() echo.HandlerFunc {
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}
