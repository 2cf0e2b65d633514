package callapi

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsStartKey = "metrics_start"

// MetricsCollector provides Prometheus metrics for dispatched calls.
// It is safe for concurrent use; a nil collector records nothing.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	errorsTotal      *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	revalidations    *prometheus.CounterVec
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)

	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callapi_requests_total",
				Help: "Total number of dispatched requests",
			},
			[]string{"context", "method", "status_code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callapi_request_duration_seconds",
				Help:    "Duration of dispatched requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"context", "method"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "callapi_requests_in_flight",
				Help: "Number of dispatched requests currently in flight",
			},
			[]string{"context"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callapi_errors_total",
				Help: "Total number of failed requests by error kind",
			},
			[]string{"context", "kind"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callapi_cache_hits_total",
				Help: "Total number of responses served from the data cache",
			},
			[]string{"method"},
		),
		revalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callapi_cache_revalidations_total",
				Help: "Total number of cache entries dropped by tag revalidation",
			},
			[]string{"tag"},
		),
	}
}

// RecordRequest records a completed request.
func (mc *MetricsCollector) RecordRequest(ec ExecutionContext, method Method, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(string(ec), string(method), strconv.Itoa(statusCode)).Inc()
	mc.requestDuration.WithLabelValues(string(ec), string(method)).Observe(duration.Seconds())
}

// RecordError records a failed request.
func (mc *MetricsCollector) RecordError(ec ExecutionContext, kind ErrorKind) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(string(ec), kind.String()).Inc()
}

// RecordCacheHit records a response served from the data cache.
func (mc *MetricsCollector) RecordCacheHit(method Method) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(string(method)).Inc()
}

// RecordRevalidation records entries dropped for tag.
func (mc *MetricsCollector) RecordRevalidation(tag string, entries int) {
	if mc == nil {
		return
	}

	mc.revalidations.WithLabelValues(tag).Add(float64(entries))
}

// MetricsRequestInterceptor records the request start and in-flight gauge.
func MetricsRequestInterceptor(collector *MetricsCollector) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		if req.Metadata == nil {
			req.Metadata = make(map[string]interface{})
		}

		req.Metadata[metricsStartKey] = time.Now()

		if collector != nil {
			collector.requestsInFlight.WithLabelValues(string(req.Context)).Inc()
		}

		return nil
	}
}

// MetricsResponseInterceptor records the outcome of a request.
func MetricsResponseInterceptor(collector *MetricsCollector) ResponseInterceptor {
	return func(ctx context.Context, req *Request, resp *Response) error {
		if collector == nil {
			return nil
		}

		start, ok := req.Metadata[metricsStartKey].(time.Time)
		if ok {
			delete(req.Metadata, metricsStartKey)
			collector.requestsInFlight.WithLabelValues(string(req.Context)).Dec()
		}

		if resp.Cached {
			collector.RecordCacheHit(req.Method)
		}

		var duration time.Duration
		if ok {
			duration = time.Since(start)
		}

		collector.RecordRequest(req.Context, req.Method, resp.StatusCode, duration)

		switch {
		case resp.Error != nil:
			collector.RecordError(req.Context, KindOf(resp.Error))
		case resp.StatusCode >= 400:
			collector.RecordError(req.Context, KindForStatus(resp.StatusCode))
		}

		return nil
	}
}

// MetricsInterceptors returns a chain recording into collector.
func MetricsInterceptors(collector *MetricsCollector) *InterceptorChain {
	return NewInterceptorChain().
		AddRequestInterceptor(MetricsRequestInterceptor(collector)).
		AddResponseInterceptor(MetricsResponseInterceptor(collector))
}
