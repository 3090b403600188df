package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/newsletter"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Publish path
	IssuesPublishedTotal   metric.Int64Counter
	ResponsesReplayedTotal metric.Int64Counter
	PublishErrorsTotal     metric.Int64Counter
	TasksEnqueuedTotal     metric.Int64Counter

	// Delivery worker
	DeliveriesTotal         metric.Int64Counter
	RecipientsSkippedTotal  metric.Int64Counter
	WorkerIterationsTotal   metric.Int64Counter
	WorkerIterationDuration metric.Float64Histogram
	GatewayRequestDuration  metric.Float64Histogram
	GatewayRetriesTotal     metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for spans in this module.
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(instrumentationName)
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	m.IssuesPublishedTotal, _ = meter.Int64Counter(
		"newsletter.issues.published.total",
		metric.WithDescription("Total number of newsletter issues published"),
		metric.WithUnit("{issue}"),
	)

	m.ResponsesReplayedTotal, _ = meter.Int64Counter(
		"newsletter.idempotency.replayed.total",
		metric.WithDescription("Total number of publish requests answered from a saved response"),
		metric.WithUnit("{response}"),
	)

	m.PublishErrorsTotal, _ = meter.Int64Counter(
		"newsletter.issues.publish.errors.total",
		metric.WithDescription("Total number of failed publish requests"),
		metric.WithUnit("{error}"),
	)

	m.TasksEnqueuedTotal, _ = meter.Int64Counter(
		"newsletter.delivery.tasks.enqueued.total",
		metric.WithDescription("Total number of delivery tasks enqueued"),
		metric.WithUnit("{task}"),
	)

	m.DeliveriesTotal, _ = meter.Int64Counter(
		"newsletter.delivery.attempts.total",
		metric.WithDescription("Total number of delivery attempts by outcome"),
		metric.WithUnit("{delivery}"),
	)

	m.RecipientsSkippedTotal, _ = meter.Int64Counter(
		"newsletter.delivery.skipped.total",
		metric.WithDescription("Total number of tasks removed without a gateway call"),
		metric.WithUnit("{task}"),
	)

	m.WorkerIterationsTotal, _ = meter.Int64Counter(
		"newsletter.worker.iterations.total",
		metric.WithDescription("Total number of worker iterations by outcome"),
		metric.WithUnit("{iteration}"),
	)

	m.WorkerIterationDuration, _ = meter.Float64Histogram(
		"newsletter.worker.iteration.duration",
		metric.WithDescription("Duration of a single worker iteration"),
		metric.WithUnit("ms"),
	)

	m.GatewayRequestDuration, _ = meter.Float64Histogram(
		"newsletter.email.request.duration",
		metric.WithDescription("Duration of email gateway requests"),
		metric.WithUnit("ms"),
	)

	m.GatewayRetriesTotal, _ = meter.Int64Counter(
		"newsletter.email.retries.total",
		metric.WithDescription("Total number of email sends retried after a transient failure"),
		metric.WithUnit("{retry}"),
	)

	return m
}
