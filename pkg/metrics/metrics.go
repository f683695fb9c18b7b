package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Metrics представляет систему метрик движка проверок
type Metrics struct {
	// Метрики выполнения проверок
	CheckExecutions  *prometheus.CounterVec
	CheckDuration    *prometheus.HistogramVec
	ChecksInFlight   prometheus.Gauge
	ScheduledEntries prometheus.Gauge

	// Метрики планировщика
	TickDuration    prometheus.Histogram
	StaleClaims     prometheus.Counter
	PersistFailures prometheus.Counter

	// Метрики инцидентов
	IncidentsOpened   prometheus.Counter
	IncidentsResolved prometheus.Counter

	// Метрики шины событий
	BusSubscribers   *prometheus.GaugeVec
	BusPublished     *prometheus.CounterVec
	BusDroppedEvents *prometheus.CounterVec

	// OpenTelemetry Tracer
	Tracer trace.Tracer `json:"-"`
}

// NewMetrics создает новую систему метрик
func NewMetrics(serviceName string) *Metrics {
	checkExecutions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "checks",
			Name:      "executions_total",
			Help:      "Total number of check executions",
		},
		[]string{"check_type", "status"},
	)

	checkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "checks",
			Name:      "duration_seconds",
			Help:      "Duration of check executions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"check_type"},
	)

	checksInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "checks",
			Name:      "in_flight",
			Help:      "Number of check executions currently in flight",
		},
	)

	scheduledEntries := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "scheduler",
			Name:      "entries",
			Help:      "Number of schedule entries currently tracked",
		},
	)

	tickDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler tick scans in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	staleClaims := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "scheduler",
			Name:      "stale_claims_total",
			Help:      "Total number of discarded stale trigger callbacks",
		},
	)

	persistFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "scheduler",
			Name:      "persist_failures_total",
			Help:      "Total number of result persistence failures",
		},
	)

	incidentsOpened := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "incidents",
			Name:      "opened_total",
			Help:      "Total number of incidents opened",
		},
	)

	incidentsResolved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "incidents",
			Name:      "resolved_total",
			Help:      "Total number of incidents resolved",
		},
	)

	busSubscribers := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "eventbus",
			Name:      "subscribers",
			Help:      "Number of live subscribers per scope",
		},
		[]string{"scope"},
	)

	busPublished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "eventbus",
			Name:      "published_total",
			Help:      "Total number of events published to the bus",
		},
		[]string{"event_type"},
	)

	busDroppedEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Total number of events dropped for slow subscribers",
		},
		[]string{"event_type"},
	)

	collectors := []prometheus.Collector{
		checkExecutions, checkDuration, checksInFlight, scheduledEntries,
		tickDuration, staleClaims, persistFailures,
		incidentsOpened, incidentsResolved,
		busSubscribers, busPublished, busDroppedEvents,
	}
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return &Metrics{
		CheckExecutions:   checkExecutions,
		CheckDuration:     checkDuration,
		ChecksInFlight:    checksInFlight,
		ScheduledEntries:  scheduledEntries,
		TickDuration:      tickDuration,
		StaleClaims:       staleClaims,
		PersistFailures:   persistFailures,
		IncidentsOpened:   incidentsOpened,
		IncidentsResolved: incidentsResolved,
		BusSubscribers:    busSubscribers,
		BusPublished:      busPublished,
		BusDroppedEvents:  busDroppedEvents,
		Tracer:            otel.Tracer(serviceName),
	}
}

// GetHandler возвращает HTTP обработчик для эндпоинта /metrics
func (m *Metrics) GetHandler() http.Handler {
	return promhttp.Handler()
}

// InitializeOpenTelemetry инициализирует провайдер трассировки
func InitializeOpenTelemetry(serviceName string) error {
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		)),
	)

	otel.SetTracerProvider(tp)
	return nil
}
