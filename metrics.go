package gotxm

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xiaoxuxiansheng/gotxm/log"
)

var (
	idSeedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gotxm",
			Subsystem: "idalloc",
			Name:      "seed",
			Help:      "Record of transaction id allocator.",
		}, []string{"type"})

	liveTXGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gotxm",
			Subsystem: "registry",
			Name:      "transactions",
			Help:      "Live transactions held by the registry.",
		}, []string{"key"})

	unsettledGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gotxm",
			Subsystem: "settler",
			Name:      "queue_length",
			Help:      "Transactions waiting for settlement.",
		})

	poolBusyGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gotxm",
			Subsystem: "pool",
			Name:      "busy",
			Help:      "Busy workers per pool.",
		}, []string{"pool"})
)

func init() {
	prometheus.MustRegister(idSeedGauge, liveTXGauge, unsettledGauge, poolBusyGauge)
}

type txMetrics struct {
	prepareDuration metric.Int64Histogram
	settleDuration  metric.Int64Histogram
	outcomes        metric.Int64Counter
	expired         metric.Int64Counter
}

func newTXMetrics() *txMetrics {
	meter := otel.Meter("github.com/xiaoxuxiansheng/gotxm")
	m := &txMetrics{}
	var err error

	m.prepareDuration, err = meter.Int64Histogram(
		"gotxm.tx.prepare.duration_ms",
		metric.WithDescription("Time spent collecting prepare votes"),
		metric.WithUnit("ms"),
	)
	logMetricInitError("gotxm.tx.prepare.duration_ms", err)

	m.settleDuration, err = meter.Int64Histogram(
		"gotxm.tx.settle.duration_ms",
		metric.WithDescription("Time spent driving the second phase"),
		metric.WithUnit("ms"),
	)
	logMetricInitError("gotxm.tx.settle.duration_ms", err)

	m.outcomes, err = meter.Int64Counter(
		"gotxm.tx.outcomes",
		metric.WithDescription("Transactions reaching a terminal state"),
	)
	logMetricInitError("gotxm.tx.outcomes", err)

	m.expired, err = meter.Int64Counter(
		"gotxm.tx.lease.expired",
		metric.WithDescription("Transactions aborted by lease expiration"),
	)
	logMetricInitError("gotxm.tx.lease.expired", err)

	return m
}

func (m *txMetrics) recordPrepare(ctx context.Context, vote Vote, duration time.Duration) {
	if m == nil || m.prepareDuration == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("gotxm.tx.vote", vote.String())}
	m.prepareDuration.Record(metricContext(ctx), duration.Milliseconds(), metric.WithAttributes(attrs...))
}

func (m *txMetrics) recordSettle(ctx context.Context, state TXState, duration time.Duration, result string) {
	if m == nil || m.settleDuration == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("gotxm.tx.state", state.String()),
		attribute.String("gotxm.tx.result", result),
	}
	m.settleDuration.Record(metricContext(ctx), duration.Milliseconds(), metric.WithAttributes(attrs...))
}

func (m *txMetrics) recordOutcome(ctx context.Context, state TXState) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.Add(metricContext(ctx), 1, metric.WithAttributes(attribute.String("gotxm.tx.state", state.String())))
}

func (m *txMetrics) recordExpired(ctx context.Context) {
	if m == nil || m.expired == nil {
		return
	}
	m.expired.Add(metricContext(ctx), 1)
}

func metricContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func logMetricInitError(name string, err error) {
	if err == nil {
		return
	}
	log.Warnf("metric init failed, name: %s, err: %v", name, err)
}
