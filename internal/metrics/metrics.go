package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/notification-outbox/internal/repo"
)

const namespace = "notification"

// Metrics holds the pipeline counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	Events     *prometheus.CounterVec
	Explosions *prometheus.CounterVec
	Deliveries *prometheus.CounterVec
	Cycle      *prometheus.HistogramVec
	Swept      *prometheus.CounterVec
}

// New creates the counters and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Event dispatch outcomes by poller tier.",
		}, []string{"tier", "result"}),
		Explosions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_explosions_total",
			Help:      "Notification outbox rows exploded into channel sends.",
		}, []string{"result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_deliveries_total",
			Help:      "Channel delivery attempts by outcome.",
		}, []string{"channel", "result"}),
		Cycle: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_seconds",
			Help:      "Duration of one poller cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"poller"}),
		Swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Rows removed by the retention sweeper.",
		}, []string{"table"}),
	}
	reg.MustRegister(m.Events, m.Explosions, m.Deliveries, m.Cycle, m.Swept)
	return m
}

func (m *Metrics) Event(tier, result string) {
	if m != nil {
		m.Events.WithLabelValues(tier, result).Inc()
	}
}

func (m *Metrics) Explosion(result string) {
	if m != nil {
		m.Explosions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Delivery(channel, result string) {
	if m != nil {
		m.Deliveries.WithLabelValues(channel, result).Inc()
	}
}

// ObserveCycle records the time since start for poller.
func (m *Metrics) ObserveCycle(poller string, start time.Time) {
	if m != nil {
		m.Cycle.WithLabelValues(poller).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Sweep(table string, n int64) {
	if m != nil && n > 0 {
		m.Swept.WithLabelValues(table).Add(float64(n))
	}
}

// StatsSource yields per-stage row counts.
type StatsSource interface {
	Stats(ctx context.Context) (*repo.PipelineStats, error)
}

// StatsCollector exports row counts as gauges, queried on every scrape.
type StatsCollector struct {
	src     StatsSource
	timeout time.Duration
	events  *prometheus.Desc
	outbox  *prometheus.Desc
	channel *prometheus.Desc
	up      *prometheus.Desc
}

func NewStatsCollector(src StatsSource, timeout time.Duration) *StatsCollector {
	return &StatsCollector{
		src:     src,
		timeout: timeout,
		events:  prometheus.NewDesc(namespace+"_event_outbox_rows", "Event outbox rows by status.", []string{"status"}, nil),
		outbox:  prometheus.NewDesc(namespace+"_outbox_rows", "Notification outbox rows by status.", []string{"status"}, nil),
		channel: prometheus.NewDesc(namespace+"_channel_send_rows", "Channel send rows by channel and state.", []string{"channel", "state"}, nil),
		up:      prometheus.NewDesc(namespace+"_stats_up", "Whether the last stats query succeeded.", nil, nil),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
	ch <- c.outbox
	ch <- c.channel
	ch <- c.up
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	st, err := c.src.Stats(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	for status, n := range st.Events {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.GaugeValue, float64(n), string(status))
	}
	for status, n := range st.Outbox {
		ch <- prometheus.MustNewConstMetric(c.outbox, prometheus.GaugeValue, float64(n), string(status))
	}
	for chType, counts := range st.Channels {
		ch <- prometheus.MustNewConstMetric(c.channel, prometheus.GaugeValue, float64(counts.Pending), string(chType), "pending")
		ch <- prometheus.MustNewConstMetric(c.channel, prometheus.GaugeValue, float64(counts.Delivered), string(chType), "delivered")
		ch <- prometheus.MustNewConstMetric(c.channel, prometheus.GaugeValue, float64(counts.Failed), string(chType), "failed")
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
