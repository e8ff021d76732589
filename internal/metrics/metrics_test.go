package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Event("FAST", "processed")
	m.Delivery("SMS", "sent")
	m.Explosion("sent")
	m.ObserveCycle("fast", time.Now())
	m.Sweep("events", 3)
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Delivery("SMS", "sent")
	m.Delivery("SMS", "sent")
	m.Delivery("SMS", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("SMS", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("SMS", "failed")))
}

type stubStats struct {
	st  *repo.PipelineStats
	err error
}

func (s stubStats) Stats(context.Context) (*repo.PipelineStats, error) { return s.st, s.err }

func TestStatsCollector(t *testing.T) {
	c := NewStatsCollector(stubStats{st: &repo.PipelineStats{
		Events:   map[model.EventStatus]int64{model.EventPending: 4},
		Outbox:   map[model.OutboxStatus]int64{},
		Channels: map[model.ChannelType]repo.ChannelCounts{model.ChannelEmail: {Pending: 1, Delivered: 2}},
	}}, time.Second)

	expected := `
# HELP notification_event_outbox_rows Event outbox rows by status.
# TYPE notification_event_outbox_rows gauge
notification_event_outbox_rows{status="PENDING"} 4
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "notification_event_outbox_rows"))

	down := NewStatsCollector(stubStats{err: errors.New("db down")}, time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(down))
}
