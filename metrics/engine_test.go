package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aneshas/eventlog"
	"github.com/aneshas/eventlog/inmemory"
	"github.com/aneshas/eventlog/metrics"
)

func instrumented(t *testing.T) (*eventlog.EventStore, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()

	m, err := metrics.NewMetrics(reg)
	require.NoError(t, err)

	es, err := eventlog.New(metrics.Instrument(inmemory.New(inmemory.WithPollInterval(5*time.Millisecond)), m))
	require.NoError(t, err)

	return es, reg
}

func value(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}

		for _, m := range mf.GetMetric() {
			if !hasLabels(m.GetLabel(), labels) {
				continue
			}

			if m.Counter != nil {
				return m.GetCounter().GetValue()
			}

			return m.GetGauge().GetValue()
		}
	}

	return 0
}

// labels are name, value pairs
func hasLabels(pairs []*dto.LabelPair, labels []string) bool {
	for i := 0; i+1 < len(labels); i += 2 {
		found := false

		for _, p := range pairs {
			if p.GetName() == labels[i] && p.GetValue() == labels[i+1] {
				found = true
			}
		}

		if !found {
			return false
		}
	}

	return true
}

func TestShould_Record_Appends(t *testing.T) {
	es, reg := instrumented(t)
	ctx := context.Background()

	require.NoError(t, es.AppendToStream(ctx, "A", 0, eventlog.EventData{Body: 1}, eventlog.EventData{Body: 2}))
	require.Error(t, es.AppendToStream(ctx, "A", 0, eventlog.EventData{Body: 3}))

	assert.Equal(t, 2.0, value(t, reg, "eventlog_store_appended_events_total"))
	assert.Equal(t, 1.0, value(t, reg, "eventlog_store_appends_total", "status", "committed"))
	assert.Equal(t, 1.0, value(t, reg, "eventlog_store_appends_total", "status", "conflict"))

	n, err := testutil.GatherAndCount(reg, "eventlog_store_append_duration_seconds")
	require.NoError(t, err)

	assert.Equal(t, 1, n)
}

func TestShould_Record_Reads_And_Deliveries(t *testing.T) {
	es, reg := instrumented(t)
	ctx := context.Background()

	require.NoError(t, es.AppendToStream(ctx, "A", 0, eventlog.EventData{Body: 1}, eventlog.EventData{Body: 2}))

	_, err := es.ReadStreamForwards(ctx, "A")
	require.NoError(t, err)

	fail := true

	err = es.ReadAllForwards(ctx, func(context.Context, []eventlog.StorageEvent, string) error {
		if fail {
			fail = false

			return errors.New("failed")
		}

		return nil
	}, "")
	require.Error(t, err)

	require.NoError(t, es.ReadAllForwards(ctx, func(context.Context, []eventlog.StorageEvent, string) error {
		return nil
	}, ""))

	assert.Equal(t, 2.0, value(t, reg, "eventlog_store_read_events_total"))
	assert.Equal(t, 1.0, value(t, reg, "eventlog_subscription_callback_failures_total"))
	assert.Equal(t, 2.0, value(t, reg, "eventlog_subscription_delivered_events_total"))
}

func TestShould_Count_Panicking_Callback_As_Failure(t *testing.T) {
	es, reg := instrumented(t)
	ctx := context.Background()

	require.NoError(t, es.AppendToStream(ctx, "A", 0, eventlog.EventData{Body: 1}))

	err := es.ReadAllForwards(ctx, func(context.Context, []eventlog.StorageEvent, string) error {
		panic("projection bug")
	}, "")

	var cbErr *eventlog.CallbackError

	require.ErrorAs(t, err, &cbErr)

	assert.Equal(t, 1.0, value(t, reg, "eventlog_subscription_callback_failures_total"))
	assert.Equal(t, 0.0, value(t, reg, "eventlog_subscription_delivered_events_total"))
}

func TestShould_Track_Active_Subscriptions(t *testing.T) {
	es, reg := instrumented(t)

	ctx, cancel := context.WithCancel(context.Background())

	sub, err := es.SubscribeToAll(ctx, func(context.Context, []eventlog.StorageEvent, string) error {
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, value(t, reg, "eventlog_subscription_active"))

	cancel()
	<-sub.Done()

	require.Eventually(t, func() bool {
		return value(t, reg, "eventlog_subscription_active") == 0
	}, time.Second, time.Millisecond)
}

func TestShould_Fail_On_Duplicate_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := metrics.NewMetrics(reg)
	require.NoError(t, err)

	_, err = metrics.NewMetrics(reg)
	assert.Error(t, err)
}
