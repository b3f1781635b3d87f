// Package metrics instruments a storage engine with prometheus metrics
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aneshas/eventlog"
)

var _ eventlog.StorageEngine = (*Engine)(nil)

const namespace = "eventlog"

// Metrics holds the collectors of an instrumented engine
type Metrics struct {
	appendedEvents   prometheus.Counter
	appends          *prometheus.CounterVec // status: committed, conflict, error
	appendDuration   prometheus.Histogram
	readEvents       prometheus.Counter
	deliveredEvents  prometheus.Counter
	callbackFailures prometheus.Counter
	subscriptions    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		appendedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "appended_events_total",
			Help:      "Total number of committed events",
		}),

		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "appends_total",
			Help:      "Total number of append operations by outcome",
		}, []string{"status"}),

		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "append_duration_seconds",
			Help:      "Append operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		readEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "read_events_total",
			Help:      "Total number of events returned by stream reads",
		}),

		deliveredEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "delivered_events_total",
			Help:      "Total number of events acknowledged by subscription callbacks",
		}),

		callbackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "callback_failures_total",
			Help:      "Total number of failed subscription callbacks",
		}),

		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Current number of running subscriptions",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.appendedEvents,
		m.appends,
		m.appendDuration,
		m.readEvents,
		m.deliveredEvents,
		m.callbackFailures,
		m.subscriptions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Instrument wraps engine so that every operation is recorded in m
func Instrument(engine eventlog.StorageEngine, m *Metrics) *Engine {
	return &Engine{
		next: engine,
		m:    m,
	}
}

// Engine is an instrumented storage engine decorator
type Engine struct {
	next eventlog.StorageEngine
	m    *Metrics
}

// AppendToStream records the outcome and duration of the append
func (e *Engine) AppendToStream(ctx context.Context, streamID string, events []eventlog.StorageEvent) (eventlog.AppendResult, error) {
	start := time.Now()

	res, err := e.next.AppendToStream(ctx, streamID, events)

	e.m.appendDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		e.m.appends.WithLabelValues("error").Inc()

	case res.Status == eventlog.AppendConflict:
		e.m.appends.WithLabelValues("conflict").Inc()

	default:
		e.m.appends.WithLabelValues("committed").Inc()
		e.m.appendedEvents.Add(float64(len(events)))
	}

	return res, err
}

// ReadStreamForwards counts the events read
func (e *Engine) ReadStreamForwards(ctx context.Context, streamID string, start, count int) ([]eventlog.StorageEvent, error) {
	events, err := e.next.ReadStreamForwards(ctx, streamID, start, count)
	if err != nil {
		return nil, err
	}

	e.m.readEvents.Add(float64(len(events)))

	return events, nil
}

// SubscribeToAll counts deliveries of the subscription and tracks it
// as active until it is cancelled
func (e *Engine) SubscribeToAll(ctx context.Context, cb eventlog.EventsReceivedFunc, checkpoint string) (*eventlog.Subscription, error) {
	sub, err := e.next.SubscribeToAll(ctx, e.observe(cb), checkpoint)
	if err != nil {
		return nil, err
	}

	e.m.subscriptions.Inc()

	go func() {
		<-sub.Done()
		e.m.subscriptions.Dec()
	}()

	return sub, nil
}

// ReadAllForwards counts deliveries of the drain pass
func (e *Engine) ReadAllForwards(ctx context.Context, cb eventlog.EventsReceivedFunc, sinceCheckpoint string) error {
	return e.next.ReadAllForwards(ctx, e.observe(cb), sinceCheckpoint)
}

func (e *Engine) observe(cb eventlog.EventsReceivedFunc) eventlog.EventsReceivedFunc {
	if cb == nil {
		return nil
	}

	return func(ctx context.Context, events []eventlog.StorageEvent, checkpoint string) error {
		// the engine turns the panic into a CallbackError
		defer func() {
			if r := recover(); r != nil {
				e.m.callbackFailures.Inc()
				panic(r)
			}
		}()

		err := cb(ctx, events, checkpoint)
		if err != nil {
			e.m.callbackFailures.Inc()

			return err
		}

		e.m.deliveredEvents.Add(float64(len(events)))

		return nil
	}
}
