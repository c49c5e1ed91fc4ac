// Package metrics exposes playback and control API metrics for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osa030/jukebot/internal/app/notification"
	"github.com/osa030/jukebot/internal/app/playback"
)

const namespace = "jukebot"

var states = []playback.State{
	playback.StateIdle,
	playback.StateLoading,
	playback.StatePlaying,
	playback.StateStopping,
}

// Gauges are sampled on every scrape.
type Gauges struct {
	QueueLength  func() float64
	AssetsInUse  func() float64
	VoiceConnect func() float64 // 1 when the sink is connected
	// EventsDropped is exported as a counter and must not decrease.
	EventsDropped func() float64
}

// Metrics holds the collectors and their registry.
// It is a notification.Stream so it can subscribe to playback events.
type Metrics struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	state       *prometheus.GaugeVec
	lastSeq     prometheus.Gauge
	rpcDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "events_total",
			Help:      "Playback events by type.",
		}, []string{"type"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "state",
			Help:      "Scheduler state as of the last event (1 for the current state).",
		}, []string{"state"}),
		lastSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "last_sequence_number",
			Help:      "Sequence number of the last broadcast event.",
		}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "rpc_duration_seconds",
			Help:      "Control API call latency by procedure and result code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events,
		m.state,
		m.lastSeq,
		m.rpcDuration,
	)
	m.setState(playback.StateIdle)
	return m
}

// RegisterGauges adds scrape-time gauges. Nil functions are skipped.
func (m *Metrics) RegisterGauges(g Gauges) {
	add := func(name, help string, fn func() float64) {
		if fn == nil {
			return
		}
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, fn))
	}
	add("queue_length", "Entries waiting in the queue.", g.QueueLength)
	add("assets_in_use", "Assets currently held by a lease.", g.AssetsInUse)
	add("voice_connected", "Whether the bot holds a voice connection.", g.VoiceConnect)
	if g.EventsDropped != nil {
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "events_dropped_total",
			Help:      "Scheduler events dropped because the event buffer was full.",
		}, g.EventsDropped))
	}
}

// Send records a playback event.
func (m *Metrics) Send(n notification.Notice) error {
	m.events.WithLabelValues(n.Event.Type.String()).Inc()
	m.lastSeq.Set(float64(n.SequenceNo))
	m.setState(n.Event.State)
	return nil
}

// ObserveRPC records one control API call.
func (m *Metrics) ObserveRPC(procedure, code string, d time.Duration) {
	m.rpcDuration.WithLabelValues(procedure, code).Observe(d.Seconds())
}

// Handler returns the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) setState(current playback.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
}
