// Package telemetry exposes client-side counters for poll loops, uploads,
// chat calls and the player. All methods are safe on a nil *Collector.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vidsight"

// Chat outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

type Collector struct {
	pollTicks   *prometheus.CounterVec
	pollErrors  *prometheus.CounterVec
	loopsActive prometheus.Gauge

	uploadBytes prometheus.Counter
	chat        *prometheus.CounterVec
	player      *prometheus.CounterVec
}

// New registers the collector's series on reg. A nil reg means the default
// registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Poll requests issued, by loop.",
		}, []string{"loop"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Poll requests that failed, by loop.",
		}, []string{"loop"}),
		loopsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_loops_active",
			Help:      "Poll loops currently scheduled.",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Video bytes sent to the backend.",
		}),
		chat: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat questions sent, by scope and outcome.",
		}, []string{"scope", "outcome"}),
		player: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "player_transitions_total",
			Help:      "Player adapter state changes, by target state.",
		}, []string{"state"}),
	}

	reg.MustRegister(c.pollTicks, c.pollErrors, c.loopsActive, c.uploadBytes, c.chat, c.player)
	return c
}

func (c *Collector) PollTick(loop string) {
	if c == nil {
		return
	}
	c.pollTicks.WithLabelValues(loop).Inc()
}

func (c *Collector) PollError(loop string) {
	if c == nil {
		return
	}
	c.pollErrors.WithLabelValues(loop).Inc()
}

func (c *Collector) LoopStarted(string) {
	if c == nil {
		return
	}
	c.loopsActive.Inc()
}

func (c *Collector) LoopStopped(string) {
	if c == nil {
		return
	}
	c.loopsActive.Dec()
}

func (c *Collector) UploadBytes(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.uploadBytes.Add(float64(n))
}

func (c *Collector) ChatRequest(scope, outcome string) {
	if c == nil {
		return
	}
	c.chat.WithLabelValues(scope, outcome).Inc()
}

func (c *Collector) PlayerTransition(state string) {
	if c == nil {
		return
	}
	c.player.WithLabelValues(state).Inc()
}

// Handler serves the series gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
