package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "telephony_failover"

// Collector owns every failover metric. A nil *Collector is valid and records nothing,
// so services can run without metrics wiring in tests.
type Collector struct {
	probeDuration    *prometheus.HistogramVec
	fleetAgents      *prometheus.GaugeVec
	fleetFailureRate *prometheus.GaugeVec
	classifications  *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	agentMoves       *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	webhookCalls     *prometheus.CounterVec
}

// NewCollector registers the metrics with reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh registry in tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		probeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of provider health probes in seconds",
				Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"kind", "verdict"},
		),
		fleetAgents: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fleet_agents",
				Help:      "Eligible agents per account by health status at the last check",
			},
			[]string{"account_id", "status"},
		),
		fleetFailureRate: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fleet_failure_rate",
				Help:      "Share of degraded or failed agents at the last check",
			},
			[]string{"account_id"},
		),
		classifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classifications_total",
				Help:      "Failure classifier decisions",
			},
			[]string{"decision"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_transitions_total",
				Help:      "Failover event status transitions",
			},
			[]string{"trigger", "status"},
		),
		agentMoves: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_moves_total",
				Help:      "Agents moved to a backup account, by reconfiguration outcome",
			},
			[]string{"outcome"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Operator notifications sent",
			},
			[]string{"kind", "result"},
		),
		webhookCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_calls_total",
				Help:      "Provider webhook calls received",
			},
			[]string{"kind", "status"},
		),
	}
}

func (c *Collector) ObserveProbe(kind, verdict string, d time.Duration) {
	if c == nil {
		return
	}
	c.probeDuration.WithLabelValues(kind, verdict).Observe(d.Seconds())
}

func (c *Collector) SetFleet(accountID string, healthy, degraded, failed int, failureRate float64) {
	if c == nil {
		return
	}
	c.fleetAgents.WithLabelValues(accountID, "HEALTHY").Set(float64(healthy))
	c.fleetAgents.WithLabelValues(accountID, "DEGRADED").Set(float64(degraded))
	c.fleetAgents.WithLabelValues(accountID, "FAILED").Set(float64(failed))
	c.fleetFailureRate.WithLabelValues(accountID).Set(failureRate)
}

func (c *Collector) IncClassification(decision string) {
	if c == nil {
		return
	}
	c.classifications.WithLabelValues(decision).Inc()
}

func (c *Collector) IncTransition(trigger, status string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(trigger, status).Inc()
}

func (c *Collector) IncAgentMove(outcome string) {
	if c == nil {
		return
	}
	c.agentMoves.WithLabelValues(outcome).Inc()
}

func (c *Collector) IncNotification(kind string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.notifications.WithLabelValues(kind, result).Inc()
}

func (c *Collector) IncWebhook(kind, status string) {
	if c == nil {
		return
	}
	c.webhookCalls.WithLabelValues(kind, status).Inc()
}
