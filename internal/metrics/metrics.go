// Package metrics exposes the gateway's Prometheus series: request
// throughput and outcome by response mode, rotation switches, and the
// live state of the single agent link and its per-request queues.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genai_relay_requests_active",
			Help: "Number of requests currently held by the entry gate or a response-mode handler",
		},
	)

	requestsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genai_relay_requests_completed_total",
			Help: "Total number of requests completed, by response mode and final HTTP status class",
		},
		[]string{"mode", "status_class"},
	)

	rotationSwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genai_relay_rotation_switches_total",
			Help: "Total number of credential rotation switches, by outcome",
		},
		[]string{"outcome"},
	)

	linkConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genai_relay_link_connected",
			Help: "Whether the browser agent's control-channel connection is currently live (1) or not (0)",
		},
	)

	openQueues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genai_relay_open_queues",
			Help: "Number of per-request queues currently open and awaiting frames",
		},
	)

	currentCredentialIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genai_relay_current_credential_index",
			Help: "Index of the credential the rotation controller currently has bound",
		},
	)
)

// Recorder implements coordinator.Metrics against the package-level
// Prometheus collectors above. The coordinator only depends on the
// small interface it declares; Recorder is the concrete production
// wiring, constructed once in cmd/server's bootstrap.
type Recorder struct{}

// NewRecorder returns a Recorder. There is no per-instance state: the
// underlying collectors are package-level and registered once with the
// default registry at package init, so every Recorder writes to the
// same series.
func NewRecorder() Recorder { return Recorder{} }

func (Recorder) ActiveRequestsInc() { requestsActive.Inc() }
func (Recorder) ActiveRequestsDec() { requestsActive.Dec() }

func (Recorder) RequestCompleted(mode string, status int) {
	requestsCompletedTotal.WithLabelValues(mode, statusClass(status)).Inc()
}

func (Recorder) RotationSwitch(outcome string) {
	rotationSwitchesTotal.WithLabelValues(outcome).Inc()
}

// SetLinkConnected records the agent link's live/lost transitions, wired
// from link.Link's ConnectionListener hooks.
func (Recorder) SetLinkConnected(connected bool) {
	if connected {
		linkConnected.Set(1)
		return
	}
	linkConnected.Set(0)
}

// SetOpenQueues records the registry's queue count, polled on a ticker
// by cmd/server's bootstrap since queue.Registry has no change hooks.
func (Recorder) SetOpenQueues(n int) { openQueues.Set(float64(n)) }

// SetCurrentCredentialIndex records which credential the rotation
// controller currently has bound, polled the same way as SetOpenQueues.
func (Recorder) SetCurrentCredentialIndex(index int) { currentCredentialIndex.Set(float64(index)) }

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
