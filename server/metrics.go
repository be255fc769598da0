// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/bureau-console/protocol"
)

// Handshake results recorded in handshakes_total.
const (
	handshakeAccepted = "accepted"
	handshakeRejected = "rejected"
	handshakeFailed   = "failed"
)

// Reasons recorded in frames_dropped_total.
const (
	dropSlowSession      = "slow_session"
	dropBroadcastBacklog = "broadcast_backlog"
)

// Metrics are the Prometheus collectors a Server updates. A nil
// *Metrics disables collection.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	Handshakes       *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	LogBroadcasts    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with
// registerer. It returns an error if any collector is already
// registered.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "console",
			Name:      "server_sessions_active",
			Help:      "Console sessions past the handshake and still connected.",
		}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console",
			Name:      "handshakes_total",
			Help:      "Console handshakes by result.",
		}, []string{"result"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console",
			Name:      "messages_received_total",
			Help:      "Messages received on established sessions by kind.",
		}, []string{"kind"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console",
			Name:      "frames_dropped_total",
			Help:      "Outbound log frames dropped by reason.",
		}, []string{"reason"}),
		LogBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "console",
			Name:      "log_broadcasts_total",
			Help:      "Log lines fanned out to subscribed sessions.",
		}),
	}
	collectors := []prometheus.Collector{
		metrics.SessionsActive,
		metrics.Handshakes,
		metrics.MessagesReceived,
		metrics.FramesDropped,
		metrics.LogBroadcasts,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) handshake(result string) {
	if m != nil {
		m.Handshakes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) messageReceived(kind protocol.Kind) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) frameDropped(reason string) {
	if m != nil {
		m.FramesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) logBroadcast() {
	if m != nil {
		m.LogBroadcasts.Inc()
	}
}
