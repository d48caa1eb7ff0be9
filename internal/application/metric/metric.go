package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	stateBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_broadcasts_total",
			Help: "State snapshots broadcast to rooms, by reason",
		},
		[]string{"reason"},
	)

	controlRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_rejected_total",
			Help: "Host control intents rejected, by error code",
		},
		[]string{"code"},
	)

	clientReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "client_reconnects_total",
			Help: "Reconnect attempts made by the participant client",
		},
	)
)

func IncrementWSActiveConnections() {
	wsActiveConnections.Inc()
}

func DecrementWSActiveConnections() {
	wsActiveConnections.Dec()
}

func RecordStateBroadcast(reason string) {
	stateBroadcastsTotal.WithLabelValues(reason).Inc()
}

func RecordControlRejected(code string) {
	controlRejectedTotal.WithLabelValues(code).Inc()
}

func RecordClientReconnect() {
	clientReconnectsTotal.Inc()
}
