// Package metrics exposes the chat service's Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "clinic_chat"

var (
	// ActiveConnections 目前的 WebSocket 連線數.
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_active_connections",
		Help:      "Number of open realtime connections on this node",
	})

	// MessagesSent 依種類統計的已寫入訊息數（不含重試）.
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Messages durably appended, by kind",
	}, []string{"kind"})

	// MessagesMarkedRead 被標記為已讀的訊息數.
	MessagesMarkedRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_marked_read_total",
		Help:      "Messages flipped to read by history fetches",
	})

	// DroppedFrames 因客戶端緩衝區已滿而丟棄的事件數.
	DroppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_dropped_frames_total",
		Help:      "Outbound frames dropped because a client buffer was full",
	})

	// AccessDenied 依動作統計的授權拒絕數.
	AccessDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "access_denied_total",
		Help:      "Channel authorization denials, by action",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(ActiveConnections, MessagesSent, MessagesMarkedRead, DroppedFrames, AccessDenied)
}
