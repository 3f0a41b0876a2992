package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. Each Server gets its own
// registry so several can run in one process (tests, local mode).
type Metrics struct {
	registry *prometheus.Registry

	ActiveConns     prometheus.Gauge
	OnlineUsers     prometheus.Gauge
	MessagesStored  *prometheus.CounterVec
	DuplicateSends  prometheus.Counter
	RateLimited     prometheus.Counter
	RejectedEvents  *prometheus.CounterVec
	DroppedConns    prometheus.Counter
	FilesUploaded   prometheus.Counter
	UploadBytes     prometheus.Counter
	HistoryRequests prometheus.Counter
	Reactions       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ActiveConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "erpchat_active_connections",
			Help: "Open websocket connections",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "erpchat_online_users",
			Help: "Users with at least one open connection",
		}),
		MessagesStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "erpchat_messages_stored_total",
			Help: "Messages persisted and broadcast",
		}, []string{"room_kind"}),
		DuplicateSends: factory.NewCounter(prometheus.CounterOpts{
			Name: "erpchat_duplicate_sends_total",
			Help: "Resubmitted messages answered from the store",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "erpchat_rate_limited_total",
			Help: "sendMessage requests rejected by the rate limiter",
		}),
		RejectedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "erpchat_rejected_events_total",
			Help: "Socket events rejected as invalid",
		}, []string{"event"}),
		DroppedConns: factory.NewCounter(prometheus.CounterOpts{
			Name: "erpchat_dropped_connections_total",
			Help: "Connections dropped for not keeping up",
		}),
		FilesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "erpchat_files_uploaded_total",
			Help: "Files accepted by the upload endpoint",
		}),
		UploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "erpchat_upload_bytes_total",
			Help: "Bytes accepted by the upload endpoint",
		}),
		HistoryRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "erpchat_history_requests_total",
			Help: "History pages served",
		}),
		Reactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "erpchat_reactions_total",
			Help: "Reaction changes applied",
		}, []string{"action"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
