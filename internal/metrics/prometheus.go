package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chathub_connections",
		Help: "Current number of open chat connections",
	})

	ChatConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chathub_connection_duration_seconds",
		Help:    "Lifetime of chat WebSocket connections",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chathub_online_users",
		Help: "Distinct users with at least one open connection",
	})

	RegisteredUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chathub_registered_users",
		Help: "Total registered users",
	})

	Channels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chathub_channels",
		Help: "Total channels in the directory",
	})

	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chathub_messages_persisted_total",
		Help: "Chat messages accepted and stored",
	})

	LevelUps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chathub_level_ups_total",
		Help: "Level increases across all users",
	})

	ChatEventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chathub_chat_events_failed_total",
		Help: "Chat events that ended in the failed state, by reason",
	}, []string{"reason"})

	ChatEventDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chathub_chat_event_duration_seconds",
		Help:    "Time from receipt to broadcast of a chat event",
		Buckets: prometheus.DefBuckets,
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chathub_frames_dropped_total",
		Help: "Frames dropped because a queue or client buffer was full",
	}, []string{"direction"})
)

func SetChatConnections(count int) {
	if count < 0 {
		count = 0
	}
	ChatConnections.Set(float64(count))
}

func ObserveConnectionDuration(duration time.Duration) {
	ChatConnectionDuration.Observe(duration.Seconds())
}

func SetOnlineUsers(count int) {
	if count < 0 {
		count = 0
	}
	OnlineUsers.Set(float64(count))
}

func SetRegisteredUsers(count int64) {
	if count < 0 {
		count = 0
	}
	RegisteredUsers.Set(float64(count))
}

func SetChannels(count int64) {
	if count < 0 {
		count = 0
	}
	Channels.Set(float64(count))
}

func IncMessagesPersisted() {
	MessagesPersisted.Inc()
}

func IncLevelUps() {
	LevelUps.Inc()
}

func IncChatEventFailed(reason string) {
	label := strings.TrimSpace(reason)
	if label == "" {
		label = "unknown"
	}
	ChatEventsFailed.WithLabelValues(label).Inc()
}

func ObserveChatEventDuration(duration time.Duration) {
	ChatEventDuration.Observe(duration.Seconds())
}

func IncFramesDropped(direction string) {
	FramesDropped.WithLabelValues(direction).Inc()
}
