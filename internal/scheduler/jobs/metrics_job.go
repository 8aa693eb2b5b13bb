package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"community-hub/internal/metrics"
)

const totalsTimeout = 30 * time.Second

type OnlineCounter interface {
	Count() int
}

type ConnectionCounter interface {
	ConnectedCount() int
}

type UserCounter interface {
	CountAll(ctx context.Context) (int64, error)
}

type ChannelCounter interface {
	Count(ctx context.Context) (int64, error)
}

// MetricsJob refreshes the gauges that are not updated inline. Presence and
// connection gauges are also set by the hub; this resync covers drift.
type MetricsJob struct {
	presence    OnlineCounter
	connections ConnectionCounter
	users       UserCounter
	channels    ChannelCounter
	logger      *zap.Logger
}

func NewMetricsJob(
	presence OnlineCounter,
	connections ConnectionCounter,
	users UserCounter,
	channels ChannelCounter,
	logger *zap.Logger,
) *MetricsJob {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MetricsJob{
		presence:    presence,
		connections: connections,
		users:       users,
		channels:    channels,
		logger:      logger,
	}
}

func (j *MetricsJob) SyncPresence() {
	if j == nil {
		return
	}
	if j.presence != nil {
		metrics.SetOnlineUsers(j.presence.Count())
	}
	if j.connections != nil {
		metrics.SetChatConnections(j.connections.ConnectedCount())
	}
}

func (j *MetricsJob) SyncTotals() {
	if j == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), totalsTimeout)
	defer cancel()

	if j.users != nil {
		total, err := j.users.CountAll(ctx)
		if err != nil {
			j.logger.Warn("count registered users failed", zap.Error(err))
		} else {
			metrics.SetRegisteredUsers(total)
		}
	}
	if j.channels != nil {
		total, err := j.channels.Count(ctx)
		if err != nil {
			j.logger.Warn("count channels failed", zap.Error(err))
		} else {
			metrics.SetChannels(total)
		}
	}
}
