// Package presence keeps the process-wide set of online users and announces
// membership changes to the presence topic.
package presence

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-hub/internal/event"
	"community-hub/internal/model"
)

// Notifier delivers an encoded payload to every subscriber of a topic.
type Notifier interface {
	Publish(topic string, payload []byte) error
}

// Snapshot is the body broadcast on every membership change.
type Snapshot struct {
	Online    []string  `json:"online"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

type Tracker struct {
	online sync.Map
	count  atomic.Int64

	// serialises snapshot building so broadcasts leave in change order
	broadcastMu sync.Mutex

	notifier Notifier
	eventBus *event.Bus
	logger   *zap.Logger
}

func NewTracker(notifier Notifier, eventBus *event.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		notifier: notifier,
		eventBus: eventBus,
		logger:   logger,
	}
}

// MarkOnline adds the user and reports whether the set changed.
func (t *Tracker) MarkOnline(userID uuid.UUID) bool {
	if t == nil || userID == uuid.Nil {
		return false
	}
	if _, loaded := t.online.LoadOrStore(userID, struct{}{}); loaded {
		return false
	}
	t.count.Add(1)
	t.changed(userID, true)
	return true
}

// MarkOffline removes the user and reports whether the set changed.
func (t *Tracker) MarkOffline(userID uuid.UUID) bool {
	if t == nil || userID == uuid.Nil {
		return false
	}
	if _, loaded := t.online.LoadAndDelete(userID); !loaded {
		return false
	}
	t.count.Add(-1)
	t.changed(userID, false)
	return true
}

func (t *Tracker) IsOnline(userID uuid.UUID) bool {
	if t == nil {
		return false
	}
	_, ok := t.online.Load(userID)
	return ok
}

// AllOnline returns the current members sorted by their string form.
func (t *Tracker) AllOnline() []uuid.UUID {
	if t == nil {
		return nil
	}
	ids := make([]uuid.UUID, 0, t.Count())
	t.online.Range(func(key, _ any) bool {
		if id, ok := key.(uuid.UUID); ok {
			ids = append(ids, id)
		}
		return true
	})
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	return int(t.count.Load())
}

func (t *Tracker) Snapshot() Snapshot {
	ids := t.AllOnline()
	online := make([]string, 0, len(ids))
	for _, id := range ids {
		online = append(online, id.String())
	}
	return Snapshot{
		Online:    online,
		Count:     len(online),
		Timestamp: time.Now().UTC(),
	}
}

func (t *Tracker) changed(userID uuid.UUID, online bool) {
	t.broadcastMu.Lock()
	snapshot := t.Snapshot()
	t.broadcast(snapshot)
	t.broadcastMu.Unlock()

	if t.eventBus != nil {
		t.eventBus.Publish(event.EventPresenceChanged, event.PresenceChangedPayload{
			UserID:      userID.String(),
			Online:      online,
			OnlineCount: snapshot.Count,
			Timestamp:   snapshot.Timestamp,
		})
	}
}

func (t *Tracker) broadcast(snapshot Snapshot) {
	if t.notifier == nil {
		return
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		t.logger.Warn("encode presence snapshot failed", zap.Error(err))
		return
	}
	if err := t.notifier.Publish(model.PresenceTopic, raw); err != nil {
		t.logger.Warn("publish presence snapshot failed",
			zap.Int("online", snapshot.Count),
			zap.Error(err),
		)
	}
}
