package presence

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"community-hub/internal/model"
)

type recordingNotifier struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (n *recordingNotifier) Publish(topic string, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, topic)
	n.payloads = append(n.payloads, append([]byte(nil), payload...))
	return n.err
}

func (n *recordingNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.payloads)
}

func (n *recordingNotifier) last(t *testing.T) Snapshot {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.payloads) == 0 {
		t.Fatal("expected at least one broadcast")
	}
	var snapshot Snapshot
	if err := json.Unmarshal(n.payloads[len(n.payloads)-1], &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snapshot
}

func TestMarkOnline_BroadcastsOncePerChange(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	tracker := NewTracker(notifier, nil, nil)
	userID := uuid.New()

	if !tracker.MarkOnline(userID) {
		t.Fatal("first MarkOnline should change the set")
	}
	if tracker.MarkOnline(userID) {
		t.Fatal("second MarkOnline should be a no-op")
	}

	if got := notifier.calls(); got != 1 {
		t.Fatalf("expected 1 broadcast, got %d", got)
	}
	if notifier.topics[0] != model.PresenceTopic {
		t.Fatalf("unexpected topic %q", notifier.topics[0])
	}
	snapshot := notifier.last(t)
	if snapshot.Count != 1 || len(snapshot.Online) != 1 || snapshot.Online[0] != userID.String() {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestMarkOffline_NeverOnlineIsSilent(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	tracker := NewTracker(notifier, nil, nil)

	if tracker.MarkOffline(uuid.New()) {
		t.Fatal("MarkOffline of unknown user should not change the set")
	}
	if got := notifier.calls(); got != 0 {
		t.Fatalf("expected no broadcast, got %d", got)
	}
}

func TestMarkOffline_BroadcastsRemainingSet(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	tracker := NewTracker(notifier, nil, nil)
	alice, bob := uuid.New(), uuid.New()

	tracker.MarkOnline(alice)
	tracker.MarkOnline(bob)
	tracker.MarkOffline(alice)

	if got := notifier.calls(); got != 3 {
		t.Fatalf("expected 3 broadcasts, got %d", got)
	}
	snapshot := notifier.last(t)
	if snapshot.Count != 1 || snapshot.Online[0] != bob.String() {
		t.Fatalf("unexpected snapshot after offline: %+v", snapshot)
	}
	if tracker.IsOnline(alice) || !tracker.IsOnline(bob) {
		t.Fatal("membership does not match expected state")
	}
}

func TestMarkOnline_ConcurrentCallsCountOnce(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	tracker := NewTracker(notifier, nil, nil)
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.MarkOnline(userID)
		}()
	}
	wg.Wait()

	if tracker.Count() != 1 {
		t.Fatalf("expected count 1, got %d", tracker.Count())
	}
	if got := notifier.calls(); got != 1 {
		t.Fatalf("expected exactly 1 broadcast, got %d", got)
	}
}

func TestMarkOnline_NotifierFailureKeepsMembership(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{err: errors.New("hub closed")}
	tracker := NewTracker(notifier, nil, nil)
	userID := uuid.New()

	if !tracker.MarkOnline(userID) {
		t.Fatal("expected membership change")
	}
	if !tracker.IsOnline(userID) {
		t.Fatal("user should stay online when broadcast fails")
	}
}

func TestTracker_NilAndZeroIDs(t *testing.T) {
	t.Parallel()

	var nilTracker *Tracker
	if nilTracker.MarkOnline(uuid.New()) || nilTracker.Count() != 0 || nilTracker.AllOnline() != nil {
		t.Fatal("nil tracker should be inert")
	}

	tracker := NewTracker(nil, nil, nil)
	if tracker.MarkOnline(uuid.Nil) {
		t.Fatal("zero id must not be tracked")
	}
}
