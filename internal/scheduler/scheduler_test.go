package scheduler

import (
	"testing"

	"go.uber.org/zap"
)

type countingTask struct {
	presence int
	totals   int
}

func (c *countingTask) SyncPresence() { c.presence++ }
func (c *countingTask) SyncTotals()   { c.totals++ }

func TestNewScheduler_RegistersJobs(t *testing.T) {
	t.Parallel()

	task := &countingTask{}
	c := NewScheduler(Deps{PresenceJob: task, TotalsJob: task}, nil)
	if got := len(c.Entries()); got != 2 {
		t.Fatalf("expected 2 jobs, got %d", got)
	}

	empty := NewScheduler(Deps{}, nil)
	if got := len(empty.Entries()); got != 0 {
		t.Fatalf("expected no jobs, got %d", got)
	}

	for _, entry := range c.Entries() {
		entry.Job.Run()
	}
	if task.presence != 1 || task.totals != 1 {
		t.Fatalf("jobs not wired: %+v", task)
	}
}

func TestWrapJob_RecoversPanic(t *testing.T) {
	t.Parallel()

	run := wrapJob("boom", zap.NewNop(), func() { panic("broken job") })
	run()
}
