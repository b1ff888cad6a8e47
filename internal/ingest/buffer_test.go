package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/qontinui/treeline/internal/domain"
)

type capture struct {
	mu       sync.Mutex
	released []Release
}

func (c *capture) sink(rel Release) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, rel)
}

func (c *capture) sequences() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.released))
	for _, r := range c.released {
		out = append(out, r.Event.Sequence)
	}
	return out
}

func (c *capture) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.released)
}

func bufEvent(runID, eventID string, seq int64) *domain.Event {
	return &domain.Event{
		EventID:  eventID,
		RunID:    runID,
		Sequence: seq,
		Type:     domain.EventActionStarted,
		NodeID:   "n" + eventID,
	}
}

func TestReleaseInOrder(t *testing.T) {
	c := &capture{}
	b := NewBuffer(time.Second, c.sink)

	b.Offer(bufEvent("r1", "e1", 1))
	b.Offer(bufEvent("r1", "e2", 2))
	b.Offer(bufEvent("r1", "e3", 3))

	got := c.sequences()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected [1 2 3], got %v", got)
	}
	for _, rel := range c.released {
		if rel.OrderingGap {
			t.Fatalf("unexpected ordering gap on seq %d", rel.Event.Sequence)
		}
	}
}

func TestDuplicateEventIDIsNoOp(t *testing.T) {
	c := &capture{}
	b := NewBuffer(time.Second, c.sink)

	if !b.Offer(bufEvent("r1", "e1", 1)) {
		t.Fatal("first offer should be accepted")
	}
	if b.Offer(bufEvent("r1", "e1", 1)) {
		t.Fatal("duplicate offer should report false")
	}
	if c.len() != 1 {
		t.Fatalf("expected exactly 1 release, got %d", c.len())
	}
}

func TestGapFilledReleasesBuffered(t *testing.T) {
	c := &capture{}
	b := NewBuffer(time.Second, c.sink)

	b.Offer(bufEvent("r1", "e1", 1))
	b.Offer(bufEvent("r1", "e3", 3))
	b.Offer(bufEvent("r1", "e4", 4))
	if got := c.sequences(); len(got) != 1 {
		t.Fatalf("expected only seq 1 released while gap open, got %v", got)
	}

	// Filling the gap drains everything in order.
	b.Offer(bufEvent("r1", "e2", 2))
	got := c.sequences()
	want := []int64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	for _, rel := range c.released {
		if rel.OrderingGap {
			t.Fatalf("gap was filled in time, seq %d should not be flagged", rel.Event.Sequence)
		}
	}
}

func TestGapTimeoutReleasesBestEffort(t *testing.T) {
	c := &capture{}
	b := NewBuffer(20*time.Millisecond, c.sink)

	b.Offer(bufEvent("r1", "e1", 1))
	b.Offer(bufEvent("r1", "e3", 3))

	deadline := time.Now().Add(time.Second)
	for c.len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	got := c.sequences()
	if len(got) != 2 || got[1] != 3 {
		t.Fatalf("expected seq 3 released after timeout, got %v", got)
	}
	c.mu.Lock()
	flagged := c.released[1].OrderingGap
	c.mu.Unlock()
	if !flagged {
		t.Fatal("expected ordering gap flag on best-effort release")
	}

	// The late filler is released immediately, flagged.
	b.Offer(bufEvent("r1", "e2", 2))
	if c.len() != 3 {
		t.Fatalf("expected late filler released, got %d releases", c.len())
	}
	c.mu.Lock()
	lateFlag := c.released[2].OrderingGap
	c.mu.Unlock()
	if !lateFlag {
		t.Fatal("expected ordering gap flag on late filler")
	}
}

func TestRunsAreIndependent(t *testing.T) {
	c := &capture{}
	b := NewBuffer(time.Hour, c.sink)

	// r1 has an open gap; r2 must not be blocked by it.
	b.Offer(bufEvent("r1", "e1", 1))
	b.Offer(bufEvent("r1", "e3", 3))
	b.Offer(bufEvent("r2", "f1", 1))
	b.Offer(bufEvent("r2", "f2", 2))

	got := c.sequences()
	if len(got) != 3 {
		t.Fatalf("expected r1:1 plus r2:1,2 released, got %v", got)
	}
}

func TestFlushReleasesPending(t *testing.T) {
	c := &capture{}
	b := NewBuffer(time.Hour, c.sink)

	b.Offer(bufEvent("r1", "e1", 1))
	b.Offer(bufEvent("r1", "e4", 4))
	b.Offer(bufEvent("r1", "e3", 3))

	b.Flush("r1")
	got := c.sequences()
	want := []int64{1, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMarkSeenSkipsReplayedEvents(t *testing.T) {
	c := &capture{}
	b := NewBuffer(time.Second, c.sink)

	b.MarkSeen("r1", []string{"e1", "e2"}, 2)

	if b.Offer(bufEvent("r1", "e1", 1)) {
		t.Fatal("replayed event should be deduplicated")
	}
	if !b.Offer(bufEvent("r1", "e3", 3)) {
		t.Fatal("new event should be accepted")
	}
	got := c.sequences()
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected only seq 3 released, got %v", got)
	}
}
