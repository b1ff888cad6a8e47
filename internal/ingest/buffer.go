// Package ingest accepts event batches, deduplicates them, and releases
// them downstream in sequence order per run, waiting a bounded time for
// sequence gaps to fill before giving up and releasing past them.
package ingest

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/qontinui/treeline/internal/domain"
)

// Release is one event handed downstream. OrderingGap marks events
// released past a gap that never filled, and late arrivals below the
// release watermark.
type Release struct {
	Event       *domain.Event
	OrderingGap bool
}

// Sink consumes released events in order. It is called with the run's
// buffer lock held, which serializes event application per run.
type Sink func(Release)

// Buffer is the per-run ordering buffer. Runs are fully independent:
// each has its own lock, watermark, and pending set.
type Buffer struct {
	gapTimeout time.Duration
	sink       Sink

	mu   sync.Mutex
	runs map[string]*runBuffer
}

type runBuffer struct {
	mu sync.Mutex

	// seen holds every event id accepted for the run.
	seen map[string]bool
	// released is the highest contiguously released sequence.
	released int64
	// pending holds buffered out-of-order events keyed by sequence.
	pending map[int64]*domain.Event
	// gapDeadline is when the oldest unfilled gap expires; zero when
	// nothing is pending.
	gapDeadline time.Time
	timer       *time.Timer
}

// NewBuffer creates a buffer that releases events to sink, waiting at
// most gapTimeout for a sequence gap to fill.
func NewBuffer(gapTimeout time.Duration, sink Sink) *Buffer {
	return &Buffer{
		gapTimeout: gapTimeout,
		sink:       sink,
		runs:       make(map[string]*runBuffer),
	}
}

func (b *Buffer) runBuffer(runID string) *runBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	rb, ok := b.runs[runID]
	if !ok {
		rb = &runBuffer{
			seen:    make(map[string]bool),
			pending: make(map[int64]*domain.Event),
		}
		b.runs[runID] = rb
	}
	return rb
}

// Offer feeds one event into the run's buffer. It returns true when the
// event was accepted and false when it was a duplicate.
func (b *Buffer) Offer(event *domain.Event) bool {
	rb := b.runBuffer(event.RunID)
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.seen[event.EventID] {
		return false
	}
	rb.seen[event.EventID] = true

	switch {
	case event.Sequence <= rb.released:
		// Late arrival below the watermark: the gap it belonged to was
		// already declared missing, release immediately and flag it.
		// Sequences are 1-based, so a fresh run has released == 0.
		b.sink(Release{Event: event, OrderingGap: true})
	case event.Sequence == rb.released+1:
		rb.released = event.Sequence
		b.sink(Release{Event: event})
		b.drain(rb)
	default:
		rb.pending[event.Sequence] = event
		if rb.gapDeadline.IsZero() {
			rb.gapDeadline = time.Now().Add(b.gapTimeout)
			rb.timer = time.AfterFunc(b.gapTimeout, func() { b.expire(event.RunID) })
		}
	}
	return true
}

// drain releases pending events that are now contiguous. Caller holds
// the run lock.
func (b *Buffer) drain(rb *runBuffer) {
	for {
		next, ok := rb.pending[rb.released+1]
		if !ok {
			break
		}
		delete(rb.pending, rb.released+1)
		rb.released = next.Sequence
		b.sink(Release{Event: next})
	}
	if len(rb.pending) == 0 {
		rb.gapDeadline = time.Time{}
		if rb.timer != nil {
			rb.timer.Stop()
			rb.timer = nil
		}
	}
}

// expire declares the current gap permanently missing and releases all
// buffered events in sequence order, flagged.
func (b *Buffer) expire(runID string) {
	rb := b.runBuffer(runID)
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.pending) == 0 {
		rb.gapDeadline = time.Time{}
		return
	}
	log.Printf("run %s: gap before sequence %d not filled within %s, releasing %d buffered events",
		runID, lowestSeq(rb.pending), b.gapTimeout, len(rb.pending))

	seqs := make([]int64, 0, len(rb.pending))
	for seq := range rb.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		event := rb.pending[seq]
		delete(rb.pending, seq)
		if seq > rb.released {
			rb.released = seq
		}
		b.sink(Release{Event: event, OrderingGap: true})
	}
	rb.gapDeadline = time.Time{}
	rb.timer = nil
}

// Flush force-releases everything buffered for a run, used when the run
// terminates before a gap deadline fires.
func (b *Buffer) Flush(runID string) {
	b.expire(runID)
}

// Drop discards a run's buffer state.
func (b *Buffer) Drop(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rb, ok := b.runs[runID]; ok {
		rb.mu.Lock()
		if rb.timer != nil {
			rb.timer.Stop()
		}
		rb.mu.Unlock()
		delete(b.runs, runID)
	}
}

// MarkSeen records event ids that were already applied (ledger replay),
// so re-delivery after a restart stays idempotent.
func (b *Buffer) MarkSeen(runID string, eventIDs []string, highestSeq int64) {
	rb := b.runBuffer(runID)
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for _, id := range eventIDs {
		rb.seen[id] = true
	}
	if highestSeq > rb.released {
		rb.released = highestSeq
	}
}

func lowestSeq(pending map[int64]*domain.Event) int64 {
	var low int64
	first := true
	for seq := range pending {
		if first || seq < low {
			low = seq
			first = false
		}
	}
	return low
}
