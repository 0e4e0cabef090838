// Package retryqueue buffers attentiveness samples that could not be delivered.
// It is a bounded, lossy-under-pressure log: when full, the oldest entry is evicted.
package retryqueue

import (
	"sync"
	"time"

	"github.com/psds-microservice/attention-service/internal/model"
)

// DefaultCapacity is the number of entries kept before the oldest is evicted.
const DefaultCapacity = 50

// Entry is one undelivered sample.
type Entry struct {
	UserID        string          `msgpack:"user_id"`
	ClassroomCode string          `msgpack:"classroom_code"`
	ProducedAt    time.Time       `msgpack:"produced_at"`
	Sample        model.FocusData `msgpack:"sample"`
}

// Request converts the entry into the durable-trail request shape.
func (e Entry) Request() model.FocusDataRequest {
	ts := e.ProducedAt
	fd := e.Sample
	return model.FocusDataRequest{UserID: e.UserID, ClassCode: e.ClassroomCode, Timestamp: &ts, FocusData: &fd}
}

// Queue is a bounded FIFO of undelivered entries.
type Queue interface {
	// Enqueue appends e, evicting the oldest entry when the queue is full.
	Enqueue(e Entry) error
	// DrainAll hands every queued entry to send as one batch. The batch is removed
	// only if send returns nil; otherwise the queue is left exactly as it was.
	DrainAll(send func([]Entry) error) error
	Size() int
}

type slot struct {
	seq   uint64
	entry Entry
}

// Ring is an in-memory Queue.
type Ring struct {
	mu      sync.Mutex
	drainMu sync.Mutex
	buf     []slot
	head    int
	count   int
	nextSeq uint64
	evicted uint64
}

var _ Queue = (*Ring)(nil)

// NewRing returns an in-memory queue holding at most capacity entries
// (DefaultCapacity when capacity is not positive).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]slot, capacity)}
}

func (r *Ring) Enqueue(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.push(e)
	return nil
}

func (r *Ring) push(e Entry) {
	r.nextSeq++
	s := slot{seq: r.nextSeq, entry: e}
	if r.count == len(r.buf) {
		r.buf[r.head] = s
		r.head = (r.head + 1) % len(r.buf)
		r.evicted++
		return
	}
	r.buf[(r.head+r.count)%len(r.buf)] = s
	r.count++
}

func (r *Ring) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Evicted returns how many entries were dropped because the ring was full.
func (r *Ring) Evicted() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

// Entries returns a copy of the queued entries, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, r.count)
	for _, s := range r.snapshot() {
		out = append(out, s.entry)
	}
	return out
}

func (r *Ring) snapshot() []slot {
	out := make([]slot, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// DrainAll sends without holding the ring lock, so Enqueue never waits on the network.
// Entries enqueued while send runs are kept for the next drain.
func (r *Ring) DrainAll(send func([]Entry) error) error {
	_, err := r.drain(send)
	return err
}

func (r *Ring) drain(send func([]Entry) error) (bool, error) {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	r.mu.Lock()
	snap := r.snapshot()
	r.mu.Unlock()
	if len(snap) == 0 {
		return false, nil
	}

	batch := make([]Entry, len(snap))
	for i, s := range snap {
		batch[i] = s.entry
	}
	if err := send(batch); err != nil {
		return false, err
	}

	r.mu.Lock()
	r.dropThrough(snap[len(snap)-1].seq)
	r.mu.Unlock()
	return true, nil
}

// dropThrough removes every queued entry with seq <= last.
func (r *Ring) dropThrough(last uint64) {
	for r.count > 0 && r.buf[r.head].seq <= last {
		r.buf[r.head] = slot{}
		r.head = (r.head + 1) % len(r.buf)
		r.count--
	}
}

// restore replaces the ring content, keeping at most the newest capacity entries.
func (r *Ring) restore(entries []Entry) {
	r.head, r.count = 0, 0
	for i := range r.buf {
		r.buf[i] = slot{}
	}
	for _, e := range entries {
		r.push(e)
	}
	r.evicted = 0
}
