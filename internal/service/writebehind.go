package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/metrics"
	"github.com/psds-microservice/attention-service/internal/model"
	"github.com/psds-microservice/attention-service/internal/store"
)

const writeBehindOpTimeout = 5 * time.Second

type memberKey struct{ code, userID string }

// WriteBehind applies participant writes to the store from one background worker.
// Upserts go through a bounded queue (full queue: drop, warn, count). Touches are
// coalesced per member so only the latest last-active time is written.
type WriteBehind struct {
	store   store.Store
	log     *zap.Logger
	metrics *metrics.Metrics

	upserts chan model.Participant

	touchMu sync.Mutex
	touches map[memberKey]time.Time
	kick    chan struct{}

	mu      sync.RWMutex
	closed  bool
	quit    chan struct{}
	stopped chan struct{}
}

func NewWriteBehind(st store.Store, size int, log *zap.Logger, m *metrics.Metrics) *WriteBehind {
	if size <= 0 {
		size = 1024
	}
	return &WriteBehind{
		store:   st,
		log:     log,
		metrics: m,
		upserts: make(chan model.Participant, size),
		touches: make(map[memberKey]time.Time),
		kick:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start runs the worker until Close.
func (w *WriteBehind) Start() {
	go w.run()
}

// UpsertParticipant queues p. Returns false when the write was dropped.
func (w *WriteBehind) UpsertParticipant(p model.Participant) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.upserts <- p:
		return true
	default:
		w.metrics.WriteBehindDrop()
		w.log.Warn("write-behind queue full, participant upsert dropped",
			zap.String("classroom_code", p.ClassroomCode), zap.String("user_id", p.UserID))
		return false
	}
}

// TouchParticipant records that the member was active at `at`.
func (w *WriteBehind) TouchParticipant(code, userID string, at time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	key := memberKey{code, userID}
	w.touchMu.Lock()
	if prev, ok := w.touches[key]; !ok || at.After(prev) {
		w.touches[key] = at
	}
	w.touchMu.Unlock()
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Close stops accepting writes, flushes what is queued and waits for the worker.
func (w *WriteBehind) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.quit)
	}
	w.mu.Unlock()
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WriteBehind) run() {
	defer close(w.stopped)
	for {
		select {
		case p := <-w.upserts:
			w.upsert(p)
		case <-w.kick:
			w.drainUpserts()
			w.flushTouches()
		case <-w.quit:
			w.drainUpserts()
			w.flushTouches()
			return
		}
	}
}

func (w *WriteBehind) drainUpserts() {
	for {
		select {
		case p := <-w.upserts:
			w.upsert(p)
		default:
			return
		}
	}
}

func (w *WriteBehind) upsert(p model.Participant) {
	ctx, cancel := context.WithTimeout(context.Background(), writeBehindOpTimeout)
	defer cancel()
	if err := w.store.UpsertParticipant(ctx, p); err != nil {
		w.metrics.WriteBehindFailure()
		w.log.Error("participant upsert failed",
			zap.String("classroom_code", p.ClassroomCode), zap.String("user_id", p.UserID), zap.Error(err))
	}
}

func (w *WriteBehind) flushTouches() {
	w.touchMu.Lock()
	pending := w.touches
	w.touches = make(map[memberKey]time.Time, len(pending))
	w.touchMu.Unlock()

	for key, at := range pending {
		ctx, cancel := context.WithTimeout(context.Background(), writeBehindOpTimeout)
		err := w.store.TouchParticipant(ctx, key.code, key.userID, at)
		cancel()
		if err != nil {
			w.metrics.WriteBehindFailure()
			w.log.Error("participant touch failed",
				zap.String("classroom_code", key.code), zap.String("user_id", key.userID), zap.Error(err))
		}
	}
}
