// Package monitor drives one student's attentiveness session: it evaluates the latest
// camera frame on a fixed cadence, derives the state and hands samples to the sync client.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/attention"
	"github.com/psds-microservice/attention-service/internal/model"
)

// Sink accepts samples for delivery. *syncclient.Client implements it.
type Sink interface {
	Submit(fd model.FocusData) bool
}

// Status is what the monitor currently knows about the student.
type Status struct {
	Reading attention.Reading
	State   attention.State
	At      time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger; the default discards.
func WithLogger(log *zap.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// WithIntervals overrides the estimation and state cadence. The estimation interval is
// capped at attention.MaxInterval.
func WithIntervals(estimate, state time.Duration) Option {
	return func(m *Monitor) {
		if estimate > 0 {
			m.estimateEvery = min(estimate, attention.MaxInterval)
		}
		if state > 0 {
			m.stateEvery = state
		}
	}
}

// WithStateListener registers fn to be called whenever the derived state changes.
func WithStateListener(fn func(Status)) Option {
	return func(m *Monitor) { m.onChange = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor owns the estimator and the state tracker for one session.
type Monitor struct {
	est     *attention.Estimator
	tracker *attention.Tracker
	sink    Sink
	log     *zap.Logger
	now     func() time.Time

	estimateEvery time.Duration
	stateEvery    time.Duration
	onChange      func(Status)

	mu     sync.Mutex
	frame  attention.Geometry
	status Status
}

// New builds a monitor that feeds est and submits every estimate to sink.
func New(est *attention.Estimator, sink Sink, opts ...Option) *Monitor {
	m := &Monitor{
		est:           est,
		tracker:       attention.NewTracker(),
		sink:          sink,
		log:           zap.NewNop(),
		now:           time.Now,
		estimateEvery: attention.DefaultInterval,
		stateEvery:    attention.StateInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.status = Status{Reading: est.Last(), State: attention.StateUnknown, At: m.now()}
	return m
}

// Observe replaces the frame the next evaluation will score. A frame without a face
// stays current until the camera reports another one.
func (m *Monitor) Observe(g attention.Geometry) {
	m.mu.Lock()
	m.frame = g
	m.mu.Unlock()
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Estimate scores the current frame and submits the reading.
func (m *Monitor) Estimate() attention.Reading {
	m.mu.Lock()
	frame := m.frame
	m.mu.Unlock()

	r := m.est.Evaluate(frame)
	at := m.now()

	m.mu.Lock()
	m.status.Reading = r
	m.status.At = at
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.Submit(model.FocusData{
			ProducedAt:     at,
			AttentionScore: r.AttentionScore,
			Posture:        r.Posture,
			TimeDistracted: r.TimeDistractedSeconds,
			FacingCamera:   r.FacingCamera,
			EyeOpenness:    r.EyeOpenness,
			MouthOpenness:  r.MouthOpenness,
		})
	}
	return r
}

// UpdateState re-derives the state from the latest reading.
func (m *Monitor) UpdateState() attention.State {
	r := m.est.Last()
	next := m.tracker.Observe(r)

	m.mu.Lock()
	prev := m.status.State
	m.status.State = next
	st := m.status
	m.mu.Unlock()

	if next != prev {
		m.log.Debug("state changed",
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
			zap.Float64("score", r.AttentionScore),
			zap.Int("time_distracted", r.TimeDistractedSeconds))
		if m.onChange != nil {
			m.onChange(st)
		}
	}
	return next
}

// Run evaluates and re-derives the state on their tickers until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	estimate := time.NewTicker(m.estimateEvery)
	defer estimate.Stop()
	state := time.NewTicker(m.stateEvery)
	defer state.Stop()

	m.log.Info("monitor started",
		zap.Duration("estimate_every", m.estimateEvery),
		zap.Duration("state_every", m.stateEvery))
	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return ctx.Err()
		case <-estimate.C:
			m.Estimate()
		case <-state.C:
			m.UpdateState()
		}
	}
}
