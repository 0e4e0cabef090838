// Package syncclient delivers a student's attentiveness samples to the classroom hub
// in real time and to the durable trail over HTTP, buffering what could not be posted.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/model"
	"github.com/psds-microservice/attention-service/internal/retryqueue"
)

const (
	DefaultFacingInterval  = 2 * time.Second
	DefaultDistractionStep = 5
	DefaultBuffer          = 16
	DefaultMinBackoff      = time.Second
	DefaultMaxBackoff      = 30 * time.Second

	opTimeout    = 10 * time.Second
	leaveTimeout = 2 * time.Second
)

// Config identifies the student and tunes delivery.
type Config struct {
	UserID        string
	DisplayName   string
	ClassroomCode string
	// SessionID is generated when empty and stays fixed for the client's lifetime.
	SessionID string

	FacingInterval  time.Duration
	DistractionStep int
	Buffer          int
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
}

func (c *Config) applyDefaults() {
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.FacingInterval <= 0 {
		c.FacingInterval = DefaultFacingInterval
	}
	if c.DistractionStep <= 0 {
		c.DistractionStep = DefaultDistractionStep
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = DefaultMaxBackoff
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger; the default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithClock replaces time.Now for samples submitted without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client owns one real-time channel and the durable-trail recorder for a session.
type Client struct {
	cfg   Config
	dial  Dialer
	rec   Recorder
	queue retryqueue.Queue
	log   *zap.Logger
	now   func() time.Time

	in       chan model.FocusData
	restored chan struct{}
	ended    chan struct{}

	mu         sync.Mutex
	ch         Channel
	lastFacing time.Time
	lastStep   int

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	endOnce   sync.Once
}

// New builds a stopped client for cfg. A nil queue means an in-memory ring of
// retryqueue.DefaultCapacity entries.
func New(cfg Config, dial Dialer, rec Recorder, queue retryqueue.Queue, opts ...Option) *Client {
	cfg.applyDefaults()
	if queue == nil {
		queue = retryqueue.NewRing(retryqueue.DefaultCapacity)
	}
	c := &Client{
		cfg:      cfg,
		dial:     dial,
		rec:      rec,
		queue:    queue,
		log:      zap.NewNop(),
		now:      time.Now,
		in:       make(chan model.FocusData, cfg.Buffer),
		restored: make(chan struct{}, 1),
		ended:    make(chan struct{}),
		lastStep: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("user_id", cfg.UserID), zap.String("classroom", cfg.ClassroomCode))
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// SessionID is the id stamped on every sample of this client.
func (c *Client) SessionID() string { return c.cfg.SessionID }

// Ended is closed when the hub ends the classroom.
func (c *Client) Ended() <-chan struct{} { return c.ended }

// Connected reports whether a joined real-time channel is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil
}

// Pending is the number of samples waiting in the retry queue.
func (c *Client) Pending() int { return c.queue.Size() }

// Start launches the sender and the connection loop. The retry queue is drained once
// right away. Start is a no-op after the first call.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		if ctx != nil {
			go func() {
				select {
				case <-ctx.Done():
					c.cancel()
				case <-c.ctx.Done():
				}
			}()
		}
		c.ConnectivityRestored()
		c.wg.Add(2)
		go c.sendLoop()
		go c.connLoop()
	})
}

// ConnectivityRestored asks the sender to drain the retry queue.
func (c *Client) ConnectivityRestored() {
	select {
	case c.restored <- struct{}{}:
	default:
	}
}

// Submit hands a sample to the sender without blocking. It returns false when the
// sample was filtered by the rate limit or the client is stopped.
func (c *Client) Submit(fd model.FocusData) bool {
	if c.ctx.Err() != nil {
		return false
	}
	if fd.SessionID == "" {
		fd.SessionID = c.cfg.SessionID
	}
	if fd.ProducedAt.IsZero() {
		fd.ProducedAt = c.now()
	}
	if !c.admit(fd) {
		return false
	}
	select {
	case c.in <- fd:
	default:
		c.enqueue(fd)
	}
	return true
}

// admit applies the send cadence: facing samples at most once per FacingInterval,
// non-facing samples only when the distraction time reaches a new step. Step 0 counts,
// so turning away is reported right away.
func (c *Client) admit(fd model.FocusData) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fd.FacingCamera {
		c.lastStep = -1
		if !c.lastFacing.IsZero() && fd.ProducedAt.Sub(c.lastFacing) < c.cfg.FacingInterval {
			return false
		}
		c.lastFacing = fd.ProducedAt
		return true
	}
	step := fd.TimeDistracted / c.cfg.DistractionStep
	if step <= c.lastStep {
		return false
	}
	c.lastStep = step
	return true
}

func (c *Client) entry(fd model.FocusData) retryqueue.Entry {
	return retryqueue.Entry{
		UserID:        c.cfg.UserID,
		ClassroomCode: c.cfg.ClassroomCode,
		ProducedAt:    fd.ProducedAt,
		Sample:        fd,
	}
}

func (c *Client) enqueue(fd model.FocusData) {
	if err := c.queue.Enqueue(c.entry(fd)); err != nil {
		c.log.Warn("retry queue enqueue failed", zap.Error(err))
	}
}

// Stop cancels every loop, waits for them, leaves the classroom and closes the channel.
// Samples still buffered move to the retry queue. Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
	buffered:
		for {
			select {
			case fd := <-c.in:
				c.enqueue(fd)
			default:
				break buffered
			}
		}
		ch := c.takeChannel()
		if ch == nil {
			return
		}
		select {
		case <-c.ended:
		default:
			ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
			if err := ch.Leave(ctx, c.cfg.ClassroomCode, c.cfg.UserID); err != nil {
				c.log.Debug("leave failed", zap.Error(err))
			}
			cancel()
		}
		_ = ch.Close()
	})
}

func (c *Client) sendLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.restored:
			c.drain()
		case fd := <-c.in:
			c.deliver(fd)
		}
	}
}

func (c *Client) deliver(fd model.FocusData) {
	if ch := c.channel(); ch != nil {
		ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
		if err := ch.SendUpdate(ctx, c.cfg.ClassroomCode, c.cfg.UserID, fd); err != nil {
			c.log.Debug("real-time update failed", zap.Error(err))
		}
		cancel()
	}
	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	defer cancel()
	err := c.rec.PostSample(ctx, c.entry(fd).Request())
	switch {
	case err == nil:
	case errs.IsValidation(err):
		c.log.Warn("sample rejected", zap.Error(err))
	default:
		c.log.Info("sample queued for retry", zap.Error(err))
		c.enqueue(fd)
	}
}

// drain posts the whole retry queue as one batch. A batch the gateway rejects as
// invalid is discarded so it cannot block later retries.
func (c *Client) drain() {
	err := c.queue.DrainAll(func(entries []retryqueue.Entry) error {
		reqs := make([]model.FocusDataRequest, len(entries))
		for i, e := range entries {
			reqs[i] = e.Request()
		}
		ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
		defer cancel()
		err := c.rec.PostBatch(ctx, reqs)
		if errs.IsValidation(err) {
			c.log.Warn("retry batch rejected, discarding", zap.Int("entries", len(entries)), zap.Error(err))
			return nil
		}
		return err
	})
	if err != nil {
		c.log.Info("retry drain failed", zap.Int("pending", c.queue.Size()), zap.Error(err))
	}
}

func (c *Client) channel() Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

func (c *Client) setChannel(ch Channel) {
	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()
}

func (c *Client) takeChannel() Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.ch
	c.ch = nil
	return ch
}

func (c *Client) connLoop() {
	defer c.wg.Done()
	backoff := c.cfg.MinBackoff
	for c.ctx.Err() == nil {
		ch, err := c.connect()
		if err != nil {
			c.log.Info("connect failed", zap.Duration("retry_in", backoff), zap.Error(err))
			if !c.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, c.cfg.MaxBackoff)
			continue
		}
		backoff = c.cfg.MinBackoff
		c.setChannel(ch)
		c.ConnectivityRestored()
		c.log.Info("joined classroom")

		if done := c.watch(ch); done {
			return
		}
		c.takeChannel()
		_ = ch.Close()
		c.log.Info("connection lost")
		if !c.sleep(backoff) {
			return
		}
	}
}

func (c *Client) connect() (Channel, error) {
	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	defer cancel()
	ch, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Join(ctx, c.cfg.ClassroomCode, c.cfg.UserID, c.cfg.DisplayName); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// watch consumes hub events until the channel drops (false) or the client is done (true).
func (c *Client) watch(ch Channel) bool {
	events := ch.Events()
	for {
		select {
		case <-c.ctx.Done():
			return true
		case env, ok := <-events:
			if !ok {
				return false
			}
			switch env.Event {
			case model.EventClassEnded:
				c.log.Info("classroom ended by teacher")
				c.finish(ch)
				return true
			case model.EventError:
				if ended := c.onError(ch, env); ended {
					c.finish(ch)
					return true
				}
			}
		}
	}
}

func (c *Client) finish(ch Channel) {
	c.takeChannel()
	_ = ch.Close()
	c.endOnce.Do(func() { close(c.ended) })
	c.cancel()
}

// onError handles an error event and reports whether the classroom is over.
func (c *Client) onError(ch Channel, env model.Envelope) bool {
	var p model.ErrorPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		c.log.Debug("unreadable error event", zap.Error(err))
		return false
	}
	switch p.Code {
	case model.ErrorCodeClassroomEnded:
		c.log.Info("classroom already ended")
		return true
	case model.ErrorCodeRejoinRequired:
	default:
		c.log.Warn("hub error", zap.String("code", p.Code), zap.String("message", p.Message))
		return false
	}
	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	defer cancel()
	if err := ch.Join(ctx, c.cfg.ClassroomCode, c.cfg.UserID, c.cfg.DisplayName); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("rejoin failed", zap.Error(err))
		return false
	}
	c.log.Info("rejoined classroom")
	return false
}

func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
