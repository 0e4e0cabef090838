package syncclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/model"
	"github.com/psds-microservice/attention-service/internal/retryqueue"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeChannel struct {
	mu      sync.Mutex
	joins   int
	updates []model.FocusData
	leaves  int
	closed  bool

	events    chan model.Envelope
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan model.Envelope, 8)}
}

func (f *fakeChannel) Join(context.Context, string, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	return nil
}

func (f *fakeChannel) SendUpdate(_ context.Context, _, _ string, fd model.FocusData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fd)
	return nil
}

func (f *fakeChannel) Leave(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return nil
}

func (f *fakeChannel) Events() <-chan model.Envelope { return f.events }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.drop()
	return nil
}

func (f *fakeChannel) drop() { f.closeOnce.Do(func() { close(f.events) }) }

func (f *fakeChannel) emit(t *testing.T, event string, data any) {
	t.Helper()
	env, err := model.NewEnvelope(event, data)
	require.NoError(t, err)
	f.events <- env
}

func (f *fakeChannel) stats() (joins, updates, leaves int, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins, len(f.updates), f.leaves, f.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	fail     bool
}

func (d *fakeDialer) dial(context.Context) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errs.Transport("dial", errors.New("connection refused"))
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[len(d.channels)-1]
}

type fakeRecorder struct {
	mu      sync.Mutex
	samples []model.FocusDataRequest
	batches [][]model.FocusDataRequest
	err     error
}

func (r *fakeRecorder) PostSample(_ context.Context, req model.FocusDataRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.samples = append(r.samples, req)
	return nil
}

func (r *fakeRecorder) PostBatch(_ context.Context, reqs []model.FocusDataRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, reqs)
	return nil
}

func (r *fakeRecorder) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *fakeRecorder) counts() (samples, batches int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples), len(r.batches)
}

func testConfig() Config {
	return Config{
		UserID:        "student-1",
		DisplayName:   "Alice",
		ClassroomCode: "FCS-1234",
		MinBackoff:    10 * time.Millisecond,
		MaxBackoff:    20 * time.Millisecond,
	}
}

func facing(at time.Time) model.FocusData {
	return model.FocusData{ProducedAt: at, AttentionScore: 0.9, Posture: 0.9, FacingCamera: true, EyeOpenness: 1}
}

func away(at time.Time, td int) model.FocusData {
	return model.FocusData{ProducedAt: at, AttentionScore: 0.3, Posture: 0.9, TimeDistracted: td}
}

func TestClient_SubmitCadence(t *testing.T) {
	c := New(testConfig(), (&fakeDialer{}).dial, &fakeRecorder{}, nil)
	defer c.Stop()

	assert.True(t, c.Submit(facing(t0)))
	assert.False(t, c.Submit(facing(t0.Add(time.Second))))
	assert.True(t, c.Submit(facing(t0.Add(2*time.Second))))

	var sent []int
	for td := 0; td <= 12; td++ {
		if c.Submit(away(t0.Add(time.Duration(3+td)*time.Second), td)) {
			sent = append(sent, td)
		}
	}
	assert.Equal(t, []int{0, 5, 10}, sent, "turning away is reported at once, then every 5 s")

	assert.True(t, c.Submit(facing(t0.Add(20*time.Second))))
	assert.True(t, c.Submit(away(t0.Add(26*time.Second), 5)), "facing again resets the distraction step")
}

func TestClient_SubmitFillsSessionAndTime(t *testing.T) {
	cfg := testConfig()
	cfg.Buffer = 1
	c := New(cfg, (&fakeDialer{}).dial, &fakeRecorder{}, nil, WithClock(func() time.Time { return t0 }))
	defer c.Stop()

	require.True(t, c.Submit(model.FocusData{FacingCamera: true}))
	fd := <-c.in
	assert.Equal(t, t0, fd.ProducedAt)
	assert.Equal(t, c.SessionID(), fd.SessionID)
	assert.NotEmpty(t, c.SessionID())
}

func TestClient_FullBufferGoesToRetryQueue(t *testing.T) {
	cfg := testConfig()
	cfg.Buffer = 1
	q := retryqueue.NewRing(retryqueue.DefaultCapacity)
	c := New(cfg, (&fakeDialer{}).dial, &fakeRecorder{}, q)

	require.True(t, c.Submit(facing(t0)))
	require.True(t, c.Submit(facing(t0.Add(2*time.Second))))
	assert.Equal(t, 1, q.Size())

	c.Stop()
	assert.Equal(t, 2, q.Size(), "buffered sample moves to the queue on stop")
	assert.False(t, c.Submit(facing(t0.Add(4*time.Second))))
}

func TestClient_DeliversRealtimeAndDurable(t *testing.T) {
	d := &fakeDialer{}
	rec := &fakeRecorder{}
	c := New(testConfig(), d.dial, rec, nil)
	c.Start(context.Background())
	defer c.Stop()

	require.Eventually(t, c.Connected, waitFor, tick)
	require.True(t, c.Submit(facing(t0)))

	require.Eventually(t, func() bool {
		samples, _ := rec.counts()
		_, updates, _, _ := d.last().stats()
		return samples == 1 && updates == 1
	}, waitFor, tick)

	rec.mu.Lock()
	got := rec.samples[0]
	rec.mu.Unlock()
	assert.Equal(t, "student-1", got.UserID)
	assert.Equal(t, "FCS-1234", got.ClassCode)
	require.NotNil(t, got.Timestamp)
	assert.True(t, got.Timestamp.Equal(t0))
	assert.Equal(t, 0, c.Pending())
}

func TestClient_TransportFailureQueuesThenDrains(t *testing.T) {
	d := &fakeDialer{}
	rec := &fakeRecorder{}
	rec.setErr(errs.Transport("POST /focus-data", errors.New("network down")))
	c := New(testConfig(), d.dial, rec, nil)
	c.Start(context.Background())
	defer c.Stop()

	require.True(t, c.Submit(facing(t0)))
	require.True(t, c.Submit(facing(t0.Add(2*time.Second))))
	require.Eventually(t, func() bool { return c.Pending() == 2 }, waitFor, tick)

	rec.setErr(nil)
	c.ConnectivityRestored()
	require.Eventually(t, func() bool { return c.Pending() == 0 }, waitFor, tick)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.batches, 1)
	assert.Len(t, rec.batches[0], 2)
}

func TestClient_FailedDrainKeepsQueue(t *testing.T) {
	q := retryqueue.NewRing(retryqueue.DefaultCapacity)
	require.NoError(t, q.Enqueue(retryqueue.Entry{UserID: "student-1", ProducedAt: t0, Sample: facing(t0)}))
	rec := &fakeRecorder{}
	rec.setErr(errs.Transport("POST /focus-data/batch", errors.New("network down")))

	c := New(testConfig(), (&fakeDialer{fail: true}).dial, rec, q)
	c.Start(context.Background())
	c.ConnectivityRestored()
	time.Sleep(50 * time.Millisecond)
	c.Stop()

	assert.Equal(t, 1, q.Size())
}

func TestClient_ValidationFailureIsDropped(t *testing.T) {
	rec := &fakeRecorder{}
	rec.setErr(errs.NewValidationError("POST /focus-data: 400"))
	c := New(testConfig(), (&fakeDialer{}).dial, rec, nil)
	c.Start(context.Background())

	require.True(t, c.Submit(facing(t0)))
	require.Eventually(t, func() bool { return len(c.in) == 0 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	assert.Equal(t, 0, c.Pending())
}

func TestClient_DrainsAtStartup(t *testing.T) {
	q := retryqueue.NewRing(retryqueue.DefaultCapacity)
	for i := range 3 {
		at := t0.Add(time.Duration(i) * time.Second)
		require.NoError(t, q.Enqueue(retryqueue.Entry{UserID: "student-1", ClassroomCode: "FCS-1234", ProducedAt: at, Sample: facing(at)}))
	}
	rec := &fakeRecorder{}
	c := New(testConfig(), (&fakeDialer{fail: true}).dial, rec, q)
	c.Start(context.Background())
	defer c.Stop()

	require.Eventually(t, func() bool { return q.Size() == 0 }, waitFor, tick)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.batches, 1)
	assert.Len(t, rec.batches[0], 3)
	assert.Equal(t, "FCS-1234", rec.batches[0][0].ClassCode)
}

func TestClient_ClassEndedStopsEverything(t *testing.T) {
	d := &fakeDialer{}
	c := New(testConfig(), d.dial, &fakeRecorder{}, nil)
	c.Start(context.Background())
	require.Eventually(t, c.Connected, waitFor, tick)

	ch := d.last()
	ch.emit(t, model.EventClassEnded, nil)

	select {
	case <-c.Ended():
	case <-time.After(waitFor):
		t.Fatal("client did not observe class-ended")
	}
	assert.False(t, c.Submit(facing(t0)))

	c.Stop()
	c.Stop()
	_, _, leaves, closed := ch.stats()
	assert.True(t, closed)
	assert.Zero(t, leaves, "no leave after the teacher ended the class")

	dials := d.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, dials, d.count(), "no reconnect after end")
}

func TestClient_EndedErrorOnJoin(t *testing.T) {
	d := &fakeDialer{}
	c := New(testConfig(), d.dial, &fakeRecorder{}, nil)
	c.Start(context.Background())
	defer c.Stop()
	require.Eventually(t, c.Connected, waitFor, tick)

	d.last().emit(t, model.EventError, model.ErrorPayload{Message: "classroom session has ended", Code: model.ErrorCodeClassroomEnded})
	select {
	case <-c.Ended():
	case <-time.After(waitFor):
		t.Fatal("client did not stop on an ended classroom")
	}
}

func TestClient_RejoinOnMembershipError(t *testing.T) {
	d := &fakeDialer{}
	c := New(testConfig(), d.dial, &fakeRecorder{}, nil)
	c.Start(context.Background())
	defer c.Stop()
	require.Eventually(t, c.Connected, waitFor, tick)

	ch := d.last()
	ch.emit(t, model.EventError, model.ErrorPayload{Message: "rejoin required", Code: model.ErrorCodeRejoinRequired})
	require.Eventually(t, func() bool {
		joins, _, _, _ := ch.stats()
		return joins == 2
	}, waitFor, tick)

	ch.emit(t, model.EventError, model.ErrorPayload{Message: "bad", Code: model.ErrorCodeInvalidRequest})
	time.Sleep(20 * time.Millisecond)
	joins, _, _, _ := ch.stats()
	assert.Equal(t, 2, joins)
}

func TestClient_ReconnectsAndRejoins(t *testing.T) {
	d := &fakeDialer{}
	rec := &fakeRecorder{}
	q := retryqueue.NewRing(retryqueue.DefaultCapacity)
	c := New(testConfig(), d.dial, rec, q)
	c.Start(context.Background())
	defer c.Stop()
	require.Eventually(t, c.Connected, waitFor, tick)

	require.NoError(t, q.Enqueue(retryqueue.Entry{UserID: "student-1", ProducedAt: t0, Sample: facing(t0)}))
	first := d.last()
	first.drop()

	require.Eventually(t, func() bool { return d.count() == 2 && c.Connected() }, waitFor, tick)
	joins, _, _, _ := d.last().stats()
	assert.Equal(t, 1, joins)
	require.Eventually(t, func() bool { return q.Size() == 0 }, waitFor, tick, "queue drains once connectivity is back")
}

func TestClient_StopLeavesAndCloses(t *testing.T) {
	d := &fakeDialer{}
	c := New(testConfig(), d.dial, &fakeRecorder{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	require.Eventually(t, c.Connected, waitFor, tick)

	c.Stop()
	_, _, leaves, closed := d.last().stats()
	assert.Equal(t, 1, leaves)
	assert.True(t, closed)
	assert.False(t, c.Connected())
}

func TestClient_ParentContextCancels(t *testing.T) {
	d := &fakeDialer{fail: true}
	c := New(testConfig(), d.dial, &fakeRecorder{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("stop did not return")
	}
	assert.False(t, c.Submit(facing(t0)))
}
