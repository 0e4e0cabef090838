package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/attention"
	"github.com/psds-microservice/attention-service/internal/emitter"
	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/metrics"
	"github.com/psds-microservice/attention-service/internal/model"
	"github.com/psds-microservice/attention-service/internal/store"
)

// Sink receives the events addressed to one connected member.
// Deliver must not block; it returns false when the event was dropped.
type Sink interface {
	Deliver(env model.Envelope) bool
}

// Member is a read-only view of a connected participant.
type Member struct {
	UserID       string
	Name         string
	Owner        bool
	State        attention.State
	Last         *model.FocusData
	JoinedAt     time.Time
	LastActiveAt time.Time
}

func (m Member) payload() model.StudentPayload {
	p := model.StudentPayload{
		UserID:             m.UserID,
		Name:               m.Name,
		AttentivenessState: string(m.State),
	}
	if m.Last != nil {
		p.FocusScore = m.Last.AttentionScore
		p.TimeDistracted = m.Last.TimeDistracted
		p.Posture = m.Last.Posture
		p.EyeOpenness = m.Last.EyeOpenness
		p.MouthOpenness = m.Last.MouthOpenness
	} else {
		r := attention.InitialReading()
		p.FocusScore = r.AttentionScore
		p.Posture = r.Posture
		p.EyeOpenness = r.EyeOpenness
		p.MouthOpenness = r.MouthOpenness
	}
	return p
}

type member struct {
	Member
	sink Sink
}

type room struct {
	mu      sync.Mutex
	code    string
	closed  bool
	members map[string]*member
}

// ownerSinks must be called with r.mu held.
func (r *room) ownerSinks() []Sink {
	out := make([]Sink, 0, 1)
	for _, m := range r.members {
		if m.Owner {
			out = append(out, m.sink)
		}
	}
	return out
}

// HubForHandler — интерфейс хаба для websocket handler'а.
type HubForHandler interface {
	Join(ctx context.Context, code, userID, displayName string, isOwner bool, sink Sink) error
	Update(ctx context.Context, code, userID string, fd model.FocusData) (Member, error)
	Leave(ctx context.Context, code, userID string) error
	Detach(code, userID string, sink Sink)
	EndSession(ctx context.Context, code, ownerID string) (model.Classroom, error)
}

var _ HubForHandler = (*Hub)(nil)

// Hub tracks which members are connected to which classroom and relays
// attentiveness updates to classroom owners only.
//
// Locking: h.mu guards the room map and the ended set only; every room has its
// own mutex, so operations on different classrooms do not contend. Sinks are
// non-blocking, so events are delivered under the room lock and keep their
// per-room order.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
	// codes ended by this process; a room is never created for them again
	ended map[string]struct{}

	store      store.Store
	classrooms *lru.Cache[string, model.Classroom]
	writes     *WriteBehind
	emit       emitter.Emitter
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

// HubOption configures optional collaborators.
type HubOption func(*Hub)

func WithEmitter(e emitter.Emitter) HubOption  { return func(h *Hub) { h.emit = e } }
func WithMetrics(m *metrics.Metrics) HubOption { return func(h *Hub) { h.metrics = m } }
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// NewHub creates a hub reading classroom metadata from st through an LRU of cacheSize entries.
func NewHub(st store.Store, writes *WriteBehind, cacheSize int, log *zap.Logger, opts ...HubOption) (*Hub, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, model.Classroom](cacheSize)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		rooms:      make(map[string]*room),
		ended:      make(map[string]struct{}),
		store:      st,
		classrooms: cache,
		writes:     writes,
		emit:       emitter.Noop{},
		log:        log,
		now:        time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

func (h *Hub) classroom(ctx context.Context, code string) (model.Classroom, error) {
	if c, ok := h.classrooms.Get(code); ok {
		return c, nil
	}
	c, err := h.store.GetClassroom(ctx, code)
	if err != nil {
		return model.Classroom{}, err
	}
	// CloseClassroom may have cached a newer row while the store was read
	if found, _ := h.classrooms.ContainsOrAdd(code, c); found {
		if cached, ok := h.classrooms.Get(code); ok {
			return cached, nil
		}
	}
	return c, nil
}

// Remember primes the classroom cache, e.g. right after creation.
func (h *Hub) Remember(c model.Classroom) {
	h.classrooms.Add(c.Code, c)
}

// roomFor returns the live room of code, creating it if needed, or
// errs.ErrClassroomEnded once the classroom was closed.
func (h *Hub) roomFor(code string) (*room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, gone := h.ended[code]; gone {
		return nil, errs.ErrClassroomEnded
	}
	r, ok := h.rooms[code]
	if !ok {
		r = &room{code: code, members: make(map[string]*member)}
		h.rooms[code] = r
		h.metrics.SetActiveClassrooms(len(h.rooms))
	}
	return r, nil
}

func (h *Hub) existingRoom(code string) (*room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[code]
	return r, ok
}

func (h *Hub) deliver(sinks []Sink, env model.Envelope) {
	for _, s := range sinks {
		if s.Deliver(env) {
			h.metrics.EventDelivered(env.Event)
		} else {
			h.metrics.EventDropped()
			h.log.Warn("member send buffer full, event dropped", zap.String("event", env.Event))
		}
	}
}

func (h *Hub) envelope(event string, data any) model.Envelope {
	env, err := model.NewEnvelope(event, data)
	if err != nil {
		h.log.Error("event marshal failed", zap.String("event", event), zap.Error(err))
	}
	return env
}

// Join registers sink as userID's connection to classroom code. Joining again
// replaces the sink and display name and refreshes the timestamps. Owners must be
// the classroom's owner; other members become attentiveness subjects whose
// joins are announced to the owners.
func (h *Hub) Join(ctx context.Context, code, userID, displayName string, isOwner bool, sink Sink) error {
	if code == "" || userID == "" {
		return errs.NewValidationError("classroomCode and userId are required")
	}
	c, err := h.classroom(ctx, code)
	if err != nil {
		return err
	}
	if !c.Active {
		return errs.ErrClassroomEnded
	}
	if isOwner && c.OwnerID != userID {
		return errs.ErrNotOwner
	}

	now := h.now()
	for {
		r, err := h.roomFor(code)
		if err != nil {
			return err
		}
		r.mu.Lock()
		if r.closed {
			// ended or emptied between lookup and lock; roomFor tells which
			r.mu.Unlock()
			continue
		}

		m, existed := r.members[userID]
		if !existed {
			m = &member{Member: Member{UserID: userID, State: attention.StateUnknown, JoinedAt: now}}
			r.members[userID] = m
			h.metrics.MemberJoined()
		}
		m.Name = displayName
		m.Owner = isOwner
		m.sink = sink
		m.JoinedAt = now
		m.LastActiveAt = now

		if !isOwner {
			h.deliver(r.ownerSinks(), h.envelope(model.EventStudentJoined, m.payload()))
			// queued under the room lock so it stays ahead of this member's touches
			h.writes.UpsertParticipant(model.Participant{
				UserID:        userID,
				ClassroomCode: code,
				DisplayName:   displayName,
				JoinedAt:      now,
				LastActiveAt:  now,
			})
		}
		r.mu.Unlock()
		break
	}

	h.emit.Emit(emitter.Event{Type: emitter.MemberJoined, ClassroomCode: code, UserID: userID, Owner: isOwner, At: now})
	h.log.Info("member joined",
		zap.String("classroom_code", code),
		zap.String("user_id", userID),
		zap.Bool("owner", isOwner))
	return nil
}

// Update records a sample from a joined non-owner member, re-derives its state
// and relays a student-update to the owners.
func (h *Hub) Update(ctx context.Context, code, userID string, fd model.FocusData) (Member, error) {
	r, ok := h.existingRoom(code)
	if !ok {
		return Member{}, errs.ErrNotAMember
	}
	now := h.now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Member{}, errs.ErrNotAMember
	}
	m, ok := r.members[userID]
	if !ok {
		r.mu.Unlock()
		return Member{}, errs.ErrNotAMember
	}
	if m.Owner {
		r.mu.Unlock()
		return Member{}, errs.NewValidationError("classroom owners do not report attentiveness")
	}

	next := attention.NextState(m.State, attention.Blend(fd.AttentionScore, fd.Posture), fd.TimeDistracted)
	if next != m.State {
		h.metrics.StateChanged(string(next))
	}
	m.State = next
	sample := fd
	if sample.ProducedAt.IsZero() {
		sample.ProducedAt = now
	}
	m.Last = &sample
	m.LastActiveAt = now
	snap := m.Member

	h.deliver(r.ownerSinks(), h.envelope(model.EventStudentUpdate, snap.payload()))
	h.writes.TouchParticipant(code, userID, now)
	r.mu.Unlock()
	return snap, nil
}

// Leave removes userID from the classroom and tells the owners.
func (h *Hub) Leave(ctx context.Context, code, userID string) error {
	return h.leave(code, userID, nil)
}

// Detach is Leave for a closed connection: the membership is removed only if it
// still belongs to sink, so a newer connection of the same user is left alone.
func (h *Hub) Detach(code, userID string, sink Sink) {
	if err := h.leave(code, userID, sink); err != nil && !errors.Is(err, errs.ErrNotAMember) {
		h.log.Warn("detach failed", zap.String("classroom_code", code), zap.Error(err))
	}
}

func (h *Hub) leave(code, userID string, sink Sink) error {
	r, ok := h.existingRoom(code)
	if !ok {
		return errs.ErrNotAMember
	}
	r.mu.Lock()
	m, ok := r.members[userID]
	if !ok || r.closed || (sink != nil && m.sink != sink) {
		r.mu.Unlock()
		return errs.ErrNotAMember
	}
	delete(r.members, userID)
	h.metrics.MembersLeft(1)
	if !m.Owner {
		h.deliver(r.ownerSinks(), h.envelope(model.EventStudentLeft, model.StudentLeftPayload{StudentID: userID}))
	}
	empty := len(r.members) == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	if empty {
		h.mu.Lock()
		if h.rooms[code] == r {
			delete(h.rooms, code)
			h.metrics.SetActiveClassrooms(len(h.rooms))
		}
		h.mu.Unlock()
	}

	h.emit.Emit(emitter.Event{Type: emitter.MemberLeft, ClassroomCode: code, UserID: userID, Owner: m.Owner, At: h.now()})
	h.log.Info("member left", zap.String("classroom_code", code), zap.String("user_id", userID))
	return nil
}

// EndSession ends classroom code on behalf of ownerID.
func (h *Hub) EndSession(ctx context.Context, code, ownerID string) (model.Classroom, error) {
	c, err := h.classroom(ctx, code)
	if err != nil {
		return model.Classroom{}, err
	}
	if c.OwnerID != ownerID {
		return model.Classroom{}, errs.ErrNotOwner
	}
	return h.CloseClassroom(ctx, code)
}

// CloseClassroom deactivates the classroom in the store, sends class-ended to
// every connected member and forgets the membership set. Ending an already ended
// classroom returns it unchanged.
func (h *Hub) CloseClassroom(ctx context.Context, code string) (model.Classroom, error) {
	now := h.now()
	c, err := h.store.DeactivateClassroom(ctx, code, now)
	if err != nil {
		return model.Classroom{}, err
	}
	h.classrooms.Add(code, c)

	h.mu.Lock()
	h.ended[code] = struct{}{}
	r, ok := h.rooms[code]
	if ok {
		delete(h.rooms, code)
		h.metrics.SetActiveClassrooms(len(h.rooms))
	}
	h.mu.Unlock()

	if ok {
		r.mu.Lock()
		r.closed = true
		sinks := make([]Sink, 0, len(r.members))
		for _, m := range r.members {
			sinks = append(sinks, m.sink)
		}
		n := len(r.members)
		r.members = map[string]*member{}
		h.deliver(sinks, h.envelope(model.EventClassEnded, map[string]string{"classCode": code}))
		r.mu.Unlock()
		h.metrics.MembersLeft(n)
	}

	h.emit.Emit(emitter.Event{Type: emitter.ClassroomEnded, ClassroomCode: code, UserID: c.OwnerID, Owner: true, At: now})
	h.log.Info("classroom ended", zap.String("classroom_code", code))
	return c, nil
}

// Members returns the connected members of code, owners included, ordered by user id.
func (h *Hub) Members(code string) []Member {
	r, ok := h.existingRoom(code)
	if !ok {
		return nil
	}
	r.mu.Lock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		snap := m.Member
		if m.Last != nil {
			last := *m.Last
			snap.Last = &last
		}
		out = append(out, snap)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

const (
	needsAttentionFocus   = 0.4
	needsAttentionSeconds = 30
	needsAttentionLimit   = 3
)

// Insights aggregates the live state of the connected students of code.
func (h *Hub) Insights(code string) model.ClassroomInsights {
	in := model.ClassroomInsights{
		ClassCode:      code,
		NeedsAttention: []model.StudentInsight{},
		Students:       []model.StudentInsight{},
		GeneratedAt:    h.now(),
	}
	var focusSum float64
	var withSample int
	for _, m := range h.Members(code) {
		if m.Owner {
			continue
		}
		p := m.payload()
		si := model.StudentInsight{
			UserID:             m.UserID,
			Name:               m.Name,
			FocusScore:         p.FocusScore,
			AttentivenessState: string(m.State),
			TimeDistracted:     p.TimeDistracted,
		}
		in.Students = append(in.Students, si)
		switch m.State {
		case attention.StateAttentive:
			in.AttentiveCount++
		case attention.StateDistracted:
			in.DistractedCount++
		default:
			in.UnknownCount++
		}
		if m.Last == nil {
			continue
		}
		withSample++
		focusSum += m.Last.AttentionScore
		if m.Last.AttentionScore < needsAttentionFocus || m.Last.TimeDistracted > needsAttentionSeconds {
			in.NeedsAttention = append(in.NeedsAttention, si)
		}
	}
	in.StudentCount = len(in.Students)
	if withSample > 0 {
		in.AverageFocus = focusSum / float64(withSample)
	}
	sort.SliceStable(in.NeedsAttention, func(i, j int) bool {
		return in.NeedsAttention[i].FocusScore < in.NeedsAttention[j].FocusScore
	})
	if len(in.NeedsAttention) > needsAttentionLimit {
		in.NeedsAttention = in.NeedsAttention[:needsAttentionLimit]
	}
	return in
}
