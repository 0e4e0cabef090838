package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/model"
	"github.com/psds-microservice/attention-service/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// NewUpgrader builds the websocket upgrader. An empty origin list accepts any origin.
func NewUpgrader(readBuf, writeBuf int, allowedOrigins []string) *websocket.Upgrader {
	u := &websocket.Upgrader{ReadBufferSize: readBuf, WriteBufferSize: writeBuf}
	if len(allowedOrigins) == 0 {
		u.CheckOrigin = func(*http.Request) bool { return true }
		return u
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	u.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil {
			_, ok := allowed[parsed.Host]
			return ok
		}
		return false
	}
	return u
}

// ClassroomWSHandler serves the real-time channel on /ws.
type ClassroomWSHandler struct {
	hub        service.HubForHandler
	svc        service.ClassroomServicer
	upgrader   *websocket.Upgrader
	sendBuffer int
	maxMsgSize int64
	logger     *zap.Logger
}

// NewClassroomWSHandler creates the websocket handler.
func NewClassroomWSHandler(hub service.HubForHandler, svc service.ClassroomServicer, upgrader *websocket.Upgrader, sendBuffer int, maxMsgSize int64, logger *zap.Logger) *ClassroomWSHandler {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &ClassroomWSHandler{
		hub:        hub,
		svc:        svc,
		upgrader:   upgrader,
		sendBuffer: sendBuffer,
		maxMsgSize: maxMsgSize,
		logger:     logger,
	}
}

// peer is one websocket connection. It is the hub Sink for every membership it holds.
type peer struct {
	conn *websocket.Conn
	send chan model.Envelope

	mu     sync.RWMutex
	closed bool

	// classroom code -> user id; only touched by the read loop
	joined map[string]string
	owner  map[string]bool
}

func (p *peer) Deliver(env model.Envelope) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.send <- env:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

// ServeWS upgrades the request and runs the event loop until the connection closes.
// Path: /ws
func (h *ClassroomWSHandler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	p := &peer{
		conn:   conn,
		send:   make(chan model.Envelope, h.sendBuffer),
		joined: make(map[string]string),
		owner:  make(map[string]bool),
	}
	go h.writePump(p)
	h.readPump(c.Request.Context(), p)
}

func (h *ClassroomWSHandler) readPump(ctx context.Context, p *peer) {
	defer func() {
		for code, userID := range p.joined {
			h.hub.Detach(code, userID, p)
		}
		p.close()
	}()
	// the request context is cancelled when the handler returns, not when the socket drops
	ctx = context.WithoutCancel(ctx)

	if h.maxMsgSize > 0 {
		p.conn.SetReadLimit(h.maxMsgSize)
	}
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read error", zap.Error(err))
			}
			return
		}
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			h.reply(p, model.EventError, model.ErrorPayload{Message: "malformed frame", Code: model.ErrorCodeInvalidRequest})
			continue
		}
		h.dispatch(ctx, p, env)
	}
}

func (h *ClassroomWSHandler) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()
	for {
		select {
		case env, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *ClassroomWSHandler) reply(p *peer, event string, data any) {
	env, err := model.NewEnvelope(event, data)
	if err != nil {
		h.logger.Error("reply marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	if !p.Deliver(env) {
		h.logger.Warn("reply dropped, send buffer full", zap.String("event", event))
	}
}

func (h *ClassroomWSHandler) replyError(p *peer, err error) {
	status, code := statusOf(err)
	h.reply(p, model.EventError, model.ErrorPayload{Message: userMessage(err, status), Code: code})
}

func decode(env model.Envelope, v any) error {
	if len(env.Data) == 0 {
		return errs.NewValidationError("missing data for " + env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return errs.NewValidationError("malformed data for " + env.Event)
	}
	return service.Validate(v)
}

func (h *ClassroomWSHandler) dispatch(ctx context.Context, p *peer, env model.Envelope) {
	var err error
	switch env.Event {
	case model.EventJoinClassroom:
		err = h.onJoin(ctx, p, env)
	case model.EventFocusUpdate:
		err = h.onFocusUpdate(ctx, p, env)
	case model.EventLeaveClassroom:
		err = h.onLeave(ctx, p, env)
	case model.EventCreateSession:
		err = h.onCreateSession(ctx, p, env)
	case model.EventEndSession:
		err = h.onEndSession(ctx, p, env)
	default:
		err = errs.NewValidationError("unknown event " + env.Event)
	}
	if err != nil {
		h.replyError(p, err)
	}
}

func (h *ClassroomWSHandler) onJoin(ctx context.Context, p *peer, env model.Envelope) error {
	var req model.JoinClassroomPayload
	if err := decode(env, &req); err != nil {
		return err
	}
	if prev, ok := p.joined[req.ClassroomCode]; ok && prev != req.UserID {
		h.hub.Detach(req.ClassroomCode, prev, p)
	}
	if err := h.hub.Join(ctx, req.ClassroomCode, req.UserID, req.UserName, req.IsTeacher, p); err != nil {
		return err
	}
	p.joined[req.ClassroomCode] = req.UserID
	p.owner[req.ClassroomCode] = req.IsTeacher
	h.reply(p, model.EventJoined, model.JoinedPayload{ClassroomCode: req.ClassroomCode, UserID: req.UserID})
	return nil
}

func (h *ClassroomWSHandler) onFocusUpdate(ctx context.Context, p *peer, env model.Envelope) error {
	var req model.FocusUpdatePayload
	if err := decode(env, &req); err != nil {
		return err
	}
	// a connection may only report for the member it joined as
	if p.joined[req.ClassroomCode] != req.UserID {
		return errs.ErrNotAMember
	}
	_, err := h.hub.Update(ctx, req.ClassroomCode, req.UserID, req.FocusData)
	return err
}

func (h *ClassroomWSHandler) onLeave(ctx context.Context, p *peer, env model.Envelope) error {
	var req model.LeaveClassroomPayload
	if err := decode(env, &req); err != nil {
		return err
	}
	if p.joined[req.ClassroomCode] != req.UserID {
		return nil
	}
	delete(p.joined, req.ClassroomCode)
	delete(p.owner, req.ClassroomCode)
	if err := h.hub.Leave(ctx, req.ClassroomCode, req.UserID); err != nil && !errs.IsMembership(err) {
		return err
	}
	return nil
}

func (h *ClassroomWSHandler) onCreateSession(ctx context.Context, p *peer, env model.Envelope) error {
	var req model.CreateSessionPayload
	if err := decode(env, &req); err != nil {
		return err
	}
	classroom, err := h.svc.CreateClassroom(ctx, req.TeacherID, req.Name)
	if err != nil {
		return err
	}
	if err := h.hub.Join(ctx, classroom.Code, req.TeacherID, "Teacher", true, p); err != nil {
		return err
	}
	p.joined[classroom.Code] = req.TeacherID
	p.owner[classroom.Code] = true
	h.reply(p, model.EventSessionCreated, model.SessionCreatedPayload{ClassCode: classroom.Code, SessionID: classroom.Code})
	return nil
}

func (h *ClassroomWSHandler) onEndSession(ctx context.Context, p *peer, env model.Envelope) error {
	var req model.EndSessionPayload
	if err := decode(env, &req); err != nil {
		return err
	}
	code := req.SessionID
	userID, ok := p.joined[code]
	if !ok || !p.owner[code] {
		return errs.ErrNotOwner
	}
	if _, err := h.hub.EndSession(ctx, code, userID); err != nil {
		return err
	}
	delete(p.joined, code)
	delete(p.owner, code)
	return nil
}
