package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/model"
)

// Channel is the real-time connection to the classroom hub.
type Channel interface {
	Join(ctx context.Context, code, userID, name string) error
	SendUpdate(ctx context.Context, code, userID string, fd model.FocusData) error
	Leave(ctx context.Context, code, userID string) error
	// Events is closed when the connection is lost.
	Events() <-chan model.Envelope
	Close() error
}

// Dialer opens a new Channel.
type Dialer func(ctx context.Context) (Channel, error)

// Recorder posts samples to the durable trail.
type Recorder interface {
	PostSample(ctx context.Context, req model.FocusDataRequest) error
	PostBatch(ctx context.Context, reqs []model.FocusDataRequest) error
}

const wsWriteWait = 5 * time.Second

// WSChannel is a Channel over a gorilla websocket connection.
type WSChannel struct {
	conn   *websocket.Conn
	events chan model.Envelope
	done   chan struct{}

	writeMu sync.Mutex
	once    sync.Once
}

var _ Channel = (*WSChannel)(nil)

// WSDialer returns a Dialer for the hub websocket at url (ws://host:port/ws).
func WSDialer(url string) Dialer {
	return func(ctx context.Context) (Channel, error) {
		return DialWS(ctx, url)
	}
}

// DialWS connects to the hub websocket and starts reading events.
func DialWS(ctx context.Context, url string) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errs.Transport("dial "+url, err)
	}
	ch := &WSChannel{conn: conn, events: make(chan model.Envelope, 32), done: make(chan struct{})}
	go ch.readLoop()
	return ch, nil
}

func (c *WSChannel) readLoop() {
	defer close(c.events)
	for {
		var env model.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

func (c *WSChannel) send(ctx context.Context, event string, data any) error {
	env, err := model.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	return errs.Transport(event, c.conn.WriteJSON(env))
}

func (c *WSChannel) Join(ctx context.Context, code, userID, name string) error {
	return c.send(ctx, model.EventJoinClassroom, model.JoinClassroomPayload{ClassroomCode: code, UserID: userID, UserName: name})
}

func (c *WSChannel) SendUpdate(ctx context.Context, code, userID string, fd model.FocusData) error {
	return c.send(ctx, model.EventFocusUpdate, model.FocusUpdatePayload{UserID: userID, ClassroomCode: code, FocusData: fd})
}

func (c *WSChannel) Leave(ctx context.Context, code, userID string) error {
	return c.send(ctx, model.EventLeaveClassroom, model.LeaveClassroomPayload{ClassroomCode: code, UserID: userID})
}

func (c *WSChannel) Events() <-chan model.Envelope { return c.events }

func (c *WSChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// HTTPRecorder posts samples to the gateway's /focus-data endpoints.
type HTTPRecorder struct {
	base   string
	client *http.Client
}

var _ Recorder = (*HTTPRecorder)(nil)

// NewHTTPRecorder targets baseURL (e.g. http://localhost:5000/api).
func NewHTTPRecorder(baseURL string, client *http.Client) *HTTPRecorder {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPRecorder{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (r *HTTPRecorder) PostSample(ctx context.Context, req model.FocusDataRequest) error {
	return r.post(ctx, "/focus-data", req)
}

func (r *HTTPRecorder) PostBatch(ctx context.Context, reqs []model.FocusDataRequest) error {
	return r.post(ctx, "/focus-data/batch", model.FocusBatchRequest{Data: reqs})
}

func (r *HTTPRecorder) post(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return errs.Transport("POST "+path, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errs.NewValidationError(fmt.Sprintf("POST %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(msg))))
	default:
		return errs.Transport("POST "+path, fmt.Errorf("status %d", resp.StatusCode))
	}
}
