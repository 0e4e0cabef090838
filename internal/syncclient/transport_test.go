package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/model"
)

func TestHTTPRecorder_StatusMapping(t *testing.T) {
	var gotPath string
	var gotBatch model.FocusBatchRequest
	status := http.StatusCreated
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if strings.HasSuffix(r.URL.Path, "/batch") {
			_ = json.NewDecoder(r.Body).Decode(&gotBatch)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"success":false,"message":"nope"}`))
	}))
	defer srv.Close()

	rec := NewHTTPRecorder(srv.URL+"/api/", nil)
	ts := t0
	req := model.FocusDataRequest{UserID: "student-1", Timestamp: &ts, FocusData: &model.FocusData{FacingCamera: true}}
	ctx := context.Background()

	require.NoError(t, rec.PostSample(ctx, req))
	assert.Equal(t, "/api/focus-data", gotPath)

	status = http.StatusOK
	require.NoError(t, rec.PostBatch(ctx, []model.FocusDataRequest{req, req}))
	assert.Equal(t, "/api/focus-data/batch", gotPath)
	assert.Len(t, gotBatch.Data, 2)

	status = http.StatusBadRequest
	err := rec.PostSample(ctx, req)
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "nope")

	status = http.StatusServiceUnavailable
	err = rec.PostSample(ctx, req)
	var terr *errs.TransportError
	require.ErrorAs(t, err, &terr)

	srv.Close()
	err = rec.PostSample(ctx, req)
	require.ErrorAs(t, err, &terr)
	assert.False(t, errs.IsValidation(err))
}

// hubStub acknowledges joins and ends the class on leave.
func hubStub(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var env model.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			switch env.Event {
			case model.EventJoinClassroom:
				var p model.JoinClassroomPayload
				_ = json.Unmarshal(env.Data, &p)
				out, _ := model.NewEnvelope(model.EventJoined, model.JoinedPayload{ClassroomCode: p.ClassroomCode, UserID: p.UserID})
				_ = conn.WriteJSON(out)
			case model.EventFocusUpdate:
				out, _ := model.NewEnvelope(model.EventStudentUpdate, json.RawMessage(env.Data))
				_ = conn.WriteJSON(out)
			case model.EventLeaveClassroom:
				out, _ := model.NewEnvelope(model.EventClassEnded, nil)
				_ = conn.WriteJSON(out)
			}
		}
	}))
}

func nextEvent(t *testing.T, ch Channel) model.Envelope {
	t.Helper()
	select {
	case env, ok := <-ch.Events():
		require.True(t, ok, "events closed")
		return env
	case <-time.After(waitFor):
		t.Fatal("no event")
	}
	return model.Envelope{}
}

func TestWSChannel_RoundTrip(t *testing.T) {
	srv := hubStub(t)
	defer srv.Close()

	ctx := context.Background()
	ch, err := WSDialer("ws" + strings.TrimPrefix(srv.URL, "http"))(ctx)
	require.NoError(t, err)

	require.NoError(t, ch.Join(ctx, "FCS-1234", "student-1", "Alice"))
	env := nextEvent(t, ch)
	assert.Equal(t, model.EventJoined, env.Event)
	var joined model.JoinedPayload
	require.NoError(t, json.Unmarshal(env.Data, &joined))
	assert.Equal(t, "FCS-1234", joined.ClassroomCode)

	require.NoError(t, ch.SendUpdate(ctx, "FCS-1234", "student-1", model.FocusData{AttentionScore: 0.8}))
	env = nextEvent(t, ch)
	assert.Equal(t, model.EventStudentUpdate, env.Event)
	var upd model.FocusUpdatePayload
	require.NoError(t, json.Unmarshal(env.Data, &upd))
	assert.InDelta(t, 0.8, upd.FocusData.AttentionScore, 1e-9)

	require.NoError(t, ch.Leave(ctx, "FCS-1234", "student-1"))
	assert.Equal(t, model.EventClassEnded, nextEvent(t, ch).Event)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	select {
	case _, ok := <-ch.Events():
		assert.False(t, ok)
	case <-time.After(waitFor):
		t.Fatal("events not closed after Close")
	}
}

func TestWSChannel_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := DialWS(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	var terr *errs.TransportError
	require.ErrorAs(t, err, &terr)
}
