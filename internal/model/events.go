package model

import (
	"encoding/json"
	"time"
)

// Websocket event names.
const (
	EventJoinClassroom  = "join-classroom"
	EventLeaveClassroom = "leave-classroom"
	EventFocusUpdate    = "focus-update"
	EventCreateSession  = "create-session"
	EventEndSession     = "end-session"

	EventJoined         = "joined"
	EventStudentJoined  = "student-joined"
	EventStudentUpdate  = "student-update"
	EventStudentLeft    = "student-left"
	EventClassEnded     = "class-ended"
	EventSessionCreated = "session-created"
	EventError          = "error"
)

// Machine codes carried in ErrorPayload.Code.
const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeClassroomEnded = "classroom_ended"
	ErrorCodeRejoinRequired = "rejoin_required"
	ErrorCodeForbidden      = "forbidden"
	ErrorCodeDuplicate      = "duplicate"
	ErrorCodeInternal       = "internal"
)

// Envelope is the frame exchanged on the real-time channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope. A nil data yields an event without payload.
func NewEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return env, err
	}
	env.Data = raw
	return env, nil
}

// JoinClassroomPayload — client→server join-classroom.
type JoinClassroomPayload struct {
	ClassroomCode string `json:"classroomCode" validate:"required"`
	UserID        string `json:"userId" validate:"required"`
	UserName      string `json:"userName"`
	IsTeacher     bool   `json:"isTeacher"`
}

// LeaveClassroomPayload — client→server leave-classroom.
type LeaveClassroomPayload struct {
	ClassroomCode string `json:"classroomCode" validate:"required"`
	UserID        string `json:"userId" validate:"required"`
}

// FocusData is a sample without its user/classroom identity.
type FocusData struct {
	SessionID      string    `json:"sessionId" msgpack:"session_id"`
	ProducedAt     time.Time `json:"producedAt,omitempty" msgpack:"produced_at"`
	AttentionScore float64   `json:"attentionScore" validate:"gte=0,lte=1" msgpack:"attention_score"`
	Posture        float64   `json:"posture" validate:"gte=0,lte=1" msgpack:"posture"`
	TimeDistracted int       `json:"timeDistracted" validate:"gte=0" msgpack:"time_distracted"`
	FacingCamera   bool      `json:"facingCamera" msgpack:"facing_camera"`
	EyeOpenness    float64   `json:"eyeOpenness" validate:"gte=0,lte=1" msgpack:"eye_openness"`
	MouthOpenness  float64   `json:"mouthOpenness" validate:"gte=0,lte=1" msgpack:"mouth_openness"`
}

// FocusUpdatePayload — client→server focus-update.
type FocusUpdatePayload struct {
	UserID        string    `json:"userId" validate:"required"`
	ClassroomCode string    `json:"classroomCode" validate:"required"`
	FocusData     FocusData `json:"focusData"`
}

// CreateSessionPayload — client→server create-session.
type CreateSessionPayload struct {
	TeacherID string `json:"teacherId" validate:"required"`
	Name      string `json:"name"`
}

// EndSessionPayload — client→server end-session. SessionID carries the classroom code.
type EndSessionPayload struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// StudentPayload — server→client student-joined / student-update.
type StudentPayload struct {
	UserID             string  `json:"userId"`
	Name               string  `json:"name"`
	FocusScore         float64 `json:"focusScore"`
	AttentivenessState string  `json:"attentivenessState"`
	TimeDistracted     int     `json:"timeDistracted"`
	Posture            float64 `json:"posture"`
	EyeOpenness        float64 `json:"eyeOpenness"`
	MouthOpenness      float64 `json:"mouthOpenness"`
}

// StudentLeftPayload — server→client student-left.
type StudentLeftPayload struct {
	StudentID string `json:"studentId"`
}

// SessionCreatedPayload — server→client session-created.
type SessionCreatedPayload struct {
	ClassCode string `json:"classCode"`
	SessionID string `json:"sessionId"`
}

// JoinedPayload — server→client acknowledgement of a join.
type JoinedPayload struct {
	ClassroomCode string `json:"classroomCode"`
	UserID        string `json:"userId"`
}

// ErrorPayload — server→client error.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
