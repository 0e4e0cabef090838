package model

import "time"

// Classroom is a live session owned by a teacher. Never deleted, only deactivated.
type Classroom struct {
	Code      string     `json:"classCode" bson:"code"`
	OwnerID   string     `json:"teacherId" bson:"owner_id"`
	Name      string     `json:"name" bson:"name"`
	CreatedAt time.Time  `json:"createdAt" bson:"created_at"`
	Active    bool       `json:"active" bson:"active"`
	EndedAt   *time.Time `json:"endedAt,omitempty" bson:"ended_at,omitempty"`
}

// Participant is a non-owner member of a classroom, unique per (UserID, ClassroomCode).
type Participant struct {
	UserID        string    `json:"userId" bson:"user_id"`
	ClassroomCode string    `json:"classCode" bson:"classroom_code"`
	DisplayName   string    `json:"name" bson:"display_name"`
	JoinedAt      time.Time `json:"joinedAt" bson:"joined_at"`
	LastActiveAt  time.Time `json:"lastActive" bson:"last_active_at"`
}

// Sample is one attentiveness measurement as stored in the durable trail.
type Sample struct {
	UserID                string    `json:"userId" bson:"user_id" msgpack:"user_id"`
	ClassroomCode         *string   `json:"classCode" bson:"classroom_code" msgpack:"classroom_code"`
	SessionID             string    `json:"sessionId" bson:"session_id" msgpack:"session_id"`
	ProducedAt            time.Time `json:"timestamp" bson:"produced_at" msgpack:"produced_at"`
	AttentionScore        float64   `json:"attentionScore" bson:"attention_score" msgpack:"attention_score"`
	Posture               float64   `json:"posture" bson:"posture" msgpack:"posture"`
	TimeDistractedSeconds int       `json:"timeDistracted" bson:"time_distracted" msgpack:"time_distracted"`
	FacingCamera          bool      `json:"facingCamera" bson:"facing_camera" msgpack:"facing_camera"`
	EyeOpenness           float64   `json:"eyeOpenness" bson:"eye_openness" msgpack:"eye_openness"`
	MouthOpenness         float64   `json:"mouthOpenness" bson:"mouth_openness" msgpack:"mouth_openness"`
}

// Session is a per-user activation, optionally bound to a classroom.
type Session struct {
	ID            string     `json:"id" bson:"id"`
	UserID        string     `json:"userId" bson:"user_id"`
	ClassroomCode *string    `json:"classCode,omitempty" bson:"classroom_code,omitempty"`
	StartTime     time.Time  `json:"startTime" bson:"start_time"`
	EndTime       *time.Time `json:"endTime,omitempty" bson:"end_time,omitempty"`
	Active        bool       `json:"active" bson:"active"`
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ClassroomFromEntity(e *ClassroomEntity) Classroom {
	return Classroom{Code: e.Code, OwnerID: e.OwnerID, Name: e.Name, CreatedAt: e.CreatedAt, Active: e.Active, EndedAt: e.EndedAt}
}

func ParticipantFromEntity(e *ParticipantEntity) Participant {
	return Participant{UserID: e.UserID, ClassroomCode: e.ClassroomCode, DisplayName: e.DisplayName, JoinedAt: e.JoinedAt, LastActiveAt: e.LastActiveAt}
}

func SessionFromEntity(e *SessionEntity) Session {
	return Session{ID: e.ID, UserID: e.UserID, ClassroomCode: e.ClassroomCode, StartTime: e.StartTime, EndTime: e.EndTime, Active: e.Active}
}

func SampleToEntity(s Sample) SampleEntity {
	return SampleEntity{
		UserID:                s.UserID,
		ClassroomCode:         s.ClassroomCode,
		SessionID:             s.SessionID,
		ProducedAt:            s.ProducedAt,
		AttentionScore:        s.AttentionScore,
		Posture:               s.Posture,
		TimeDistractedSeconds: s.TimeDistractedSeconds,
		FacingCamera:          s.FacingCamera,
		EyeOpenness:           s.EyeOpenness,
		MouthOpenness:         s.MouthOpenness,
	}
}
