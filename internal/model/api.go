package model

import "time"

// CreateClassroomRequest is the request body for POST /classroom.
type CreateClassroomRequest struct {
	TeacherID string `json:"teacherId" binding:"required"`
	Name      string `json:"name"`
}

// EndClassroomRequest is the optional body for POST /classroom/:code/end.
type EndClassroomRequest struct {
	TeacherID string `json:"teacherId"`
}

// CreateSessionRequest is the request body for POST /sessions.
type CreateSessionRequest struct {
	UserID    string     `json:"userId" binding:"required"`
	ClassCode string     `json:"classCode"`
	StartTime *time.Time `json:"startTime"`
}

// EndSessionRequest is the body for PUT /sessions/:id.
type EndSessionRequest struct {
	EndTime *time.Time `json:"endTime"`
}

// FocusDataRequest is one durable-trail entry, used by POST /focus-data and inside batches.
type FocusDataRequest struct {
	UserID    string     `json:"userId" validate:"required" msgpack:"user_id"`
	ClassCode string     `json:"classCode,omitempty" msgpack:"class_code"`
	Timestamp *time.Time `json:"timestamp" validate:"required" msgpack:"timestamp"`
	FocusData *FocusData `json:"focusData" validate:"required" msgpack:"focus_data"`
}

// FocusBatchRequest is the body for POST /focus-data/batch.
type FocusBatchRequest struct {
	Data []FocusDataRequest `json:"data"`
}

// ToSample flattens the request into a storable sample.
func (r FocusDataRequest) ToSample() Sample {
	s := Sample{UserID: r.UserID, ClassroomCode: StringPtr(r.ClassCode)}
	if r.Timestamp != nil {
		s.ProducedAt = *r.Timestamp
	}
	if r.FocusData != nil {
		fd := r.FocusData
		s.SessionID = fd.SessionID
		s.AttentionScore = fd.AttentionScore
		s.Posture = fd.Posture
		s.TimeDistractedSeconds = fd.TimeDistracted
		s.FacingCamera = fd.FacingCamera
		s.EyeOpenness = fd.EyeOpenness
		s.MouthOpenness = fd.MouthOpenness
	}
	return s
}

// ClassroomResponse is returned by GET /classroom/:code.
type ClassroomResponse struct {
	Success   bool          `json:"success"`
	Classroom Classroom     `json:"classroom"`
	Students  []Participant `json:"students"`
}

// StudentInsight is one row of the live insights view.
type StudentInsight struct {
	UserID             string  `json:"userId"`
	Name               string  `json:"name"`
	FocusScore         float64 `json:"focusScore"`
	AttentivenessState string  `json:"attentivenessState"`
	TimeDistracted     int     `json:"timeDistracted"`
}

// ClassroomInsights aggregates the live state of a classroom for its owner.
type ClassroomInsights struct {
	ClassCode       string           `json:"classCode"`
	StudentCount    int              `json:"studentCount"`
	AverageFocus    float64          `json:"averageClassFocus"`
	AttentiveCount  int              `json:"attentiveCount"`
	DistractedCount int              `json:"distractedCount"`
	UnknownCount    int              `json:"unknownCount"`
	NeedsAttention  []StudentInsight `json:"needsAttention"`
	Students        []StudentInsight `json:"students"`
	GeneratedAt     time.Time        `json:"generatedAt"`
}
