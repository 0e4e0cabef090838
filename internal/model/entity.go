package model

import "time"

// ClassroomEntity — строка таблицы classrooms (GORM).
type ClassroomEntity struct {
	Code      string    `gorm:"size:16;primaryKey"`
	OwnerID   string    `gorm:"size:64;not null;index"`
	Name      string    `gorm:"size:255"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
	EndedAt   *time.Time
}

func (ClassroomEntity) TableName() string { return "classrooms" }

// ParticipantEntity — участник класса, уникален по (user_id, classroom_code) (GORM).
type ParticipantEntity struct {
	UserID        string    `gorm:"size:64;primaryKey"`
	ClassroomCode string    `gorm:"size:16;primaryKey"`
	DisplayName   string    `gorm:"size:255"`
	JoinedAt      time.Time `gorm:"not null"`
	LastActiveAt  time.Time `gorm:"not null"`
}

func (ParticipantEntity) TableName() string { return "participants" }

// SampleEntity — append-only attentiveness sample row (GORM).
type SampleEntity struct {
	ID                    uint    `gorm:"primaryKey;autoIncrement"`
	UserID                string  `gorm:"size:64;not null;index"`
	ClassroomCode         *string `gorm:"size:16;index"`
	SessionID             string  `gorm:"size:64"`
	ProducedAt            time.Time
	AttentionScore        float64
	Posture               float64
	TimeDistractedSeconds int
	FacingCamera          bool
	EyeOpenness           float64
	MouthOpenness         float64
	ReceivedAt            time.Time `gorm:"autoCreateTime"`
}

func (SampleEntity) TableName() string { return "samples" }

// SessionEntity — per-user study session (GORM).
type SessionEntity struct {
	ID            string  `gorm:"size:64;primaryKey"`
	UserID        string  `gorm:"size:64;not null;index"`
	ClassroomCode *string `gorm:"size:16;index"`
	StartTime     time.Time
	EndTime       *time.Time
	Active        bool `gorm:"not null;default:true"`
}

func (SessionEntity) TableName() string { return "sessions" }
