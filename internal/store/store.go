// Package store persists classrooms, participants, sessions and the append-only
// sample trail. Implementations offer per-key upsert semantics per collection.
package store

import (
	"context"
	"time"

	"github.com/psds-microservice/attention-service/internal/model"
)

// Store is the PersistenceStore contract used by the gateway and the hub's write-behind.
type Store interface {
	// CreateClassroom inserts c. errs.ErrDuplicate if the code is taken.
	CreateClassroom(ctx context.Context, c model.Classroom) error
	GetClassroom(ctx context.Context, code string) (model.Classroom, error)
	// DeactivateClassroom flips active to false once; later calls return the row unchanged.
	DeactivateClassroom(ctx context.Context, code string, at time.Time) (model.Classroom, error)

	// UpsertParticipant replaces the (UserID, ClassroomCode) row.
	UpsertParticipant(ctx context.Context, p model.Participant) error
	// TouchParticipant refreshes LastActiveAt; a missing row is not an error.
	TouchParticipant(ctx context.Context, code, userID string, at time.Time) error
	ListParticipants(ctx context.Context, code string) ([]model.Participant, error)

	AppendSamples(ctx context.Context, samples ...model.Sample) error

	CreateSession(ctx context.Context, s model.Session) error
	EndSession(ctx context.Context, id string, at time.Time) (model.Session, error)

	Ping(ctx context.Context) error
	Close() error
}
