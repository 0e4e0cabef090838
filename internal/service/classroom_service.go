package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/emitter"
	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/metrics"
	"github.com/psds-microservice/attention-service/internal/model"
	"github.com/psds-microservice/attention-service/internal/store"
)

const codeAttempts = 20

// ClassroomServicer — интерфейс сервиса классов для HTTP и websocket handler'ов.
type ClassroomServicer interface {
	CreateClassroom(ctx context.Context, teacherID, name string) (model.Classroom, error)
	GetClassroom(ctx context.Context, code string) (model.Classroom, []model.Participant, error)
	EndClassroom(ctx context.Context, code, teacherID string) (model.Classroom, error)
	Insights(ctx context.Context, code, teacherID string) (model.ClassroomInsights, error)
	CreateSession(ctx context.Context, req model.CreateSessionRequest) (model.Session, error)
	EndSession(ctx context.Context, id string, endTime *time.Time) (model.Session, error)
	RecordSample(ctx context.Context, req model.FocusDataRequest) error
	RecordBatch(ctx context.Context, reqs []model.FocusDataRequest) (int, error)
}

// ClassroomService implements the gateway operations over the store and the hub.
type ClassroomService struct {
	store   store.Store
	hub     *Hub
	emit    emitter.Emitter
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
	newCode func() string
}

var _ ClassroomServicer = (*ClassroomService)(nil)

// NewClassroomService creates the service. emit and m may be nil.
func NewClassroomService(st store.Store, hub *Hub, emit emitter.Emitter, m *metrics.Metrics, log *zap.Logger) *ClassroomService {
	if emit == nil {
		emit = emitter.Noop{}
	}
	return &ClassroomService{
		store:   st,
		hub:     hub,
		emit:    emit,
		metrics: m,
		log:     log,
		now:     time.Now,
		newCode: RandomClassroomCode,
	}
}

// RandomClassroomCode returns a code of the form FCS-NNNN.
func RandomClassroomCode() string {
	return fmt.Sprintf("FCS-%04d", 1000+rand.IntN(9000))
}

func (s *ClassroomService) CreateClassroom(ctx context.Context, teacherID, name string) (model.Classroom, error) {
	if teacherID == "" {
		return model.Classroom{}, errs.NewValidationError("teacherId is required", errs.FieldError{Field: "teacherId", Error: "is required"})
	}
	c := model.Classroom{
		OwnerID:   teacherID,
		Name:      name,
		CreatedAt: s.now().UTC(),
		Active:    true,
	}
	for attempt := 0; attempt < codeAttempts; attempt++ {
		c.Code = s.newCode()
		err := s.store.CreateClassroom(ctx, c)
		if errors.Is(err, errs.ErrDuplicate) {
			continue
		}
		if err != nil {
			return model.Classroom{}, err
		}
		s.hub.Remember(c)
		s.emit.Emit(emitter.Event{Type: emitter.ClassroomCreated, ClassroomCode: c.Code, UserID: teacherID, Owner: true, At: c.CreatedAt})
		s.log.Info("classroom created", zap.String("classroom_code", c.Code), zap.String("teacher_id", teacherID))
		return c, nil
	}
	return model.Classroom{}, fmt.Errorf("classroom code space exhausted after %d attempts", codeAttempts)
}

func (s *ClassroomService) GetClassroom(ctx context.Context, code string) (model.Classroom, []model.Participant, error) {
	c, err := s.store.GetClassroom(ctx, code)
	if err != nil {
		return model.Classroom{}, nil, err
	}
	students, err := s.store.ListParticipants(ctx, code)
	if err != nil {
		return model.Classroom{}, nil, err
	}
	return c, students, nil
}

// EndClassroom ends code. With a teacherID the caller must own the classroom.
func (s *ClassroomService) EndClassroom(ctx context.Context, code, teacherID string) (model.Classroom, error) {
	if teacherID != "" {
		return s.hub.EndSession(ctx, code, teacherID)
	}
	if _, err := s.store.GetClassroom(ctx, code); err != nil {
		return model.Classroom{}, err
	}
	return s.hub.CloseClassroom(ctx, code)
}

func (s *ClassroomService) Insights(ctx context.Context, code, teacherID string) (model.ClassroomInsights, error) {
	if teacherID == "" {
		return model.ClassroomInsights{}, errs.NewValidationError("teacherId is required", errs.FieldError{Field: "teacherId", Error: "is required"})
	}
	c, err := s.store.GetClassroom(ctx, code)
	if err != nil {
		return model.ClassroomInsights{}, err
	}
	if c.OwnerID != teacherID {
		return model.ClassroomInsights{}, errs.ErrNotOwner
	}
	return s.hub.Insights(code), nil
}

func (s *ClassroomService) CreateSession(ctx context.Context, req model.CreateSessionRequest) (model.Session, error) {
	if req.UserID == "" {
		return model.Session{}, errs.NewValidationError("userId is required", errs.FieldError{Field: "userId", Error: "is required"})
	}
	if req.ClassCode != "" {
		if _, err := s.store.GetClassroom(ctx, req.ClassCode); err != nil {
			return model.Session{}, err
		}
	}
	start := s.now().UTC()
	if req.StartTime != nil {
		start = *req.StartTime
	}
	ss := model.Session{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		ClassroomCode: model.StringPtr(req.ClassCode),
		StartTime:     start,
		Active:        true,
	}
	if err := s.store.CreateSession(ctx, ss); err != nil {
		return model.Session{}, err
	}
	s.log.Info("session started", zap.String("session_id", ss.ID), zap.String("user_id", ss.UserID))
	return ss, nil
}

func (s *ClassroomService) EndSession(ctx context.Context, id string, endTime *time.Time) (model.Session, error) {
	end := s.now().UTC()
	if endTime != nil {
		end = *endTime
	}
	ss, err := s.store.EndSession(ctx, id, end)
	if err != nil {
		return model.Session{}, err
	}
	s.log.Info("session ended", zap.String("session_id", id))
	return ss, nil
}

// RecordSample appends one sample to the durable trail.
func (s *ClassroomService) RecordSample(ctx context.Context, req model.FocusDataRequest) error {
	if err := Validate(req); err != nil {
		return err
	}
	if err := s.store.AppendSamples(ctx, req.ToSample()); err != nil {
		return err
	}
	s.metrics.SamplesAppended(1)
	return nil
}

// RecordBatch validates every entry first and appends all of them or none.
func (s *ClassroomService) RecordBatch(ctx context.Context, reqs []model.FocusDataRequest) (int, error) {
	if len(reqs) == 0 {
		return 0, errs.NewValidationError("data must be a non-empty array")
	}
	samples := make([]model.Sample, 0, len(reqs))
	for i, r := range reqs {
		if err := Validate(r); err != nil {
			var v *errs.ValidationError
			if errors.As(err, &v) {
				v.Message = fmt.Sprintf("invalid entry %d", i)
			}
			return 0, err
		}
		samples = append(samples, r.ToSample())
	}
	if err := s.store.AppendSamples(ctx, samples...); err != nil {
		return 0, err
	}
	s.metrics.SamplesAppended(len(samples))
	s.log.Debug("sample batch stored", zap.Int("count", len(samples)))
	return len(samples), nil
}
