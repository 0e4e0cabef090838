package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/model"
)

// Gorm is a Store over any gorm dialect (embedded sqlite or postgres).
type Gorm struct {
	db *gorm.DB
}

var _ Store = (*Gorm)(nil)

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (s *Gorm) CreateClassroom(ctx context.Context, c model.Classroom) error {
	ent := &model.ClassroomEntity{
		Code:      c.Code,
		OwnerID:   c.OwnerID,
		Name:      c.Name,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
		EndedAt:   c.EndedAt,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ent)
	if res.Error != nil {
		return errs.Storage("create classroom", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrDuplicate
	}
	return nil
}

func (s *Gorm) GetClassroom(ctx context.Context, code string) (model.Classroom, error) {
	var ent model.ClassroomEntity
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&ent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Classroom{}, errs.ErrClassroomNotFound
		}
		return model.Classroom{}, errs.Storage("get classroom", err)
	}
	return model.ClassroomFromEntity(&ent), nil
}

func (s *Gorm) DeactivateClassroom(ctx context.Context, code string, at time.Time) (model.Classroom, error) {
	err := s.db.WithContext(ctx).Model(&model.ClassroomEntity{}).
		Where("code = ? AND active = ?", code, true).
		Updates(map[string]interface{}{"active": false, "ended_at": at}).Error
	if err != nil {
		return model.Classroom{}, errs.Storage("deactivate classroom", err)
	}
	return s.GetClassroom(ctx, code)
}

func (s *Gorm) UpsertParticipant(ctx context.Context, p model.Participant) error {
	ent := &model.ParticipantEntity{
		UserID:        p.UserID,
		ClassroomCode: p.ClassroomCode,
		DisplayName:   p.DisplayName,
		JoinedAt:      p.JoinedAt,
		LastActiveAt:  p.LastActiveAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "classroom_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "joined_at", "last_active_at"}),
	}).Create(ent).Error
	return errs.Storage("upsert participant", err)
}

func (s *Gorm) TouchParticipant(ctx context.Context, code, userID string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.ParticipantEntity{}).
		Where("classroom_code = ? AND user_id = ? AND last_active_at < ?", code, userID, at).
		Update("last_active_at", at).Error
	return errs.Storage("touch participant", err)
}

func (s *Gorm) ListParticipants(ctx context.Context, code string) ([]model.Participant, error) {
	var ents []model.ParticipantEntity
	if err := s.db.WithContext(ctx).Where("classroom_code = ?", code).Order("joined_at").Find(&ents).Error; err != nil {
		return nil, errs.Storage("list participants", err)
	}
	out := make([]model.Participant, 0, len(ents))
	for i := range ents {
		out = append(out, model.ParticipantFromEntity(&ents[i]))
	}
	return out, nil
}

func (s *Gorm) AppendSamples(ctx context.Context, samples ...model.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	ents := make([]model.SampleEntity, 0, len(samples))
	for _, sm := range samples {
		ents = append(ents, model.SampleToEntity(sm))
	}
	return errs.Storage("append samples", s.db.WithContext(ctx).CreateInBatches(ents, 100).Error)
}

func (s *Gorm) CreateSession(ctx context.Context, ss model.Session) error {
	ent := &model.SessionEntity{
		ID:            ss.ID,
		UserID:        ss.UserID,
		ClassroomCode: ss.ClassroomCode,
		StartTime:     ss.StartTime,
		EndTime:       ss.EndTime,
		Active:        ss.Active,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ent)
	if res.Error != nil {
		return errs.Storage("create session", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrDuplicate
	}
	return nil
}

func (s *Gorm) EndSession(ctx context.Context, id string, at time.Time) (model.Session, error) {
	err := s.db.WithContext(ctx).Model(&model.SessionEntity{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]interface{}{"active": false, "end_time": at}).Error
	if err != nil {
		return model.Session{}, errs.Storage("end session", err)
	}
	var ent model.SessionEntity
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&ent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Session{}, errs.ErrSessionNotFound
		}
		return model.Session{}, errs.Storage("end session", err)
	}
	return model.SessionFromEntity(&ent), nil
}

func (s *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Gorm) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
