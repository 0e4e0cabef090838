package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/model"
)

const (
	classroomCollection   = "classrooms"
	participantCollection = "participants"
	sampleCollection      = "samples"
	sessionCollection     = "sessions"
)

// Mongo is a Store over MongoDB with one collection per logical collection.
type Mongo struct {
	client    *mongo.Client
	db        *mongo.Database
	opTimeout time.Duration
}

var _ Store = (*Mongo)(nil)

// ConnectMongo dials uri, pings and ensures the unique indexes.
func ConnectMongo(ctx context.Context, uri, database string, opTimeout time.Duration) (*Mongo, error) {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	clientOptions := options.Client().ApplyURI(uri).SetAppName("attention-service")
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	m := &Mongo{client: client, db: client.Database(database), opTimeout: opTimeout}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	indexes := map[string]mongo.IndexModel{
		classroomCollection: {
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("classrooms_code_unique"),
		},
		participantCollection: {
			Keys:    bson.D{{Key: "classroom_code", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("participants_member_unique"),
		},
		sessionCollection: {
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("sessions_id_unique"),
		},
	}
	for coll, idx := range indexes {
		if _, err := m.db.Collection(coll).Indexes().CreateOne(ctx, idx); err != nil {
			return fmt.Errorf("mongo: index %s: %w", coll, err)
		}
	}
	return nil
}

func (m *Mongo) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.opTimeout)
}

func (m *Mongo) CreateClassroom(ctx context.Context, c model.Classroom) error {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	if _, err := m.db.Collection(classroomCollection).InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.ErrDuplicate
		}
		return errs.Storage("create classroom", err)
	}
	return nil
}

func (m *Mongo) GetClassroom(ctx context.Context, code string) (model.Classroom, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	var c model.Classroom
	err := m.db.Collection(classroomCollection).FindOne(ctx, bson.D{{Key: "code", Value: code}}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Classroom{}, errs.ErrClassroomNotFound
	}
	if err != nil {
		return model.Classroom{}, errs.Storage("get classroom", err)
	}
	return c, nil
}

func (m *Mongo) DeactivateClassroom(ctx context.Context, code string, at time.Time) (model.Classroom, error) {
	opCtx, cancel := m.opCtx(ctx)
	defer cancel()
	_, err := m.db.Collection(classroomCollection).UpdateOne(opCtx,
		bson.D{{Key: "code", Value: code}, {Key: "active", Value: true}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "active", Value: false}, {Key: "ended_at", Value: at}}}},
	)
	if err != nil {
		return model.Classroom{}, errs.Storage("deactivate classroom", err)
	}
	return m.GetClassroom(ctx, code)
}

func (m *Mongo) UpsertParticipant(ctx context.Context, p model.Participant) error {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	filter := bson.D{{Key: "classroom_code", Value: p.ClassroomCode}, {Key: "user_id", Value: p.UserID}}
	_, err := m.db.Collection(participantCollection).ReplaceOne(ctx, filter, p, options.Replace().SetUpsert(true))
	return errs.Storage("upsert participant", err)
}

func (m *Mongo) TouchParticipant(ctx context.Context, code, userID string, at time.Time) error {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	filter := bson.D{
		{Key: "classroom_code", Value: code},
		{Key: "user_id", Value: userID},
		{Key: "last_active_at", Value: bson.D{{Key: "$lt", Value: at}}},
	}
	_, err := m.db.Collection(participantCollection).UpdateOne(ctx, filter,
		bson.D{{Key: "$set", Value: bson.D{{Key: "last_active_at", Value: at}}}})
	return errs.Storage("touch participant", err)
}

func (m *Mongo) ListParticipants(ctx context.Context, code string) ([]model.Participant, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	cur, err := m.db.Collection(participantCollection).Find(ctx,
		bson.D{{Key: "classroom_code", Value: code}},
		options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}}))
	if err != nil {
		return nil, errs.Storage("list participants", err)
	}
	out := make([]model.Participant, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.Storage("list participants", err)
	}
	return out, nil
}

func (m *Mongo) AppendSamples(ctx context.Context, samples ...model.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	docs := make([]interface{}, 0, len(samples))
	for _, s := range samples {
		docs = append(docs, s)
	}
	_, err := m.db.Collection(sampleCollection).InsertMany(ctx, docs)
	return errs.Storage("append samples", err)
}

func (m *Mongo) CreateSession(ctx context.Context, s model.Session) error {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	if _, err := m.db.Collection(sessionCollection).InsertOne(ctx, s); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.ErrDuplicate
		}
		return errs.Storage("create session", err)
	}
	return nil
}

func (m *Mongo) EndSession(ctx context.Context, id string, at time.Time) (model.Session, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	coll := m.db.Collection(sessionCollection)
	_, err := coll.UpdateOne(ctx,
		bson.D{{Key: "id", Value: id}, {Key: "active", Value: true}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "active", Value: false}, {Key: "end_time", Value: at}}}})
	if err != nil {
		return model.Session{}, errs.Storage("end session", err)
	}
	var s model.Session
	err = coll.FindOne(ctx, bson.D{{Key: "id", Value: id}}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Session{}, errs.ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, errs.Storage("end session", err)
	}
	return s, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
