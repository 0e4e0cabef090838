package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/model"
)

const (
	classroomsFile   = "classrooms.json"
	participantsFile = "participants.json"
	sessionsFile     = "sessions.json"
	samplesFile      = "samples.jsonl"
)

// JSONFile keeps each collection in its own file under dir. Collections are held in
// memory and rewritten atomically (temp file + rename) on every mutation; samples
// are appended as JSON lines.
type JSONFile struct {
	dir string

	classroomsMu sync.RWMutex
	classrooms   map[string]model.Classroom

	participantsMu sync.RWMutex
	participants   map[participantKey]model.Participant

	sessionsMu sync.RWMutex
	sessions   map[string]model.Session

	samplesMu sync.Mutex
	samples   *os.File
}

type participantKey struct{ code, userID string }

var _ Store = (*JSONFile)(nil)

// OpenJSONFile loads (or initialises) the collections stored in dir.
func OpenJSONFile(dir string) (*JSONFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: %w", err)
	}
	s := &JSONFile{
		dir:          dir,
		classrooms:   make(map[string]model.Classroom),
		participants: make(map[participantKey]model.Participant),
		sessions:     make(map[string]model.Session),
	}

	var classrooms []model.Classroom
	if err := readCollection(s.path(classroomsFile), &classrooms); err != nil {
		return nil, err
	}
	for _, c := range classrooms {
		s.classrooms[c.Code] = c
	}
	var participants []model.Participant
	if err := readCollection(s.path(participantsFile), &participants); err != nil {
		return nil, err
	}
	for _, p := range participants {
		s.participants[participantKey{p.ClassroomCode, p.UserID}] = p
	}
	var sessions []model.Session
	if err := readCollection(s.path(sessionsFile), &sessions); err != nil {
		return nil, err
	}
	for _, ss := range sessions {
		s.sessions[ss.ID] = ss
	}

	f, err := os.OpenFile(s.path(samplesFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonfile: open samples: %w", err)
	}
	s.samples = f
	return s, nil
}

func (s *JSONFile) path(name string) string { return filepath.Join(s.dir, name) }

func (s *JSONFile) CreateClassroom(_ context.Context, c model.Classroom) error {
	s.classroomsMu.Lock()
	defer s.classroomsMu.Unlock()
	if _, ok := s.classrooms[c.Code]; ok {
		return errs.ErrDuplicate
	}
	s.classrooms[c.Code] = c
	if err := s.flushClassrooms(); err != nil {
		delete(s.classrooms, c.Code)
		return errs.Storage("create classroom", err)
	}
	return nil
}

func (s *JSONFile) GetClassroom(_ context.Context, code string) (model.Classroom, error) {
	s.classroomsMu.RLock()
	defer s.classroomsMu.RUnlock()
	c, ok := s.classrooms[code]
	if !ok {
		return model.Classroom{}, errs.ErrClassroomNotFound
	}
	return c, nil
}

func (s *JSONFile) DeactivateClassroom(_ context.Context, code string, at time.Time) (model.Classroom, error) {
	s.classroomsMu.Lock()
	defer s.classroomsMu.Unlock()
	c, ok := s.classrooms[code]
	if !ok {
		return model.Classroom{}, errs.ErrClassroomNotFound
	}
	if !c.Active {
		return c, nil
	}
	prev := c
	c.Active = false
	c.EndedAt = &at
	s.classrooms[code] = c
	if err := s.flushClassrooms(); err != nil {
		s.classrooms[code] = prev
		return prev, errs.Storage("deactivate classroom", err)
	}
	return c, nil
}

func (s *JSONFile) UpsertParticipant(_ context.Context, p model.Participant) error {
	s.participantsMu.Lock()
	defer s.participantsMu.Unlock()
	key := participantKey{p.ClassroomCode, p.UserID}
	prev, existed := s.participants[key]
	s.participants[key] = p
	if err := s.flushParticipants(); err != nil {
		if existed {
			s.participants[key] = prev
		} else {
			delete(s.participants, key)
		}
		return errs.Storage("upsert participant", err)
	}
	return nil
}

func (s *JSONFile) TouchParticipant(_ context.Context, code, userID string, at time.Time) error {
	s.participantsMu.Lock()
	defer s.participantsMu.Unlock()
	key := participantKey{code, userID}
	p, ok := s.participants[key]
	if !ok || !at.After(p.LastActiveAt) {
		return nil
	}
	p.LastActiveAt = at
	s.participants[key] = p
	return errs.Storage("touch participant", s.flushParticipants())
}

func (s *JSONFile) ListParticipants(_ context.Context, code string) ([]model.Participant, error) {
	s.participantsMu.RLock()
	defer s.participantsMu.RUnlock()
	out := make([]model.Participant, 0)
	for k, p := range s.participants {
		if k.code == code {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *JSONFile) AppendSamples(_ context.Context, samples ...model.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	s.samplesMu.Lock()
	defer s.samplesMu.Unlock()
	w := bufio.NewWriter(s.samples)
	enc := json.NewEncoder(w)
	for _, sm := range samples {
		if err := enc.Encode(sm); err != nil {
			return errs.Storage("append samples", err)
		}
	}
	if err := w.Flush(); err != nil {
		return errs.Storage("append samples", err)
	}
	return nil
}

func (s *JSONFile) CreateSession(_ context.Context, ss model.Session) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if _, ok := s.sessions[ss.ID]; ok {
		return errs.ErrDuplicate
	}
	s.sessions[ss.ID] = ss
	if err := s.flushSessions(); err != nil {
		delete(s.sessions, ss.ID)
		return errs.Storage("create session", err)
	}
	return nil
}

func (s *JSONFile) EndSession(_ context.Context, id string, at time.Time) (model.Session, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	ss, ok := s.sessions[id]
	if !ok {
		return model.Session{}, errs.ErrSessionNotFound
	}
	if !ss.Active {
		return ss, nil
	}
	prev := ss
	ss.Active = false
	ss.EndTime = &at
	s.sessions[id] = ss
	if err := s.flushSessions(); err != nil {
		s.sessions[id] = prev
		return prev, errs.Storage("end session", err)
	}
	return ss, nil
}

func (s *JSONFile) Ping(context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

func (s *JSONFile) Close() error {
	s.samplesMu.Lock()
	defer s.samplesMu.Unlock()
	return s.samples.Close()
}

func (s *JSONFile) flushClassrooms() error {
	out := make([]model.Classroom, 0, len(s.classrooms))
	for _, c := range s.classrooms {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return writeCollection(s.path(classroomsFile), out)
}

func (s *JSONFile) flushParticipants() error {
	out := make([]model.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClassroomCode != out[j].ClassroomCode {
			return out[i].ClassroomCode < out[j].ClassroomCode
		}
		return out[i].UserID < out[j].UserID
	})
	return writeCollection(s.path(participantsFile), out)
}

func (s *JSONFile) flushSessions() error {
	out := make([]model.Session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		out = append(out, ss)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return writeCollection(s.path(sessionsFile), out)
}

func readCollection(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jsonfile: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("jsonfile: decode %s: %w", path, err)
	}
	return nil
}

func writeCollection(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
