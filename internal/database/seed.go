package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/psds-microservice/attention-service/internal/errs"
	"github.com/psds-microservice/attention-service/internal/model"
	"github.com/psds-microservice/attention-service/internal/store"
)

// RunSQLSeeds executes every database/seeds/*.sql in lexical order (sql drivers only).
func RunSQLSeeds(db *gorm.DB, log *zap.Logger) error {
	dir, err := findDir("seeds")
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, f := range files {
		body, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return fmt.Errorf("seed %s: %w", f, err)
		}
		if err := db.Exec(string(body)).Error; err != nil {
			return fmt.Errorf("seed %s: %w", f, err)
		}
		log.Info("seed applied", zap.String("file", f))
	}
	return nil
}

// DemoClassroomCode is the classroom created by SeedDemo.
const DemoClassroomCode = "FCS-0001"

// SeedDemo inserts a demo classroom with two students through the Store, so it
// works for every driver. Existing rows are left alone.
func SeedDemo(ctx context.Context, st store.Store, log *zap.Logger) error {
	now := time.Now().UTC()
	err := st.CreateClassroom(ctx, model.Classroom{
		Code:      DemoClassroomCode,
		OwnerID:   "demo-teacher",
		Name:      "Demo classroom",
		CreatedAt: now,
		Active:    true,
	})
	switch {
	case err == nil:
		log.Info("seed: demo classroom created", zap.String("classroom_code", DemoClassroomCode))
	case errors.Is(err, errs.ErrDuplicate):
		log.Info("seed: demo classroom already present", zap.String("classroom_code", DemoClassroomCode))
	default:
		return err
	}
	for i, name := range []string{"Alice", "Bob"} {
		p := model.Participant{
			UserID:        fmt.Sprintf("demo-student-%d", i+1),
			ClassroomCode: DemoClassroomCode,
			DisplayName:   name,
			JoinedAt:      now,
			LastActiveAt:  now,
		}
		if err := st.UpsertParticipant(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
