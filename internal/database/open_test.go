package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/config"
)

func TestOpenStore_SQLiteSeedDemoIsRepeatable(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{StoreDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "nested", "a.db")}

	st, err := OpenStore(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, SeedDemo(ctx, st, zap.NewNop()))
	require.NoError(t, SeedDemo(ctx, st, zap.NewNop()))

	c, err := st.GetClassroom(ctx, DemoClassroomCode)
	require.NoError(t, err)
	assert.Equal(t, "demo-teacher", c.OwnerID)
	list, err := st.ListParticipants(ctx, DemoClassroomCode)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestOpenStore_JSON(t *testing.T) {
	cfg := &config.Config{StoreDriver: config.DriverJSON, DataDir: t.TempDir()}
	st, err := OpenStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()
	assert.NoError(t, st.Ping(context.Background()))
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), &config.Config{StoreDriver: "redis"}, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenGorm_RejectsNonSQLDriver(t *testing.T) {
	_, err := OpenGorm(&config.Config{StoreDriver: config.DriverMongo})
	assert.Error(t, err)
}
