package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_PORT", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("WS_ALLOWED_ORIGIN", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "5000", cfg.HTTPPort)
	assert.Equal(t, DriverJSON, cfg.StoreDriver)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "data/attention.db", cfg.SQLitePath)
	assert.Empty(t, cfg.WSAllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_PortFallbackAndOrigins(t *testing.T) {
	t.Setenv("APP_PORT", "")
	t.Setenv("HTTP_PORT", "8088")
	t.Setenv("APP_HOST", "127.0.0.1")
	t.Setenv("GRPC_PORT", "9090")
	t.Setenv("WS_ALLOWED_ORIGIN", "http://a.test, http://b.test ,")
	t.Setenv("STORE_DRIVER", "SQLite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8088", cfg.Addr())
	assert.Equal(t, "127.0.0.1:9090", cfg.GRPCAddr())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.WSAllowedOrigins)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
}

func TestLoad_RejectsBadNumbers(t *testing.T) {
	t.Setenv("HUB_SEND_BUFFER", "lots")
	_, err := Load()
	assert.ErrorContains(t, err, "HUB_SEND_BUFFER")
}

func TestValidate(t *testing.T) {
	t.Setenv("HUB_SEND_BUFFER", "")
	base, err := Load()
	require.NoError(t, err)

	unknown := *base
	unknown.StoreDriver = "cassandra"
	assert.ErrorContains(t, unknown.Validate(), "unknown STORE_DRIVER")

	pg := *base
	pg.StoreDriver = DriverPostgres
	pg.AppEnv = "production"
	pg.DB.Password = ""
	assert.ErrorContains(t, pg.Validate(), "DB_PASSWORD")

	zeroBuf := *base
	zeroBuf.HubSendBuffer = 0
	assert.Error(t, zeroBuf.Validate())
}

func TestDatabaseURL_EscapesPassword(t *testing.T) {
	c := &Config{}
	c.DB.User = "svc"
	c.DB.Password = "p@ss word"
	c.DB.Host = "db"
	c.DB.Port = "5432"
	c.DB.Database = "attention"
	c.DB.SSLMode = "disable"
	assert.Equal(t, "postgres://svc:p%40ss+word@db:5432/attention?sslmode=disable", c.DatabaseURL())
}
