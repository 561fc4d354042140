package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"block-auction/internal/domain"

	"github.com/peterldowns/testy/check"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	check.NoError(t, err)
	check.Equal(t, 8080, cfg.Server.Port)
	check.Equal(t, "mysql", cfg.Storage.Driver)
	check.Equal(t, 30*time.Second, cfg.Leader.TTL)
	check.Equal(t, "@every 2s", cfg.Chain.BlockInterval)
	check.True(t, cfg.Chain.AdvanceBlocks)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/auction-test.db")
	t.Setenv("LEADER_TTL", "10s")

	cfg, err := Load()
	check.NoError(t, err)
	check.Equal(t, 9090, cfg.Server.Port)
	check.Equal(t, "sqlite", cfg.Storage.Driver)
	check.Equal(t, "/tmp/auction-test.db", cfg.Storage.SQLitePath)
	check.Equal(t, 10*time.Second, cfg.Leader.TTL)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 7000
instance:
  id: node-7
chain:
  block_interval: "@every 1s"
logging:
  level: debug
`
	check.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	check.NoError(t, err)
	check.Equal(t, 7000, cfg.Server.Port)
	check.Equal(t, "node-7", cfg.Instance.ID)
	check.Equal(t, "@every 1s", cfg.Chain.BlockInterval)
	check.Equal(t, "debug", cfg.Logging.Level)
	check.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	check.NoError(t, err)

	bad := *cfg
	bad.Storage.Driver = "postgres"
	var cfgErr *domain.ConfigError
	check.True(t, errors.As(bad.Validate(), &cfgErr))
	check.Equal(t, "storage.driver", cfgErr.Field)

	bad = *cfg
	bad.Leader.TTL = time.Second
	check.True(t, errors.As(bad.Validate(), &cfgErr))
	check.Equal(t, "leader.ttl", cfgErr.Field)

	bad = *cfg
	bad.Instance.ID = ""
	check.True(t, errors.Is(bad.Validate(), domain.ErrMissingValue))
}
