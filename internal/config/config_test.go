package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"DB_DRIVER", "DB_PATH", "DB_USER", "DB_PASS", "DB_HOST", "DB_PORT", "DB_NAME",
	"PORT", "CORS_ORIGINS", "JWT_SECRET", "API_PASSWORD", "TOKEN_TTL",
}

// clearEnv はテスト中だけ設定用の環境変数を空にします。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	// カレントディレクトリの .env や noteen.toml を拾わないようにする
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "data/tasks.db", cfg.Database.Path)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)

	err = cfg.Validate()
	assert.ErrorIs(t, err, ErrMissingJWTSecret)
	assert.ErrorIs(t, err, ErrMissingPassword)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "custom.toml")
	content := `
[database]
driver = "mysql"
host = "db"
name = "tasks"

[server]
port = "9000"
cors-origins = ["https://a.example", "https://b.example"]

[auth]
jwt-secret = "from-file"
password = "pw"
token-ttl = "2h"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PORT", "9100")
	t.Setenv("CORS_ORIGINS", "https://c.example, https://d.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, "3306", cfg.Database.Port)
	assert.Equal(t, "tasks", cfg.Database.Name)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, []string{"https://c.example", "https://d.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	t.Run("explicit file must exist", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
		assert.Error(t, err)
	})

	t.Run("unsupported driver", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DB_DRIVER", "postgres")
		_, err := Load("")
		assert.ErrorContains(t, err, "unsupported DB_DRIVER")
	})

	t.Run("bad ttl", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TOKEN_TTL", "soon")
		_, err := Load("")
		assert.ErrorContains(t, err, "TOKEN_TTL")
	})
}
