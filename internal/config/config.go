// Package config は .env・TOMLファイル・環境変数から設定を読み込みます。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultConfigFile は --config が指定されない場合に読み込むファイル名です。
const DefaultConfigFile = "noteen.toml"

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// Config はアプリケーション全体の設定です。
type Config struct {
	Database Database `toml:"database"`
	Server   Server   `toml:"server"`
	Auth     Auth     `toml:"auth"`
}

// Database はデータベース接続の設定です。
type Database struct {
	Driver string `toml:"driver"`
	// Path はSQLiteのファイルパスです。
	Path     string `toml:"path"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Name     string `toml:"name"`
}

// Server はHTTPサーバーの設定です。
type Server struct {
	Port        string   `toml:"port"`
	CORSOrigins []string `toml:"cors-origins"`
}

// Auth はAPI認証の設定です。
type Auth struct {
	JWTSecret string `toml:"jwt-secret"`
	// Password はログイン用のパスワードです。起動時にbcryptでハッシュ化されます。
	Password string        `toml:"password"`
	TokenTTL time.Duration `toml:"-"`
}

// fileConfig はTOMLファイルの構造です。期間は文字列で記述します。
type fileConfig struct {
	Database Database `toml:"database"`
	Server   Server   `toml:"server"`
	Auth     struct {
		JWTSecret string `toml:"jwt-secret"`
		Password  string `toml:"password"`
		TokenTTL  string `toml:"token-ttl"`
	} `toml:"auth"`
}

var (
	ErrMissingJWTSecret = errors.New("JWT_SECRET is not set")
	ErrMissingPassword  = errors.New("API_PASSWORD is not set")
)

// Default はデフォルト値で埋めた設定を返します。
func Default() *Config {
	return &Config{
		Database: Database{
			Driver: DriverSQLite,
			Path:   "data/tasks.db",
			Host:   "127.0.0.1",
			Port:   "3306",
		},
		Server: Server{
			Port:        "8080",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Auth: Auth{TokenTTL: 24 * time.Hour},
	}
}

// Load は .env、TOMLファイル、環境変数の順に設定を重ねて読み込みます。
// path が空の場合は DefaultConfigFile を探し、存在しなければスキップします。
func Load(path string) (*Config, error) {
	// .env が無くてもエラーにしない
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := loadFile(cfg, path, explicit); err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fileCfg fileConfig
	meta, err := toml.Decode(string(data), &fileCfg)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	mergeString(meta.IsDefined("database", "driver"), &cfg.Database.Driver, fileCfg.Database.Driver)
	mergeString(meta.IsDefined("database", "path"), &cfg.Database.Path, fileCfg.Database.Path)
	mergeString(meta.IsDefined("database", "user"), &cfg.Database.User, fileCfg.Database.User)
	mergeString(meta.IsDefined("database", "password"), &cfg.Database.Password, fileCfg.Database.Password)
	mergeString(meta.IsDefined("database", "host"), &cfg.Database.Host, fileCfg.Database.Host)
	mergeString(meta.IsDefined("database", "port"), &cfg.Database.Port, fileCfg.Database.Port)
	mergeString(meta.IsDefined("database", "name"), &cfg.Database.Name, fileCfg.Database.Name)
	mergeString(meta.IsDefined("server", "port"), &cfg.Server.Port, fileCfg.Server.Port)
	if meta.IsDefined("server", "cors-origins") {
		cfg.Server.CORSOrigins = append([]string(nil), fileCfg.Server.CORSOrigins...)
	}
	mergeString(meta.IsDefined("auth", "jwt-secret"), &cfg.Auth.JWTSecret, fileCfg.Auth.JWTSecret)
	mergeString(meta.IsDefined("auth", "password"), &cfg.Auth.Password, fileCfg.Auth.Password)
	if meta.IsDefined("auth", "token-ttl") {
		ttl, err := time.ParseDuration(fileCfg.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("parse auth.token-ttl in %s: %w", path, err)
		}
		cfg.Auth.TokenTTL = ttl
	}
	return nil
}

func applyEnv(cfg *Config) error {
	envString("DB_DRIVER", &cfg.Database.Driver)
	envString("DB_PATH", &cfg.Database.Path)
	envString("DB_USER", &cfg.Database.User)
	envString("DB_PASS", &cfg.Database.Password)
	envString("DB_HOST", &cfg.Database.Host)
	envString("DB_PORT", &cfg.Database.Port)
	envString("DB_NAME", &cfg.Database.Name)
	envString("PORT", &cfg.Server.Port)
	envString("JWT_SECRET", &cfg.Auth.JWTSecret)
	envString("API_PASSWORD", &cfg.Auth.Password)

	if origins := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}
	if ttl := strings.TrimSpace(os.Getenv("TOKEN_TTL")); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("parse TOKEN_TTL: %w", err)
		}
		cfg.Auth.TokenTTL = d
	}

	switch cfg.Database.Driver {
	case DriverSQLite, DriverMySQL:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", cfg.Database.Driver)
	}
	return nil
}

// Validate はサーバー起動に必要な項目が揃っているかを確認します。
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.Auth.Password == "" {
		errs = append(errs, ErrMissingPassword)
	}
	return errors.Join(errs...)
}

func mergeString(defined bool, dst *string, value string) {
	if defined {
		*dst = strings.TrimSpace(value)
	}
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
