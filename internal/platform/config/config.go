package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

const (
	ModeDev     = "dev"
	ModeRelease = "release"
)

// 永続化バックエンド
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
	BackendRedis    = "redis"
)

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"LENDLEDGER_DB_HOST"`
	Port     int    `yaml:"port" env:"LENDLEDGER_DB_PORT"`
	Username string `yaml:"user" env:"LENDLEDGER_DB_USER"`
	Password string `yaml:"password" env:"LENDLEDGER_DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"LENDLEDGER_DB_NAME"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type Server struct {
	Addr string `yaml:"addr" env:"LENDLEDGER_ADDR"`
	// 空なら平文HTTPで起動
	TLS bool `yaml:"tls" env:"LENDLEDGER_TLS"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

type Storage struct {
	Backend string `yaml:"backend" env:"LENDLEDGER_STORAGE"`
	// キーの名前空間（"lendledger.entries" など）
	Namespace string `yaml:"namespace" env:"LENDLEDGER_NAMESPACE"`
	// sqlite のファイル / pebble のディレクトリ
	Path string `yaml:"path" env:"LENDLEDGER_STORAGE_PATH"`
	// postgres の接続文字列
	DSN       string `yaml:"dsn" env:"LENDLEDGER_STORAGE_DSN"`
	RedisAddr string `yaml:"redis_addr" env:"LENDLEDGER_REDIS_ADDR"`
	RedisDB   int    `yaml:"redis_db" env:"LENDLEDGER_REDIS_DB"`
}

type Auth struct {
	JWTSecret     string `yaml:"jwt_secret" env:"LENDLEDGER_JWT_SECRET"`
	TokenTTLHours int    `yaml:"token_ttl_hours" env:"LENDLEDGER_TOKEN_TTL_HOURS"`
	// 起動時に admin アカウントが無ければ作る（どちらか空なら何もしない）
	AdminID       string `yaml:"admin_id" env:"LENDLEDGER_ADMIN_ID"`
	AdminPassword string `yaml:"admin_password" env:"LENDLEDGER_ADMIN_PASSWORD"`
}

type Sweeper struct {
	// robfig/cron 形式。空なら無効
	Schedule             string `yaml:"schedule" env:"LENDLEDGER_SWEEP_SCHEDULE"`
	HistoryRetentionDays int    `yaml:"history_retention_days" env:"LENDLEDGER_HISTORY_RETENTION_DAYS"`
}

type Config struct {
	Version     string         `yaml:"version"`
	Mode        string         `yaml:"mode" env:"LENDLEDGER_MODE"`
	Server      Server         `yaml:"server"`
	Log         Log            `yaml:"log"`
	Storage     Storage        `yaml:"storage"`
	DB          DatabaseConfig `yaml:"database"`
	Auth        Auth           `yaml:"auth"`
	Sweeper     Sweeper        `yaml:"sweeper"`
	Certificate Certs          `yaml:"certificate"`
}

// LoadConfig は YAML を読み込み、環境変数で上書きしてから既定値を埋める。
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	return Parse(buf)
}

func Parse(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDev
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = "lendledger"
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 24
	}
}

func (c *Config) Validate() error {
	if c.Mode != ModeDev && c.Mode != ModeRelease {
		return fmt.Errorf("mode must be dev or release, got %q", c.Mode)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendMySQL, BackendRedis:
	case BackendSQLite, BackendPebble:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for %s", c.Storage.Backend)
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Sweeper.HistoryRetentionDays < 0 {
		return fmt.Errorf("sweeper.history_retention_days must be >= 0")
	}
	// 本番で既定の秘密鍵は使わせない
	if c.Mode == ModeRelease && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required in release mode")
	}
	return nil
}
