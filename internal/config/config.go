package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "CONTENTHUB_"

// Credential backends understood by the CLI.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	API         APIConfig         `yaml:"api"`
	Log         LogConfig         `yaml:"log"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Session     SessionConfig     `yaml:"session"`
	Store       StoreConfig       `yaml:"store"`
	DevAPI      DevAPIConfig      `yaml:"devapi"`
}

type APIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type CredentialsConfig struct {
	Backend   string         `yaml:"backend"`
	FilePath  string         `yaml:"file_path"`
	Namespace string         `yaml:"namespace"`
	Redis     RedisConfig    `yaml:"redis"`
	Postgres  PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SessionConfig struct {
	CoalesceRefresh bool `yaml:"coalesce_refresh"`
}

type StoreConfig struct {
	OptimisticToggles bool `yaml:"optimistic_toggles"`
}

type DevAPIConfig struct {
	Addr       string        `yaml:"addr"`
	JWTSecret  string        `yaml:"jwt_secret"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	RatePerSec float64       `yaml:"rate_per_sec"`
	RateBurst  int           `yaml:"rate_burst"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:       "http://localhost:8080",
			Timeout:       15 * time.Second,
			UploadTimeout: 5 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
		Credentials: CredentialsConfig{
			Backend:   BackendFile,
			FilePath:  defaultCredentialsPath(),
			Namespace: "default",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  "contenthub:session",
			},
		},
		Session: SessionConfig{CoalesceRefresh: true},
		DevAPI: DevAPIConfig{
			Addr:       ":8080",
			JWTSecret:  "change-me",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 720 * time.Hour,
			RatePerSec: 50,
			RateBurst:  100,
		},
	}
}

// Load applies defaults, then the YAML file at path (a missing file is not an
// error), then CONTENTHUB_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects settings no component can work with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("config: api.base_url is required")
	}
	switch c.Credentials.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Credentials.FilePath == "" {
			return errors.New("config: credentials.file_path is required for the file backend")
		}
	case BackendRedis:
		if c.Credentials.Redis.Addr == "" {
			return errors.New("config: credentials.redis.addr is required for the redis backend")
		}
	case BackendPostgres:
		if c.Credentials.Postgres.DSN == "" {
			return errors.New("config: credentials.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown credentials backend %q", c.Credentials.Backend)
	}
	if c.DevAPI.RatePerSec < 0 || c.DevAPI.RateBurst < 0 {
		return errors.New("config: devapi rate limits must not be negative")
	}
	return nil
}

func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".contenthub/session.json"
	}
	return dir + string(os.PathSeparator) + "contenthub" + string(os.PathSeparator) + "session.json"
}

func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config yaml: %w", err)
	}

	return nil
}

func applyEnvOverrides(cfg *Config) error {
	overrideString("API_BASE_URL", &cfg.API.BaseURL)
	if err := overrideDuration("API_TIMEOUT", &cfg.API.Timeout); err != nil {
		return err
	}
	if err := overrideDuration("API_UPLOAD_TIMEOUT", &cfg.API.UploadTimeout); err != nil {
		return err
	}

	overrideString("LOG_LEVEL", &cfg.Log.Level)

	overrideString("CREDENTIALS_BACKEND", &cfg.Credentials.Backend)
	overrideString("CREDENTIALS_FILE", &cfg.Credentials.FilePath)
	overrideString("CREDENTIALS_NAMESPACE", &cfg.Credentials.Namespace)
	overrideString("REDIS_ADDR", &cfg.Credentials.Redis.Addr)
	overrideString("REDIS_PASSWORD", &cfg.Credentials.Redis.Password)
	overrideString("REDIS_KEY", &cfg.Credentials.Redis.Key)
	if err := overrideInt("REDIS_DB", &cfg.Credentials.Redis.DB); err != nil {
		return err
	}
	overrideString("POSTGRES_DSN", &cfg.Credentials.Postgres.DSN)

	if err := overrideBool("COALESCE_REFRESH", &cfg.Session.CoalesceRefresh); err != nil {
		return err
	}
	if err := overrideBool("OPTIMISTIC_TOGGLES", &cfg.Store.OptimisticToggles); err != nil {
		return err
	}

	overrideString("DEVAPI_ADDR", &cfg.DevAPI.Addr)
	overrideString("JWT_SECRET", &cfg.DevAPI.JWTSecret)
	if err := overrideDuration("ACCESS_TTL", &cfg.DevAPI.AccessTTL); err != nil {
		return err
	}
	if err := overrideDuration("REFRESH_TTL", &cfg.DevAPI.RefreshTTL); err != nil {
		return err
	}
	if err := overrideFloat("RATE_PER_SEC", &cfg.DevAPI.RatePerSec); err != nil {
		return err
	}
	if err := overrideInt("RATE_BURST", &cfg.DevAPI.RateBurst); err != nil {
		return err
	}

	return nil
}

func lookup(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func overrideString(key string, target *string) {
	if v := lookup(key); v != "" {
		*target = v
	}
}

func overrideDuration(key string, target *time.Duration) error {
	v := lookup(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s%s duration: %w", envPrefix, key, err)
	}
	*target = d
	return nil
}

func overrideInt(key string, target *int) error {
	v := lookup(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s%s int: %w", envPrefix, key, err)
	}
	*target = n
	return nil
}

func overrideFloat(key string, target *float64) error {
	v := lookup(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("parse %s%s float: %w", envPrefix, key, err)
	}
	*target = f
	return nil
}

func overrideBool(key string, target *bool) error {
	v := lookup(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s%s bool: %w", envPrefix, key, err)
	}
	*target = b
	return nil
}
