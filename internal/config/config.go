package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrMissingJWTSecret = errors.New("JWT_SECRET environment variable is required")

// Config holds everything the server needs at startup.
// Values come from defaults, then an optional YAML file, then the environment.
type Config struct {
	Env            string   `yaml:"env"`
	Port           string   `yaml:"port"`
	JWTSecret      string   `yaml:"jwt_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	Database DatabaseConfig `yaml:"database"`
	Uploads  UploadConfig   `yaml:"uploads"`
	Push     PushConfig     `yaml:"push"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Type       string `yaml:"type"`
	URL        string `yaml:"url"`
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	Name       string `yaml:"name"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	PebblePath string `yaml:"pebble_path"`
}

type UploadConfig struct {
	Dir         string    `yaml:"dir"`
	BaseURL     string    `yaml:"base_url"`
	MaxFileSize SizeBytes `yaml:"max_file_size"`
	MaxFiles    int       `yaml:"max_files"`
	SweepCron   string    `yaml:"sweep_cron"`
	GracePeriod Duration  `yaml:"grace_period"`
	// RateLimit and RateBurst bound upload requests per user
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type PushConfig struct {
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		Env:  "development",
		Port: "8080",
		Database: DatabaseConfig{
			Type:       "postgres",
			PebblePath: "data/messages",
		},
		Uploads: UploadConfig{
			Dir:         "uploads",
			BaseURL:     "/uploads",
			MaxFileSize: 10 * 1000 * 1000,
			MaxFiles:    10,
			SweepCron:   "30 3 * * *",
			GracePeriod: Duration(24 * time.Hour),
			RateLimit:   2,
			RateBurst:   10,
		},
		Push: PushConfig{
			RateLimit: 1,
			RateBurst: 5,
		},
	}
}

// Load reads .env, the optional CONFIG_FILE and the process environment
func Load() (*Config, error) {
	// A missing .env is fine, plain environment variables are used then
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Env, "ENV")
	setString(&c.Port, "PORT")
	setString(&c.JWTSecret, "JWT_SECRET")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	setString(&c.Database.Type, "DB_TYPE")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Port, "DB_PORT")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.PebblePath, "PEBBLE_PATH")

	setString(&c.Uploads.Dir, "UPLOAD_DIR")
	setString(&c.Uploads.BaseURL, "UPLOAD_BASE_URL")
	if v := os.Getenv("UPLOAD_MAX_FILE_SIZE"); v != "" {
		size, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("UPLOAD_MAX_FILE_SIZE: %w", err)
		}
		c.Uploads.MaxFileSize = size
	}
	if v := os.Getenv("UPLOAD_MAX_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UPLOAD_MAX_FILES: %w", err)
		}
		c.Uploads.MaxFiles = n
	}
	// an explicitly empty value disables the sweeper
	if v, ok := os.LookupEnv("ORPHAN_SWEEP_CRON"); ok {
		c.Uploads.SweepCron = strings.TrimSpace(v)
	}
	if v := os.Getenv("ORPHAN_GRACE_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ORPHAN_GRACE_PERIOD: %w", err)
		}
		c.Uploads.GracePeriod = Duration(d)
	}

	if v := os.Getenv("UPLOAD_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("UPLOAD_RATE_LIMIT: %w", err)
		}
		c.Uploads.RateLimit = f
	}
	if v := os.Getenv("UPLOAD_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UPLOAD_RATE_BURST: %w", err)
		}
		c.Uploads.RateBurst = n
	}

	if v := os.Getenv("WS_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("WS_RATE_LIMIT: %w", err)
		}
		c.Push.RateLimit = f
	}
	if v := os.Getenv("WS_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WS_RATE_BURST: %w", err)
		}
		c.Push.RateBurst = n
	}

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.File, "LOG_FILE")
	return nil
}

// Validate checks required values and builds derived ones
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if c.Uploads.MaxFileSize <= 0 {
		return errors.New("upload max file size must be positive")
	}
	if c.Uploads.MaxFiles <= 0 {
		return errors.New("upload max files must be positive")
	}
	if c.Database.Type == "postgres" && c.Database.URL == "" {
		db := c.Database
		if db.Host == "" || db.Name == "" || db.User == "" {
			return errors.New("database connection details missing. Set DATABASE_URL or individual DB_* variables")
		}
		port := db.Port
		if port == "" {
			port = "5432"
		}
		c.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			db.User, db.Password, db.Host, port, db.Name,
		)
	}
	return nil
}

// IsProduction reports whether gin should run in release mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ConnString returns what the database factory expects for the configured type
func (c *Config) ConnString() string {
	if c.Database.Type == "pebble" {
		return c.Database.PebblePath
	}
	return c.Database.URL
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SizeBytes is a byte count that accepts human-friendly values like "10MB"
type SizeBytes int64

// ParseSize parses "10MB", "512KiB" or a plain integer
func ParseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.Bytes(uint64(s)) }

// Duration accepts "24h" style strings in YAML
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	td, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration value: %q", node.Value)
	}
	*d = Duration(td)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
