package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Google    GoogleConfig    `yaml:"google"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
	Storage   StorageConfig   `yaml:"storage"`
	Download  DownloadConfig  `yaml:"download"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Session   SessionConfig   `yaml:"session"`
	Worker    WorkerConfig    `yaml:"worker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// TelegramConfig holds bot transport configuration.
type TelegramConfig struct {
	Token        string        `yaml:"token" envconfig:"TELEGRAM_BOT_TOKEN"`
	AdminUserIDs []int64       `yaml:"admin_user_ids" envconfig:"ADMIN_USER_IDS"`
	PollTimeout  int           `yaml:"poll_timeout" envconfig:"TELEGRAM_POLL_TIMEOUT" default:"60"`
	SendAuthQR   bool          `yaml:"send_auth_qr" envconfig:"TELEGRAM_SEND_AUTH_QR" default:"true"`
	APIEndpoint  string        `yaml:"api_endpoint" envconfig:"TELEGRAM_API_ENDPOINT"`
	Debug        bool          `yaml:"debug" envconfig:"TELEGRAM_DEBUG" default:"false"`
	EditInterval time.Duration `yaml:"edit_interval" envconfig:"TELEGRAM_EDIT_INTERVAL" default:"2s"`
}

// GoogleConfig holds OAuth client configuration.
type GoogleConfig struct {
	ClientID     string        `yaml:"client_id" envconfig:"GOOGLE_CLIENT_ID"`
	ClientSecret string        `yaml:"client_secret" envconfig:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string        `yaml:"redirect_url" envconfig:"GOOGLE_REDIRECT_URL" default:"http://localhost:8080/oauth/callback"`
	AuthURL      string        `yaml:"auth_url" envconfig:"GOOGLE_AUTH_URL"`
	TokenURL     string        `yaml:"token_url" envconfig:"GOOGLE_TOKEN_URL"`
	StateTTL     time.Duration `yaml:"state_ttl" envconfig:"GOOGLE_STATE_TTL" default:"10m"`
}

// YouTubeConfig holds upload gateway configuration.
type YouTubeConfig struct {
	CategoryID    string        `yaml:"category_id" envconfig:"YOUTUBE_CATEGORY_ID" default:"22"`
	Endpoint      string        `yaml:"endpoint" envconfig:"YOUTUBE_ENDPOINT"`
	UploadTimeout time.Duration `yaml:"upload_timeout" envconfig:"YOUTUBE_UPLOAD_TIMEOUT" default:"30m"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" envconfig:"YOUTUBE_PROBE_TIMEOUT" default:"15s"`
}

// StorageConfig holds filesystem storage configuration.
type StorageConfig struct {
	TempPath          string   `yaml:"temp_path" envconfig:"STORAGE_TEMP_PATH" default:"./data/temp"`
	PersistPath       string   `yaml:"persist_path" envconfig:"STORAGE_PERSIST_PATH" default:"./data"`
	MaxFileSize       int64    `yaml:"max_file_size" envconfig:"MAX_FILE_SIZE" default:"52428800"` // 50MB
	AllowedExtensions []string `yaml:"allowed_extensions" envconfig:"ALLOWED_EXTENSIONS" default:".mp4,.mkv,.avi,.mov,.wmv,.flv,.webm"`
	// CredentialBackend is "file" or "sqlite".
	CredentialBackend    string `yaml:"credential_backend" envconfig:"CREDENTIAL_BACKEND" default:"file"`
	CredentialPassphrase string `yaml:"credential_passphrase" envconfig:"CREDENTIAL_PASSPHRASE"`
}

// DownloadConfig holds video acquisition configuration.
type DownloadConfig struct {
	Timeout      time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT" default:"5m"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" envconfig:"DOWNLOAD_PROBE_TIMEOUT" default:"10s"`
	MaxRedirects int           `yaml:"max_redirects" envconfig:"DOWNLOAD_MAX_REDIRECTS" default:"5"`
	UserAgent    string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"`
	DriveBaseURL string        `yaml:"drive_base_url" envconfig:"DOWNLOAD_DRIVE_BASE_URL" default:"https://drive.google.com/uc"`
}

// CleanupConfig holds scratch sweeper configuration.
type CleanupConfig struct {
	Interval time.Duration `yaml:"interval" envconfig:"CLEANUP_INTERVAL" default:"1h"`
	MaxAge   time.Duration `yaml:"max_age" envconfig:"CLEANUP_MAX_AGE" default:"24h"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	// Backend is "memory" or "redis".
	Backend   string `yaml:"backend" envconfig:"SESSION_BACKEND" default:"memory"`
	RedisAddr string `yaml:"redis_addr" envconfig:"REDIS_ADDR" default:"localhost:6379"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"SESSION_KEY_PREFIX" default:"deepyt:session:"`
}

// WorkerConfig holds event dispatcher configuration.
type WorkerConfig struct {
	Count     int `yaml:"count" envconfig:"WORKER_COUNT" default:"16"`
	QueueSize int `yaml:"queue_size" envconfig:"WORKER_QUEUE_SIZE" default:"32"`
}

// RateLimitConfig holds per-user inbound event limits.
type RateLimitConfig struct {
	Requests int           `yaml:"requests" envconfig:"RATE_LIMIT_REQUESTS" default:"20"`
	Window   time.Duration `yaml:"window" envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	Burst    int           `yaml:"burst" envconfig:"RATE_LIMIT_BURST" default:"5"`
}

// ServerConfig holds the OAuth callback HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	// APIKey protects /api/v1. The API is disabled when empty.
	APIKey string `yaml:"api_key" envconfig:"SERVER_API_KEY"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Format string `yaml:"format" envconfig:"LOG_FORMAT" default:"json"`
	Level  string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from file and environment variables.
// Precedence is environment, then file, then struct tag defaults.
func Load(configPath string) (*Config, error) {
	// Defaults plus whatever the environment sets.
	env := &Config{}
	if err := envconfig.Process("", env); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if configPath == "" {
		return finish(env)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	*cfg = *env
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// envconfig cannot tell a default from a set variable, so variables
	// present in the environment are copied back over the file values.
	overlayEnv(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(env).Elem())

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.Storage.AllowedExtensions = NormalizeExtensions(cfg.Storage.AllowedExtensions)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// overlayEnv copies each field of src into dst whose envconfig variable is
// set in the process environment.
func overlayEnv(dst, src reflect.Value) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Struct {
			overlayEnv(dst.Field(i), src.Field(i))
			continue
		}
		key := field.Tag.Get("envconfig")
		if key == "" {
			continue
		}
		if _, ok := os.LookupEnv(key); ok {
			dst.Field(i).Set(src.Field(i))
		}
	}
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}
	if c.Storage.TempPath == "" {
		return fmt.Errorf("STORAGE_TEMP_PATH is required")
	}
	if c.Storage.PersistPath == "" {
		return fmt.Errorf("STORAGE_PERSIST_PATH is required")
	}
	if c.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if len(c.Storage.AllowedExtensions) == 0 {
		return fmt.Errorf("ALLOWED_EXTENSIONS must not be empty")
	}
	switch c.Storage.CredentialBackend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown CREDENTIAL_BACKEND %q", c.Storage.CredentialBackend)
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.Session.Backend)
	}
	return nil
}

// IsAdmin reports whether the user id is on the admin allow-list.
func (c *TelegramConfig) IsAdmin(userID int64) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NormalizeExtensions lower-cases extensions and ensures a leading dot.
func NormalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
