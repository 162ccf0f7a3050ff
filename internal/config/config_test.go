package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "bot-token"},
		Google: GoogleConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
		},
		Storage: StorageConfig{
			TempPath:          "/data/temp",
			PersistPath:       "/data",
			MaxFileSize:       50 << 20,
			AllowedExtensions: []string{".mp4"},
			CredentialBackend: "file",
		},
		Session: SessionConfig{Backend: "memory"},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() should pass, got %v", err)
	}
}

func TestConfig_Validate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing bot token", func(c *Config) { c.Telegram.Token = "" }},
		{"missing client id", func(c *Config) { c.Google.ClientID = "" }},
		{"missing client secret", func(c *Config) { c.Google.ClientSecret = "" }},
		{"missing temp path", func(c *Config) { c.Storage.TempPath = "" }},
		{"missing persist path", func(c *Config) { c.Storage.PersistPath = "" }},
		{"zero max size", func(c *Config) { c.Storage.MaxFileSize = 0 }},
		{"no extensions", func(c *Config) { c.Storage.AllowedExtensions = nil }},
		{"unknown credential backend", func(c *Config) { c.Storage.CredentialBackend = "etcd" }},
		{"unknown session backend", func(c *Config) { c.Session.Backend = "memcached" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestTelegramConfig_IsAdmin(t *testing.T) {
	cfg := TelegramConfig{AdminUserIDs: []int64{1, 42}}

	if !cfg.IsAdmin(42) {
		t.Error("IsAdmin(42) = false, want true")
	}
	if cfg.IsAdmin(7) {
		t.Error("IsAdmin(7) = true, want false")
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := cfg.Address(); got != "127.0.0.1:9000" {
		t.Errorf("Address() = %q, want %q", got, "127.0.0.1:9000")
	}
}

func TestNormalizeExtensions(t *testing.T) {
	got := NormalizeExtensions([]string{"MP4", " .mkv ", "", "webm"})
	want := []string{".mp4", ".mkv", ".webm"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ext[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func setRequiredEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("GOOGLE_CLIENT_ID", "env-client")
	t.Setenv("GOOGLE_CLIENT_SECRET", "env-secret")
}

func TestLoad_EnvOnlyDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ADMIN_USER_IDS", "10,20")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.MaxFileSize != 52428800 {
		t.Errorf("MaxFileSize = %d, want 52428800", cfg.Storage.MaxFileSize)
	}
	if len(cfg.Storage.AllowedExtensions) != 7 {
		t.Errorf("AllowedExtensions = %v, want 7 entries", cfg.Storage.AllowedExtensions)
	}
	if cfg.Cleanup.MaxAge != 24*time.Hour {
		t.Errorf("Cleanup.MaxAge = %v, want 24h", cfg.Cleanup.MaxAge)
	}
	if cfg.Download.Timeout != 5*time.Minute {
		t.Errorf("Download.Timeout = %v, want 5m", cfg.Download.Timeout)
	}
	if cfg.Download.ProbeTimeout != 10*time.Second {
		t.Errorf("Download.ProbeTimeout = %v, want 10s", cfg.Download.ProbeTimeout)
	}
	if cfg.Download.MaxRedirects != 5 {
		t.Errorf("Download.MaxRedirects = %d, want 5", cfg.Download.MaxRedirects)
	}
	if !cfg.Telegram.IsAdmin(20) {
		t.Error("user 20 should be admin")
	}
}

func TestLoad_FromYAMLFile(t *testing.T) {
	setRequiredEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
youtube:
  endpoint: "http://127.0.0.1:9999/"
google:
  token_url: "http://127.0.0.1:9999/token"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.YouTube.Endpoint != "http://127.0.0.1:9999/" {
		t.Errorf("YouTube.Endpoint = %q", cfg.YouTube.Endpoint)
	}
	if cfg.Google.TokenURL != "http://127.0.0.1:9999/token" {
		t.Errorf("Google.TokenURL = %q", cfg.Google.TokenURL)
	}
	if cfg.YouTube.CategoryID != "22" {
		t.Errorf("CategoryID = %q, want default %q", cfg.YouTube.CategoryID, "22")
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	setRequiredEnv(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
telegram:
  send_auth_qr: false
storage:
  max_file_size: 1000
  temp_path: /tmp/x
  credential_backend: sqlite
  allowed_extensions: ["MP4"]
cleanup:
  max_age: 1h
log:
  level: warn
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.MaxFileSize != 1000 {
		t.Errorf("MaxFileSize = %d, want 1000", cfg.Storage.MaxFileSize)
	}
	if cfg.Storage.TempPath != "/tmp/x" {
		t.Errorf("TempPath = %q, want %q", cfg.Storage.TempPath, "/tmp/x")
	}
	if cfg.Storage.CredentialBackend != "sqlite" {
		t.Errorf("CredentialBackend = %q, want %q", cfg.Storage.CredentialBackend, "sqlite")
	}
	if len(cfg.Storage.AllowedExtensions) != 1 || cfg.Storage.AllowedExtensions[0] != ".mp4" {
		t.Errorf("AllowedExtensions = %v, want [.mp4]", cfg.Storage.AllowedExtensions)
	}
	if cfg.Cleanup.MaxAge != time.Hour {
		t.Errorf("Cleanup.MaxAge = %v, want 1h", cfg.Cleanup.MaxAge)
	}
	if cfg.Telegram.SendAuthQR {
		t.Error("SendAuthQR = true, want false from file")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want env value %q", cfg.Log.Level, "debug")
	}
	if cfg.Cleanup.Interval != time.Hour {
		t.Errorf("Cleanup.Interval = %v, want default 1h", cfg.Cleanup.Interval)
	}
	if cfg.Storage.PersistPath != "./data" {
		t.Errorf("PersistPath = %q, want default %q", cfg.Storage.PersistPath, "./data")
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
telegram:
  token: "yaml-token"
google:
  client_id: "yaml-client"
  client_secret: "yaml-secret"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Errorf("Token = %q, want %q", cfg.Telegram.Token, "env-token")
	}
	if cfg.Google.ClientID != "yaml-client" {
		t.Errorf("ClientID = %q, want %q", cfg.Google.ClientID, "yaml-client")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("telegram: [unclosed"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")

	if _, err := Load(""); err == nil {
		t.Error("expected validation error")
	}
}
