package config

import (
	"os"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	os.Setenv("IGDB_CLIENT_ID", "abc123")
	os.Setenv("IGDB_CLIENT_SECRET", "s3cr3t")
	t.Cleanup(func() {
		os.Unsetenv("IGDB_CLIENT_ID")
		os.Unsetenv("IGDB_CLIENT_SECRET")
	})
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify defaults
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.IGDB.RequestInterval != 250*time.Millisecond {
		t.Errorf("IGDB.RequestInterval = %v, want %v", cfg.IGDB.RequestInterval, 250*time.Millisecond)
	}
	if cfg.IGDB.PageLimit != 500 {
		t.Errorf("IGDB.PageLimit = %d, want %d", cfg.IGDB.PageLimit, 500)
	}
	if cfg.Data.BigTableSize != 100000 {
		t.Errorf("Data.BigTableSize = %d, want %d", cfg.Data.BigTableSize, 100000)
	}
	if cfg.Data.ChunkSize != 50000 {
		t.Errorf("Data.ChunkSize = %d, want %d", cfg.Data.ChunkSize, 50000)
	}
	if !cfg.Data.DownloadImages {
		t.Error("Data.DownloadImages should default to true")
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	setRequired(t)
	os.Setenv("SERVER_PORT", "9090")
	os.Setenv("DATA_CHUNK_SIZE", "10000")
	os.Setenv("LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("DATA_CHUNK_SIZE")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}
	if cfg.Data.ChunkSize != 10000 {
		t.Errorf("Data.ChunkSize = %d, want %d", cfg.Data.ChunkSize, 10000)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_AltEnvVar(t *testing.T) {
	// The Twitch-prefixed variables work as fallback
	os.Setenv("TWITCH_CLIENT_ID", "alt-id")
	os.Setenv("TWITCH_CLIENT_SECRET", "alt-secret")
	defer func() {
		os.Unsetenv("TWITCH_CLIENT_ID")
		os.Unsetenv("TWITCH_CLIENT_SECRET")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.IGDB.ClientID != "alt-id" {
		t.Errorf("IGDB.ClientID = %q, want %q", cfg.IGDB.ClientID, "alt-id")
	}
	if cfg.IGDB.ClientSecret != "alt-secret" {
		t.Errorf("IGDB.ClientSecret = %q, want %q", cfg.IGDB.ClientSecret, "alt-secret")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("IGDB_CLIENT_ID")
	os.Unsetenv("TWITCH_CLIENT_ID")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing IGDB_CLIENT_ID")
	}
}

func TestLoad_Duration(t *testing.T) {
	setRequired(t)
	os.Setenv("SERVER_READ_TIMEOUT", "45s")
	os.Setenv("IGDB_REQUEST_INTERVAL", "1s")
	defer func() {
		os.Unsetenv("SERVER_READ_TIMEOUT")
		os.Unsetenv("IGDB_REQUEST_INTERVAL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ReadTimeout != 45*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want %v", cfg.Server.ReadTimeout, 45*time.Second)
	}
	if cfg.IGDB.RequestInterval != time.Second {
		t.Errorf("IGDB.RequestInterval = %v, want %v", cfg.IGDB.RequestInterval, time.Second)
	}
}

func validConfig() *Config {
	return &Config{
		IGDB: IGDBConfig{
			ClientID: "abc", ClientSecret: "def",
			RequestInterval: 250 * time.Millisecond, PageLimit: 500,
		},
		Data: DataConfig{
			Dir: "./data", ConfigDir: "./config",
			BigTableSize: 100000, ChunkSize: 50000,
		},
		Server:  ServerConfig{Port: 8080, ShutdownTimeout: time.Second},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 99999

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid port")
	}
	if !contains(err.Error(), "SERVER_PORT") {
		t.Errorf("error should mention SERVER_PORT: %v", err)
	}
}

func TestValidate_ChunkLargerThanThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.Data.ChunkSize = 200000

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for ChunkSize > BigTableSize")
	}
	if !contains(err.Error(), "DATA_CHUNK_SIZE") {
		t.Errorf("error should mention DATA_CHUNK_SIZE: %v", err)
	}
}

func TestValidate_InvalidPageLimit(t *testing.T) {
	cfg := validConfig()
	cfg.IGDB.PageLimit = 1000

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for page limit above the API cap")
	}
	if !contains(err.Error(), "IGDB_PAGE_LIMIT") {
		t.Errorf("error should mention IGDB_PAGE_LIMIT: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid log level")
	}
	if !contains(err.Error(), "LOG_LEVEL") {
		t.Errorf("error should mention LOG_LEVEL: %v", err)
	}
}

func TestServerAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"", 8080, ":8080"},
		{"0.0.0.0", 8080, "0.0.0.0:8080"},
		{"127.0.0.1", 3000, "127.0.0.1:3000"},
		{"localhost", 443, "localhost:443"},
	}

	for _, tt := range tests {
		cfg := &ServerConfig{Host: tt.host, Port: tt.port}
		got := cfg.Addr()
		if got != tt.want {
			t.Errorf("Addr() with host=%q, port=%d = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestConfigString_MasksSecret(t *testing.T) {
	cfg := validConfig()
	cfg.IGDB.ClientSecret = "hunter2"
	str := cfg.String()
	if contains(str, "hunter2") {
		t.Error("String() should mask the client secret")
	}
	if !contains(str, "MASKED") {
		t.Error("String() should contain MASKED placeholder")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsHelper(s, substr))
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
