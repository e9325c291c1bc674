package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		App:      AppConfig{Name: "clinic-chat", Version: "test"},
		Server:   ServerConfig{Port: "8080", Timeout: 30},
		Database: DatabaseConfig{Driver: "memory"},
	}
}

func TestLoad_TestConfig(t *testing.T) {
	if err := Load(validConfig()); err != nil {
		t.Fatalf("載入測試配置失敗: %v", err)
	}
	if Get().App.Name != "clinic-chat" {
		t.Errorf("預期 App.Name = clinic-chat，實際 %s", Get().App.Name)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing name", func(c *Config) { c.App.Name = "" }, "應用程式名稱"},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "端口"},
		{"mongo without url", func(c *Config) { c.Database.Driver = "mongo" }, "MongoDB URL"},
		{"unknown db driver", func(c *Config) { c.Database.Driver = "pebble" }, "不支援的資料庫驅動"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true }, "Redis"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "Kafka"},
		{"grpc directory without host", func(c *Config) { c.Directory.Driver = "grpc" }, "gRPC"},
		{"s3 without bucket", func(c *Config) { c.Media.Driver = "s3" }, "S3"},
		{"jwt without secret", func(c *Config) { c.Security.Authentication.JWTEnabled = true }, "JWT"},
		{"default page over max", func(c *Config) {
			c.Limits.Pagination.DefaultPageSize = 300
			c.Limits.Pagination.MaxPageSize = 200
		}, "分頁"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("預期無錯誤，實際 %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("預期錯誤包含 %q，實際 %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_FromConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ci.yaml")
	yaml := `
app:
  name: clinic-chat
  version: "1.0.0"
server:
  port: "9090"
  timeout: 15
database:
  driver: memory
directory:
  driver: static
  timeout_ms: 500
  appointments:
    - id: a1
      patient: {id: p1, name: Pat}
      doctor: {id: d1, name: Doc}
      scheduled_at: "2026-01-02T09:00:00Z"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	defer SetEnv("local")

	if err := Load(); err != nil {
		t.Fatalf("載入配置失敗: %v", err)
	}
	cfg := Get()
	if GetEnv() != "ci" {
		t.Errorf("預期環境 ci，實際 %s", GetEnv())
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("預期端口 9090，實際 %s", cfg.Server.Port)
	}
	if len(cfg.Directory.Appointments) != 1 || cfg.Directory.Appointments[0].Doctor.ID != "d1" {
		t.Errorf("靜態預約解析錯誤: %+v", cfg.Directory.Appointments)
	}
	if DirectoryTimeout() != 500*time.Millisecond {
		t.Errorf("預期逾時 500ms，實際 %v", DirectoryTimeout())
	}
}
