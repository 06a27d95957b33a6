package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, expected %q", cfg.Server.Port, "8080")
	}
	if cfg.Relationships.WriteMode != WriteModeTransactional {
		t.Errorf("WriteMode = %q, expected %q", cfg.Relationships.WriteMode, WriteModeTransactional)
	}
	if cfg.Trades.AutoRejectSiblings {
		t.Error("AutoRejectSiblings should default to false")
	}
	if cfg.Gamification.TradeCompletionXP != 100 {
		t.Errorf("TradeCompletionXP = %d, expected 100", cfg.Gamification.TradeCompletionXP)
	}
	if GlobalConfig != cfg {
		t.Error("Load should set GlobalConfig")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9090"
relationships:
  write_mode: dual_write
  reject_policy: delete
trades:
  reminder_after: 24h
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, expected %q", cfg.Server.Port, "9090")
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, expected default", cfg.Server.Host)
	}
	if cfg.Relationships.WriteMode != WriteModeDualWrite {
		t.Errorf("WriteMode = %q, expected %q", cfg.Relationships.WriteMode, WriteModeDualWrite)
	}
	if cfg.Relationships.RejectPolicy != RejectPolicyDelete {
		t.Errorf("RejectPolicy = %q, expected %q", cfg.Relationships.RejectPolicy, RejectPolicyDelete)
	}
	if cfg.Trades.ReminderAfter != 24*time.Hour {
		t.Errorf("ReminderAfter = %v, expected 24h", cfg.Trades.ReminderAfter)
	}
	if cfg.Trades.AutoCompleteAfter != 14*24*time.Hour {
		t.Errorf("AutoCompleteAfter = %v, expected default", cfg.Trades.AutoCompleteAfter)
	}
}

func TestLoad_InvalidEnumFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "relationships:\n  write_mode: eventually\n  reject_policy: shred\noutbox:\n  max_attempts: 0\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Relationships.WriteMode != WriteModeTransactional {
		t.Errorf("WriteMode = %q, expected fallback", cfg.Relationships.WriteMode)
	}
	if cfg.Relationships.RejectPolicy != RejectPolicyMark {
		t.Errorf("RejectPolicy = %q, expected fallback", cfg.Relationships.RejectPolicy)
	}
	if cfg.Outbox.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, expected 3", cfg.Outbox.MaxAttempts)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("DB_REPLICAS", "replica1.db, replica2.db")
	t.Setenv("AMQP_URL", "amqp://user:pass@mq:5672/")
	t.Setenv("TRADES_AUTO_REJECT_SIBLINGS", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != "7000" {
		t.Errorf("Server.Port = %q, expected %q", cfg.Server.Port, "7000")
	}
	if len(cfg.Database.Replicas) != 2 || cfg.Database.Replicas[1] != "replica2.db" {
		t.Errorf("Replicas = %v", cfg.Database.Replicas)
	}
	if !cfg.AMQP.Enabled || cfg.AMQP.URL != "amqp://user:pass@mq:5672/" {
		t.Errorf("AMQP = %+v", cfg.AMQP)
	}
	if !cfg.Trades.AutoRejectSiblings {
		t.Error("AutoRejectSiblings should be enabled from env")
	}
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		addr     string
		password string
		db       int
	}{
		{"host only", "redis://localhost:6379", "localhost:6379", "", 0},
		{"with password", "redis://:secret@redis:6379", "redis:6379", "secret", 0},
		{"with user and db", "redis://default:pw@cache:6380/2", "cache:6380", "pw", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.parseRedisURL(tt.url)
			if cfg.Redis.Addr != tt.addr {
				t.Errorf("Addr = %q, expected %q", cfg.Redis.Addr, tt.addr)
			}
			if cfg.Redis.Password != tt.password {
				t.Errorf("Password = %q, expected %q", cfg.Redis.Password, tt.password)
			}
			if cfg.Redis.DB != tt.db {
				t.Errorf("DB = %d, expected %d", cfg.Redis.DB, tt.db)
			}
		})
	}
}
