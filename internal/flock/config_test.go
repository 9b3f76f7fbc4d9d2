package flock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wesleyorama2/mobu/internal/business"
	"github.com/wesleyorama2/mobu/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing name", mutate: func(c *Config) { c.Name = "" }, field: "name", wantErr: true},
		{name: "name with slash", mutate: func(c *Config) { c.Name = "a/b" }, field: "name", wantErr: true},
		{name: "zero count", mutate: func(c *Config) { c.Count = 0 }, field: "count", wantErr: true},
		{name: "unknown business", mutate: func(c *Config) { c.Business.Kind = "Nope" }, field: "business.type", wantErr: true},
		{name: "negative batch size", mutate: func(c *Config) { c.StartBatchSize = -1 }, field: "start_batch_size", wantErr: true},
		{name: "negative batch wait", mutate: func(c *Config) { c.StartBatchWait = config.Duration(-time.Second) }, field: "start_batch_wait", wantErr: true},
		{name: "missing prefix", mutate: func(c *Config) { c.UserSpec.UsernamePrefix = "" }, field: "user_spec.username_prefix", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := idleConfig("test", 3)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			var verrs *config.ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error type = %T", err)
			}
			if verrs.Errors[0].Field != tt.field {
				t.Errorf("field = %q, want %q", verrs.Errors[0].Field, tt.field)
			}
		})
	}
}

func TestConfig_BatchSize(t *testing.T) {
	tests := []struct {
		size, count, want int
	}{
		{0, 10, 10},
		{3, 10, 3},
		{20, 10, 10},
	}
	for _, tt := range tests {
		c := Config{StartBatchSize: tt.size, Count: tt.count}
		if got := c.batchSize(); got != tt.want {
			t.Errorf("batchSize(%d, %d) = %d, want %d", tt.size, tt.count, got, tt.want)
		}
	}
}

func TestParseConfigs_List(t *testing.T) {
	data := []byte(`
- name: idle
  count: 5
  user_spec:
    username_prefix: bot-mobu-idle
    uid_start: 1000
  scopes: ["exec:notebook"]
  business:
    type: Idle
    options:
      idle_time: 30s
- name: tap
  count: 2
  start_batch_size: 1
  start_batch_wait: 10
  user_spec:
    username_prefix: bot-mobu-tap
    uid_start: 2000
  business:
    type: QueryMonkey
    options:
      queries:
        - SELECT TOP 1 * FROM tap_schema.tables
`)

	configs, err := ParseConfigs(data)
	if err != nil {
		t.Fatalf("ParseConfigs() error = %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("len = %d, want 2", len(configs))
	}

	idle := configs[0]
	if idle.Business.Options.IdleTime.Std() != 30*time.Second {
		t.Errorf("idle_time = %v", idle.Business.Options.IdleTime)
	}
	if idle.Scopes[0] != "exec:notebook" {
		t.Errorf("scopes = %v", idle.Scopes)
	}

	tap := configs[1]
	if tap.Business.Kind != business.KindTAPQueryRunner {
		t.Errorf("kind = %q, alias should resolve", tap.Business.Kind)
	}
	if tap.StartBatchWait.Std() != 10*time.Second {
		t.Errorf("start_batch_wait = %v", tap.StartBatchWait)
	}
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			t.Errorf("%s: Validate() = %v", c.Name, err)
		}
	}
}

func TestParseConfigs_MultiDocument(t *testing.T) {
	data := []byte(`name: one
count: 1
user_spec: {username_prefix: a, uid_start: 1}
business: {type: Idle}
---
name: two
count: 1
user_spec: {username_prefix: b, uid_start: 2}
business: {type: Idle}
`)
	configs, err := ParseConfigs(data)
	if err != nil {
		t.Fatalf("ParseConfigs() error = %v", err)
	}
	if len(configs) != 2 || configs[1].Name != "two" {
		t.Errorf("configs = %+v", configs)
	}
}

func TestLoadConfigs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autostart.yaml")
	content := "- name: idle\n  count: 1\n  user_spec: {username_prefix: bot, uid_start: 1}\n  business: {type: Idle}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	configs, err := LoadConfigs(path)
	if err != nil {
		t.Fatalf("LoadConfigs() error = %v", err)
	}
	if len(configs) != 1 || configs[0].Name != "idle" {
		t.Errorf("configs = %+v", configs)
	}

	if _, err := LoadConfigs(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfigs() expected error for missing file")
	}
}
