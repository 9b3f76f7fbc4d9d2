package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"500ms", 500 * time.Millisecond, false},
		{"60", 60 * time.Second, false},
		{"1.5", 1500 * time.Millisecond, false},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDurationString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Duration
		wantErr  bool
	}{
		{name: "quoted duration", input: `"30s"`, expected: Duration(30 * time.Second)},
		{name: "bare seconds", input: `60`, expected: Duration(time.Minute)},
		{name: "null", input: `null`, expected: 0},
		{name: "quoted empty", input: `""`, expected: 0},
		{name: "invalid duration", input: `"invalid"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalJSON([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalJSON() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if d != tt.expected {
				t.Errorf("UnmarshalJSON() = %v, want %v", d, tt.expected)
			}
		})
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	d := Duration(90 * time.Second)
	got, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if string(got) != `"1m30s"` {
		t.Errorf("MarshalJSON() = %v, want %v", string(got), `"1m30s"`)
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	var holder struct {
		Wait Duration `yaml:"wait"`
		Idle Duration `yaml:"idle"`
	}
	if err := yaml.Unmarshal([]byte("wait: 2m\nidle: 10\n"), &holder); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if holder.Wait.Std() != 2*time.Minute {
		t.Errorf("wait = %v, want 2m", holder.Wait)
	}
	if holder.Idle.Std() != 10*time.Second {
		t.Errorf("idle = %v, want 10s", holder.Idle)
	}
}

func TestDuration_GetDuration(t *testing.T) {
	var zero Duration
	if zero.GetDuration(time.Second) != time.Second {
		t.Error("zero duration should fall back to default")
	}
	if Duration(time.Minute).GetDuration(time.Second) != time.Minute {
		t.Error("set duration should win over default")
	}
}

func TestValidationErrors(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.Err() != nil {
		t.Fatal("empty collection should not be an error")
	}

	errs.Add("count", "count must be greater than 0")
	if got := errs.Error(); !strings.Contains(got, "count must be greater than 0") {
		t.Errorf("Error() = %q", got)
	}

	errs.Add("name", "name is required")
	if got := errs.Error(); !strings.HasPrefix(got, "2 validation errors") {
		t.Errorf("Error() = %q, want multi-error header", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.ListenAddress != ":8080" {
		t.Errorf("ListenAddress = %q, want :8080", s.ListenAddress)
	}
	if s.StopGracePeriod != 90*time.Second {
		t.Errorf("StopGracePeriod = %v, want 1m30s", s.StopGracePeriod)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mobu.yaml")
	content := "environment_url: https://data.example.com/\nhttp_timeout: 5s\nlog_format: console\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MOBU_LISTEN_ADDRESS", "127.0.0.1:9000")

	s, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.EnvironmentURL != "https://data.example.com" {
		t.Errorf("EnvironmentURL = %q, trailing slash should be trimmed", s.EnvironmentURL)
	}
	if s.HTTPTimeout != 5*time.Second {
		t.Errorf("HTTPTimeout = %v, want 5s", s.HTTPTimeout)
	}
	if s.ListenAddress != "127.0.0.1:9000" {
		t.Errorf("ListenAddress = %q, env should override", s.ListenAddress)
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	t.Setenv("MOBU_LOG_FORMAT", "xml")
	if _, err := Load(viper.New(), ""); err == nil {
		t.Fatal("Load() expected error for unknown log format")
	}
}
