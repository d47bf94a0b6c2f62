package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Helper function to create temporary config file for testing
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clipstage.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func TestMergeConfigs_SelectionAndFallback(t *testing.T) {
	base := &Config{
		MessageType: "away_message",
		StorageDir:  "/data/storage",
		NumButtons:  16,
		Audio: AudioConfig{
			Backend:     "auto",
			Format:      "pcm",
			SampleRate:  44100,
			Channels:    1,
			PeriodSize:  1024,
			AudioDevice: "hw:1,0",
		},
	}
	scope := &ScopeConfig{
		NumButtons: 4,
		Audio: AudioConfig{
			Format:     "alaw",
			SampleRate: 8000,
		},
	}

	result := mergeConfigs(base, scope)

	if result.NumButtons != 4 {
		t.Errorf("Expected num_buttons 4 from scope, got %d", result.NumButtons)
	}
	if result.Audio.Format != "alaw" || result.Audio.SampleRate != 8000 {
		t.Errorf("Expected scope audio overrides, got %+v", result.Audio)
	}
	if result.StorageDir != "/data/storage" {
		t.Errorf("Expected inherited storage dir, got %s", result.StorageDir)
	}
	if result.Audio.PeriodSize != 1024 || result.Audio.AudioDevice != "hw:1,0" {
		t.Errorf("Expected inherited audio settings, got %+v", result.Audio)
	}

	if result.Inheritance["num_buttons"] != "scope-specific" {
		t.Errorf("Expected num_buttons to be scope-specific, got %s", result.Inheritance["num_buttons"])
	}
	if result.Inheritance["audio.period_size"] != "inherited" {
		t.Errorf("Expected period_size to be inherited, got %s", result.Inheritance["audio.period_size"])
	}

	// base must not be modified
	if base.NumButtons != 16 || base.Audio.Format != "pcm" {
		t.Errorf("Base config was modified: %+v", base)
	}
}

func TestMergeConfigs_NoScope(t *testing.T) {
	base := &Config{MessageType: "custom_message", NumButtons: 16}
	result := mergeConfigs(base, nil)
	if result.NumButtons != 16 {
		t.Errorf("Expected 16 buttons, got %d", result.NumButtons)
	}
	for key, origin := range result.Inheritance {
		if origin != "inherited" {
			t.Errorf("Expected %s to be inherited, got %s", key, origin)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.MessageType != "custom_message" {
		t.Errorf("Expected message type custom_message, got %s", cfg.MessageType)
	}
	if cfg.NumButtons != 16 || cfg.Audio.SampleRate != 44100 || cfg.Audio.Channels != 1 || cfg.Audio.PeriodSize != 1024 {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.Audio.MaxDuration != 5*time.Minute {
		t.Errorf("Expected max duration 5m, got %s", cfg.Audio.MaxDuration)
	}
	if strings.HasPrefix(cfg.StorageDir, "~") {
		t.Errorf("Expected expanded storage dir, got %s", cfg.StorageDir)
	}
	wantMeta := filepath.Join(filepath.Dir(cfg.StorageDir), "custom_message_metadata.yaml")
	if cfg.MetadataFile != wantMeta {
		t.Errorf("Expected metadata file %s, got %s", wantMeta, cfg.MetadataFile)
	}
}

func TestLoad_ScopeOverrides(t *testing.T) {
	path := createTempConfig(t, `
storage_dir: /srv/clips/storage
num_buttons: 16
message_type: custom_message
audio:
  backend: mock
  format: ulaw
  sample_rate: 16000
  max_duration: 30s
scopes:
  away_message:
    metadata_file: /srv/clips/away.yaml
    num_buttons: 4
    audio:
      format: alaw
`)

	cfg, err := Load(path, "away_message")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.MessageType != "away_message" {
		t.Errorf("Expected scope away_message, got %s", cfg.MessageType)
	}
	if cfg.NumButtons != 4 {
		t.Errorf("Expected 4 buttons from scope, got %d", cfg.NumButtons)
	}
	if cfg.Audio.Format != "alaw" {
		t.Errorf("Expected alaw from scope, got %s", cfg.Audio.Format)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Expected inherited sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.MaxDuration != 30*time.Second {
		t.Errorf("Expected max duration 30s, got %s", cfg.Audio.MaxDuration)
	}
	if cfg.MetadataFile != "/srv/clips/away.yaml" {
		t.Errorf("Expected scope metadata file, got %s", cfg.MetadataFile)
	}

	// Without a scope the global message type applies
	cfg, err = Load(path, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.MessageType != "custom_message" || cfg.Audio.Format != "ulaw" {
		t.Errorf("Expected global settings, got %+v", cfg)
	}
	if cfg.MetadataFile != "/srv/clips/custom_message_metadata.yaml" {
		t.Errorf("Expected derived metadata file, got %s", cfg.MetadataFile)
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("CLIPSTAGE_AUDIO_BACKEND", "mock")
	t.Setenv("CLIPSTAGE_NUM_BUTTONS", "8")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Audio.Backend != "mock" {
		t.Errorf("Expected backend from environment, got %s", cfg.Audio.Backend)
	}
	if cfg.NumButtons != 8 {
		t.Errorf("Expected 8 buttons from environment, got %d", cfg.NumButtons)
	}
}

func TestLoad_InvalidFormatFailsFast(t *testing.T) {
	path := createTempConfig(t, `
audio:
  format: mp3
`)
	_, err := Load(path, "")
	if err == nil {
		t.Fatal("Expected error for unsupported format")
	}
	if !strings.Contains(err.Error(), "audio.format") {
		t.Errorf("Expected audio.format error, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	if err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"zero buttons", func(c *Config) { c.NumButtons = 0 }, "num_buttons"},
		{"empty message type", func(c *Config) { c.MessageType = " " }, "message_type"},
		{"bad backend", func(c *Config) { c.Audio.Backend = "jack" }, "audio.backend"},
		{"zero rate", func(c *Config) { c.Audio.SampleRate = 0 }, "sample_rate"},
		{"three channels", func(c *Config) { c.Audio.Channels = 3 }, "channels"},
		{"zero period", func(c *Config) { c.Audio.PeriodSize = 0 }, "period_size"},
		{"negative retention", func(c *Config) { c.BackupRetention = -1 }, "backup_retention"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_NormalisesNames(t *testing.T) {
	cfg := Default()
	cfg.Audio.Format = "MuLaw"
	cfg.Audio.Backend = "sounddevice"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Audio.Format != "ulaw" {
		t.Errorf("Expected ulaw, got %s", cfg.Audio.Format)
	}
	if cfg.Audio.Backend != "portable" {
		t.Errorf("Expected portable, got %s", cfg.Audio.Backend)
	}
}

func TestDevicePrecedence(t *testing.T) {
	cfg := Default()
	cfg.Audio.AudioDevice = "hw:0,0"

	if cfg.InputDevice() != "hw:0,0" || cfg.OutputDevice() != "hw:0,0" {
		t.Errorf("Expected legacy device for both directions")
	}

	cfg.Audio.InputDevice = "dsnoop:1"
	cfg.Audio.OutputDevice = "dmix:1"
	if cfg.InputDevice() != "dsnoop:1" {
		t.Errorf("Expected input_device to win, got %s", cfg.InputDevice())
	}
	if cfg.OutputDevice() != "dmix:1" {
		t.Errorf("Expected output_device to win, got %s", cfg.OutputDevice())
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	if got := expandPath("~/clips"); got != filepath.Join(home, "clips") {
		t.Errorf("Expected %s, got %s", filepath.Join(home, "clips"), got)
	}
	if got := expandPath("~"); got != home {
		t.Errorf("Expected %s, got %s", home, got)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("Expected unchanged absolute path, got %s", got)
	}
}
