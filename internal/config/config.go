package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/clipstage/internal/audio"
	"github.com/audiolibrelab/clipstage/internal/codec"
)

const envPrefix = "CLIPSTAGE"

type AudioConfig struct {
	Backend      string        `mapstructure:"backend" yaml:"backend"` // "auto", "alsa", "portable", "mock"
	Format       string        `mapstructure:"format" yaml:"format"`   // "pcm", "alaw", "ulaw"
	SampleRate   int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels     int           `mapstructure:"channels" yaml:"channels"`
	PeriodSize   int           `mapstructure:"period_size" yaml:"period_size"`
	MaxDuration  time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	InputDevice  string        `mapstructure:"input_device" yaml:"input_device"`
	OutputDevice string        `mapstructure:"output_device" yaml:"output_device"`
	AudioDevice  string        `mapstructure:"audio_device" yaml:"audio_device"` // combined device (deprecated, use input_device/output_device)
}

// ScopeConfig overrides the global settings for one message type.
type ScopeConfig struct {
	StorageDir      string      `mapstructure:"storage_dir" yaml:"storage_dir"`
	MetadataFile    string      `mapstructure:"metadata_file" yaml:"metadata_file"`
	NumButtons      int         `mapstructure:"num_buttons" yaml:"num_buttons"`
	BackupRetention int         `mapstructure:"backup_retention" yaml:"backup_retention"`
	Audio           AudioConfig `mapstructure:"audio" yaml:"audio"`
}

type RootConfig struct {
	StorageDir      string                  `mapstructure:"storage_dir" yaml:"storage_dir"`
	MetadataFile    string                  `mapstructure:"metadata_file" yaml:"metadata_file"`
	NumButtons      int                     `mapstructure:"num_buttons" yaml:"num_buttons"`
	MessageType     string                  `mapstructure:"message_type" yaml:"message_type"`
	BackupRetention int                     `mapstructure:"backup_retention" yaml:"backup_retention"`
	Audio           AudioConfig             `mapstructure:"audio" yaml:"audio"`
	Scopes          map[string]*ScopeConfig `mapstructure:"scopes" yaml:"scopes"`
}

// Config is the resolved configuration of one scope.
type Config struct {
	MessageType     string      `mapstructure:"message_type" yaml:"message_type"`
	StorageDir      string      `mapstructure:"storage_dir" yaml:"storage_dir"`
	MetadataFile    string      `mapstructure:"metadata_file" yaml:"metadata_file"`
	NumButtons      int         `mapstructure:"num_buttons" yaml:"num_buttons"`
	BackupRetention int         `mapstructure:"backup_retention" yaml:"backup_retention"`
	Audio           AudioConfig `mapstructure:"audio" yaml:"audio"`

	// Internal field to track which settings came from the scope, for config show
	Inheritance map[string]string `mapstructure:"-" yaml:"-"`
}

var defaultConfig = Config{
	MessageType:     "custom_message",
	StorageDir:      "~/.audio_file_manager/storage",
	NumButtons:      16,
	BackupRetention: 5,
	Audio: AudioConfig{
		Backend:     "auto",
		Format:      "pcm",
		SampleRate:  44100,
		Channels:    1,
		PeriodSize:  1024,
		MaxDuration: 5 * time.Minute,
	},
}

// Default returns the built-in configuration, resolved and validated.
func Default() *Config {
	cfg := defaultConfig
	cfg.Inheritance = map[string]string{}
	cfg.resolvePaths()
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage_dir", defaultConfig.StorageDir)
	v.SetDefault("metadata_file", "")
	v.SetDefault("num_buttons", defaultConfig.NumButtons)
	v.SetDefault("message_type", defaultConfig.MessageType)
	v.SetDefault("backup_retention", defaultConfig.BackupRetention)
	v.SetDefault("audio.backend", defaultConfig.Audio.Backend)
	v.SetDefault("audio.format", defaultConfig.Audio.Format)
	v.SetDefault("audio.sample_rate", defaultConfig.Audio.SampleRate)
	v.SetDefault("audio.channels", defaultConfig.Audio.Channels)
	v.SetDefault("audio.period_size", defaultConfig.Audio.PeriodSize)
	v.SetDefault("audio.max_duration", defaultConfig.Audio.MaxDuration)
	v.SetDefault("audio.input_device", "")
	v.SetDefault("audio.output_device", "")
	v.SetDefault("audio.audio_device", "")
}

// Load reads configFile (optional; defaults and CLIPSTAGE_* environment
// variables apply without it) and resolves the settings of scope. An empty
// scope selects the configured message_type.
func Load(configFile, scope string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if scope == "" {
		scope = root.MessageType
	}
	if scope == "" {
		scope = defaultConfig.MessageType
	}

	base := &Config{
		MessageType:     scope,
		StorageDir:      root.StorageDir,
		MetadataFile:    root.MetadataFile,
		NumButtons:      root.NumButtons,
		BackupRetention: root.BackupRetention,
		Audio:           root.Audio,
	}
	// viper lowercases map keys
	cfg := mergeConfigs(base, root.Scopes[strings.ToLower(scope)])
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// mergeConfigs applies the "Selection & Fallback" model: every setting the
// scope defines wins, everything else falls back to the global value.
func mergeConfigs(base *Config, scope *ScopeConfig) *Config {
	result := *base
	result.Inheritance = map[string]string{}

	set := func(key string, apply bool, fn func()) {
		if apply {
			fn()
			result.Inheritance[key] = "scope-specific"
		} else {
			result.Inheritance[key] = "inherited"
		}
	}
	if scope == nil {
		scope = &ScopeConfig{}
	}

	set("storage_dir", scope.StorageDir != "", func() { result.StorageDir = scope.StorageDir })
	set("metadata_file", scope.MetadataFile != "", func() { result.MetadataFile = scope.MetadataFile })
	set("num_buttons", scope.NumButtons != 0, func() { result.NumButtons = scope.NumButtons })
	set("backup_retention", scope.BackupRetention != 0, func() { result.BackupRetention = scope.BackupRetention })

	a := scope.Audio
	set("audio.backend", a.Backend != "", func() { result.Audio.Backend = a.Backend })
	set("audio.format", a.Format != "", func() { result.Audio.Format = a.Format })
	set("audio.sample_rate", a.SampleRate != 0, func() { result.Audio.SampleRate = a.SampleRate })
	set("audio.channels", a.Channels != 0, func() { result.Audio.Channels = a.Channels })
	set("audio.period_size", a.PeriodSize != 0, func() { result.Audio.PeriodSize = a.PeriodSize })
	set("audio.max_duration", a.MaxDuration != 0, func() { result.Audio.MaxDuration = a.MaxDuration })
	set("audio.input_device", a.InputDevice != "", func() { result.Audio.InputDevice = a.InputDevice })
	set("audio.output_device", a.OutputDevice != "", func() { result.Audio.OutputDevice = a.OutputDevice })
	set("audio.audio_device", a.AudioDevice != "", func() { result.Audio.AudioDevice = a.AudioDevice })

	return &result
}

// resolvePaths expands "~" and derives the metadata file location:
// <storage_dir>/../<message_type>_metadata.yaml unless configured.
func (c *Config) resolvePaths() {
	c.StorageDir = expandPath(c.StorageDir)
	if c.MetadataFile == "" {
		c.MetadataFile = filepath.Join(filepath.Dir(filepath.Clean(c.StorageDir)), c.MessageType+"_metadata.yaml")
	}
	c.MetadataFile = expandPath(c.MetadataFile)
}

// Validate checks the resolved settings and normalises the format and
// backend names. An unknown format fails here rather than at finalize time.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MessageType) == "" {
		return fmt.Errorf("message_type must not be empty")
	}
	if c.StorageDir == "" {
		return fmt.Errorf("storage_dir must not be empty")
	}
	if c.NumButtons <= 0 {
		return fmt.Errorf("num_buttons must be > 0, got: %d", c.NumButtons)
	}
	if c.BackupRetention < 0 {
		return fmt.Errorf("backup_retention must be >= 0, got: %d", c.BackupRetention)
	}

	format, err := codec.ParseFormat(c.Audio.Format)
	if err != nil {
		return fmt.Errorf("audio.format: %w", err)
	}
	c.Audio.Format = string(format)

	backend, err := audio.ParseBackendType(c.Audio.Backend)
	if err != nil {
		return fmt.Errorf("audio.backend: %w", err)
	}
	c.Audio.Backend = string(backend)

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", c.Audio.Channels)
	}
	if c.Audio.PeriodSize <= 0 {
		return fmt.Errorf("audio.period_size must be > 0, got: %d", c.Audio.PeriodSize)
	}
	if c.Audio.MaxDuration < 0 {
		return fmt.Errorf("audio.max_duration must be >= 0, got: %s", c.Audio.MaxDuration)
	}
	return nil
}

// CodecFormat returns the validated storage format.
func (a AudioConfig) CodecFormat() codec.Format {
	f, err := codec.ParseFormat(a.Format)
	if err != nil {
		return codec.FormatPCM
	}
	return f
}

// BackendType returns the validated backend selection.
func (a AudioConfig) BackendType() audio.BackendType {
	t, err := audio.ParseBackendType(a.Backend)
	if err != nil {
		return audio.BackendAuto
	}
	return t
}

// InputDevice returns the capture device: input_device wins over the
// deprecated audio_device.
func (c *Config) InputDevice() string {
	if c.Audio.InputDevice != "" {
		return c.Audio.InputDevice
	}
	return c.Audio.AudioDevice
}

// OutputDevice returns the playback device: output_device wins over the
// deprecated audio_device.
func (c *Config) OutputDevice() string {
	if c.Audio.OutputDevice != "" {
		return c.Audio.OutputDevice
	}
	return c.Audio.AudioDevice
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
