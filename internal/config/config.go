// Package config provides configuration management for the avatar runtime
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TALKINGAVATAR_MEDIA_SOURCE.
const EnvPrefix = "TALKINGAVATAR"

// Config holds all application configuration
type Config struct {
	Media     MediaConfig     `mapstructure:"media"`
	Narration NarrationConfig `mapstructure:"narration"`
	Speech    SpeechConfig    `mapstructure:"speech"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// MediaConfig configures the avatar media source
type MediaConfig struct {
	Source        string        `mapstructure:"source"`
	FallbackImage string        `mapstructure:"fallback_image"`
	Image         string        `mapstructure:"image"`      // still avatar; defaults to fallback_image
	Kind          string        `mapstructure:"kind"`       // video or image
	AssetBase     string        `mapstructure:"asset_base"` // prefix for relative asset names
	Provider      string        `mapstructure:"provider"`   // headless or remote
	Muted         bool          `mapstructure:"muted"`
	Autoplay      bool          `mapstructure:"autoplay"`
	LoadTimeout   time.Duration `mapstructure:"load_timeout"`
	Rewind        time.Duration `mapstructure:"rewind"`
	// Headless provider
	BlockUnmutedAutoplay bool          `mapstructure:"block_unmuted_autoplay"`
	DefaultDuration      time.Duration `mapstructure:"default_duration"`
}

// NarrationConfig configures the narration sequencer
type NarrationConfig struct {
	Mode           string   `mapstructure:"mode"`    // narrated or embedded
	Backend        string   `mapstructure:"backend"` // auto, command or typewriter
	Voice          string   `mapstructure:"voice"`
	Lang           string   `mapstructure:"lang"`
	Rate           float64  `mapstructure:"rate"`
	Pitch          float64  `mapstructure:"pitch"`
	Volume         float64  `mapstructure:"volume"`
	CharsPerSecond float64  `mapstructure:"chars_per_second"`
	ScriptPath     string   `mapstructure:"script_path"`
	WatchScript    bool     `mapstructure:"watch_script"`
	Segments       []string `mapstructure:"segments"`
}

// SpeechConfig configures the command-line synthesizer
type SpeechConfig struct {
	Engine         string `mapstructure:"engine"`
	Path           string `mapstructure:"path"`
	WordsPerMinute int    `mapstructure:"words_per_minute"`
}

// ServerConfig configures the HTTP bridge
type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	MetricsPath string        `mapstructure:"metrics_path"`
	WriteWait   time.Duration `mapstructure:"write_wait"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
}

// LogConfig configures logging
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	MaxHistory int    `mapstructure:"max_history"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	logDir := ""
	if dir, err := GetConfigDir(); err == nil {
		logDir = filepath.Join(dir, "logs")
	}

	return &Config{
		Media: MediaConfig{
			Kind:            "video",
			Provider:        "headless",
			Autoplay:        true,
			LoadTimeout:     8 * time.Second,
			Rewind:          5 * time.Second,
			DefaultDuration: 30 * time.Second,
		},
		Narration: NarrationConfig{
			Mode:           "narrated",
			Backend:        "auto",
			Lang:           "es-ES",
			Rate:           1.0,
			Pitch:          1.0,
			Volume:         1.0,
			CharsPerSecond: 25,
			WatchScript:    true,
		},
		Speech: SpeechConfig{
			WordsPerMinute: 175,
		},
		Server: ServerConfig{
			Addr:        "127.0.0.1:8765",
			MetricsPath: "/metrics",
			WriteWait:   10 * time.Second,
			PingPeriod:  30 * time.Second,
		},
		Log: LogConfig{
			Dir:        logDir,
			Level:      "info",
			Console:    false,
			MaxHistory: 500,
		},
	}
}

// Load reads configuration from path (or the default search paths when
// path is empty), .env files and the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	envFiles := []string{".env"}
	if dir, err := GetConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(dir, ".env"))
	}
	if err := LoadEnvFiles(envFiles...); err != nil {
		return cfg, err
	}

	v := viper.New()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadEnvFiles loads the given .env files that exist. Variables already
// set in the environment win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	switch c.Media.Kind {
	case "video", "image":
	default:
		errs = append(errs, fmt.Errorf("media.kind must be video or image, got %q", c.Media.Kind))
	}
	switch c.Media.Provider {
	case "headless", "remote":
	default:
		errs = append(errs, fmt.Errorf("media.provider must be headless or remote, got %q", c.Media.Provider))
	}
	if c.Media.LoadTimeout <= 0 {
		errs = append(errs, errors.New("media.load_timeout must be positive"))
	}
	if c.Media.Rewind < 0 {
		errs = append(errs, errors.New("media.rewind must not be negative"))
	}
	switch c.Narration.Mode {
	case "narrated", "embedded":
	default:
		errs = append(errs, fmt.Errorf("narration.mode must be narrated or embedded, got %q", c.Narration.Mode))
	}
	switch c.Narration.Backend {
	case "auto", "command", "typewriter":
	default:
		errs = append(errs, fmt.Errorf("narration.backend must be auto, command or typewriter, got %q", c.Narration.Backend))
	}
	if c.Narration.Rate <= 0 {
		errs = append(errs, errors.New("narration.rate must be positive"))
	}
	if c.Narration.Volume < 0 || c.Narration.Volume > 1 {
		errs = append(errs, errors.New("narration.volume must be within [0, 1]"))
	}
	if c.Narration.CharsPerSecond <= 0 {
		errs = append(errs, errors.New("narration.chars_per_second must be positive"))
	}
	return errors.Join(errs...)
}

// Save writes the configuration to path as YAML
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	for key, value := range settings(cfg) {
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		v.Set(key, value)
	}
	v.SetConfigType("yaml")
	return v.WriteConfigAs(path)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".talkingavatar"), nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	for key, value := range settings(cfg) {
		v.SetDefault(key, value)
	}
}

func settings(cfg *Config) map[string]any {
	m, n := cfg.Media, cfg.Narration
	return map[string]any{
		"media.source":                 m.Source,
		"media.fallback_image":         m.FallbackImage,
		"media.image":                  m.Image,
		"media.kind":                   m.Kind,
		"media.asset_base":             m.AssetBase,
		"media.provider":               m.Provider,
		"media.muted":                  m.Muted,
		"media.autoplay":               m.Autoplay,
		"media.load_timeout":           m.LoadTimeout,
		"media.rewind":                 m.Rewind,
		"media.block_unmuted_autoplay": m.BlockUnmutedAutoplay,
		"media.default_duration":       m.DefaultDuration,

		"narration.mode":             n.Mode,
		"narration.backend":          n.Backend,
		"narration.voice":            n.Voice,
		"narration.lang":             n.Lang,
		"narration.rate":             n.Rate,
		"narration.pitch":            n.Pitch,
		"narration.volume":           n.Volume,
		"narration.chars_per_second": n.CharsPerSecond,
		"narration.script_path":      n.ScriptPath,
		"narration.watch_script":     n.WatchScript,
		"narration.segments":         n.Segments,

		"speech.engine":           cfg.Speech.Engine,
		"speech.path":             cfg.Speech.Path,
		"speech.words_per_minute": cfg.Speech.WordsPerMinute,

		"server.addr":         cfg.Server.Addr,
		"server.metrics_path": cfg.Server.MetricsPath,
		"server.write_wait":   cfg.Server.WriteWait,
		"server.ping_period":  cfg.Server.PingPeriod,

		"log.dir":         cfg.Log.Dir,
		"log.level":       cfg.Log.Level,
		"log.console":     cfg.Log.Console,
		"log.max_history": cfg.Log.MaxHistory,
	}
}
