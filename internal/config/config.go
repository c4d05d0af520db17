package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the copilot.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Audio    AudioConfig    `yaml:"audio"`
	Rules    RulesConfig    `yaml:"rules"`
	Session  SessionConfig  `yaml:"session"`
	Journal  JournalConfig  `yaml:"journal"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`

	// File is the YAML overlay that was applied, if any.
	File string `yaml:"-"`
}

type AgentConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Mode    string        `yaml:"mode"`
}

type DeepgramConfig struct {
	APIKey      string        `yaml:"api_key"`
	APIBaseURL  string        `yaml:"api_base"`
	Model       string        `yaml:"model"`
	Language    string        `yaml:"language"`
	SmartFormat bool          `yaml:"smart_format"`
	Endpointing time.Duration `yaml:"endpointing"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"ffmpeg_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkSize       int    `yaml:"chunk_size"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iteration_limit"`
}

type SessionConfig struct {
	AutoListen         bool          `yaml:"auto_listen"`
	VoiceToggleAllowed bool          `yaml:"voice_toggle"`
	VoiceEnabled       bool          `yaml:"voice_enabled"`
	SidebarOpen        bool          `yaml:"sidebar_open"`
	RestartDelay       time.Duration `yaml:"restart_delay"`
}

// JournalConfig points at the SQLite journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load resolves configuration from defaults, an optional YAML file and the
// environment, in that order. A .env file in the working directory is read
// first and never overrides variables that are already set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "formcopilot")

	cfg := defaults(configDir)

	file := strings.TrimSpace(os.Getenv("FORMCOPILOT_CONFIG"))
	required := file != ""
	if !required {
		file = filepath.Join(configDir, "config.yaml")
	}
	if err := cfg.overlayFile(expandHome(file, home), required); err != nil {
		return Config{}, err
	}

	cfg.overlayEnv()
	cfg.Rules.Path = expandHome(cfg.Rules.Path, home)
	cfg.Journal.Path = expandHome(cfg.Journal.Path, home)
	cfg.normalize()
	return cfg, nil
}

func defaults(configDir string) Config {
	return Config{
		Agent: AgentConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Deepgram: DeepgramConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			Language:    "en-US",
			SmartFormat: true,
			Endpointing: 300 * time.Millisecond,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			ChunkSize:       4096,
		},
		Rules: RulesConfig{
			Path:           filepath.Join(configDir, "vocabulary.rules"),
			IterationLimit: 30,
		},
		Session: SessionConfig{
			AutoListen:         true,
			VoiceToggleAllowed: true,
			SidebarOpen:        true,
			RestartDelay:       500 * time.Millisecond,
		},
		Journal: JournalConfig{
			Path: filepath.Join(configDir, "journal.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c *Config) overlayFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	c.File = path
	return nil
}

func (c *Config) overlayEnv() {
	c.Agent.BaseURL = envOrDefault("AGENT_API_BASE", c.Agent.BaseURL)
	c.Agent.Timeout = envOrDefaultMillis("FORMCOPILOT_AGENT_TIMEOUT_MS", c.Agent.Timeout)
	c.Agent.Mode = envOrDefault("FORMCOPILOT_MODE", c.Agent.Mode)

	c.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", c.Deepgram.APIKey)
	c.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", c.Deepgram.APIBaseURL)
	c.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", c.Deepgram.Model)
	c.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", c.Deepgram.Language)
	c.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", c.Deepgram.SmartFormat)
	c.Deepgram.Endpointing = envOrDefaultMillis("DEEPGRAM_ENDPOINTING_MS", c.Deepgram.Endpointing)

	c.Audio.RecorderCommand = envOrDefault("FORMCOPILOT_FFMPEG_COMMAND", c.Audio.RecorderCommand)
	c.Audio.InputFormat = envOrDefault("FORMCOPILOT_AUDIO_INPUT_FORMAT", c.Audio.InputFormat)
	c.Audio.InputDevice = firstNonEmpty(
		os.Getenv("FORMCOPILOT_AUDIO_INPUT_DEVICE"),
		os.Getenv("DEEPGRAM_PULSE_SOURCE"),
		c.Audio.InputDevice,
	)
	c.Audio.SampleRate = envOrDefaultInt("FORMCOPILOT_SAMPLE_RATE", c.Audio.SampleRate)
	c.Audio.Channels = envOrDefaultInt("FORMCOPILOT_CHANNELS", c.Audio.Channels)
	c.Audio.ChunkSize = envOrDefaultInt("FORMCOPILOT_AUDIO_CHUNK_SIZE", c.Audio.ChunkSize)

	c.Rules.Path = envOrDefault("FORMCOPILOT_RULES_FILE", c.Rules.Path)
	c.Rules.IterationLimit = envOrDefaultInt("FORMCOPILOT_RULE_ITERATION_LIMIT", c.Rules.IterationLimit)

	c.Session.AutoListen = envOrDefaultBool("FORMCOPILOT_AUTO_LISTEN", c.Session.AutoListen)
	c.Session.VoiceToggleAllowed = envOrDefaultBool("FORMCOPILOT_VOICE_TOGGLE", c.Session.VoiceToggleAllowed)
	c.Session.VoiceEnabled = envOrDefaultBool("FORMCOPILOT_VOICE_ENABLED", c.Session.VoiceEnabled)
	c.Session.SidebarOpen = envOrDefaultBool("FORMCOPILOT_SIDEBAR_OPEN", c.Session.SidebarOpen)
	c.Session.RestartDelay = envOrDefaultMillis("FORMCOPILOT_RESTART_DELAY_MS", c.Session.RestartDelay)

	c.Journal.Path = envOrDefault("FORMCOPILOT_JOURNAL_PATH", c.Journal.Path)
	c.HTTP.Addr = envOrDefault("FORMCOPILOT_HTTP_ADDR", c.HTTP.Addr)

	c.Log.Level = envOrDefault("FORMCOPILOT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("FORMCOPILOT_LOG_FORMAT", c.Log.Format)
}

func (c *Config) normalize() {
	if c.Agent.Timeout <= 0 {
		c.Agent.Timeout = 30 * time.Second
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.ChunkSize < 256 {
		c.Audio.ChunkSize = 4096
	}
	if c.Rules.IterationLimit <= 0 {
		c.Rules.IterationLimit = 30
	}
	if c.Session.RestartDelay < 0 {
		c.Session.RestartDelay = 500 * time.Millisecond
	}
	if strings.EqualFold(strings.TrimSpace(c.Journal.Path), "off") {
		c.Journal.Path = ""
	}
	c.Agent.Mode = strings.ToUpper(strings.TrimSpace(c.Agent.Mode))
	c.Agent.BaseURL = strings.TrimRight(c.Agent.BaseURL, "/")
}

// JournalEnabled reports whether turns should be persisted.
func (c Config) JournalEnabled() bool {
	return c.Journal.Path != ""
}

func expandHome(path string, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultMillis reads a non-negative millisecond count.
func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
