// Package config provides the unified configuration for agentos.
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables, then validated.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Mission    MissionConfig    `yaml:"mission"`
	Memory     MemoryConfig     `yaml:"memory"`
	Browser    BrowserConfig    `yaml:"browser"`
	Vision     VisionConfig     `yaml:"vision"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Brain      BrainConfig      `yaml:"brain"`
}

// MissionConfig locates the mission plan and agent registry files.
type MissionConfig struct {
	PlanFile    string        `yaml:"plan_file"`
	AgentsMap   string        `yaml:"agents_map"`
	PromptsFile string        `yaml:"prompts_file"`
	WatchDir    string        `yaml:"watch_dir"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MemoryConfig locates the KV store file.
type MemoryConfig struct {
	File string `yaml:"file"`
}

// BrowserConfig controls the persistent-profile browser session.
type BrowserConfig struct {
	UserDataDir     string        `yaml:"user_data_dir"`
	Profile         string        `yaml:"profile"`
	Bin             string        `yaml:"bin"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	ActionTimeout   time.Duration `yaml:"action_timeout"`
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
	// ForceClickHosts lists hosts whose clicks bypass actionability checks.
	ForceClickHosts []string `yaml:"force_click_hosts"`
}

// VisionConfig controls the vision-language model client.
type VisionConfig struct {
	APIKey string `yaml:"api_key"`
	// Models is the fallback order: a fast model first, then a capable one.
	Models      []string `yaml:"models"`
	Temperature float32  `yaml:"temperature"`
	JPEGQuality int      `yaml:"jpeg_quality"`
	// DebugDump writes each captured frame to the OS temp directory.
	DebugDump bool `yaml:"debug_dump"`
}

// SupervisorConfig controls risk classification and the decision journal.
type SupervisorConfig struct {
	// RiskKeywords trigger High classification for click/type actions when
	// found (case-insensitively) in the task context or typed value.
	RiskKeywords []string `yaml:"risk_keywords"`
	// JournalDB is the SQLite file the decision journal is persisted to.
	// Empty disables persistence; decisions are still kept in process.
	JournalDB string `yaml:"journal_db"`
}

// BrainConfig bounds the perceive-think-act loop.
type BrainConfig struct {
	MaxSteps  int           `yaml:"max_steps"`
	StepPause time.Duration `yaml:"step_pause"`
}

// Default returns the configuration with every built-in constant applied.
func Default() Config {
	return Config{
		Mission: MissionConfig{
			PlanFile:  filepath.Join("missions", "mission_001.json"),
			AgentsMap: "agents_map.json",
			WatchDir:  "missions",
			Timeout:   10 * time.Minute,
		},
		Memory: MemoryConfig{
			File: filepath.Join("memory", "memory.json"),
		},
		Browser: BrowserConfig{
			Profile:         "Default",
			NavigateTimeout: 60 * time.Second,
			ActionTimeout:   10 * time.Second,
			WaitTimeout:     15 * time.Second,
			ForceClickHosts: []string{"x.com", "twitter.com"},
		},
		Vision: VisionConfig{
			Models:      []string{"gemini-2.5-flash", "gemini-2.5-pro"},
			Temperature: 0.1,
			JPEGQuality: 95,
		},
		Supervisor: SupervisorConfig{
			RiskKeywords: []string{
				"post", "delete", "confirm", "purchase", "send", "submit",
				"login", "password", "credentials", "pay", "buy", "approve",
			},
			JournalDB: filepath.Join(".agentos", "decisions.db"),
		},
		Brain: BrainConfig{
			MaxSteps:  15,
			StepPause: 2 * time.Second,
		},
	}
}

// Load reads a YAML config file on top of the defaults. A missing file is
// not an error: the defaults plus env overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides maps the process environment onto the config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VISION_API_KEY"); v != "" {
		c.Vision.APIKey = v
	}
	if v := os.Getenv("BROWSER_USER_DATA_DIR"); v != "" {
		c.Browser.UserDataDir = v
	}
	if v := os.Getenv("BROWSER_PROFILE"); v != "" {
		c.Browser.Profile = v
	}
	if v := os.Getenv("DEBUG_VISION"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no", "off":
			c.Vision.DebugDump = false
		default:
			c.Vision.DebugDump = true
		}
	}
}

// Validate checks the parts of the config a live mission needs. The vision
// key and browser profile are only required when the brain drives a real
// browser, which every stock mission does.
func (c Config) Validate() error {
	if c.Mission.PlanFile == "" {
		return fmt.Errorf("mission.plan_file is required")
	}
	if c.Vision.APIKey == "" {
		return fmt.Errorf("vision API key is required (set VISION_API_KEY)")
	}
	if c.Browser.UserDataDir == "" {
		return fmt.Errorf("browser user data dir is required (set BROWSER_USER_DATA_DIR)")
	}
	if info, err := os.Stat(c.Browser.UserDataDir); err != nil || !info.IsDir() {
		return fmt.Errorf("browser user data dir %q is not a directory", c.Browser.UserDataDir)
	}
	if c.Brain.MaxSteps <= 0 {
		return fmt.Errorf("brain.max_steps must be positive")
	}
	return nil
}
