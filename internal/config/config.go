// Package config handles personachat configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/logging"
	"github.com/personachat/personachat/internal/session"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	Server   ServerConfig   `json:"server"`
	Study    StudyConfig    `json:"study"`
	LLM      LLMConfig      `json:"llm"`
	Rating   RatingConfig   `json:"rating"`
	Qdrant   QdrantConfig   `json:"qdrant"`
	Identity IdentityConfig `json:"identity"`
	Logging  logging.Config `json:"logging"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port           int      `json:"port"`
	Host           string   `json:"host"`
	AllowedOrigins []string `json:"allowed_origins"`
	// Per-participant request budget for upstream-calling routes.
	RequestsPerMinute int `json:"requests_per_minute"`
	Burst             int `json:"burst"`
	// Honour X-Forwarded-For / X-Real-IP. Only safe behind a reverse proxy.
	TrustProxy bool `json:"trust_proxy"`
	// Bearer token for the ledger and monitor routes. Empty keeps them closed.
	ResearcherToken string `json:"researcher_token,omitempty"`
}

// StudyConfig holds the settings every participant session shares.
type StudyConfig struct {
	ID                   string   `json:"id"`
	Avatars              []string `json:"avatars"`
	MinPromptLength      int      `json:"min_prompt_length"`
	TotalPhases          int      `json:"total_phases"`
	VisualizationPhase   int      `json:"visualization_phase"`
	TaskDurationSec      int      `json:"task_duration_sec"`
	DebugTaskDurationSec int      `json:"debug_task_duration_sec"`
	Welcome              string   `json:"welcome,omitempty"`
}

// ProviderConfig for one completion provider
type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
}

// LLMConfig selects completion providers
type LLMConfig struct {
	Anthropic    ProviderConfig `json:"anthropic"`
	OpenAI       ProviderConfig `json:"openai"`
	DefaultModel string         `json:"default_model"`
	MaxTokens    int            `json:"max_tokens"`
}

// RatingConfig for the persona-rating service
type RatingConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key,omitempty"`
	TimeoutSec int    `json:"timeout_sec"`
}

// QdrantConfig for vector database
type QdrantConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	UseTLS     bool   `json:"use_tls"`
	APIKey     string `json:"api_key,omitempty"`
	Collection string `json:"collection"`
}

// IdentityConfig for participant pseudonyms
type IdentityConfig struct {
	Secret string `json:"secret,omitempty"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()
	study := session.DefaultSettings()

	return &Config{
		DataDir: filepath.Join(home, ".personachat"),
		Server: ServerConfig{
			Port:              8080,
			Host:              "localhost",
			AllowedOrigins:    []string{"*"},
			RequestsPerMinute: 30,
			Burst:             5,
		},
		Study: StudyConfig{
			ID:                   study.StudyID,
			Avatars:              study.Avatars,
			MinPromptLength:      study.MinPromptLength,
			TotalPhases:          study.TotalPhases,
			VisualizationPhase:   study.VisualizationPhase,
			TaskDurationSec:      int(study.TaskDuration / time.Second),
			DebugTaskDurationSec: int(study.DebugTaskDuration / time.Second),
		},
		LLM: LLMConfig{
			Anthropic:    ProviderConfig{Model: "claude-sonnet-4-20250514"},
			OpenAI:       ProviderConfig{Model: "gpt-4o"},
			DefaultModel: "claude-sonnet-4-20250514",
			MaxTokens:    1024,
		},
		Rating: RatingConfig{TimeoutSec: 90},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "persona_vectors",
		},
		Logging: logging.Config{Level: "info"},
	}
}

// Load loads config from file, falling back to defaults. Environment variables
// override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, core.Ef(core.KindConfiguration, "config.Load", "parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Use defaults
	default:
		return nil, core.E(core.KindConfiguration, "config.Load", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	overrides := []struct {
		env string
		dst *string
	}{
		{"ANTHROPIC_API_KEY", &c.LLM.Anthropic.APIKey},
		{"ANTHROPIC_BASE_URL", &c.LLM.Anthropic.BaseURL},
		{"OPENAI_API_KEY", &c.LLM.OpenAI.APIKey},
		{"OPENAI_BASE_URL", &c.LLM.OpenAI.BaseURL},
		{"PERSONA_RATING_URL", &c.Rating.URL},
		{"PERSONA_RATING_API_KEY", &c.Rating.APIKey},
		{"PERSONACHAT_PSEUDONYM_SECRET", &c.Identity.Secret},
		{"PERSONACHAT_RESEARCHER_TOKEN", &c.Server.ResearcherToken},
		{"QDRANT_API_KEY", &c.Qdrant.APIKey},
		{"PERSONACHAT_LOG_LEVEL", &c.Logging.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}

	if v := os.Getenv("PERSONACHAT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return core.Ef(core.KindConfiguration, "config.Load", "PERSONACHAT_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate rejects settings no session could run with.
func (c *Config) Validate() error {
	const op = "config.Validate"
	var problems []string

	s := c.Study
	if strings.TrimSpace(s.ID) == "" {
		problems = append(problems, "study.id is empty")
	}
	if len(s.Avatars) == 0 {
		problems = append(problems, "study.avatars is empty")
	}
	if s.MinPromptLength < 0 {
		problems = append(problems, "study.min_prompt_length is negative")
	}
	if s.TotalPhases < 1 {
		problems = append(problems, "study.total_phases must be at least 1")
	}
	if s.VisualizationPhase < 0 || s.VisualizationPhase >= s.TotalPhases {
		problems = append(problems, fmt.Sprintf("study.visualization_phase %d outside phases 0..%d", s.VisualizationPhase, s.TotalPhases-1))
	}
	if s.TaskDurationSec < 0 || s.DebugTaskDurationSec < 0 {
		problems = append(problems, "task durations must not be negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RequestsPerMinute < 0 || c.Server.Burst < 0 {
		problems = append(problems, "rate limits must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return core.Ef(core.KindValidation, op, "%w: %s", core.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// StudySettings converts the study section for the session manager.
func (c *Config) StudySettings() session.Settings {
	s := session.Settings{
		StudyID:            c.Study.ID,
		Avatars:            append([]string(nil), c.Study.Avatars...),
		MinPromptLength:    c.Study.MinPromptLength,
		TotalPhases:        c.Study.TotalPhases,
		VisualizationPhase: c.Study.VisualizationPhase,
		TaskDuration:       time.Duration(c.Study.TaskDurationSec) * time.Second,
		DebugTaskDuration:  time.Duration(c.Study.DebugTaskDurationSec) * time.Second,
		Welcome:            c.Study.Welcome,
	}
	if s.Welcome == "" {
		s.Welcome = session.DefaultWelcome
	}
	return s
}

// DatabasePath is the SQLite file under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "personachat.db")
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Secrets stay in the environment
	safeCfg := *c
	safeCfg.LLM.Anthropic.APIKey = ""
	safeCfg.LLM.OpenAI.APIKey = ""
	safeCfg.Rating.APIKey = ""
	safeCfg.Qdrant.APIKey = ""
	safeCfg.Identity.Secret = ""
	safeCfg.Server.ResearcherToken = ""

	data, err := json.MarshalIndent(safeCfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
