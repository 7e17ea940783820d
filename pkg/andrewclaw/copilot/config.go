// Package copilot – config.go defines the configuration of the AndrewClaw
// assistant: model endpoint, storage locations, channels and maintenance.
package copilot

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels/console"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels/discord"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels/telegram"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels/whatsapp"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot/security"
)

// App status values.
const (
	StatusProduction  = "production"
	StatusDevelopment = "development"
)

// History backends.
const (
	HistoryBackendJSON   = "json"
	HistoryBackendSQLite = "sqlite"
)

// Config holds all assistant configuration. It is read once at startup.
type Config struct {
	// Name is the assistant persona name.
	Name string `yaml:"name"`

	// Model is the chat model (e.g. "deepseek-chat").
	Model string `yaml:"model" env:"ANDREWCLAW_MODEL"`

	// API configures the OpenAI-compatible model endpoint.
	API APIConfig `yaml:"api"`

	// AppStatus is "production" or "development". Development enables
	// per-sub-turn debug output.
	AppStatus string `yaml:"app_status" env:"APP_STATUS"`

	// Timezone is used by the date/time tool (e.g. "America/Bogota").
	Timezone string `yaml:"timezone" env:"ANDREWCLAW_TIMEZONE"`

	// DataDir holds the chat registry, histories and ledgers.
	DataDir string `yaml:"data_dir" env:"ANDREWCLAW_DATA_DIR"`

	// LogsDir holds the performance and security logs.
	LogsDir string `yaml:"logs_dir" env:"ANDREWCLAW_LOGS_DIR"`

	History     HistoryConfig     `yaml:"history"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Security    SecurityConfig    `yaml:"security"`
	Agent       AgentConfig       `yaml:"agent"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// APIConfig configures the model endpoint.
type APIConfig struct {
	BaseURL string `yaml:"base_url" env:"DEEPSEEK_BASE_URL"`
	APIKey  string `yaml:"api_key" env:"DEEPSEEK_API_KEY"`

	// Timeout bounds a single completion request.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is how many times a rate-limited or 5xx request is retried.
	MaxRetries int `yaml:"max_retries"`
}

// HistoryConfig configures transcript persistence.
type HistoryConfig struct {
	// Backend is "json" (one file per chat) or "sqlite".
	Backend string `yaml:"backend"`

	// MaxTurns caps both the persisted transcript and session hydration.
	MaxTurns int `yaml:"max_turns"`
}

// MaintenanceConfig configures the idle-session worker.
type MaintenanceConfig struct {
	Enabled bool `yaml:"enabled"`

	// InactivityMinutes is the idle time after which a chat is processed.
	InactivityMinutes int `yaml:"inactivity_minutes" env:"INACTIVITY_MINUTES"`

	// CheckInterval is the time between scans.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// Threshold returns the inactivity threshold as a duration.
func (m MaintenanceConfig) Threshold() time.Duration {
	return time.Duration(m.InactivityMinutes) * time.Minute
}

// ChannelsConfig configures every input/output channel.
type ChannelsConfig struct {
	Console  console.Config  `yaml:"console"`
	Telegram telegram.Config `yaml:"telegram"`
	Discord  discord.Config  `yaml:"discord"`
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
}

// SecurityConfig configures the threat detector and privacy policy.
type SecurityConfig struct {
	Detector security.DetectorConfig `yaml:"detector"`

	// NeverReveal lists profile fields listed in the policy prompt.
	NeverReveal []string `yaml:"never_reveal"`
}

// AgentConfig configures the turn loop.
type AgentConfig struct {
	// MaxToolRounds bounds model calls per turn.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// ShutdownTimeout bounds the extraction/consolidation drain on exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level" env:"ANDREWCLAW_LOG_LEVEL"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Name:      "Andrew Martin",
		Model:     "deepseek-chat",
		AppStatus: StatusProduction,
		Timezone:  "America/Bogota",
		DataDir:   "./data",
		LogsDir:   "./logs",
		API: APIConfig{
			BaseURL:    "https://api.deepseek.com",
			Timeout:    120 * time.Second,
			MaxRetries: 2,
		},
		History: HistoryConfig{
			Backend:  HistoryBackendJSON,
			MaxTurns: 100,
		},
		Maintenance: MaintenanceConfig{
			Enabled:           true,
			InactivityMinutes: 10,
			CheckInterval:     60 * time.Second,
		},
		Channels: ChannelsConfig{
			Console:  console.DefaultConfig(),
			Telegram: telegram.DefaultConfig(),
			Discord:  discord.DefaultConfig(),
			WhatsApp: whatsapp.DefaultConfig(),
		},
		Security: SecurityConfig{
			NeverReveal: security.DefaultNeverReveal,
		},
		Agent: AgentConfig{
			MaxToolRounds:   8,
			ShutdownTimeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// IsDevelopment reports whether verbose diagnostics are on.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppStatus), StatusDevelopment)
}

// RegistryPath is the chat registry file.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "system", "chat_registry.json")
}

// HistoryDir holds one transcript file per chat (json backend).
func (c *Config) HistoryDir() string { return filepath.Join(c.DataDir, "history") }

// HistoryDBPath is the transcript database (sqlite backend).
func (c *Config) HistoryDBPath() string { return filepath.Join(c.DataDir, "history.db") }

// UsersDir holds user ledgers.
func (c *Config) UsersDir() string { return filepath.Join(c.DataDir, "users") }

// CitiesDir holds city ledgers.
func (c *Config) CitiesDir() string { return filepath.Join(c.DataDir, "cities") }

// PerformanceLogPath is the performance metrics file.
func (c *Config) PerformanceLogPath() string { return filepath.Join(c.LogsDir, "performance.json") }

// SecurityLogDir holds the daily security event files.
func (c *Config) SecurityLogDir() string { return filepath.Join(c.LogsDir, "security") }

// normalize fills values a partial file may have zeroed.
func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = d.API.Timeout
	}
	if c.API.MaxRetries < 0 {
		c.API.MaxRetries = 0
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.LogsDir == "" {
		c.LogsDir = d.LogsDir
	}
	if c.History.MaxTurns <= 0 {
		c.History.MaxTurns = d.History.MaxTurns
	}
	c.History.Backend = strings.ToLower(strings.TrimSpace(c.History.Backend))
	if c.History.Backend == "" {
		c.History.Backend = HistoryBackendJSON
	}
	if c.Maintenance.InactivityMinutes <= 0 {
		c.Maintenance.InactivityMinutes = d.Maintenance.InactivityMinutes
	}
	if c.Maintenance.CheckInterval < time.Second {
		c.Maintenance.CheckInterval = d.Maintenance.CheckInterval
	}
	if c.Agent.MaxToolRounds <= 0 {
		c.Agent.MaxToolRounds = d.Agent.MaxToolRounds
	}
	if c.Agent.ShutdownTimeout <= 0 {
		c.Agent.ShutdownTimeout = d.Agent.ShutdownTimeout
	}
	if len(c.Security.NeverReveal) == 0 {
		c.Security.NeverReveal = d.Security.NeverReveal
	}
	if c.AppStatus == "" {
		c.AppStatus = d.AppStatus
	}
}
