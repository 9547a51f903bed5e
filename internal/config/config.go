// Package config holds the threadclaw configuration: a JSON5 file overlaid
// with THREADCLAW_* environment variables.
package config

import (
	"fmt"

	"github.com/threadclaw/threadclaw/internal/overflow"
	"github.com/threadclaw/threadclaw/internal/sessions"
)

// Config is the full adapter configuration.
type Config struct {
	Discord   DiscordConfig            `json:"discord"`
	Projects  map[string]ProjectConfig `json:"projects"`
	Engine    EngineConfig             `json:"engine"`
	Sessions  SessionsConfig           `json:"sessions"`
	Overflow  OverflowConfig           `json:"overflow"`
	Telemetry TelemetryConfig          `json:"telemetry"`
	Logging   LoggingConfig            `json:"logging"`
}

// DiscordConfig configures the Discord connection.
type DiscordConfig struct {
	Token string `json:"token"`
	// GuildID scopes slash-command registration. Empty registers globally,
	// which Discord propagates slowly; a guild ID is near-instant.
	GuildID string `json:"guild_id,omitempty"`
	// AllowFrom lists user IDs permitted to talk to the bot. Empty allows
	// everyone except bots.
	AllowFrom []string `json:"allow_from,omitempty"`
	// AnnounceChannel receives a startup notice when set.
	AnnounceChannel string `json:"announce_channel,omitempty"`
	// DefaultProject is the fallback when neither a binding nor a category
	// name resolves a project.
	DefaultProject string `json:"default_project,omitempty"`
}

// ProjectConfig describes one orchestrator project.
type ProjectConfig struct {
	// Workdir is the directory the engine runs in for this project.
	Workdir string `json:"workdir"`
}

// EngineConfig configures the agent engine subprocess.
type EngineConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// SessionsConfig configures session persistence and lifecycle.
type SessionsConfig struct {
	// Mode is "chat" (resume across turns) or "stateless".
	Mode string `json:"mode"`
	// Backend is "file" or "sqlite".
	Backend string `json:"backend"`
	// Storage is the state file (or database) path.
	Storage string `json:"storage"`
	// CleanupSchedule is a cron expression for purging old terminal
	// sessions. Empty disables the janitor.
	CleanupSchedule string `json:"cleanup_schedule,omitempty"`
	// RetentionDays keeps terminal sessions this long before purging.
	RetentionDays int `json:"retention_days,omitempty"`
}

// OverflowConfig configures oversized-output handling.
type OverflowConfig struct {
	// Policy is "split" or "trim".
	Policy string `json:"policy"`
	// Limit overrides the platform message limit. Zero uses the default.
	Limit int `json:"limit,omitempty"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector address. Empty disables
	// export.
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty"`
	// Format is "text" or "json".
	Format string `json:"format,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Projects: map[string]ProjectConfig{},
		Engine: EngineConfig{
			Command: "takopi",
		},
		Sessions: SessionsConfig{
			Mode:          string(sessions.ModeChat),
			Backend:       "file",
			Storage:       "~/.threadclaw/state.json",
			RetentionDays: 14,
		},
		Overflow: OverflowConfig{
			Policy: string(overflow.PolicySplit),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports configuration errors that would prevent startup.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required (or THREADCLAW_DISCORD_TOKEN)")
	}
	if c.Engine.Command == "" {
		return fmt.Errorf("engine.command is required")
	}
	switch c.Sessions.Mode {
	case string(sessions.ModeChat), string(sessions.ModeStateless):
	default:
		return fmt.Errorf("sessions.mode %q is not one of chat, stateless", c.Sessions.Mode)
	}
	switch c.Sessions.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("sessions.backend %q is not one of file, sqlite", c.Sessions.Backend)
	}
	switch c.Overflow.Policy {
	case string(overflow.PolicySplit), string(overflow.PolicyTrim):
	default:
		return fmt.Errorf("overflow.policy %q is not one of split, trim", c.Overflow.Policy)
	}
	for name, p := range c.Projects {
		if p.Workdir == "" {
			return fmt.Errorf("projects.%s.workdir is required", name)
		}
	}
	return nil
}

// ProjectWorkdirs returns project id to expanded workdir, the shape the
// engine runner consumes.
func (c *Config) ProjectWorkdirs() map[string]string {
	out := make(map[string]string, len(c.Projects))
	for name, p := range c.Projects {
		out[name] = ExpandHome(p.Workdir)
	}
	return out
}

// StoragePath returns the expanded session storage path.
func (c *Config) StoragePath() string {
	return ExpandHome(c.Sessions.Storage)
}
