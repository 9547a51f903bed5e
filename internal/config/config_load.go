package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return ExpandHome("~/.threadclaw/config.json")
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; the defaults plus environment must then carry the
// required fields.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config as indented JSON, which is valid JSON5 on the way
// back in. Used by the onboarding wizard; hand-maintained files may use
// JSON5 freely.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("THREADCLAW_DISCORD_TOKEN", &c.Discord.Token)
	envStr("THREADCLAW_GUILD_ID", &c.Discord.GuildID)
	envStr("THREADCLAW_ANNOUNCE_CHANNEL", &c.Discord.AnnounceChannel)
	envStr("THREADCLAW_DEFAULT_PROJECT", &c.Discord.DefaultProject)
	envStr("THREADCLAW_ENGINE_COMMAND", &c.Engine.Command)
	envStr("THREADCLAW_SESSIONS_MODE", &c.Sessions.Mode)
	envStr("THREADCLAW_SESSIONS_BACKEND", &c.Sessions.Backend)
	envStr("THREADCLAW_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("THREADCLAW_OVERFLOW_POLICY", &c.Overflow.Policy)
	envStr("THREADCLAW_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	envStr("THREADCLAW_LOG_LEVEL", &c.Logging.Level)
	envStr("THREADCLAW_LOG_FORMAT", &c.Logging.Format)

	if v := os.Getenv("THREADCLAW_ALLOW_FROM"); v != "" {
		c.Discord.AllowFrom = splitList(v)
	}
	if v := os.Getenv("THREADCLAW_OVERFLOW_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Overflow.Limit = n
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
