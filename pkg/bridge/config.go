// Copyright 2024-2026 Aiku AI

// Package bridge wires the XMPP connection supervisor, the relay
// engine, and the completion backend into one runnable daemon.
package bridge

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/aiku/xmpp-ai-bridge/pkg/chatapi"
)

//go:embed example-config.toml
var ExampleConfig string

// DefaultConfigPath is where the daemon looks for its configuration
// unless overridden on the command line.
const DefaultConfigPath = "/etc/xmpp-ai-bridge.toml"

const (
	defaultHTTPTimeout      = 5 * time.Minute
	defaultPresenceInterval = time.Minute
	defaultMaxTokens        = 8192
)

// Duration wraps time.Duration so TOML values can be written as
// human-readable strings ("5m", "90s").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// XMPPConfig is the chat account section.
type XMPPConfig struct {
	JID      string `toml:"jid"`
	Password string `toml:"password"`
	// Server is an optional host:port override; empty uses DNS
	// resolution from the JID's domain.
	Server           string   `toml:"server"`
	PresenceInterval Duration `toml:"presence_interval"`
}

// AccessConfig is the allow-list section. Entries are exact bare JIDs
// or wildcard domains ("*@example.org").
type AccessConfig struct {
	AllowedUsers []string `toml:"allowed_users"`
}

// APIConfig selects and tunes the completion provider.
type APIConfig struct {
	Provider        string   `toml:"provider"`
	URL             string   `toml:"url"`
	Key             string   `toml:"key"`
	APIVersion      string   `toml:"api_version"`
	Model           string   `toml:"model"`
	ReasoningEffort string   `toml:"reasoning_effort"`
	ReasoningBudget int      `toml:"reasoning_budget"`
	Verbosity       string   `toml:"verbosity"`
	HTTPTimeout     Duration `toml:"http_timeout"`
}

// HistoryConfig tunes per-peer conversation state.
type HistoryConfig struct {
	SystemMessage string `toml:"system_message"`
	MaxTokens     int    `toml:"max_tokens"`
	// IdleTimeout reaps quiet peer sessions; zero keeps them for the
	// process lifetime.
	IdleTimeout Duration `toml:"idle_timeout"`
}

// Config is the full daemon configuration, immutable after Load.
type Config struct {
	XMPP    XMPPConfig    `toml:"xmpp"`
	Access  AccessConfig  `toml:"access"`
	API     APIConfig     `toml:"api"`
	History HistoryConfig `toml:"history"`
}

// Load reads, parses, defaults, and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes configuration bytes. Split out from Load for tests.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.XMPP.PresenceInterval <= 0 {
		c.XMPP.PresenceInterval = Duration(defaultPresenceInterval)
	}
	if c.API.Provider == "" {
		c.API.Provider = string(chatapi.ProviderOpenAI)
	}
	if c.API.HTTPTimeout <= 0 {
		c.API.HTTPTimeout = Duration(defaultHTTPTimeout)
	}
	if c.History.MaxTokens <= 0 {
		c.History.MaxTokens = defaultMaxTokens
	}
}

func (c *Config) validate() error {
	if !strings.Contains(c.XMPP.JID, "@") {
		return fmt.Errorf("xmpp.jid %q is not a valid JID", c.XMPP.JID)
	}
	if c.XMPP.Password == "" {
		return fmt.Errorf("xmpp.password is required")
	}
	if len(c.Access.AllowedUsers) == 0 {
		return fmt.Errorf("access.allowed_users must list at least one user or wildcard domain")
	}
	switch chatapi.Provider(c.API.Provider) {
	case chatapi.ProviderOpenAI, chatapi.ProviderOpenRouter:
	case chatapi.ProviderAzure:
		if c.API.URL == "" {
			return fmt.Errorf("api.url is required for the azure provider")
		}
		if c.API.APIVersion == "" {
			return fmt.Errorf("api.api_version is required for the azure provider")
		}
	default:
		return fmt.Errorf("api.provider %q is not one of openai, azure, openrouter", c.API.Provider)
	}
	if c.API.Key == "" {
		return fmt.Errorf("api.key is required")
	}
	if c.API.Model == "" {
		return fmt.Errorf("api.model is required")
	}
	return nil
}
