package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultAgentName           = "lum"
	DefaultModel               = "gpt-3.5-turbo"
	DefaultMaxTokens           = 200
	DefaultOpinionMaxTokens    = 60
	DefaultHistoryLimit        = 10
	DefaultImageModel          = "dall-e-2"
	DefaultImageSize           = "1024x1024"
	DefaultGiphyBaseURL        = "https://api.giphy.com/v1/gifs"
	DefaultGiphyRating         = "g"
	DefaultGiphyLang           = "en"
	DefaultSetChannelCommand   = "!setchannel"
	DefaultGifCommand          = "!gif"
	DefaultImageCommand        = "!img"
	DefaultWorkers             = 4
	DefaultBufSize             = 100
	DefaultMaintenanceSchedule = "0 30 4 * * *"
	DefaultWebUIAddr           = "127.0.0.1:18790"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Image    ImageConfig    `json:"image"`
	Giphy    GiphyConfig    `json:"giphy"`
	Channels ChannelsConfig `json:"channels"`
	Commands CommandsConfig `json:"commands"`
	Storage  StorageConfig  `json:"storage"`
	Gateway  GatewayConfig  `json:"gateway"`
}

type AgentConfig struct {
	Name             string `json:"name"`
	Model            string `json:"model"`
	MaxTokens        int    `json:"maxTokens"`
	OpinionMaxTokens int    `json:"opinionMaxTokens"`
	HistoryLimit     int    `json:"historyLimit"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ImageConfig struct {
	APIKey  string `json:"apiKey,omitempty"` // falls back to provider.apiKey for openai
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model"`
	Size    string `json:"size"`
}

type GiphyConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
	Rating  string `json:"rating"`
	Lang    string `json:"lang"`
}

type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
	WebUI    WebUIConfig    `json:"webui"`
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

// WebUIConfig serves a local browser chat. Every browser tab is a direct
// conversation.
type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	Addr      string   `json:"addr,omitempty"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

// CommandsConfig holds the explicit command tokens. They are matched as
// case-insensitive prefixes of the message text.
type CommandsConfig struct {
	SetChannel string `json:"setChannel"`
	Gif        string `json:"gif"`
	Image      string `json:"image"`
}

type StorageConfig struct {
	DBPath              string `json:"dbPath,omitempty"`
	MaintenanceSchedule string `json:"maintenanceSchedule,omitempty"`
}

type GatewayConfig struct {
	Workers int `json:"workers"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:             DefaultAgentName,
			Model:            DefaultModel,
			MaxTokens:        DefaultMaxTokens,
			OpinionMaxTokens: DefaultOpinionMaxTokens,
			HistoryLimit:     DefaultHistoryLimit,
		},
		Provider: ProviderConfig{Type: ProviderOpenAI},
		Image: ImageConfig{
			Model: DefaultImageModel,
			Size:  DefaultImageSize,
		},
		Giphy: GiphyConfig{
			BaseURL: DefaultGiphyBaseURL,
			Rating:  DefaultGiphyRating,
			Lang:    DefaultGiphyLang,
		},
		Commands: CommandsConfig{
			SetChannel: DefaultSetChannelCommand,
			Gif:        DefaultGifCommand,
			Image:      DefaultImageCommand,
		},
		Storage: StorageConfig{
			MaintenanceSchedule: DefaultMaintenanceSchedule,
		},
		Gateway: GatewayConfig{Workers: DefaultWorkers},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".lum")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DBPath returns the configured database path or the default under ConfigDir.
func (c *Config) DBPath() string {
	if p := strings.TrimSpace(c.Storage.DBPath); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "data", "lum.db")
}

// ImageAPIKey returns the key used for image generation. An openai text
// provider key is reused when no dedicated image key is configured.
func (c *Config) ImageAPIKey() string {
	if k := strings.TrimSpace(c.Image.APIKey); k != "" {
		return k
	}
	if c.Provider.Type == "" || c.Provider.Type == ProviderOpenAI {
		return c.Provider.APIKey
	}
	return ""
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if p := os.Getenv("LUM_PROVIDER"); p != "" {
		cfg.Provider.Type = strings.ToLower(p)
	}
	if key := os.Getenv("LUM_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		cfg.Provider.Type = ProviderAnthropic
	}
	if url := os.Getenv("LUM_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("LUM_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if name := os.Getenv("LUM_AGENT_NAME"); name != "" {
		cfg.Agent.Name = name
	}
	if key := os.Getenv("LUM_IMAGE_API_KEY"); key != "" {
		cfg.Image.APIKey = key
	}
	if key := os.Getenv("GIPHY_API_KEY"); key != "" {
		cfg.Giphy.APIKey = key
	}
	if token := os.Getenv("LUM_DISCORD_TOKEN"); token != "" {
		cfg.Channels.Discord.Token = token
		cfg.Channels.Discord.Enabled = true
	} else if token := os.Getenv("DISCORD_TOKEN"); token != "" && cfg.Channels.Discord.Token == "" {
		cfg.Channels.Discord.Token = token
		cfg.Channels.Discord.Enabled = true
	}
	if token := os.Getenv("LUM_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if dbPath := os.Getenv("LUM_DB_PATH"); dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if workers := os.Getenv("LUM_WORKERS"); workers != "" {
		if parsed, err := strconv.Atoi(workers); err == nil {
			cfg.Gateway.Workers = parsed
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	c.Agent.Name = strings.ToLower(strings.TrimSpace(c.Agent.Name))
	if c.Agent.Name == "" {
		c.Agent.Name = def.Agent.Name
	}
	if c.Agent.Model == "" {
		c.Agent.Model = def.Agent.Model
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = def.Agent.MaxTokens
	}
	if c.Agent.OpinionMaxTokens <= 0 {
		c.Agent.OpinionMaxTokens = def.Agent.OpinionMaxTokens
	}
	if c.Agent.HistoryLimit <= 0 {
		c.Agent.HistoryLimit = def.Agent.HistoryLimit
	}
	if c.Provider.Type == "" {
		c.Provider.Type = ProviderOpenAI
	}
	if c.Image.Model == "" {
		c.Image.Model = def.Image.Model
	}
	if c.Image.Size == "" {
		c.Image.Size = def.Image.Size
	}
	if c.Giphy.BaseURL == "" {
		c.Giphy.BaseURL = def.Giphy.BaseURL
	}
	if c.Giphy.Rating == "" {
		c.Giphy.Rating = def.Giphy.Rating
	}
	if c.Giphy.Lang == "" {
		c.Giphy.Lang = def.Giphy.Lang
	}
	if strings.TrimSpace(c.Commands.SetChannel) == "" {
		c.Commands.SetChannel = def.Commands.SetChannel
	}
	if strings.TrimSpace(c.Commands.Gif) == "" {
		c.Commands.Gif = def.Commands.Gif
	}
	if strings.TrimSpace(c.Commands.Image) == "" {
		c.Commands.Image = def.Commands.Image
	}
	if c.Channels.WebUI.Addr == "" {
		c.Channels.WebUI.Addr = DefaultWebUIAddr
	}
	if c.Storage.MaintenanceSchedule == "" {
		c.Storage.MaintenanceSchedule = def.Storage.MaintenanceSchedule
	}
	if c.Gateway.Workers <= 0 {
		c.Gateway.Workers = def.Gateway.Workers
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
