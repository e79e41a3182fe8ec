package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/prokashpul/prompts/core"
	"github.com/prokashpul/prompts/core/llm"
	"github.com/prokashpul/prompts/platforms/discord"
	"github.com/prokashpul/prompts/platforms/matrix"
)

type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

type Config struct {
	LLM     llm.Config      `toml:"llm"`
	Bot     core.BotConfig  `toml:"bot"`
	Keys    core.KeysConfig `toml:"keys"`
	Matrix  matrix.Config   `toml:"matrix"`
	Discord discord.Config  `toml:"discord"`
	Metrics MetricsConfig   `toml:"metrics"`
	Log     LogConfig       `toml:"log"`
}

func DefaultConfig() Config {
	return Config{
		LLM: llm.Config{
			DefaultProvider:  string(llm.ProviderGemini),
			DefaultCount:     3,
			BatchParallelism: 4,
		},
		Bot: core.BotConfig{
			Name:           "muse",
			HistorySize:    10,
			RatePerMinute:  6,
			RateBurst:      3,
			MaxBatch:       10,
			TimeoutSeconds: 120,
		},
		Keys: core.KeysConfig{
			FilePath:            "keys.json",
			SaveIntervalSeconds: 60,
		},
		Matrix: matrix.Config{
			CredentialsDBPath: "credentials.json",
			AutoJoinInvites:   true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads path over the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// applyEnv fills secrets the file left empty. The Gemini key is read per request instead.
func (c *Config) applyEnv() {
	if c.LLM.Groq.APIKey == "" {
		c.LLM.Groq.APIKey = firstEnv("GROQ_API_KEY")
	}
	if c.LLM.Mistral.APIKey == "" {
		c.LLM.Mistral.APIKey = firstEnv("MISTRAL_API_KEY")
	}
	if c.Keys.MasterKey == "" {
		c.Keys.MasterKey = firstEnv("PROMPTS_MASTER_KEY")
	}
	if c.Discord.Token == "" {
		c.Discord.Token = firstEnv("DISCORD_TOKEN")
	}
}

func (c *Config) Validate() error {
	if _, err := llm.ParseProvider(c.LLM.DefaultProvider); err != nil {
		return fmt.Errorf("llm.default_provider: %w", err)
	}
	c.LLM.DefaultCount = core.ClampCount(c.LLM.DefaultCount)
	if strings.TrimSpace(c.Bot.Name) == "" {
		return errors.New("bot.name must not be empty")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return errors.New("discord is enabled but no token is set")
	}
	if c.Matrix.Enabled && (c.Matrix.Homeserver == "" || c.Matrix.UserID == "") {
		return errors.New("matrix is enabled but homeserver or user_id is missing")
	}
	return nil
}

// OperatorKeys are the chat provider keys configured for everyone.
func (c *Config) OperatorKeys() llm.Credentials {
	creds := llm.Credentials{}
	if c.LLM.Groq.APIKey != "" {
		creds[llm.ProviderGroq] = c.LLM.Groq.APIKey
	}
	if c.LLM.Mistral.APIKey != "" {
		creds[llm.ProviderMistral] = c.LLM.Mistral.APIKey
	}
	return creds
}
