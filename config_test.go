package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/prokashpul/prompts/core/llm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	for _, name := range []string{"GROQ_API_KEY", "MISTRAL_API_KEY", "PROMPTS_MASTER_KEY", "DISCORD_TOKEN"} {
		t.Setenv(name, "")
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), *cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("MISTRAL_API_KEY", "from-env")
	path := writeConfig(t, `
[llm]
default_provider = "groq"
default_count = 12
suffix_seed = 9

[llm.groq]
api_key = "from-file"
text_model = "llama-custom"

[bot]
name = "artist"

[keys]
master_key = "file-master"

[log]
level = "debug"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLM.DefaultProvider != "groq" || cfg.LLM.DefaultCount != 5 || cfg.LLM.SuffixSeed != 9 {
		t.Errorf("llm section = %+v", cfg.LLM)
	}
	if cfg.LLM.Groq.TextModel != "llama-custom" || cfg.Bot.Name != "artist" || cfg.Keys.MasterKey != "file-master" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Bot.HistorySize != 10 {
		t.Errorf("unset values should keep defaults, history_size = %d", cfg.Bot.HistorySize)
	}

	want := llm.Credentials{llm.ProviderGroq: "from-file", llm.ProviderMistral: "from-env"}
	if diff := cmp.Diff(want, cfg.OperatorKeys()); diff != "" {
		t.Errorf("operator keys mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	clearEnv(t)
	tests := map[string]string{
		"unknown provider": "[llm]\ndefault_provider = \"openai\"\n",
		"discord no token": "[discord]\nenabled = true\n",
		"matrix no server": "[matrix]\nenabled = true\n",
		"empty bot name":   "[bot]\nname = \" \"\n",
		"not toml":         "this is = = not toml",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
