package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8890
	cfg.LLM.Provider = "gemini"
	cfg.LLM.APIKey = "key"
	cfg.Router.DefaultAgent = "general"
	cfg.Channel.TestMode = true
	return cfg
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	// A named but absent file is an error; the default search path is not.
	require.Error(t, err)

	cfg, err = LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8890, cfg.Server.Port)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "general", cfg.Router.DefaultAgent)
	assert.True(t, cfg.Webhook.AutoRespond)
	assert.Equal(t, 30*time.Second, cfg.ChannelTimeout())
	assert.Equal(t, 60*time.Second, cfg.SnapshotTTL())
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convoflow.toml")
	content := `
[server]
port = 9000

[llm]
provider = "openai"
api_key = "sk-test"
model = "gpt-4o-mini"

[channel]
timeout_seconds = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 5*time.Second, cfg.ChannelTimeout())
	// Defaults still apply for sections the file omits.
	assert.Equal(t, "general", cfg.Router.DefaultAgent)
}

func TestInitConfig_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convoflow.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path))
}

func TestValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, Validate(validConfig()))
	})

	t.Run("MissingProvider", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLM.Provider = ""
		assert.Error(t, Validate(cfg))
	})

	t.Run("UnsupportedProvider", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLM.Provider = "claude"
		assert.Error(t, Validate(cfg))
	})

	t.Run("MissingAPIKey", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLM.APIKey = ""
		assert.Error(t, Validate(cfg))
	})

	t.Run("ChannelRequiredOutsideTestMode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Channel.TestMode = false
		assert.Error(t, Validate(cfg))

		cfg.Channel.BaseURL = "https://api.example.com"
		cfg.Channel.APIKey = "ck"
		assert.NoError(t, Validate(cfg))
	})

	t.Run("MissingDefaultAgent", func(t *testing.T) {
		cfg := validConfig()
		cfg.Router.DefaultAgent = ""
		assert.Error(t, Validate(cfg))
	})
}
