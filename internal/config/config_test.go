package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "https://id.wgtwo.com/oauth2/token", cfg.TokenURL)
	assert.Equal(t, "call.control.answer_and_initiate", cfg.TokenScope)
	assert.Equal(t, "localhost:54543", cfg.HTTPAddr)
	assert.Equal(t, "Puck", cfg.GeminiVoice)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.Equal(t, 3*time.Second, cfg.HandlerShutdownTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.GRPCKeepalive)
	assert.True(t, cfg.SendByeOnFailure)
	assert.Equal(t, "echo", cfg.Backend())
	assert.ErrorIs(t, cfg.Validate(), ErrMissingSetting)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"grpc_target: file:443\nclient_id: from-file\nqueue_size: 16\nnegotiation_timeout: 4s\n"), 0o600))

	t.Setenv("CLIENT_ID", "from-env")
	t.Setenv("CLIENT_SECRET", "secret")
	t.Setenv("MSISDN", "+4712345678")
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load([]string{"--config", file, "--grpc-target", "flag:443", "-l", "debug"})
	require.NoError(t, err)

	assert.Equal(t, "flag:443", cfg.GRPCTarget, "flags beat the file")
	assert.Equal(t, "from-env", cfg.ClientID, "environment beats the file")
	assert.Equal(t, 16, cfg.QueueSize)
	assert.Equal(t, 4*time.Second, cfg.NegotiationTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "gemini", cfg.Backend())
	assert.NoError(t, cfg.Validate())
}

func TestValidateListsAllMissing(t *testing.T) {
	cfg := &Config{ClientID: "id"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grpc_target")
	assert.Contains(t, err.Error(), "client_secret")
	assert.Contains(t, err.Error(), "msisdn")
	assert.NotContains(t, err.Error(), "client_id")
}

func TestBackendPrefersOpenAI(t *testing.T) {
	cfg := &Config{OpenAIAPIKey: "o", GeminiAPIKey: "g"}
	assert.Equal(t, "openai", cfg.Backend())
}

func TestLoadRejectsUnknownFlag(t *testing.T) {
	_, err := Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}
