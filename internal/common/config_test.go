package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := NewDefaultConfig()
	c.LM.APIKey = "sk-ant-test-key"
	c.Embedding.APIKey = "gemini-test-key"
	return c
}

// TestConfig_Validate_DefaultsWithCredentialsPass covers the happy path: the
// shipped defaults plus the two required API keys pass every struct-tag
// constraint.
func TestConfig_Validate_DefaultsWithCredentialsPass(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

// TestConfig_Validate_MissingLMAPIKeyFails covers spec §7 fatal_config: a
// blank (or whitespace-only) LM API key refuses to start.
func TestConfig_Validate_MissingLMAPIKeyFails(t *testing.T) {
	c := validConfig()
	c.LM.APIKey = "   "
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LM API key is required")
}

// TestConfig_Validate_MissingEmbeddingAPIKeyFails mirrors the LM key check
// for the embedding provider's credential.
func TestConfig_Validate_MissingEmbeddingAPIKeyFails(t *testing.T) {
	c := validConfig()
	c.Embedding.APIKey = ""
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding API key is required")
}

// TestConfig_Validate_ShortSecurityAPIKeyFails covers the
// omitempty,min=16 constraint: a non-empty key under 16 characters is
// rejected, but an empty one (security disabled) is fine.
func TestConfig_Validate_ShortSecurityAPIKeyFails(t *testing.T) {
	c := validConfig()
	c.Security.APIKey = "tooshort"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security.api_key must be empty or at least 16 characters")
}

func TestConfig_Validate_EmptySecurityAPIKeyIsAllowed(t *testing.T) {
	c := validConfig()
	c.Security.APIKey = ""
	require.NoError(t, c.Validate())
}

// TestConfig_Validate_InvalidLMProviderFails covers the oneof=claude gemini
// constraint.
func TestConfig_Validate_InvalidLMProviderFails(t *testing.T) {
	c := validConfig()
	c.LM.Provider = "chatgpt"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lm.provider must be")
}

// TestConfig_Validate_EmbeddingDimMustBePositive covers the gt=0 constraint.
func TestConfig_Validate_EmbeddingDimMustBePositive(t *testing.T) {
	c := validConfig()
	c.Embedding.Dim = 0
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding.dim must be positive")
}

// TestConfig_Validate_MissingStoragePathsFail covers the required tags on
// both storage backends' paths.
func TestConfig_Validate_MissingStoragePathsFail(t *testing.T) {
	c := validConfig()
	c.Storage.SQLite.Path = ""
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.sqlite.path is required")

	c = validConfig()
	c.Storage.Badger.Path = ""
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.badger.path is required")
}

// TestConfig_Validate_BrokerConcurrencyBoundsMustBeOrdered covers the
// gtefield=MinConcurrency constraint between the two broker bounds.
func TestConfig_Validate_BrokerConcurrencyBoundsMustBeOrdered(t *testing.T) {
	c := validConfig()
	c.Broker.MinConcurrency = 10
	c.Broker.MaxConcurrency = 5
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker concurrency bounds are invalid")
}

func TestConfig_Validate_ZeroMinConcurrencyFails(t *testing.T) {
	c := validConfig()
	c.Broker.MinConcurrency = 0
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker concurrency bounds are invalid")
}
