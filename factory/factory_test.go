package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/dataverse"
)

func testConfig() *dataverse.Config {
	cfg := dataverse.DefaultConfig()
	cfg.BaseURL = "https://unit.crm.dynamics.com"
	return cfg
}

func TestNewClient_Success(t *testing.T) {
	client, err := NewClient(testConfig(), dataverse.StaticTokenProvider("tok"))
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewClient_NilConfigUsesDefaults(t *testing.T) {
	// Defaults carry no BaseURL, so validation still rejects the client.
	client, err := NewClient(nil, dataverse.StaticTokenProvider("tok"))
	require.Error(t, err)
	assert.Nil(t, client)

	var ce *dataverse.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "baseUrl", ce.Field)
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	cfg := testConfig()
	cfg.BaseURL = "not-a-url"

	client, err := NewClient(cfg, dataverse.StaticTokenProvider("tok"))
	require.Error(t, err)
	assert.Nil(t, client)

	var ce *dataverse.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "baseUrl", ce.Field)
}

func TestNewClient_NilTokenProvider(t *testing.T) {
	client, err := NewClient(testConfig(), nil)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.True(t, dataverse.IsValidationError(err))
}

func TestNewClientWithCredential_NilCredential(t *testing.T) {
	client, err := NewClientWithCredential(testConfig(), nil)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.True(t, dataverse.IsValidationError(err))
}
