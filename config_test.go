package dataverse

import (
	"testing"
	"time"
)

// validConfig returns a default config with a base URL, adjusted by mutate.
func validConfig(mutate func(*Config)) *Config {
	config := DefaultConfig()
	config.BaseURL = "https://org.crm.dynamics.com"
	if mutate != nil {
		mutate(config)
	}
	return config
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.LanguageCode != 1033 {
		t.Errorf("Expected language code to be 1033, got %d", config.LanguageCode)
	}

	// Test transport defaults
	if config.HTTP.MaxAttempts != 5 {
		t.Errorf("Expected max attempts to be 5, got %d", config.HTTP.MaxAttempts)
	}
	if config.HTTP.BaseDelay != 500*time.Millisecond {
		t.Errorf("Expected base delay to be 500ms, got %v", config.HTTP.BaseDelay)
	}
	if config.HTTP.MaxBackoff != 60*time.Second {
		t.Errorf("Expected max backoff to be 60s, got %v", config.HTTP.MaxBackoff)
	}
	if !config.HTTP.Jitter {
		t.Error("Expected jitter to be enabled by default")
	}
	if config.HTTP.ReadTimeout != 10*time.Second {
		t.Errorf("Expected read timeout to be 10s, got %v", config.HTTP.ReadTimeout)
	}
	if config.HTTP.WriteTimeout != 120*time.Second {
		t.Errorf("Expected write timeout to be 120s, got %v", config.HTTP.WriteTimeout)
	}
	if config.HTTP.MaxIdleConns != 10 {
		t.Errorf("Expected max idle conns to be 10, got %d", config.HTTP.MaxIdleConns)
	}
	if config.HTTP.IdleConnTimeout != 90*time.Second {
		t.Errorf("Expected idle conn timeout to be 90s, got %v", config.HTTP.IdleConnTimeout)
	}

	// Test metadata defaults
	if config.Metadata.RetryAttempts != 3 {
		t.Errorf("Expected metadata retry attempts to be 3, got %d", config.Metadata.RetryAttempts)
	}
	if config.Metadata.RetryBaseDelay != 400*time.Millisecond {
		t.Errorf("Expected metadata retry base delay to be 400ms, got %v", config.Metadata.RetryBaseDelay)
	}
	if len(config.Metadata.ReadyWaitDelays) != 6 {
		t.Errorf("Expected 6 ready wait delays, got %d", len(config.Metadata.ReadyWaitDelays))
	}
	if config.Metadata.ReadyWaitDelays[0] != 0 {
		t.Errorf("Expected first ready wait delay to be 0, got %v", config.Metadata.ReadyWaitDelays[0])
	}
	if last := config.Metadata.ReadyWaitDelays[len(config.Metadata.ReadyWaitDelays)-1]; last != 30*time.Second {
		t.Errorf("Expected last ready wait delay to be 30s, got %v", last)
	}

	// Test upload defaults
	if config.Upload.ChunkSize != 4*1024*1024 {
		t.Errorf("Expected chunk size to be 4MiB, got %d", config.Upload.ChunkSize)
	}
}

func TestConfigValidationDetailed(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
		errorField  string
	}{
		{
			name:        "valid config",
			config:      validConfig(nil),
			expectError: false,
		},
		{
			name:        "missing base url",
			config:      DefaultConfig(),
			expectError: true,
			errorField:  "baseUrl",
		},
		{
			name: "relative base url",
			config: validConfig(func(c *Config) {
				c.BaseURL = "org.crm.dynamics.com"
			}),
			expectError: true,
			errorField:  "baseUrl",
		},
		{
			name: "invalid language code",
			config: validConfig(func(c *Config) {
				c.LanguageCode = 0
			}),
			expectError: true,
			errorField:  "languageCode",
		},
		{
			name: "invalid max attempts",
			config: validConfig(func(c *Config) {
				c.HTTP.MaxAttempts = 0
			}),
			expectError: true,
			errorField:  "http.maxAttempts",
		},
		{
			name: "negative base delay",
			config: validConfig(func(c *Config) {
				c.HTTP.BaseDelay = -time.Second
			}),
			expectError: true,
			errorField:  "http.baseDelay",
		},
		{
			name: "max backoff less than base delay",
			config: validConfig(func(c *Config) {
				c.HTTP.BaseDelay = 2 * time.Second
				c.HTTP.MaxBackoff = time.Second
			}),
			expectError: true,
			errorField:  "http.maxBackoff",
		},
		{
			name: "invalid metadata retry attempts",
			config: validConfig(func(c *Config) {
				c.Metadata.RetryAttempts = 0
			}),
			expectError: true,
			errorField:  "metadata.retryAttempts",
		},
		{
			name: "invalid chunk size",
			config: validConfig(func(c *Config) {
				c.Upload.ChunkSize = 0
			}),
			expectError: true,
			errorField:  "upload.chunkSize",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				if err == nil {
					t.Error("Expected validation error but got none")
				} else if configErr, ok := err.(*ConfigError); ok {
					if configErr.Field != tt.errorField {
						t.Errorf("Expected error field %s, got %s", tt.errorField, configErr.Field)
					}
				} else {
					t.Errorf("Expected ConfigError, got %T", err)
				}
			} else {
				if err != nil {
					t.Errorf("Expected no validation error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "test.field",
		Message: "test message",
	}

	expected := "config validation error for field 'test.field': test message"
	if err.Error() != expected {
		t.Errorf("Expected error message %s, got %s", expected, err.Error())
	}
}

func TestAPIBaseURL(t *testing.T) {
	config := validConfig(nil)
	expected := "https://org.crm.dynamics.com/api/data/v9.2/"
	if got := config.APIBaseURL(); got != expected {
		t.Errorf("Expected API base URL %s, got %s", expected, got)
	}

	// A trailing slash on the organization root is absorbed.
	config.BaseURL = "https://org.crm.dynamics.com/"
	if got := config.APIBaseURL(); got != expected {
		t.Errorf("Expected API base URL %s, got %s", expected, got)
	}
}

func TestTokenScope(t *testing.T) {
	config := validConfig(nil)
	expected := "https://org.crm.dynamics.com/.default"
	if got := config.TokenScope(); got != expected {
		t.Errorf("Expected token scope %s, got %s", expected, got)
	}

	config.BaseURL = "https://org.crm.dynamics.com/"
	if got := config.TokenScope(); got != expected {
		t.Errorf("Expected token scope %s, got %s", expected, got)
	}
}
