package dataverse

import (
	"net/url"
	"strings"
	"time"
)

// Config consolidates client settings.
type Config struct {
	// BaseURL is the organization root, e.g. "https://org.crm.dynamics.com".
	// The OData API path is appended by the client.
	BaseURL string `json:"baseUrl"`

	// LanguageCode scopes localized labels and picklist options (LCID).
	LanguageCode int `json:"languageCode"`

	// SolutionName, when set, stamps schema-changing requests with the
	// MSCRM.SolutionUniqueName header so new metadata lands in that solution.
	SolutionName string `json:"solutionName,omitempty"`

	HTTP     HTTPConfig     `json:"http"`
	Metadata MetadataConfig `json:"metadata"`
	Upload   UploadConfig   `json:"upload"`
}

// HTTPConfig contains transport and generic retry settings.
type HTTPConfig struct {
	// MaxAttempts bounds the total number of tries per request, first attempt
	// included.
	MaxAttempts int           `json:"maxAttempts"`
	BaseDelay   time.Duration `json:"baseDelay"`
	MaxBackoff  time.Duration `json:"maxBackoff"`
	Jitter      bool          `json:"jitter"`

	// ReadTimeout applies to GET/PATCH and other short calls; WriteTimeout to
	// POST and DELETE, which the service is slower to acknowledge.
	ReadTimeout  time.Duration `json:"readTimeout"`
	WriteTimeout time.Duration `json:"writeTimeout"`

	MaxIdleConns    int           `json:"maxIdleConns"`
	IdleConnTimeout time.Duration `json:"idleConnTimeout"`
	UserAgent       string        `json:"userAgent,omitempty"`
}

// MetadataConfig contains the metadata-specific retry settings used for
// eventual-consistency windows after schema changes.
type MetadataConfig struct {
	// RetryAttempts bounds lookups that may race metadata propagation; only
	// 404 responses are retried.
	RetryAttempts  int           `json:"retryAttempts"`
	RetryBaseDelay time.Duration `json:"retryBaseDelay"`

	// ReadyWaitDelays is the fixed wait schedule applied after creating a
	// table before declaring it visible.
	ReadyWaitDelays []time.Duration `json:"readyWaitDelays"`
}

// UploadConfig contains file transfer settings.
type UploadConfig struct {
	// ChunkSize is the auto-mode small/chunk threshold and the fallback block
	// size when the service does not dictate one.
	ChunkSize int `json:"chunkSize"`
}

// DefaultConfig returns the settings the service is tuned for.
func DefaultConfig() *Config {
	return &Config{
		LanguageCode: 1033,
		HTTP: HTTPConfig{
			MaxAttempts:     5,
			BaseDelay:       500 * time.Millisecond,
			MaxBackoff:      60 * time.Second,
			Jitter:          true,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    120 * time.Second,
			MaxIdleConns:    10,
			IdleConnTimeout: 90 * time.Second,
		},
		Metadata: MetadataConfig{
			RetryAttempts:  3,
			RetryBaseDelay: 400 * time.Millisecond,
			ReadyWaitDelays: []time.Duration{
				0,
				2 * time.Second,
				5 * time.Second,
				10 * time.Second,
				20 * time.Second,
				30 * time.Second,
			},
		},
		Upload: UploadConfig{
			ChunkSize: 4 * 1024 * 1024,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return &ConfigError{Field: "baseUrl", Message: "must not be empty"}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: "baseUrl", Message: "must be an absolute URL"}
	}

	if c.LanguageCode <= 0 {
		return &ConfigError{Field: "languageCode", Message: "must be greater than 0"}
	}

	if c.HTTP.MaxAttempts <= 0 {
		return &ConfigError{Field: "http.maxAttempts", Message: "must be greater than 0"}
	}

	if c.HTTP.BaseDelay < 0 {
		return &ConfigError{Field: "http.baseDelay", Message: "must not be negative"}
	}

	if c.HTTP.MaxBackoff < c.HTTP.BaseDelay {
		return &ConfigError{Field: "http.maxBackoff", Message: "must be greater than or equal to baseDelay"}
	}

	if c.Metadata.RetryAttempts <= 0 {
		return &ConfigError{Field: "metadata.retryAttempts", Message: "must be greater than 0"}
	}

	if c.Upload.ChunkSize <= 0 {
		return &ConfigError{Field: "upload.chunkSize", Message: "must be greater than 0"}
	}

	return nil
}

// APIBaseURL returns the versioned OData root, e.g.
// "https://org.crm.dynamics.com/api/data/v9.2/".
func (c *Config) APIBaseURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/data/v9.2/"
}

// TokenScope returns the OAuth scope requested from the token provider.
func (c *Config) TokenScope() string {
	return strings.TrimRight(c.BaseURL, "/") + "/.default"
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
