package embedding

import "time"

// Config configures the OpenAI-compatible embedding provider.
type Config struct {
	APIKey     string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	EndpointID string        `json:"endpoint_id" yaml:"endpoint_id" env:"ENDPOINT_ID"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"`
	Dimensions int           `json:"dimensions,omitempty" yaml:"dimensions,omitempty" env:"DIMENSIONS"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
	CacheSize  int           `json:"cache_size,omitempty" yaml:"cache_size,omitempty" env:"CACHE_SIZE"`
}

// DefaultConfig returns the serverless bge-small defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://api.runpod.ai/v2",
		Model:     "BAAI/bge-small-en-v1.5",
		Timeout:   30 * time.Second,
		CacheSize: 1024,
	}
}

// resolveBaseURL builds {base}/{endpoint}/openai/v1/ when an endpoint id
// is set, otherwise uses BaseURL as the API root.
func (c Config) resolveBaseURL() string {
	base := c.BaseURL
	if base == "" {
		base = DefaultConfig().BaseURL
	}
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if c.EndpointID != "" {
		return base + "/" + c.EndpointID + "/openai/v1/"
	}
	return base + "/"
}
