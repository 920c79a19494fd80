package generator

import "time"

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultAPIKeyEnv = "OPENAI_API_KEY"
	defaultTimeout   = 120 * time.Second
)

// Config is the OpenAI Responses API client configuration.
type Config struct {
	Model     string
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	Timeout   time.Duration
	// MaxOutputTokens caps one candidate body. Zero leaves the server default.
	MaxOutputTokens int64
}
