// Package generator produces candidate bodies from prompt messages.
package generator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/metalagman/bendover/internal/run"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/rs/zerolog/log"
)

// OpenAI generates candidates with one Responses API call per step.
type OpenAI struct {
	cfg    Config
	client openai.Client
}

var _ run.Generator = (*OpenAI)(nil)

// NewOpenAI constructs a generator. The API key comes from cfg.APIKey or the
// environment variable named by cfg.APIKeyEnv.
func NewOpenAI(cfg Config, httpClient *http.Client) (*OpenAI, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("openai model is required")
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		envKey := strings.TrimSpace(cfg.APIKeyEnv)
		if envKey == "" {
			envKey = defaultAPIKeyEnv
		}
		apiKey = strings.TrimSpace(os.Getenv(envKey))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required (set generator.api_key or generator.api_key_env)")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithRequestTimeout(timeout),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &OpenAI{
		cfg: Config{
			Model:           model,
			BaseURL:         baseURL,
			Timeout:         timeout,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
		client: openai.NewClient(opts...),
	}, nil
}

// Generate sends system messages as instructions and the rest as input text.
func (g *OpenAI) Generate(ctx context.Context, messages []run.Message) (string, error) {
	instructions, input := split(messages)
	params := responses.ResponseNewParams{
		Model:        g.cfg.Model,
		Instructions: openai.String(instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(input),
		},
	}
	if g.cfg.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(g.cfg.MaxOutputTokens)
	}

	resp, err := g.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses.create: %w", err)
	}
	if msg := strings.TrimSpace(resp.Error.Message); msg != "" {
		return "", fmt.Errorf("openai response failed: %s", msg)
	}

	output := strings.TrimSpace(resp.OutputText())
	if output == "" {
		return "", fmt.Errorf("openai response did not contain output text")
	}
	log.Debug().
		Str("model", g.cfg.Model).
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Msg("candidate generated")
	return output, nil
}

func split(messages []run.Message) (string, string) {
	var system, rest []string
	for _, m := range messages {
		switch m.Role {
		case run.RoleSystem:
			system = append(system, m.Content)
		case run.RoleAssistant:
			rest = append(rest, "Previous answer:\n"+m.Content)
		default:
			rest = append(rest, m.Content)
		}
	}
	return strings.Join(system, "\n\n"), strings.Join(rest, "\n\n")
}
