package generator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/metalagman/bendover/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIGenerate_SendsInstructionsAndInput(t *testing.T) {
	const envKey = "BENDOVER_OPENAI_TEST_KEY"
	t.Setenv(envKey, "test-api-key")

	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("unmarshal request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"error": {"code": "", "message": ""},
			"output": [
				{
					"type": "message",
					"role": "assistant",
					"content": [
						{"type": "output_text", "text": "  complete(summary=\"done\")\n", "annotations": []}
					]
				}
			],
			"usage": {"input_tokens": 12, "output_tokens": 5, "total_tokens": 17}
		}`))
	}))
	t.Cleanup(srv.Close)

	gen, err := NewOpenAI(Config{Model: "gpt-5", BaseURL: srv.URL, APIKeyEnv: envKey, MaxOutputTokens: 2048}, srv.Client())
	require.NoError(t, err)

	body, err := gen.Generate(context.Background(), []run.Message{
		{Role: run.RoleSystem, Content: "Reply with one script."},
		{Role: run.RoleUser, Content: "Goal: finish."},
	})
	require.NoError(t, err)
	assert.Equal(t, `complete(summary="done")`, body)

	assert.Equal(t, "Bearer test-api-key", gotAuth)
	assert.Equal(t, "/responses", gotPath)
	assert.Equal(t, "gpt-5", gotBody["model"])
	assert.Equal(t, "Reply with one script.", gotBody["instructions"])
	assert.Equal(t, "Goal: finish.", gotBody["input"])
	assert.EqualValues(t, 2048, gotBody["max_output_tokens"])
}

func TestOpenAIGenerate_ErrorsWithoutOutputText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": {"code": "", "message": ""}, "output": []}`))
	}))
	t.Cleanup(srv.Close)

	gen, err := NewOpenAI(Config{Model: "gpt-5", BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), []run.Message{{Role: run.RoleUser, Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output text")
}

func TestOpenAIGenerate_SurfacesResponseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": {"code": "server_error", "message": "model overloaded"}, "output": []}`))
	}))
	t.Cleanup(srv.Close)

	gen, err := NewOpenAI(Config{Model: "gpt-5", BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), []run.Message{{Role: run.RoleUser, Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestNewOpenAI_RequiresModelAndKey(t *testing.T) {
	t.Setenv("BENDOVER_OPENAI_MISSING_KEY", "")

	_, err := NewOpenAI(Config{APIKey: "k"}, nil)
	require.Error(t, err)

	_, err = NewOpenAI(Config{Model: "gpt-5", APIKeyEnv: "BENDOVER_OPENAI_MISSING_KEY"}, nil)
	require.Error(t, err)
}

func TestSplit(t *testing.T) {
	t.Parallel()

	instructions, input := split([]run.Message{
		{Role: run.RoleSystem, Content: "a"},
		{Role: run.RoleUser, Content: "b"},
		{Role: run.RoleSystem, Content: "c"},
		{Role: run.RoleAssistant, Content: "d"},
	})
	assert.Equal(t, "a\n\nc", instructions)
	assert.Equal(t, "b\n\nPrevious answer:\nd", input)
}
