package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatResponse(t *testing.T, content, finishReason string, promptTokens, completionTokens int) []byte {
	t.Helper()
	resp := openAIChatResponse{Model: "gpt-4o-mini"}
	resp.Choices = append(resp.Choices, struct {
		Message      openAIChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	}{
		Message:      openAIChatMessage{Role: "assistant", Content: content},
		FinishReason: finishReason,
	})
	resp.Usage.PromptTokens = promptTokens
	resp.Usage.CompletionTokens = completionTokens
	payload, err := json.Marshal(resp)
	require.NoError(t, err)
	return payload
}

func TestOpenAIAgent(t *testing.T) {
	t.Run("CompleteReturnsText", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			var req openAIChatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Messages, 2)
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "You are terse.", req.Messages[0].Content)
			assert.Equal(t, "user", req.Messages[1].Role)
			assert.Equal(t, "What is Go?", req.Messages[1].Content)
			assert.Equal(t, 128, req.MaxTokens)
			_, _ = w.Write(chatResponse(t, "A programming language.", "stop", 20, 6))
		}))
		defer server.Close()

		client, err := NewOpenAIClient("test-key", "gpt-4o-mini", server.URL)
		require.NoError(t, err)

		resp, err := client.Complete(context.Background(), Request{
			System:    "You are terse.",
			Prompt:    "What is Go?",
			MaxTokens: 128,
		})
		require.NoError(t, err)
		assert.Equal(t, "A programming language.", resp.Text)
		assert.Equal(t, "gpt-4o-mini", resp.Model)
		assert.Equal(t, 20, resp.InputTokens)
		assert.Equal(t, 6, resp.OutputTokens)
		assert.Equal(t, "stop", resp.StopReason)
		assert.InDelta(t, EstimateCost("gpt-4o-mini", 20, 6), resp.CostUSD, 1e-12)
	})

	t.Run("NoSystemMessageWhenEmpty", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req openAIChatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Messages, 1)
			assert.Equal(t, "user", req.Messages[0].Role)
			_, _ = w.Write(chatResponse(t, "ok", "stop", 1, 1))
		}))
		defer server.Close()

		client, err := NewOpenAIClient("test-key", "gpt-4o-mini", server.URL)
		require.NoError(t, err)
		_, err = client.Complete(context.Background(), Request{Prompt: "hi"})
		require.NoError(t, err)
	})

	t.Run("EmptyPromptRejected", func(t *testing.T) {
		client, err := NewOpenAIClient("test-key", "gpt-4o-mini", "http://unused")
		require.NoError(t, err)
		_, err = client.Complete(context.Background(), Request{Prompt: "   "})
		assert.ErrorIs(t, err, ErrEmptyPrompt)
	})

	t.Run("UpstreamErrorSurfaced", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
		}))
		defer server.Close()

		client, err := NewOpenAIClient("test-key", "gpt-4o-mini", server.URL)
		require.NoError(t, err)
		_, err = client.Complete(context.Background(), Request{Prompt: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("NoChoicesIsError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"model":"gpt-4o-mini","choices":[]}`))
		}))
		defer server.Close()

		client, err := NewOpenAIClient("test-key", "gpt-4o-mini", server.URL)
		require.NoError(t, err)
		_, err = client.Complete(context.Background(), Request{Prompt: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no completion choices")
	})

	t.Run("RequiresAPIKey", func(t *testing.T) {
		_, err := NewOpenAIClient("", "gpt-4o-mini", "")
		assert.Error(t, err)
	})

	t.Run("DefaultsApplied", func(t *testing.T) {
		client, err := NewOpenAIClient("test-key", "", "")
		require.NoError(t, err)
		assert.Equal(t, defaultGPTModel, client.Model())
		assert.Equal(t, AgentGPT, client.Name())
	})
}
