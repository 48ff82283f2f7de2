package llmclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/droidpilot-ai/droidpilot-cli/api/schemas"
	"github.com/droidpilot-ai/droidpilot-cli/internal/config"
)

func testLLMConfig(endpoint string) config.LLMConfig {
	return config.LLMConfig{
		Provider:          ProviderGemini,
		Model:             "gemini-test",
		APIKey:            "test-key",
		Endpoint:          endpoint,
		APITimeout:        5 * time.Second,
		Temperature:       0.2,
		MaxTokens:         512,
		RequestsPerMinute: 6000,
	}
}

func sseEvent(text string) string {
	payload := fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}],"role":"model"}}]}`, text)
	return "data: " + payload + "\n\n"
}

func collect(t *testing.T, ch <-chan schemas.StreamChunk) (string, error) {
	t.Helper()
	var b strings.Builder
	var streamErr error
	for chunk := range ch {
		if chunk.Err != nil {
			streamErr = chunk.Err
			continue
		}
		b.WriteString(chunk.Text)
	}
	return b.String(), streamErr
}

func TestStreamChatRelaysFragmentsInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, http.MethodPost, r.Method)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseEvent("thinking "))
		fmt.Fprint(w, sseEvent("hard\n"))
		fmt.Fprint(w, sseEvent("Action: tap(1, 2)\n"))
	}))
	defer server.Close()

	client, err := NewGeminiClient(testLLMConfig(server.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	ch, err := client.StreamChat(context.Background(), schemas.ChatRequest{
		System: "sys",
		Turns:  []schemas.ChatTurn{{Role: schemas.RoleUser, Text: "go"}},
	})
	require.NoError(t, err)

	text, streamErr := collect(t, ch)
	require.NoError(t, streamErr)
	assert.Equal(t, "thinking hard\nAction: tap(1, 2)\n", text)
}

func TestStreamChatBuildsMultimodalPayload(t *testing.T) {
	imageData := []byte{0x89, 0x50, 0x4e, 0x47}
	var captured geminiRequestPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, sseEvent("ok"))
	}))
	defer server.Close()

	client, err := NewGeminiClient(testLLMConfig(server.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	ch, err := client.StreamChat(context.Background(), schemas.ChatRequest{
		System: "you are the pilot",
		Turns: []schemas.ChatTurn{
			{Role: schemas.RoleUser, Text: "Task: x"},
			{Role: schemas.RoleModel, Text: "thinking\nAction: tap(1, 2)"},
			{
				Role: schemas.RoleUser,
				Text: "next screen",
				Screenshot: &schemas.Screenshot{
					MIMEType: "image/png",
					Data:     imageData,
				},
			},
		},
	})
	require.NoError(t, err)
	_, streamErr := collect(t, ch)
	require.NoError(t, streamErr)

	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "you are the pilot", captured.SystemInstruction.Parts[0].Text)

	require.Len(t, captured.Contents, 3)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role)

	last := captured.Contents[2]
	require.Len(t, last.Parts, 2)
	assert.Equal(t, "next screen", last.Parts[0].Text)
	require.NotNil(t, last.Parts[1].InlineData)
	assert.Equal(t, "image/png", last.Parts[1].InlineData.MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(imageData), last.Parts[1].InlineData.Data)

	assert.Equal(t, 0.2, captured.GenerationConfig.Temperature)
	assert.Equal(t, 512, captured.GenerationConfig.MaxOutputTokens)
}

func TestStreamChatClassifiesStatusCodes(t *testing.T) {
	testCases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer server.Close()

			client, err := NewGeminiClient(testLLMConfig(server.URL), zaptest.NewLogger(t))
			require.NoError(t, err)

			_, err = client.StreamChat(context.Background(), schemas.ChatRequest{})
			require.Error(t, err)
			assert.Equal(t, tc.transient, schemas.IsTransient(err))
		})
	}
}

func TestStreamChatReportsSafetyBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseEvent("partial"))
		fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`+"\n\n")
	}))
	defer server.Close()

	client, err := NewGeminiClient(testLLMConfig(server.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	ch, err := client.StreamChat(context.Background(), schemas.ChatRequest{})
	require.NoError(t, err)

	text, streamErr := collect(t, ch)
	assert.Equal(t, "partial", text)
	require.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "SAFETY")
}

func TestStreamChatMalformedEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: this is not json\n\n")
	}))
	defer server.Close()

	client, err := NewGeminiClient(testLLMConfig(server.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	ch, err := client.StreamChat(context.Background(), schemas.ChatRequest{})
	require.NoError(t, err)

	_, streamErr := collect(t, ch)
	require.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "malformed stream event")
}

func TestStreamChatIgnoresKeepalivesAndDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, sseEvent("hello"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewGeminiClient(testLLMConfig(server.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	ch, err := client.StreamChat(context.Background(), schemas.ChatRequest{})
	require.NoError(t, err)

	text, streamErr := collect(t, ch)
	require.NoError(t, streamErr)
	assert.Equal(t, "hello", text)
}

func TestStreamChatCancelledContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseEvent("first"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, err := NewGeminiClient(testLLMConfig(server.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := client.StreamChat(ctx, schemas.ChatRequest{})
	require.NoError(t, err)

	cancel()
	// The channel must close promptly after cancellation.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream channel never closed after cancel")
		}
	}
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	cfg := testLLMConfig("")
	cfg.APIKey = ""
	_, err := NewGeminiClient(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewGeminiClientDefaultEndpoint(t *testing.T) {
	client, err := NewGeminiClient(testLLMConfig(""), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Contains(t, client.endpoint, "gemini-test:streamGenerateContent?alt=sse")
}
