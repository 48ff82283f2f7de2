// internal/llmclient/gemini_client.go
package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/droidpilot-ai/droidpilot-cli/api/schemas"
	"github.com/droidpilot-ai/droidpilot-cli/internal/config"
)

// GeminiClient implements schemas.ModelTransport against the Google Gemini
// streaming API (streamGenerateContent with alt=sse). Retrying failed streams
// is the caller's policy; the client reports each stream exactly once.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	config     config.LLMConfig
}

// -- Gemini API Request/Response Structures (Internal to this file) --

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// NewGeminiClient initializes the client.
func NewGeminiClient(cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:streamGenerateContent?alt=sse", cfg.Model)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &GeminiClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		logger:  logger.Named("llm_client.gemini"),
	}, nil
}

// StreamChat opens one streaming generation and relays text fragments onto
// the returned channel as they arrive. Request construction and connection
// failures are returned synchronously; a stream that breaks mid-flight ends
// with a chunk whose Err is set. The channel is always closed when the stream
// ends, and cancelling ctx aborts the stream.
func (c *GeminiClient) StreamChat(ctx context.Context, req schemas.ChatRequest) (<-chan schemas.StreamChunk, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait aborted: %w", err)
	}

	body, err := json.Marshal(c.buildRequestPayload(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("Network error opening LLM stream.", zap.Error(err))
		return nil, schemas.Transient(fmt.Errorf("failed to open stream: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, c.handleAPIError(resp.StatusCode, respBody)
	}

	out := make(chan schemas.StreamChunk)
	go c.relay(ctx, resp.Body, out, startTime)
	return out, nil
}

// relay reads server-sent events off the response body until EOF or error,
// forwarding text parts as chunks. It owns closing both the body and the
// channel.
func (c *GeminiClient) relay(ctx context.Context, body io.ReadCloser, out chan<- schemas.StreamChunk, startTime time.Time) {
	defer close(out)
	defer body.Close()

	send := func(chunk schemas.StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	chunks := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			// SSE comments, event names, and blank separators carry no payload.
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var payload geminiResponsePayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			send(schemas.StreamChunk{Err: fmt.Errorf("malformed stream event: %w", err)})
			return
		}

		for _, candidate := range payload.Candidates {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				send(schemas.StreamChunk{Err: fmt.Errorf("gemini API blocked the response (Reason: %s)", candidate.FinishReason)})
				return
			}
			for _, part := range candidate.Content.Parts {
				if part.Text == "" {
					continue
				}
				chunks++
				if !send(schemas.StreamChunk{Text: part.Text}) {
					return
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn("LLM stream broke mid-response.", zap.Error(err))
		send(schemas.StreamChunk{Err: schemas.Transient(fmt.Errorf("stream read failed: %w", err))})
		return
	}

	c.logger.Info("LLM stream complete (Gemini).",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("chunks", chunks))
}

func (c *GeminiClient) buildRequestPayload(req schemas.ChatRequest) geminiRequestPayload {
	contents := make([]geminiContent, 0, len(req.Turns))
	for _, turn := range req.Turns {
		parts := make([]geminiPart, 0, 2)
		if turn.Text != "" {
			parts = append(parts, geminiPart{Text: turn.Text})
		}
		if turn.Screenshot != nil && len(turn.Screenshot.Data) > 0 {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MIMEType: turn.Screenshot.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(turn.Screenshot.Data),
			}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, geminiContent{Role: string(turn.Role), Parts: parts})
	}

	payload := geminiRequestPayload{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     c.config.Temperature,
			MaxOutputTokens: c.config.MaxTokens,
		},
	}
	if req.System != "" {
		payload.SystemInstruction = &geminiSystemInstruction{
			Parts: []geminiPart{{Text: req.System}},
		}
	}
	return payload
}

func (c *GeminiClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Gemini API returned error status.", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("gemini API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return schemas.Transient(err)
	default:
		return err
	}
}
