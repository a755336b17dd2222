// Package ollama provides Ollama integration for local AI inference
// Implements the streaming chat provider over the NDJSON chat API
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/culinara/v2/internal/infrastructure/config"
	"github.com/culinara/v2/internal/ports/outbound"
)

// Client streams chat completions from a local Ollama instance
type Client struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *zap.Logger
}

// NewClient creates a new Ollama client
func NewClient(cfg config.AIConfig, logger *zap.Logger) *Client {
	baseURL := cfg.OllamaHost
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.OllamaModel
	if model == "" {
		model = "llama3.2:3b"
	}

	logger = logger.Named("ollama-client")
	logger.Info("Ollama client initialized",
		zap.String("base_url", baseURL),
		zap.String("model", model))

	return &Client{
		baseURL:     baseURL,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		// No client-level timeout: streams legitimately stay open for
		// minutes; the request context bounds them instead.
		client: &http.Client{},
		logger: logger,
	}
}

// Name identifies the provider in logs and metrics
func (c *Client) Name() string { return "ollama" }

// Ollama API structures
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ChatMessage          `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ChatResponse struct {
	Model        string      `json:"model"`
	Message      ChatMessage `json:"message"`
	Done         bool        `json:"done"`
	EvalCount    int         `json:"eval_count,omitempty"`
	EvalDuration int64       `json:"eval_duration,omitempty"`
}

// HealthCheck verifies the Ollama service is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check failed with status %d", resp.StatusCode)
	}

	c.logger.Debug("Ollama health check passed")
	return nil
}

// StreamChat opens a streaming chat completion against the chat API
func (c *Client) StreamChat(ctx context.Context, system, user string) (outbound.ChatStream, error) {
	reqBody := ChatRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: true,
		Options: map[string]interface{}{
			"temperature": c.temperature,
			"num_predict": c.maxTokens,
			"num_ctx":     4096,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("Ollama stream opened",
		zap.String("model", c.model),
		zap.Duration("time_to_first_byte", time.Since(started)))

	return &chatStream{
		body:    resp.Body,
		decoder: json.NewDecoder(resp.Body),
		logger:  c.logger,
	}, nil
}

// chatStream reads the NDJSON response body one object per Recv.
type chatStream struct {
	body    io.ReadCloser
	decoder *json.Decoder
	logger  *zap.Logger
	done    bool
}

func (s *chatStream) Recv(ctx context.Context) (string, error) {
	if s.done {
		return "", io.EOF
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var chunk ChatResponse
	if err := s.decoder.Decode(&chunk); err != nil {
		if err == io.EOF {
			// The server closed without a done marker; treat the stream as
			// ended rather than failed.
			s.done = true
			return "", io.EOF
		}
		// Context cancellation surfaces as a read error on the body.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("failed to decode stream chunk: %w", err)
	}

	if chunk.Done {
		s.done = true
		s.logger.Debug("Ollama stream finished",
			zap.Int("eval_count", chunk.EvalCount),
			zap.Int64("eval_duration", chunk.EvalDuration))
		if chunk.Message.Content == "" {
			return "", io.EOF
		}
		// Some models attach trailing content to the done frame.
		return chunk.Message.Content, nil
	}

	return chunk.Message.Content, nil
}

func (s *chatStream) Close() error {
	return s.body.Close()
}
