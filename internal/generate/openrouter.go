package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/arnvgh/tippkeeper/internal/storage"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 120 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

const systemPrompt = "You are a football tipping assistant. Using only the " +
	"provided context documents, answer with the single most likely outcome " +
	"for the given subject. Reply with the answer only, no explanation."

// Client produces predictions through the OpenRouter chat completion API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
}

// NewClient creates an OpenRouter-backed generator with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		referer: "https://github.com/arnvgh/tippkeeper",
		title:   "tippkeeper",
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Usage    struct {
		Include bool `json:"include"`
	} `json:"usage"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int     `json:"prompt_tokens"`
		CompletionTokens int     `json:"completion_tokens"`
		TotalTokens      int     `json:"total_tokens"`
		Cost             float64 `json:"cost"`
	} `json:"usage"`
}

// Predict sends the subject and its context documents to the model named
// by the subject and returns the model's answer together with the billed
// cost, token usage, and the dependency names to record. Rate limits are
// retried with exponential backoff; any other failure is returned as-is.
func (c *Client) Predict(ctx context.Context, sub storage.Subject, docs []storage.Document) (Generation, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Community: %s\nSubject (%s): %s\n", sub.Community, sub.Kind, sub.EntityID)
	deps := make([]string, 0, len(docs))
	for _, d := range docs {
		fmt.Fprintf(&prompt, "\n--- %s ---\n%s\n", d.Name, d.Content)
		deps = append(deps, fmt.Sprintf("%s (%s)", d.Name, d.Scope))
	}

	req := chatRequest{
		Model: sub.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt.String()},
		},
	}
	req.Usage.Include = true

	body, err := json.Marshal(req)
	if err != nil {
		return Generation{}, fmt.Errorf("marshaling request: %w", err)
	}

	var resp chatResponse
	var lastErr error
	for attempt := range maxRetries {
		resp, err = c.doChat(ctx, body)
		if err == nil {
			break
		}
		if !isRateLimit(err) {
			return Generation{}, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return Generation{}, ctx.Err()
			case <-time.After(backoff):
			}
		} else {
			return Generation{}, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
		}
	}

	if len(resp.Choices) == 0 {
		return Generation{}, fmt.Errorf("empty completion for %s", sub.EntityID)
	}

	return Generation{
		Value: strings.TrimSpace(resp.Choices[0].Message.Content),
		Cost:  resp.Usage.Cost,
		Usage: storage.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		DependencyDocs: deps,
	}, nil
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

func (c *Client) doChat(ctx context.Context, body []byte) (chatResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return chatResponse{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("HTTP-Referer", c.referer)
	httpReq.Header.Set("X-Title", c.title)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return chatResponse{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return chatResponse{}, &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return chatResponse{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return chatResponse{}, fmt.Errorf("decoding response: %w", err)
	}
	return parsed, nil
}
