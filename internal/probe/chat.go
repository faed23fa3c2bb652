package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jpalmerr/observatory/internal/stats"
)

// chatCompletionsPath is the endpoint every probe request targets.
const chatCompletionsPath = "/v1/chat/completions"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

// chatProbe describes one kind of chat completion request.
type chatProbe struct {
	url       string
	message   string
	maxTokens int
	timeout   time.Duration
}

func newChatProbe(deploymentURL, message string, maxTokens int, timeout time.Duration) chatProbe {
	return chatProbe{
		url:       endpointURL(deploymentURL, chatCompletionsPath),
		message:   message,
		maxTokens: maxTokens,
		timeout:   timeout,
	}
}

// attempt issues one request and records its outcome.
//
// An attempt succeeds iff the status is 200 and the body is valid JSON.
// Otherwise the error is the decoded JSON error body, the raw body text, or
// the transport error message, in that order of preference.
func (p chatProbe) attempt(ctx context.Context, c *Client, apiKey, model string) stats.Attempt {
	payload := chatRequest{
		Model:     model,
		Messages:  []chatMessage{{Role: "user", Content: p.message}},
		MaxTokens: p.maxTokens,
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}

	resp := c.PostJSON(ctx, p.url, headers, payload, p.timeout)

	a := stats.Attempt{
		Timestamp:  time.Now(),
		Model:      model,
		StatusCode: resp.StatusCode,
		Duration:   resp.Latency,
	}

	switch {
	case resp.Error != nil:
		a.Error = resp.Error.Error()
	case resp.StatusCode == http.StatusOK:
		var body any
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			a.Error = fmt.Sprintf("failed to parse response: %v", err)
		} else {
			a.Success = true
		}
	default:
		var body any
		if err := json.Unmarshal(resp.Body, &body); err == nil {
			a.Error = body
		} else {
			a.Error = string(resp.Body)
		}
	}
	return a
}

// endpointURL joins a deployment base URL and an absolute path.
func endpointURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
