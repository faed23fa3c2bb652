package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/dustin/go-humanize"
)

const (
	slackUsername = "LiteLLM Observatory"
	slackIcon     = ":test_tube:"
	slackTimeout  = 10 * time.Second

	slackAttempts   = 3
	slackRetryDelay = 500 * time.Millisecond
)

// Slack posts Block Kit messages to an incoming webhook.
//
// Transport errors, 429 and 5xx responses are retried with backoff. Other
// non-2xx responses fail immediately.
type Slack struct {
	webhookURL string
	client     *http.Client
	attempts   uint
	retryDelay time.Duration
}

// NewSlack returns a Slack notifier, or [Nop] when webhookURL is empty.
func NewSlack(webhookURL string) Notifier {
	if webhookURL == "" {
		return Nop{}
	}
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: slackTimeout},
		attempts:   slackAttempts,
		retryDelay: slackRetryDelay,
	}
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Text      string       `json:"text"`
	Blocks    []slackBlock `json:"blocks,omitempty"`
	Username  string       `json:"username,omitempty"`
	IconEmoji string       `json:"icon_emoji,omitempty"`
}

// NotifyResult posts a pass/fail summary.
func (s *Slack) NotifyResult(ctx context.Context, r Result) error {
	return s.send(ctx, resultMessage(r))
}

// NotifyFailure posts a run that errored out as a failed run with no
// requests.
func (s *Slack) NotifyFailure(ctx context.Context, f Failure) error {
	return s.send(ctx, resultMessage(Result{
		TestName:      f.Suite,
		Suite:         f.Suite,
		DeploymentURL: f.DeploymentURL,
		ErrorMessage:  f.Error,
	}))
}

func resultMessage(r Result) slackMessage {
	emoji, status := "✅", "PASSED"
	if !r.Passed {
		emoji, status = "❌", "FAILED"
	}

	title := fmt.Sprintf("%s %s - %s", emoji, r.TestName, status)
	duration := fmt.Sprintf("%.2f hours", r.DurationHours)
	requests := humanize.Comma(int64(r.TotalRequests))
	rate := fmt.Sprintf("%.2f%%", r.FailureRate*100)

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
		{Type: "section", Fields: []slackText{
			{Type: "mrkdwn", Text: "*Deployment:*\n" + r.DeploymentURL},
			{Type: "mrkdwn", Text: "*Duration:*\n" + duration},
			{Type: "mrkdwn", Text: "*Total Requests:*\n" + requests},
			{Type: "mrkdwn", Text: "*Failure Rate:*\n" + rate},
		}},
	}

	text := fmt.Sprintf("%s\nDeployment: %s\nDuration: %s\nTotal Requests: %s\nFailure Rate: %s",
		title, r.DeploymentURL, duration, requests, rate)

	if r.VerdictRate != r.FailureRate {
		unexpected := fmt.Sprintf("%.2f%%", r.VerdictRate*100)
		blocks[1].Fields = append(blocks[1].Fields,
			slackText{Type: "mrkdwn", Text: "*Unexpected Outcome Rate:*\n" + unexpected})
		text += "\nUnexpected Outcome Rate: " + unexpected
	}

	if !r.Passed && r.ErrorMessage != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Error:*\n```" + r.ErrorMessage + "```"},
		})
		text += "\n\nError: " + r.ErrorMessage
	}

	return slackMessage{
		Text:      text,
		Blocks:    blocks,
		Username:  slackUsername,
		IconEmoji: slackIcon,
	}
}

func (s *Slack) send(ctx context.Context, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode slack message: %w", err)
	}

	return retry.Do(
		func() error { return s.post(ctx, body) },
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.retryDelay),
		retry.LastErrorOnly(true),
	)
}

func (s *Slack) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create slack request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	default:
		return retry.Unrecoverable(fmt.Errorf("slack webhook returned status %d", resp.StatusCode))
	}
}
