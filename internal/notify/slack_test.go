package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func captureWebhook(t *testing.T, status int) (*httptest.Server, *slackMessage) {
	t.Helper()
	var got slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &got
}

func TestNewSlack_EmptyURLIsNop(t *testing.T) {
	if _, ok := NewSlack("").(Nop); !ok {
		t.Error("NewSlack(\"\") is not Nop")
	}
}

func TestSlack_NotifyResultPassed(t *testing.T) {
	server, got := captureWebhook(t, http.StatusOK)

	err := NewSlack(server.URL).NotifyResult(context.Background(), Result{
		TestName:      "OpenAI/Azure Release Test",
		DeploymentURL: "https://proxy.example.com",
		Passed:        true,
		FailureRate:   0.0012,
		VerdictRate:   0.0012,
		TotalRequests: 10800,
		DurationHours: 3,
		ErrorMessage:  "ignored when passing",
	})
	if err != nil {
		t.Fatalf("NotifyResult() error = %v", err)
	}

	if got.Username != "LiteLLM Observatory" || got.IconEmoji != ":test_tube:" {
		t.Errorf("username/icon = %q/%q", got.Username, got.IconEmoji)
	}
	if len(got.Blocks) != 2 {
		t.Fatalf("len(Blocks) = %d, want 2 (no error block)", len(got.Blocks))
	}
	if title := got.Blocks[0].Text.Text; title != "✅ OpenAI/Azure Release Test - PASSED" {
		t.Errorf("header = %q", title)
	}

	fields := got.Blocks[1].Fields
	want := []string{
		"*Deployment:*\nhttps://proxy.example.com",
		"*Duration:*\n3.00 hours",
		"*Total Requests:*\n10,800",
		"*Failure Rate:*\n0.12%",
	}
	for i, w := range want {
		if fields[i].Text != w {
			t.Errorf("field %d = %q, want %q", i, fields[i].Text, w)
		}
	}
	if strings.Contains(got.Text, "Error") {
		t.Errorf("text mentions an error for a passing run: %q", got.Text)
	}
}

func TestSlack_NotifyResultFailedIncludesError(t *testing.T) {
	server, got := captureWebhook(t, http.StatusOK)

	err := NewSlack(server.URL).NotifyResult(context.Background(), Result{
		TestName:     "Mock Test",
		Passed:       false,
		ErrorMessage: "Cannot send a request, as the client has been closed",
	})
	if err != nil {
		t.Fatalf("NotifyResult() error = %v", err)
	}

	if len(got.Blocks) != 3 {
		t.Fatalf("len(Blocks) = %d, want 3", len(got.Blocks))
	}
	if !strings.HasPrefix(got.Blocks[0].Text.Text, "❌") {
		t.Errorf("header = %q, want failure emoji", got.Blocks[0].Text.Text)
	}
	if !strings.Contains(got.Blocks[2].Text.Text, "client has been closed") {
		t.Errorf("error block = %q", got.Blocks[2].Text.Text)
	}
	if !strings.HasSuffix(got.Text, "Error: Cannot send a request, as the client has been closed") {
		t.Errorf("text = %q", got.Text)
	}
}

func TestSlack_NotifyResultShowsVerdictRateWhenDifferent(t *testing.T) {
	server, got := captureWebhook(t, http.StatusOK)

	err := NewSlack(server.URL).NotifyResult(context.Background(), Result{
		TestName:      "Access Group Performance Test",
		Passed:        true,
		FailureRate:   1,
		VerdictRate:   0,
		TotalRequests: 50,
	})
	if err != nil {
		t.Fatalf("NotifyResult() error = %v", err)
	}

	fields := got.Blocks[1].Fields
	if len(fields) != 5 {
		t.Fatalf("len(Fields) = %d, want 5", len(fields))
	}
	if fields[3].Text != "*Failure Rate:*\n100.00%" {
		t.Errorf("failure rate field = %q", fields[3].Text)
	}
	if fields[4].Text != "*Unexpected Outcome Rate:*\n0.00%" {
		t.Errorf("unexpected outcome field = %q", fields[4].Text)
	}
	if !strings.Contains(got.Text, "Unexpected Outcome Rate: 0.00%") {
		t.Errorf("text = %q", got.Text)
	}
}

func TestSlack_NotifyFailure(t *testing.T) {
	server, got := captureWebhook(t, http.StatusOK)

	err := NewSlack(server.URL).NotifyFailure(context.Background(), Failure{
		Suite:         "TestOAIAzureRelease",
		DeploymentURL: "https://proxy.example.com",
		Error:         "job panic (correlation_id: abc)",
	})
	if err != nil {
		t.Fatalf("NotifyFailure() error = %v", err)
	}
	if got.Blocks[0].Text.Text != "❌ TestOAIAzureRelease - FAILED" {
		t.Errorf("header = %q", got.Blocks[0].Text.Text)
	}
	if !strings.Contains(got.Text, "correlation_id: abc") {
		t.Errorf("text = %q", got.Text)
	}
}

func TestSlack_Non2xxIsError(t *testing.T) {
	server, _ := captureWebhook(t, http.StatusForbidden)

	if err := NewSlack(server.URL).NotifyResult(context.Background(), Result{Passed: true}); err == nil {
		t.Error("NotifyResult() error = nil, want error for 403")
	}
}

func TestSlack_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	s := NewSlack(server.URL).(*Slack)
	s.retryDelay = time.Millisecond

	if err := s.NotifyResult(context.Background(), Result{Passed: true}); err != nil {
		t.Fatalf("NotifyResult() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("webhook calls = %d, want 2", got)
	}
}

func TestSlack_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	s := NewSlack(server.URL).(*Slack)
	s.retryDelay = time.Millisecond

	err := s.NotifyResult(context.Background(), Result{Passed: true})
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Errorf("NotifyResult() error = %v, want status 404", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("webhook calls = %d, want 1", got)
	}
}

func TestSlack_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	s := NewSlack(server.URL).(*Slack)
	s.retryDelay = time.Millisecond

	if err := s.NotifyResult(context.Background(), Result{Passed: true}); err == nil {
		t.Fatal("NotifyResult() error = nil, want error after retries")
	}
	if got := calls.Load(); got != slackAttempts {
		t.Errorf("webhook calls = %d, want %d", got, slackAttempts)
	}
}
