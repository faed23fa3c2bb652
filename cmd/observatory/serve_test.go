package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jpalmerr/observatory/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServeCmd_RunsUntilContextCancelled(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvSlackWebhookURL, "")

	port := freePort(t)
	path := writeConfig(t, fmt.Sprintf("port: %d\nshutdown_grace: 1s\n", port))

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"serve", "--log-level", "error", "-c", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- rootCmd.ExecuteContext(ctx)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	healthy := false
	for i := 0; i < 100 && !healthy; i++ {
		resp, err := http.Get(url)
		if err == nil {
			healthy = resp.StatusCode == http.StatusOK
			_ = resp.Body.Close()
		}
		if !healthy {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if !healthy {
		t.Fatal("server never became healthy")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve command error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after context cancellation")
	}
}

func TestServeCmd_BindFailure(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvSlackWebhookURL, "")

	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	path := writeConfig(t, fmt.Sprintf("port: %d\n", port))

	_, err = executeCmd(t, "serve", "--log-level", "error", "-c", path)
	if err == nil {
		t.Fatal("serve command error = nil, want bind failure")
	}
}
