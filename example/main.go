package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/observatory"
)

func main() {
	// start mock deployment (see mock_server.go)
	go StartMockDeployment(":9999", map[string]bool{"sk-team-b": true})
	time.Sleep(100 * time.Millisecond)

	obs, err := observatory.New(
		observatory.WithPort(8000),
		observatory.WithMaxConcurrency(2),
		observatory.WithScenarios(
			observatory.Scenario{Name: "team-a-gpt-4", APIKey: "sk-team-a", Model: "gpt-4", ExpectSuccess: true},
			observatory.Scenario{Name: "team-b-gpt-4", APIKey: "sk-team-b", Model: "gpt-4", ExpectSuccess: false},
		),
		observatory.WithJobCallback(func(ev observatory.JobEvent) {
			slog.Info("job event", "kind", ev.Kind, "request_id", ev.Job.ID, "test_suite", ev.Job.Suite)
		}),
	)
	if err != nil {
		slog.Error("failed to create observatory", "error", err)
		os.Exit(1)
	}

	tenMinutes := (10 * time.Minute).Hours()
	runs := []observatory.RunRequest{
		{
			Suite:         observatory.SuiteReliability,
			DeploymentURL: "http://localhost:9999",
			APIKey:        "sk-team-a",
			Models:        []string{"gpt-4", "azure-gpt-4"},
			DurationHours: &tenMinutes,
		},
		{
			Suite:         observatory.SuiteAccessGroup,
			DeploymentURL: "http://localhost:9999",
			APIKey:        "sk-admin",
			Models:        []string{"gpt-4"},
		},
	}
	for _, req := range runs {
		res, err := obs.SubmitJob(req)
		if err != nil {
			slog.Error("failed to submit run", "test_suite", req.Suite, "error", err)
			os.Exit(1)
		}
		slog.Info("run submitted", "request_id", res.ID, "status", res.Status)
	}

	fmt.Println()
	fmt.Println("  Observatory Demo")
	fmt.Println()
	fmt.Println("  Mock deployment:  http://localhost:9999/v1/chat/completions")
	fmt.Println("  Queue status:     http://localhost:8000/queue/status")
	fmt.Println("  Live updates:     http://localhost:8000/api/sse")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := obs.Start(ctx); err != nil {
		slog.Error("observatory error", "error", err)
		os.Exit(1)
	}
}
