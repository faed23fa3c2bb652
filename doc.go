// Package observatory runs test suites against LiteLLM proxy deployments
// through a bounded, deduplicating job queue.
//
// A job is a full set of run parameters: suite, deployment URL, API key,
// models and optional tuning knobs. Its identity is a fingerprint of those
// parameters, so submitting the same run while it is queued or running is
// rejected with a [DuplicateError] instead of starting a second copy. Up to
// the configured concurrency ceiling jobs run at once; the rest wait in
// submission order.
//
// # Quick Start
//
//	obs, _ := observatory.New(
//	    observatory.WithMaxConcurrency(3),
//	    observatory.WithSlackWebhook(os.Getenv("SLACK_WEBHOOK_URL")),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	obs.Start(ctx) // serves the HTTP API until ctx is cancelled
//
// Jobs can also be submitted in-process:
//
//	res, err := obs.SubmitJob(observatory.RunRequest{
//	    Suite:         observatory.SuiteReliability,
//	    DeploymentURL: "https://proxy.example.com",
//	    APIKey:        "sk-...",
//	    Models:        []string{"gpt-4", "azure-gpt-4"},
//	})
//
// # Suites
//
//   - TestOAIAzureRelease: round-robin requests across models until a
//     deadline, passing when the failure rate stays below the threshold
//   - TestAccessGroupPerf: a fixed number of requests per credential/model
//     scenario, passing when outcomes match each scenario's expectation
//   - TestMockSingleRequest: one connectivity request
//   - TestMock: a simulated run without network traffic
//
// # Architecture
//
// Observatory consists of several internal packages (under internal/):
//
//   - internal/queue: fingerprinting, job registry, bounded history and the
//     admission scheduler
//   - internal/probe: the suites and their pooled HTTP client
//   - internal/stats: attempt aggregation, percentiles and the verdict
//   - internal/store: job records with pub/sub for live updates
//   - internal/notify: Slack notifications
//   - internal/metrics: Prometheus collectors
//   - internal/server: HTTP API, Server-Sent Events and /metrics
//
// State is held in memory only and is lost on restart.
package observatory
