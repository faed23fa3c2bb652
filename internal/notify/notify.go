// Package notify delivers finished-run outcomes to an external sink.
//
// This package is internal to Observatory. [Slack] posts to an incoming
// webhook; [Nop] discards everything and is used when no webhook is
// configured.
package notify

import (
	"context"
)

// Result describes a run that produced a summary.
type Result struct {
	TestName      string
	Suite         string
	DeploymentURL string
	Passed        bool
	FailureRate   float64
	TotalRequests int
	DurationHours float64

	// VerdictRate is the rate the verdict was judged on: unexpected outcomes
	// over total requests. It equals FailureRate unless the run had
	// scenarios expecting failure.
	VerdictRate float64

	// ErrorMessage is a representative error, shown only for failed runs.
	ErrorMessage string
}

// Failure describes a run that ended with an error before producing a
// summary.
type Failure struct {
	Suite         string
	DeploymentURL string
	Error         string
}

// Notifier receives run outcomes. Implementations must be safe for
// concurrent use.
type Notifier interface {
	NotifyResult(ctx context.Context, r Result) error
	NotifyFailure(ctx context.Context, f Failure) error
}

// Nop is a [Notifier] that does nothing.
type Nop struct{}

func (Nop) NotifyResult(context.Context, Result) error   { return nil }
func (Nop) NotifyFailure(context.Context, Failure) error { return nil }
