// Package probe runs reliability probes against an OpenAI-compatible
// deployment.
//
// This package is internal to Observatory. Each probe kind implements
// [Suite]; [NewSuite] maps a suite kind name onto the closed set of
// implementations:
//
//   - [Reliability]: Round-robin requests until a wall-clock deadline
//   - [ScenarioSuite]: Fixed request count per named scenario, with expected outcomes
//   - [SingleRequest]: One connectivity check
//   - [Mock]: Simulated run with no network traffic
//
// Every request goes to /v1/chat/completions through a [Client] whose
// transport stays open for the whole run. Results are reduced by the stats
// package.
package probe
