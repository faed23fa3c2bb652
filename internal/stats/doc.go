// Package stats reduces probe attempts into run summaries.
//
// This package is internal to Observatory. It is pure: every function
// derives its result from the attempts passed in and never mutates them.
//
// The main components are:
//
//   - [Attempt]: Outcome of a single probe request
//   - [Latency]: Min/max/mean/median/p95/p99/stdev of a set of durations
//   - [GroupStats]: Counts, failure rate and latency for one model or scenario
//   - [Summary]: Per-group breakdown, overall rollup and pass/fail verdict
//
// Percentiles use linear interpolation between order statistics, see
// [Percentile].
package stats
