// Package queue provides the bounded-concurrency job queue for Observatory.
//
// This package is internal to Observatory. It tracks submitted jobs by a
// parameter fingerprint, rejects duplicate submissions while an equal job is
// queued or running, and admits jobs in FIFO order under a concurrency
// ceiling.
//
// The main components are:
//
//   - [Fingerprint]: Stable identity derived from job [Params]
//   - [Registry]: Queued/running indices, FIFO and bounded completed history
//   - [History]: Fixed-capacity record of recently finished jobs
//   - [Scheduler]: Single admission loop spawning one goroutine per job
//
// All state is in memory; nothing survives a process restart.
package queue
