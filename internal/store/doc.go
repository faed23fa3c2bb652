// Package store keeps the latest known record of every tracked job and
// publishes changes to subscribers.
//
// This package is internal to Observatory. The queue reports lifecycle
// transitions and the runner attaches run summaries; the HTTP server reads
// records for job lookup and streams changes to SSE clients.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [JobRecord]: Storage representation of a job
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block the system).
package store
