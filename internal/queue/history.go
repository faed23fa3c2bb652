package queue

import (
	"fmt"

	"github.com/hashicorp/golang-lru/simplelru"
)

// DefaultHistoryCapacity is the number of finished jobs retained.
const DefaultHistoryCapacity = 100

// History is a fixed-capacity record of finished jobs, keyed by fingerprint.
//
// Jobs are only ever added and peeked, never promoted, so the underlying LRU
// order is completion order: the oldest completion is evicted first.
// History is not safe for concurrent use; the [Registry] lock guards it.
type History struct {
	lru *simplelru.LRU
}

// NewHistory creates a [History] holding at most capacity jobs.
// onEvict, if non-nil, is called for every job pushed out by a newer one.
func NewHistory(capacity int, onEvict func(*Job)) (*History, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("history capacity must be positive, got %d", capacity)
	}

	var cb simplelru.EvictCallback
	if onEvict != nil {
		cb = func(_ interface{}, value interface{}) {
			onEvict(value.(*Job))
		}
	}

	lru, err := simplelru.NewLRU(capacity, cb)
	if err != nil {
		return nil, fmt.Errorf("create history: %w", err)
	}
	return &History{lru: lru}, nil
}

// add records j. A job with the same fingerprint that finished earlier is
// replaced in place and moves to the newest position without an eviction.
func (h *History) add(j *Job) {
	h.lru.Add(j.ID, j)
}

// Peek returns the finished job with the given fingerprint.
func (h *History) Peek(id string) (*Job, bool) {
	v, ok := h.lru.Peek(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

// Len returns the number of retained jobs.
func (h *History) Len() int {
	return h.lru.Len()
}

// Jobs returns retained jobs from oldest to newest completion.
func (h *History) Jobs() []*Job {
	keys := h.lru.Keys()
	out := make([]*Job, 0, len(keys))
	for _, k := range keys {
		if v, ok := h.lru.Peek(k); ok {
			out = append(out, v.(*Job))
		}
	}
	return out
}
