package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jpalmerr/observatory/internal/store"
)

// SSE event names. Every record is sent as "job" unless it left the store.
const (
	sseEventJob     = "job"
	sseEventDeleted = "deleted"
)

// sseRetryMs is the reconnect delay suggested to clients.
const sseRetryMs = 3000

// sseKeepAlive is how often an idle stream gets a comment line so proxies do
// not close it. A variable so tests can shorten it.
var sseKeepAlive = 15 * time.Second

// sseStream writes job records as named SSE events.
type sseStream struct {
	w             http.ResponseWriter
	rc            *http.ResponseController
	deadlines     bool
	onNoDeadlines func(error)
}

func (s *sseStream) arm() {
	if !s.deadlines {
		return
	}
	if err := s.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
		// not every ResponseWriter supports deadlines
		s.deadlines = false
		s.onNoDeadlines(err)
	}
}

func (s *sseStream) flush(format string, args ...any) error {
	s.arm()
	if _, err := fmt.Fprintf(s.w, format, args...); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseStream) record(rec store.JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		// skip the record, keep the stream
		return nil
	}
	event := sseEventJob
	if rec.Deleted {
		event = sseEventDeleted
	}
	return s.flush("id: %s\nevent: %s\ndata: %s\n\n", rec.ID, event, data)
}

func (s *sseStream) ping() error {
	return s.flush(": ping\n\n")
}

// handleSSE streams job record changes via Server-Sent Events.
//
// The current records are sent first, then every change. Idle streams get a
// keep-alive comment. Write deadlines keep a slow or disconnected client from
// pinning the handler goroutine.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	stream := &sseStream{
		w:         w,
		rc:        http.NewResponseController(w),
		deadlines: true,
		onNoDeadlines: func(err error) {
			s.logger.Warn("sse write deadlines not supported", "error", err)
		},
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before the snapshot so no change is missed in between
	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	if err := stream.flush("retry: %d\n\n", sseRetryMs); err != nil {
		return
	}
	for _, rec := range s.store.GetAll() {
		if err := stream.record(rec); err != nil {
			return
		}
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if err := stream.record(rec); err != nil {
				return
			}
			ticker.Reset(sseKeepAlive)

		case <-ticker.C:
			if err := stream.ping(); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on client disconnect and on server shutdown
			return
		}
	}
}
