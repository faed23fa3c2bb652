package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jpalmerr/observatory/internal/probe"
	"github.com/jpalmerr/observatory/internal/queue"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-LiteLLM-Observatory-API-Key"

// maxBodyBytes bounds a run-test request body.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Detail any `json:"detail"`
}

type duplicateDetail struct {
	Message   string      `json:"message"`
	ID        string      `json:"request_id"`
	Status    queue.State `json:"status"`
	QueuedAt  *time.Time  `json:"queued_at,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
}

type runTestResults struct {
	Message       string   `json:"message"`
	RequestID     string   `json:"request_id"`
	DeploymentURL string   `json:"deployment_url"`
	Models        []string `json:"models"`
	QueuePosition int      `json:"queue_position"`
	RunningCount  int      `json:"running_count"`
}

type runTestResponse struct {
	Status   string         `json:"status"`
	TestName string         `json:"test_name"`
	Results  runTestResults `json:"results"`
}

type rootResponse struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	TestSuites []string `json:"available_test_suites"`
}

type runningResponse struct {
	Count int             `json:"count"`
	Jobs  []queue.JobInfo `json:"jobs"`
}

// requireAPIKey rejects requests without the configured key. With no key
// configured every request passes.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		got := r.Header.Get(APIKeyHeader)
		if got == "" {
			s.writeError(w, http.StatusUnauthorized,
				fmt.Sprintf("Missing API key. Please provide '%s' header.", APIKeyHeader))
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "Invalid API key.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, rootResponse{
		Name:       serviceName,
		Version:    s.cfg.Version,
		TestSuites: s.backend.Suites(),
	})
}

func (s *Server) handleRunTest(w http.ResponseWriter, r *http.Request) {
	var p queue.Params
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if detail := s.validate(p); detail != "" {
		s.writeError(w, http.StatusBadRequest, detail)
		return
	}

	res, err := s.backend.SubmitJob(p)
	var dup *queue.DuplicateError
	switch {
	case errors.As(err, &dup):
		s.writeJSON(w, http.StatusConflict, errorResponse{Detail: duplicateDetail{
			Message:   fmt.Sprintf("Duplicate request detected. An identical test is already %s.", dup.Existing.State),
			ID:        dup.Existing.ID,
			Status:    dup.Existing.State,
			QueuedAt:  dup.Existing.QueuedAt,
			StartedAt: dup.Existing.StartedAt,
		}})
		return
	case errors.Is(err, queue.ErrStopped):
		s.writeError(w, http.StatusServiceUnavailable, "Server is shutting down.")
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg := fmt.Sprintf("Test queued at position %d, %d test(s) running.", res.QueuePosition, res.RunningCount)
	if res.Status == "started" {
		msg = "Test started."
	}

	s.writeJSON(w, http.StatusOK, runTestResponse{
		Status:   res.Status,
		TestName: p.Suite,
		Results: runTestResults{
			Message:       msg,
			RequestID:     res.ID,
			DeploymentURL: p.DeploymentURL,
			Models:        p.Models,
			QueuePosition: res.QueuePosition,
			RunningCount:  res.RunningCount,
		},
	})
}

// validate returns a client-facing message describing what is wrong with p,
// or "" when p is acceptable.
func (s *Server) validate(p queue.Params) string {
	suites := s.backend.Suites()
	known := false
	for _, name := range suites {
		if name == p.Suite {
			known = true
			break
		}
	}
	if !known {
		return fmt.Sprintf("Test suite '%s' is not available. Only the following test suites can be executed: [%s]",
			p.Suite, strings.Join(suites, ", "))
	}

	var missing []string
	if p.DeploymentURL == "" {
		missing = append(missing, "deployment_url")
	}
	if p.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if len(p.Models) == 0 {
		missing = append(missing, "models")
	}
	if len(missing) > 0 {
		return "missing required fields: " + strings.Join(missing, ", ")
	}
	if err := probe.CheckKnobs(p.DurationHours, p.MaxFailureRate, p.RequestIntervalSeconds); err != nil {
		return err.Error()
	}
	return ""
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.QueueStatus())
}

func (s *Server) handleQueueRunning(w http.ResponseWriter, _ *http.Request) {
	jobs := s.backend.RunningJobs()
	if jobs == nil {
		jobs = []queue.JobInfo{}
	}
	s.writeJSON(w, http.StatusOK, runningResponse{Count: len(jobs), Jobs: jobs})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Job '%s' not found.", id))
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err, "status", status)
	}
}
