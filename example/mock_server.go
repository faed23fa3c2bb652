package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// mockHealth tracks the simulated health of one model.
type mockHealth struct {
	levelIdx     int
	nextChangeAt time.Time
}

// failure rate per health level
var mockLevels = []struct {
	name        string
	failureRate float64
}{
	{"healthy", 0},
	{"degraded", 0.2},
	{"down", 1},
}

// StartMockDeployment runs a fake LiteLLM deployment serving
// /v1/chat/completions. Each model cycles through healthy, degraded and down
// every 20-60 seconds. Keys listed in denied get 401 for every request.
// Call this in a goroutine before submitting runs against it.
func StartMockDeployment(addr string, denied map[string]bool) {
	var (
		models = make(map[string]*mockHealth)
		mu     sync.Mutex
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMockError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if denied[key] {
			writeMockError(w, http.StatusUnauthorized, "key not allowed to access model "+req.Model)
			return
		}

		// simulate small latency variance
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		mu.Lock()
		h, exists := models[req.Model]
		if !exists {
			h = &mockHealth{nextChangeAt: time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second)}
			models[req.Model] = h
		}
		if time.Now().After(h.nextChangeAt) {
			old := mockLevels[h.levelIdx].name
			h.levelIdx = (h.levelIdx + 1) % len(mockLevels)
			h.nextChangeAt = time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second)
			slog.Info("model health change", "model", req.Model, "from", old, "to", mockLevels[h.levelIdx].name)
		}
		rate := mockLevels[h.levelIdx].failureRate
		mu.Unlock()

		if rand.Float64() < rate {
			writeMockError(w, http.StatusInternalServerError, "upstream provider error")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":     "chatcmpl-mock",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":   0,
				"message": map[string]string{"role": "assistant", "content": "Hello!"},
			}},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock deployment error", "error", err)
	}
}

func writeMockError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg},
	})
}
