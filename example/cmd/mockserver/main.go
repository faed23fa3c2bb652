// Standalone mock LiteLLM deployment for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver -failure-rate 0.01
//
// Then in another terminal:
//
//	go run ./cmd/observatory run --suite TestOAIAzureRelease \
//	    --url http://localhost:9999 --key sk-test --model gpt-4 --duration-hours 0.01
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

func main() {
	addr := flag.String("addr", ":9999", "listen address")
	failureRate := flag.Float64("failure-rate", 0, "fraction of requests answered with 500")
	flag.Parse()

	fmt.Printf("Mock deployment starting on %s (failure rate %.2f%%)\n", *addr, *failureRate*100)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var served, failed atomic.Int64

	http.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		n := served.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if rand.Float64() < *failureRate {
			failed.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "upstream provider error"},
			})
		} else {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":    "chatcmpl-mock",
				"model": req.Model,
				"choices": []map[string]any{{
					"message": map[string]string{"role": "assistant", "content": "Hello!"},
				}},
			})
		}

		if n%100 == 0 {
			slog.Info("requests served", "total", n, "failed", failed.Load())
		}
	})

	if err := http.ListenAndServe(*addr, nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
