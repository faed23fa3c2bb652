package stats

import (
	"encoding/json"
	"fmt"
	"time"
)

// Attempt is the outcome of one probe request.
//
// Attempts are immutable once created. Error holds either the decoded JSON
// error body returned by the target, the raw response text, or a transport
// error message.
type Attempt struct {
	// Timestamp is when the attempt finished.
	Timestamp time.Time `json:"timestamp"`

	// Model is the model the request targeted.
	Model string `json:"model"`

	// StatusCode is the HTTP status code, zero when no response was received.
	StatusCode int `json:"status_code,omitempty"`

	// Success reports whether the target answered with the expected status
	// and a parseable body.
	Success bool `json:"success"`

	// Duration is the elapsed time of the request.
	Duration time.Duration `json:"-"`

	// Error is the structured or free-text error payload, nil on success.
	Error any `json:"error,omitempty"`
}

// MarshalJSON encodes the duration in seconds alongside the other fields.
func (a Attempt) MarshalJSON() ([]byte, error) {
	type plain Attempt
	return json.Marshal(struct {
		plain
		DurationSeconds float64 `json:"duration_seconds"`
	}{plain(a), a.Duration.Seconds()})
}

// UnmarshalJSON restores an attempt encoded by MarshalJSON.
func (a *Attempt) UnmarshalJSON(data []byte) error {
	type plain Attempt
	var raw struct {
		plain
		DurationSeconds float64 `json:"duration_seconds"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Attempt(raw.plain)
	a.Duration = time.Duration(raw.DurationSeconds * float64(time.Second))
	return nil
}

// ErrorMessage renders the error payload as text. Empty when there is none.
func (a Attempt) ErrorMessage() string {
	switch e := a.Error.(type) {
	case nil:
		return ""
	case string:
		return e
	case error:
		return e.Error()
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Sprintf("%v", e)
		}
		return string(b)
	}
}
