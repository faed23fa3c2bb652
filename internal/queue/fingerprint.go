package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// fingerprintLength is the number of hex characters kept from the digest.
const fingerprintLength = 16

// Params is the full parameter set of a job submission.
//
// Optional tuning knobs are pointers so that "not provided" and an explicit
// value are distinguishable, and hash differently.
type Params struct {
	Suite                  string   `json:"test_suite"`
	DeploymentURL          string   `json:"deployment_url"`
	APIKey                 string   `json:"api_key"`
	Models                 []string `json:"models"`
	DurationHours          *float64 `json:"duration_hours,omitempty"`
	MaxFailureRate         *float64 `json:"max_failure_rate,omitempty"`
	RequestIntervalSeconds *float64 `json:"request_interval_seconds,omitempty"`
}

// canonicalParams fixes field order and always encodes optional knobs,
// using null for unset values.
type canonicalParams struct {
	APIKey                 string   `json:"api_key"`
	DeploymentURL          string   `json:"deployment_url"`
	DurationHours          *float64 `json:"duration_hours"`
	MaxFailureRate         *float64 `json:"max_failure_rate"`
	Models                 []string `json:"models"`
	RequestIntervalSeconds *float64 `json:"request_interval_seconds"`
	Suite                  string   `json:"test_suite"`
}

// Fingerprint derives the stable identity of a parameter set.
//
// The model list is sorted before hashing so its order does not matter;
// every other field is compared by value. The result is the first 16 hex
// characters of a SHA-256 digest over a canonical JSON encoding.
func Fingerprint(p Params) string {
	models := append([]string{}, p.Models...)
	sort.Strings(models)

	canon := canonicalParams{
		APIKey:                 p.APIKey,
		DeploymentURL:          p.DeploymentURL,
		DurationHours:          p.DurationHours,
		MaxFailureRate:         p.MaxFailureRate,
		Models:                 models,
		RequestIntervalSeconds: p.RequestIntervalSeconds,
		Suite:                  p.Suite,
	}

	data, err := json.Marshal(canon)
	if err != nil {
		// json rejects NaN and Inf knobs
		data = []byte(fmt.Sprintf("%q|%q|%s|%s|%q|%s|%q",
			canon.APIKey, canon.DeploymentURL, formatFloat(canon.DurationHours),
			formatFloat(canon.MaxFailureRate), canon.Models,
			formatFloat(canon.RequestIntervalSeconds), canon.Suite))
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	cp := p
	cp.Models = append([]string(nil), p.Models...)
	cp.DurationHours = copyFloat(p.DurationHours)
	cp.MaxFailureRate = copyFloat(p.MaxFailureRate)
	cp.RequestIntervalSeconds = copyFloat(p.RequestIntervalSeconds)
	return cp
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func formatFloat(f *float64) string {
	if f == nil {
		return "null"
	}
	return strconv.FormatFloat(*f, 'g', -1, 64)
}
