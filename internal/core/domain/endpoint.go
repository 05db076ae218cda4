package domain

import (
	"fmt"
	"strings"
	"time"
)

// APIFormat is the wire format an upstream provider speaks.
type APIFormat string

const (
	FormatOpenAI    APIFormat = "openai"
	FormatAnthropic APIFormat = "anthropic"
)

func ParseAPIFormat(s string) (APIFormat, error) {
	switch APIFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatOpenAI:
		return FormatOpenAI, nil
	case FormatAnthropic:
		return FormatAnthropic, nil
	default:
		return "", fmt.Errorf("unknown api format: %q", s)
	}
}

// ChatPath returns the request path appended to the provider base URL.
func (f APIFormat) ChatPath() string {
	if f == FormatAnthropic {
		return "/messages"
	}
	return "/chat/completions"
}

// Provider is an upstream account: base URL, credential and wire format,
// plus aggregated request counters maintained by the store.
type Provider struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	BaseURL         string    `json:"base_url"`
	APIKey          string    `json:"api_key"`
	APIFormat       APIFormat `json:"api_format"`
	Enabled         bool      `json:"enabled"`
	TotalRequests   int64     `json:"total_requests"`
	SuccessRequests int64     `json:"success_requests"`
	ErrorRequests   int64     `json:"error_requests"`
	CreatedAt       string    `json:"created_at,omitempty"`
	UpdatedAt       string    `json:"updated_at,omitempty"`
}

// Endpoint is one concrete (provider, model) pair assigned to a pool.
type Endpoint struct {
	ID                 int64      `json:"id"`
	ProviderID         int64      `json:"provider_id"`
	ModelID            string     `json:"model_id"`
	Pool               PoolType   `json:"pool"`
	Enabled            bool       `json:"enabled"`
	Weight             int        `json:"weight"`
	MinIntervalSeconds int        `json:"min_interval_seconds"`
	LastRequestAt      *time.Time `json:"last_request_at,omitempty"`
	TotalRequests      int64      `json:"total_requests"`
	SuccessRequests    int64      `json:"success_requests"`
	ErrorRequests      int64      `json:"error_requests"`
	AvgLatencyMs       float64    `json:"avg_latency_ms"`
	LastError          string     `json:"last_error,omitempty"`
	CreatedAt          string     `json:"created_at,omitempty"`
	UpdatedAt          string     `json:"updated_at,omitempty"`
}

// EffectiveWeight clamps the configured weight to a minimum of one so a
// zero or negative weight never starves an enabled endpoint.
func (e *Endpoint) EffectiveWeight() int {
	if e.Weight < 1 {
		return 1
	}
	return e.Weight
}

// SelectedEndpoint is the scheduler's answer: everything the forwarder
// needs to build and account one upstream attempt. It is a flattened join
// of an endpoint with its provider, plus the pool's per-attempt timeout.
type SelectedEndpoint struct {
	EndpointID         int64
	ProviderID         int64
	ProviderName       string
	BaseURL            string
	APIKey             string
	ModelID            string
	Format             APIFormat
	Weight             int
	MinIntervalSeconds int
	LastRequestAt      *time.Time
	TimeoutSeconds     int
}

// EffectiveWeight mirrors Endpoint.EffectiveWeight for the joined view.
func (s *SelectedEndpoint) EffectiveWeight() int {
	if s.Weight < 1 {
		return 1
	}
	return s.Weight
}

// URL joins the provider base URL with the format's chat path.
func (s *SelectedEndpoint) URL() string {
	return strings.TrimRight(s.BaseURL, "/") + s.Format.ChatPath()
}
