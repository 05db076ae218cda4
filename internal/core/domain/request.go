package domain

import "time"

// Usage carries the token counts reported by an upstream response, when
// present. Both the OpenAI and Anthropic envelopes are understood.
type Usage struct {
	InputTokens  *int64
	OutputTokens *int64
}

// ExtractUsage reads token usage out of a decoded response body. Anthropic
// reports usage.input_tokens / usage.output_tokens, OpenAI reports
// usage.prompt_tokens / usage.completion_tokens; whichever pair is present
// wins. Missing or malformed usage yields nil counts.
func ExtractUsage(body map[string]any) Usage {
	var u Usage
	usage, ok := body["usage"].(map[string]any)
	if !ok {
		if msg, ok := body["message"].(map[string]any); ok {
			usage, _ = msg["usage"].(map[string]any)
		}
	}
	if usage == nil {
		return u
	}
	if v := numberField(usage, "input_tokens"); v != nil {
		u.InputTokens = v
	} else if v := numberField(usage, "prompt_tokens"); v != nil {
		u.InputTokens = v
	}
	if v := numberField(usage, "output_tokens"); v != nil {
		u.OutputTokens = v
	} else if v := numberField(usage, "completion_tokens"); v != nil {
		u.OutputTokens = v
	}
	return u
}

// Merge overlays non-nil counts from other. Streaming responses report
// usage incrementally (message_start carries input tokens, message_delta
// the output tally); the last observation for each side wins.
func (u *Usage) Merge(other Usage) {
	if other.InputTokens != nil {
		u.InputTokens = other.InputTokens
	}
	if other.OutputTokens != nil {
		u.OutputTokens = other.OutputTokens
	}
}

func numberField(m map[string]any, key string) *int64 {
	f, ok := m[key].(float64)
	if !ok {
		return nil
	}
	n := int64(f)
	return &n
}

// RequestLog is one terminal per-endpoint outcome, appended to the
// request log by the telemetry sink.
type RequestLog struct {
	ID             int64     `json:"id,omitempty"`
	Pool           PoolType  `json:"pool"`
	RequestedModel string    `json:"requested_model"`
	ActualModel    string    `json:"actual_model"`
	ProviderName   string    `json:"provider_name"`
	Success        bool      `json:"success"`
	StatusCode     int       `json:"status_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	LatencyMs      int64     `json:"latency_ms"`
	InputTokens    *int64    `json:"input_tokens,omitempty"`
	OutputTokens   *int64    `json:"output_tokens,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
