package proxy

import (
	"bytes"
	"encoding/json"

	"github.com/poolgate/poolgate/internal/core/domain"
)

// The gateway hides concrete upstream model identities: every response
// carries the requested virtual model name instead of whatever the
// provider answered with. The helpers here rewrite the "model" field in
// decoded objects and raw SSE data payloads. Anthropic wraps the model in
// a message envelope (message_start events and message responses carry
// message.model), so both locations are handled.

// rewriteModelValue overwrites the model field of a decoded response
// object in place. Returns true when a field was present.
func rewriteModelValue(body map[string]any, virtualModel string) bool {
	found := false
	if _, ok := body["model"]; ok {
		body["model"] = virtualModel
		found = true
	}
	if msg, ok := body["message"].(map[string]any); ok {
		if _, ok := msg["model"]; ok {
			msg["model"] = virtualModel
			found = true
		}
	}
	return found
}

// rewriteDataPayload rewrites the model field inside a raw JSON payload
// taken from an SSE data: line. Payloads that are not JSON objects, carry
// no model field, or already carry the virtual name pass through
// unchanged, byte for byte, so the rewrite is idempotent and never
// corrupts frames it does not understand.
func rewriteDataPayload(payload []byte, virtualModel string) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return payload
	}

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return payload
	}

	current, nested := currentModel(obj)
	if current == "" || current == virtualModel {
		return payload
	}

	if nested {
		obj["message"].(map[string]any)["model"] = virtualModel
	} else {
		obj["model"] = virtualModel
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return out
}

// currentModel returns the model string found in the object and whether
// it lives under the message envelope.
func currentModel(obj map[string]any) (model string, nested bool) {
	if m, ok := obj["model"].(string); ok {
		return m, false
	}
	if msg, ok := obj["message"].(map[string]any); ok {
		if m, ok := msg["model"].(string); ok {
			return m, true
		}
	}
	return "", false
}

// cloneBody shallow-copies the top level of a request body so the
// forwarder can overwrite the model field per endpoint without mutating
// the caller's map across retries.
func cloneBody(body map[string]any) map[string]any {
	out := make(map[string]any, len(body)+1)
	for k, v := range body {
		out[k] = v
	}
	return out
}

// errorFrame renders the in-band SSE error event used to terminate a
// stream after data has already been forwarded.
func errorFrame(message string) []byte {
	env := map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "upstream_error",
		},
	}
	payload, err := json.Marshal(env)
	if err != nil {
		payload = []byte(`{"error":{"message":"upstream error","type":"upstream_error"}}`)
	}
	frame := make([]byte, 0, len(payload)+10)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame
}

// usageFromPayload extracts token usage from a decoded SSE payload, when
// the event carries any.
func usageFromPayload(payload []byte) domain.Usage {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return domain.Usage{}
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return domain.Usage{}
	}
	return domain.ExtractUsage(obj)
}
