package proxy

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestRewriteModelValueTopLevel(t *testing.T) {
	body := map[string]any{"model": "gpt-4o-mini", "id": "x"}
	if !rewriteModelValue(body, "sonnet") {
		t.Fatal("expected rewrite")
	}
	if body["model"] != "sonnet" {
		t.Fatalf("model = %v", body["model"])
	}
}

func TestRewriteModelValueMessageEnvelope(t *testing.T) {
	body := map[string]any{
		"type":    "message_start",
		"message": map[string]any{"model": "claude-3-5-haiku-20241022"},
	}
	if !rewriteModelValue(body, "haiku") {
		t.Fatal("expected rewrite")
	}
	msg := body["message"].(map[string]any)
	if msg["model"] != "haiku" {
		t.Fatalf("message.model = %v", msg["model"])
	}
}

func TestRewriteModelValueAbsent(t *testing.T) {
	body := map[string]any{"id": "x"}
	if rewriteModelValue(body, "sonnet") {
		t.Fatal("no model field, nothing to rewrite")
	}
}

func TestRewriteDataPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string // "" means pass through unchanged
	}{
		{
			name:    "top level model",
			payload: `{"model":"gpt-4o","choices":[]}`,
			want:    `{"choices":[],"model":"sonnet"}`,
		},
		{
			name:    "anthropic message_start",
			payload: `{"type":"message_start","message":{"model":"claude-opus-4"}}`,
			want:    `{"message":{"model":"sonnet"},"type":"message_start"}`,
		},
		{
			name:    "already virtual is byte no-op",
			payload: `{"model":  "sonnet"}`,
		},
		{
			name:    "no model field",
			payload: `{"choices":[{"delta":{"content":"hi"}}]}`,
		},
		{
			name:    "not json",
			payload: `hello world`,
		},
		{
			name:    "truncated json",
			payload: `{"model":"gpt`,
		},
		{
			name:    "empty",
			payload: ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rewriteDataPayload([]byte(tt.payload), "sonnet")
			if tt.want == "" {
				if !bytes.Equal(got, []byte(tt.payload)) {
					t.Fatalf("expected pass-through, got %q", got)
				}
				return
			}
			// Marshalled maps have sorted keys, so compare decoded forms.
			var gotObj, wantObj map[string]any
			if err := json.Unmarshal(got, &gotObj); err != nil {
				t.Fatalf("result not JSON: %v", err)
			}
			if err := json.Unmarshal([]byte(tt.want), &wantObj); err != nil {
				t.Fatal(err)
			}
			gotJSON, _ := json.Marshal(gotObj)
			wantJSON, _ := json.Marshal(wantObj)
			if !bytes.Equal(gotJSON, wantJSON) {
				t.Fatalf("got %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestRewriteDataPayloadIdempotent(t *testing.T) {
	first := rewriteDataPayload([]byte(`{"model":"gpt-4o"}`), "sonnet")
	second := rewriteDataPayload(first, "sonnet")
	if !bytes.Equal(first, second) {
		t.Fatalf("rewrite not idempotent: %q then %q", first, second)
	}
}

func TestErrorFrameShape(t *testing.T) {
	frame := errorFrame("upstream connection dropped")
	if !bytes.HasPrefix(frame, []byte("data: ")) || !bytes.HasSuffix(frame, []byte("\n\n")) {
		t.Fatalf("malformed frame %q", frame)
	}
	var env map[string]map[string]string
	if err := json.Unmarshal(bytes.TrimSuffix(frame[6:], []byte("\n\n")), &env); err != nil {
		t.Fatalf("frame payload not JSON: %v", err)
	}
	if env["error"]["type"] != "upstream_error" {
		t.Fatalf("type = %q", env["error"]["type"])
	}
	if env["error"]["message"] != "upstream connection dropped" {
		t.Fatalf("message = %q", env["error"]["message"])
	}
}

func TestCloneBodyDoesNotAliasTopLevel(t *testing.T) {
	src := map[string]any{"model": "a", "messages": []any{"x"}}
	dst := cloneBody(src)
	dst["model"] = "b"
	if src["model"] != "a" {
		t.Fatal("clone mutated source")
	}
}
