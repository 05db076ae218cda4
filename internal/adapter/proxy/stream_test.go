package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poolgate/poolgate/internal/core/domain"
)

// sseWriter is a threadsafe downstream buffer for Pipe tests.
type sseWriter struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (w *sseWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *sseWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func forwardStream(t *testing.T, svc *Service, scheduler Scheduler, model string) *StreamResult {
	t.Helper()
	result, err := svc.Forward(context.Background(), ForwardRequest{
		Pool:           domain.PoolNormal,
		RequestedModel: model,
		Body:           map[string]any{"model": model},
		Stream:         true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stream == nil {
		t.Fatal("expected a stream result")
	}
	return result.Stream
}

func TestStreamPassThroughWithRewrite(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		frames := []string{
			"event: message_start\n",
			`data: {"type":"message_start","message":{"model":"concrete-model","usage":{"input_tokens":7}}}` + "\n",
			"\n",
			`data: {"type":"content_block_delta","delta":{"text":"hi"}}` + "\n",
			"\n",
			`data: {"type":"message_delta","usage":{"output_tokens":42}}` + "\n",
			"\n",
			"data: [DONE]\n",
			"\n",
		}
		for _, f := range frames {
			_, _ = w.Write([]byte(f))
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	scheduler := newFakeScheduler(testEndpoint(1, upstream.URL, domain.FormatAnthropic))
	svc, sink, _, _ := newTestService(scheduler, Config{HeartbeatInterval: time.Minute})

	stream := forwardStream(t, svc, scheduler, "sonnet")

	var out sseWriter
	if err := stream.Pipe(context.Background(), &out); err != nil {
		t.Fatal(err)
	}

	got := out.String()
	if strings.Contains(got, "concrete-model") {
		t.Fatal("concrete model name leaked downstream")
	}
	if !strings.Contains(got, `"model":"sonnet"`) {
		t.Fatalf("model not rewritten to virtual name:\n%s", got)
	}
	if !strings.Contains(got, "event: message_start\n") {
		t.Fatal("event: line should pass through unchanged")
	}
	if !strings.Contains(got, "data: [DONE]\n") {
		t.Fatal("[DONE] sentinel should pass through unchanged")
	}

	recs := sink.all()
	if len(recs) != 1 || !recs[0].Success {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].InputTokens == nil || *recs[0].InputTokens != 7 {
		t.Fatalf("input tokens = %v", recs[0].InputTokens)
	}
	if recs[0].OutputTokens == nil || *recs[0].OutputTokens != 42 {
		t.Fatalf("output tokens = %v", recs[0].OutputTokens)
	}
}

func TestStreamHeartbeatBeforeFirstChunk(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-release
		_, _ = w.Write([]byte("data: {\"delta\":\"x\"}\n\n"))
		w.(http.Flusher).Flush()
	}))
	defer upstream.Close()

	scheduler := newFakeScheduler(testEndpoint(1, upstream.URL, domain.FormatOpenAI))
	svc, _, _, _ := newTestService(scheduler, Config{
		HeartbeatInterval: 30 * time.Millisecond,
		FirstChunkTimeout: 5 * time.Second,
	})

	stream := forwardStream(t, svc, scheduler, "sonnet")

	var out sseWriter
	done := make(chan error, 1)
	go func() { done <- stream.Pipe(context.Background(), &out) }()

	// Let a few heartbeat intervals elapse before the first chunk.
	time.Sleep(100 * time.Millisecond)
	close(release)

	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got := out.String()
	hb := strings.Index(got, ": heartbeat\n\n")
	data := strings.Index(got, "data: ")
	if hb == -1 {
		t.Fatalf("no heartbeat emitted while waiting:\n%q", got)
	}
	if data == -1 || hb > data {
		t.Fatalf("heartbeat should precede the first data frame:\n%q", got)
	}
}

func TestStreamMidFlightFailureEmitsErrorFrame(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "data: {\"chunk\":%d}\n\n", i)
			flusher.Flush()
		}
		// Drop the connection without the chunked terminator.
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("hijack unsupported")
			return
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer upstream.Close()

	scheduler := newFakeScheduler(testEndpoint(1, upstream.URL, domain.FormatOpenAI))
	svc, sink, _, _ := newTestService(scheduler, Config{HeartbeatInterval: time.Minute})

	stream := forwardStream(t, svc, scheduler, "sonnet")

	var out sseWriter
	err := stream.Pipe(context.Background(), &out)
	var interrupted *domain.StreamInterruptedError
	if !errors.As(err, &interrupted) {
		t.Fatalf("expected StreamInterruptedError, got %v", err)
	}

	got := out.String()
	for i := 0; i < 3; i++ {
		if !strings.Contains(got, fmt.Sprintf(`{"chunk":%d}`, i)) {
			t.Fatalf("data frame %d missing:\n%q", i, got)
		}
	}
	if !strings.Contains(got, `"type":"upstream_error"`) {
		t.Fatalf("no in-band error frame:\n%q", got)
	}

	recs := sink.all()
	if len(recs) != 1 || recs[0].Success {
		t.Fatalf("want one failure record, got %+v", recs)
	}
	if _, parked := scheduler.parked[1]; !parked {
		t.Fatal("mid-flight failure should park the endpoint")
	}
}

func TestStreamFirstChunkTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer upstream.Close()

	scheduler := newFakeScheduler(testEndpoint(1, upstream.URL, domain.FormatOpenAI))
	svc, _, _, _ := newTestService(scheduler, Config{
		HeartbeatInterval: 10 * time.Millisecond,
		FirstChunkTimeout: 60 * time.Millisecond,
	})

	stream := forwardStream(t, svc, scheduler, "sonnet")

	var out sseWriter
	start := time.Now()
	err := stream.Pipe(context.Background(), &out)
	var interrupted *domain.StreamInterruptedError
	if !errors.As(err, &interrupted) {
		t.Fatalf("expected StreamInterruptedError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("timed out too early: %v", elapsed)
	}
	if !strings.Contains(out.String(), `"type":"upstream_error"`) {
		t.Fatal("timeout should surface an in-band error frame")
	}
}

func TestStreamNon2xxFailsOverBeforeAnyData(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer good.Close()

	scheduler := newFakeScheduler(
		testEndpoint(1, bad.URL, domain.FormatOpenAI),
		testEndpoint(2, good.URL, domain.FormatOpenAI),
	)
	svc, _, _, _ := newTestService(scheduler, Config{HeartbeatInterval: time.Minute})

	stream := forwardStream(t, svc, scheduler, "sonnet")

	var out sseWriter
	if err := stream.Pipe(context.Background(), &out); err != nil {
		t.Fatal(err)
	}

	// All frames must come from the healthy endpoint; the 503 endpoint
	// yielded nothing downstream.
	if !strings.Contains(out.String(), "data: [DONE]") {
		t.Fatalf("missing [DONE] from healthy endpoint:\n%q", out.String())
	}
	if _, failed := scheduler.failures[1]; !failed {
		t.Fatal("the 503 endpoint should carry a failure mark")
	}
}

func TestStreamClientDisconnect(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer upstream.Close()

	scheduler := newFakeScheduler(testEndpoint(1, upstream.URL, domain.FormatOpenAI))
	svc, _, _, _ := newTestService(scheduler, Config{
		HeartbeatInterval: time.Minute,
		FirstChunkTimeout: time.Minute,
	})

	stream := forwardStream(t, svc, scheduler, "sonnet")

	ctx, cancel := context.WithCancel(context.Background())
	var out sseWriter
	done := make(chan error, 1)
	go func() { done <- stream.Pipe(ctx, &out) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, failed := scheduler.failures[1]; !failed {
		t.Fatal("client disconnect should record a failure on the endpoint")
	}
}
