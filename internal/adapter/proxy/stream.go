package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/poolgate/poolgate/internal/core/constants"
	"github.com/poolgate/poolgate/internal/core/domain"
	"github.com/poolgate/poolgate/internal/core/ports"
	"github.com/poolgate/poolgate/pkg/pool"
)

var dataPrefix = []byte("data: ")

// readerPool recycles the buffered readers fronting upstream stream
// bodies; one is borrowed per stream and returned when the reader
// goroutine exits.
var readerPool = newReaderPool()

func newReaderPool() *pool.Pool[*bufio.Reader] {
	p, err := pool.New(func() *bufio.Reader {
		return bufio.NewReaderSize(nil, 32<<10)
	})
	if err != nil {
		panic(err)
	}
	return p
}

// StreamResult is a live upstream SSE response ready to be piped
// downstream. Pipe owns the upstream body and releases it on every exit
// path; it is the single writer to the downstream connection, so
// heartbeats never race with data frames.
type StreamResult struct {
	resp      *http.Response
	closeIdle func()
	endpoint  *domain.SelectedEndpoint
	req       ForwardRequest
	scheduler Scheduler
	sink      ports.TelemetrySink
	stats     ports.StatsCollector
	logger    *slog.Logger
	heartbeat time.Duration
	firstByte time.Duration
	start     time.Time
}

type readEvent struct {
	line []byte
	err  error
}

// Pipe copies the upstream stream to w line by line, rewriting the model
// field in data frames to the requested virtual name and inserting
// heartbeat comments whenever the upstream goes quiet. ctx is the
// downstream client's context: when the client goes away the upstream
// connection is torn down and the endpoint is marked failed.
//
// Once any byte has been written downstream the request is past the point
// of failover; later failures emit one in-band error event and close the
// stream cleanly.
func (sr *StreamResult) Pipe(ctx context.Context, w io.Writer) error {
	defer sr.resp.Body.Close()
	if sr.closeIdle != nil {
		defer sr.closeIdle()
	}

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	// done releases the reader goroutine on any exit path; a blocked
	// channel send would otherwise pin it after Pipe returns.
	done := make(chan struct{})
	defer close(done)

	events := make(chan readEvent, 16)
	go func() {
		reader := readerPool.Get()
		reader.Reset(sr.resp.Body)
		defer func() {
			reader.Reset(nil)
			readerPool.Put(reader)
		}()
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				select {
				case events <- readEvent{line: line}:
				case <-done:
					return
				}
			}
			if err != nil {
				select {
				case events <- readEvent{err: err}:
				case <-done:
				}
				return
			}
		}
	}()

	heartbeat := time.NewTicker(sr.heartbeat)
	defer heartbeat.Stop()
	firstByte := time.NewTimer(sr.firstByte)
	defer firstByte.Stop()

	var wrote bool
	var bytesOut int64
	var usage domain.Usage

	writeOut := func(frame []byte) error {
		n, err := w.Write(frame)
		bytesOut += int64(n)
		if err == nil {
			flush()
		}
		return err
	}

	for {
		select {
		case ev := <-events:
			if ev.err != nil {
				if errors.Is(ev.err, io.EOF) {
					sr.finishSuccess(bytesOut, usage)
					return nil
				}
				return sr.abort(w, writeOut, wrote, bytesOut, ev.err)
			}

			firstByte.Stop()
			out := sr.rewriteLine(ev.line, &usage)
			if err := writeOut(out); err != nil {
				return sr.clientGone(bytesOut, err)
			}
			wrote = true
			heartbeat.Reset(sr.heartbeat)

		case <-heartbeat.C:
			if err := writeOut([]byte(constants.HeartbeatFrame)); err != nil {
				return sr.clientGone(bytesOut, err)
			}

		case <-firstByte.C:
			if !wrote {
				err := errors.New("upstream produced no data before the first-chunk deadline")
				return sr.abort(w, writeOut, wrote, bytesOut, err)
			}

		case <-ctx.Done():
			return sr.clientGone(bytesOut, ctx.Err())
		}
	}
}

// rewriteLine maps one upstream SSE line to its downstream form. Only
// "data: " lines with a JSON payload are touched; [DONE], blank lines,
// event: lines, comments, and unparseable payloads pass unchanged.
func (sr *StreamResult) rewriteLine(line []byte, usage *domain.Usage) []byte {
	if !bytes.HasPrefix(line, dataPrefix) {
		return line
	}

	payload := bytes.TrimRight(line[len(dataPrefix):], "\r\n")
	if bytes.Equal(payload, []byte(constants.DoneFrame)) {
		return line
	}

	usage.Merge(usageFromPayload(payload))

	rewritten := rewriteDataPayload(payload, sr.req.RequestedModel)
	if bytes.Equal(rewritten, payload) {
		return line
	}

	out := make([]byte, 0, len(dataPrefix)+len(rewritten)+1)
	out = append(out, dataPrefix...)
	out = append(out, rewritten...)
	out = append(out, '\n')
	return out
}

// finishSuccess accounts a completed stream. Persistence here runs on a
// fresh context: the request-scoped one may already be done by the time
// the stream terminates.
func (sr *StreamResult) finishSuccess(bytesOut int64, usage domain.Usage) {
	latency := time.Since(sr.start).Milliseconds()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sr.scheduler.MarkSuccess(ctx, sr.endpoint.EndpointID, latency)
	sr.stats.RecordRequest(sr.endpoint.EndpointID, true, latency, http.StatusOK)
	sr.stats.RecordStreamBytes(sr.endpoint.EndpointID, bytesOut)
	sr.sink.Record(domain.RequestLog{
		Pool:           sr.req.Pool,
		RequestedModel: sr.req.RequestedModel,
		ActualModel:    sr.endpoint.ModelID,
		ProviderName:   sr.endpoint.ProviderName,
		Success:        true,
		StatusCode:     http.StatusOK,
		LatencyMs:      latency,
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		CreatedAt:      time.Now().UTC(),
	})

	sr.logger.Debug("stream completed",
		"endpoint_id", sr.endpoint.EndpointID,
		"bytes", bytesOut,
		"latency_ms", latency)
}

// abort terminates the stream after an upstream failure. When data has
// already gone downstream the failure is reported in-band as a final
// data: error event; either way the endpoint is marked failed and parked.
func (sr *StreamResult) abort(w io.Writer, writeOut func([]byte) error, wrote bool, bytesOut int64, cause error) error {
	interrupted := &domain.StreamInterruptedError{Cause: cause}

	if writeErr := writeOut(errorFrame(cause.Error())); writeErr != nil {
		sr.logger.Debug("could not deliver stream error frame", "error", writeErr)
	}

	sr.failEndpoint(bytesOut, interrupted.Error())
	sr.logger.Error("stream aborted",
		"endpoint_id", sr.endpoint.EndpointID,
		"bytes_forwarded", bytesOut,
		"had_output", wrote,
		"error", cause)
	return interrupted
}

// clientGone handles the downstream client disconnecting mid-stream.
func (sr *StreamResult) clientGone(bytesOut int64, cause error) error {
	sr.failEndpoint(bytesOut, "client disconnected during streaming")
	sr.logger.Info("client disconnected during streaming",
		"endpoint_id", sr.endpoint.EndpointID,
		"bytes_forwarded", bytesOut,
		"error", cause)
	return cause
}

func (sr *StreamResult) failEndpoint(bytesOut int64, reason string) {
	latency := time.Since(sr.start).Milliseconds()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sr.scheduler.MarkFailure(ctx, sr.endpoint.EndpointID, reason)
	sr.scheduler.Park(ctx, sr.req.Pool, sr.endpoint.EndpointID, reason)
	sr.stats.RecordRequest(sr.endpoint.EndpointID, false, latency, 0)
	sr.stats.RecordStreamBytes(sr.endpoint.EndpointID, bytesOut)
	sr.sink.Record(domain.RequestLog{
		Pool:           sr.req.Pool,
		RequestedModel: sr.req.RequestedModel,
		ActualModel:    sr.endpoint.ModelID,
		ProviderName:   sr.endpoint.ProviderName,
		Success:        false,
		ErrorMessage:   reason,
		LatencyMs:      latency,
		CreatedAt:      time.Now().UTC(),
	})
}
