// Package proxy implements the forwarder: the component that turns one
// logical client request into select → attempt cycles across a pool,
// with per-endpoint retries, exponential backoff, streaming pass-through
// and per-attempt accounting.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/poolgate/poolgate/internal/core/constants"
	"github.com/poolgate/poolgate/internal/core/domain"
	"github.com/poolgate/poolgate/internal/core/ports"
)

// Scheduler is the slice of the pool manager the forwarder drives.
type Scheduler interface {
	SelectEndpoint(ctx context.Context, pool domain.PoolType, exclude map[int64]struct{}) (*domain.SelectedEndpoint, error)
	MarkSuccess(ctx context.Context, endpointID int64, latencyMs int64)
	MarkFailure(ctx context.Context, endpointID int64, reason string)
	Park(ctx context.Context, pool domain.PoolType, endpointID int64, reason string)
}

// Config tunes the streaming liveness behaviour. Zero values fall back to
// the fixed defaults in constants.
type Config struct {
	HeartbeatInterval time.Duration
	FirstChunkTimeout time.Duration
}

func (c Config) heartbeat() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return constants.HeartbeatInterval
}

func (c Config) firstChunk() time.Duration {
	if c.FirstChunkTimeout > 0 {
		return c.FirstChunkTimeout
	}
	return constants.FirstChunkTimeout
}

// ForwardRequest is one logical client request.
type ForwardRequest struct {
	Pool           domain.PoolType
	RequestedModel string
	Body           map[string]any
	Stream         bool
}

// Result carries exactly one of a decoded response object or a stream
// handle, mirroring the forward contract.
type Result struct {
	Response map[string]any
	Stream   *StreamResult
}

// Service orchestrates forwarding. One instance serves all concurrent
// requests; per-request state lives on the stack.
type Service struct {
	scheduler Scheduler
	sink      ports.TelemetrySink
	stats     ports.StatsCollector
	logger    *slog.Logger
	client    *http.Client
	cfg       Config

	// sleep is the backoff hook, injectable so retry tests do not wait
	// out real backoff schedules.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(scheduler Scheduler, sink ports.TelemetrySink, stats ports.StatsCollector, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		scheduler: scheduler,
		sink:      sink,
		stats:     stats,
		cfg:       cfg,
		logger:    logger.With("component", "forwarder"),
		client: &http.Client{
			// Serves non-streaming attempts only; streams build their own
			// client so no fixed budget caps them once data flows.
			Timeout: constants.ClientHoldTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		sleep: sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay is min(1.5^retry, 30s); the first attempt never waits.
func backoffDelay(retry int) time.Duration {
	d := time.Duration(math.Pow(constants.BackoffBase, float64(retry)) * float64(time.Second))
	if d > constants.BackoffCap {
		return constants.BackoffCap
	}
	return d
}

// Forward runs the full select → attempt → failover loop for one logical
// request. It returns a Result on success; a terminal upstream error or
// exhaustion of the retry budget surfaces as an error. Terminal 4xx are
// returned verbatim and never masked by failover.
func (s *Service) Forward(ctx context.Context, req ForwardRequest) (*Result, error) {
	tried := make(map[int64]struct{})
	var lastErr error

	for attempt := 0; attempt < constants.MaxEndpointAttempts; attempt++ {
		endpoint, err := s.scheduler.SelectEndpoint(ctx, req.Pool, tried)
		if err != nil {
			var ne *domain.NoEndpointError
			if errors.As(err, &ne) {
				if lastErr == nil {
					lastErr = err
				}
				break
			}
			return nil, err
		}

		s.logger.Info("forwarding request",
			"pool", req.Pool,
			"endpoint_id", endpoint.EndpointID,
			"provider", endpoint.ProviderName,
			"model", endpoint.ModelID,
			"attempt", attempt+1,
			"stream", req.Stream)

		result, err := s.tryEndpoint(ctx, req, endpoint)
		if err == nil {
			return result, nil
		}

		lastErr = err
		tried[endpoint.EndpointID] = struct{}{}

		if domain.IsTerminal(err) {
			// Client errors pass through untouched; trying another
			// endpoint would only mask them.
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if lastErr == nil {
		lastErr = &domain.NoEndpointError{Pool: req.Pool}
	}
	return nil, fmt.Errorf("all endpoints failed: %w", lastErr)
}

// tryEndpoint runs the inner retry loop on one chosen endpoint. Exactly
// one terminal outcome is accounted per endpoint: either the success of
// an attempt, or the final failure after classification says stop.
func (s *Service) tryEndpoint(ctx context.Context, req ForwardRequest, endpoint *domain.SelectedEndpoint) (*Result, error) {
	var lastErr error
	var attemptStart time.Time

	for retry := 0; retry < constants.EndpointRetries; retry++ {
		if retry > 0 {
			delay := backoffDelay(retry)
			s.logger.Debug("retrying endpoint",
				"endpoint_id", endpoint.EndpointID, "retry", retry, "backoff", delay)
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		attemptStart = time.Now()
		result, err := s.attempt(ctx, req, endpoint)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if domain.IsTerminal(err) || !domain.IsRetryable(err) {
			// Terminal status or unknown failure: no further attempts on
			// this endpoint.
			break
		}
	}

	latency := time.Since(attemptStart).Milliseconds()
	s.finishFailure(ctx, req, endpoint, lastErr, latency)
	return nil, lastErr
}

// finishFailure records the terminal per-endpoint outcome: counters, last
// error, cooldown, and one request-log record.
func (s *Service) finishFailure(ctx context.Context, req ForwardRequest, endpoint *domain.SelectedEndpoint, cause error, latencyMs int64) {
	reason := cause.Error()
	statusCode := 0
	var se *domain.UpstreamStatusError
	if errors.As(cause, &se) {
		statusCode = se.StatusCode
	}

	s.scheduler.MarkFailure(ctx, endpoint.EndpointID, reason)
	s.scheduler.Park(ctx, req.Pool, endpoint.EndpointID, reason)
	s.stats.RecordRequest(endpoint.EndpointID, false, latencyMs, statusCode)
	s.sink.Record(domain.RequestLog{
		Pool:           req.Pool,
		RequestedModel: req.RequestedModel,
		ActualModel:    endpoint.ModelID,
		ProviderName:   endpoint.ProviderName,
		Success:        false,
		StatusCode:     statusCode,
		ErrorMessage:   reason,
		LatencyMs:      latencyMs,
		CreatedAt:      time.Now().UTC(),
	})

	s.logger.Error("endpoint attempt failed",
		"pool", req.Pool,
		"endpoint_id", endpoint.EndpointID,
		"provider", endpoint.ProviderName,
		"status", statusCode,
		"error", reason)
}

// attempt executes a single upstream exchange.
func (s *Service) attempt(ctx context.Context, req ForwardRequest, endpoint *domain.SelectedEndpoint) (*Result, error) {
	payload := cloneBody(req.Body)
	payload["model"] = endpoint.ModelID
	if req.Stream {
		payload["stream"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	if req.Stream {
		return s.attemptStream(ctx, req, endpoint, body)
	}
	return s.attemptNormal(ctx, req, endpoint, body)
}

func attemptTimeout(endpoint *domain.SelectedEndpoint) time.Duration {
	if endpoint.TimeoutSeconds > 0 {
		return time.Duration(endpoint.TimeoutSeconds) * time.Second
	}
	return constants.DefaultAttemptTimeout
}

func (s *Service) buildRequest(ctx context.Context, endpoint *domain.SelectedEndpoint, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	httpReq.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	switch endpoint.Format {
	case domain.FormatAnthropic:
		httpReq.Header.Set(constants.HeaderAnthropicKey, endpoint.APIKey)
		httpReq.Header.Set(constants.HeaderAnthropicVersion, constants.AnthropicVersion)
	default:
		httpReq.Header.Set(constants.HeaderAuthorization, "Bearer "+endpoint.APIKey)
	}
	return httpReq, nil
}

// attemptNormal is the non-streaming path: one POST, full body, decoded
// object with the virtual model name restored.
func (s *Service) attemptNormal(ctx context.Context, req ForwardRequest, endpoint *domain.SelectedEndpoint, body []byte) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout(endpoint))
	defer cancel()

	start := time.Now()

	httpReq, err := s.buildRequest(attemptCtx, endpoint, body)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.TransportError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewUpstreamStatusError(resp.StatusCode, respBody)
	}

	var decoded map[string]any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}

	rewriteModelValue(decoded, req.RequestedModel)
	usage := domain.ExtractUsage(decoded)
	latency := time.Since(start).Milliseconds()

	s.scheduler.MarkSuccess(ctx, endpoint.EndpointID, latency)
	s.stats.RecordRequest(endpoint.EndpointID, true, latency, resp.StatusCode)
	s.sink.Record(domain.RequestLog{
		Pool:           req.Pool,
		RequestedModel: req.RequestedModel,
		ActualModel:    endpoint.ModelID,
		ProviderName:   endpoint.ProviderName,
		Success:        true,
		StatusCode:     resp.StatusCode,
		LatencyMs:      latency,
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		CreatedAt:      time.Now().UTC(),
	})

	return &Result{Response: decoded}, nil
}

// attemptStream opens the upstream connection and validates the response
// status. A non-2xx is drained and raised here, before anything has gone
// downstream, so the outer loop can still fail over. On 2xx the live
// response is handed to a StreamResult; from then on failures are
// mid-flight and terminate in-band.
func (s *Service) attemptStream(ctx context.Context, req ForwardRequest, endpoint *domain.SelectedEndpoint, body []byte) (*Result, error) {
	start := time.Now()

	httpReq, err := s.buildRequest(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", constants.ContentTypeSSE)

	// Bound the wait for response headers without capping the stream's
	// lifetime: a short-lived transport per streaming attempt.
	transport := &http.Transport{
		ResponseHeaderTimeout: attemptTimeout(endpoint),
	}
	client := &http.Client{Transport: transport}

	resp, err := client.Do(httpReq)
	if err != nil {
		transport.CloseIdleConnections()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.TransportError{Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		transport.CloseIdleConnections()
		return nil, domain.NewUpstreamStatusError(resp.StatusCode, errBody)
	}

	stream := &StreamResult{
		resp:      resp,
		closeIdle: transport.CloseIdleConnections,
		endpoint:  endpoint,
		req:       req,
		scheduler: s.scheduler,
		sink:      s.sink,
		stats:     s.stats,
		logger:    s.logger,
		heartbeat: s.cfg.heartbeat(),
		firstByte: s.cfg.firstChunk(),
		start:     start,
	}
	return &Result{Stream: stream}, nil
}
