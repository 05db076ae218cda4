// Package discovery fetches the model catalogue an upstream provider
// advertises, backing the admin fetch-models operation.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/poolgate/poolgate/internal/core/constants"
	"github.com/poolgate/poolgate/internal/core/domain"
	"github.com/poolgate/poolgate/internal/core/ports"
)

const defaultTimeout = 30 * time.Second

type HTTPModelLister struct {
	client *http.Client
	logger *slog.Logger
}

var _ ports.ModelLister = (*HTTPModelLister)(nil)

func NewHTTPModelLister(logger *slog.Logger) *HTTPModelLister {
	return &HTTPModelLister{
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger.With("component", "model_discovery"),
	}
}

// ListModels fetches <base>/models. Authentication follows the declared
// format first; on a 401 or 403 the other scheme is tried once, since
// OpenAI-compatible gateways frequently sit in front of Anthropic keys
// and vice versa.
func (l *HTTPModelLister) ListModels(ctx context.Context, baseURL, apiKey string, format domain.APIFormat) ([]string, error) {
	url := strings.TrimRight(baseURL, "/") + "/models"

	models, status, err := l.fetch(ctx, url, apiKey, format)
	if err == nil {
		return models, nil
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		alt := domain.FormatAnthropic
		if format == domain.FormatAnthropic {
			alt = domain.FormatOpenAI
		}
		l.logger.Debug("retrying model discovery with alternate auth",
			"url", url, "status", status, "format", alt)
		if models, _, altErr := l.fetch(ctx, url, apiKey, alt); altErr == nil {
			return models, nil
		}
	}
	return nil, err
}

func (l *HTTPModelLister) fetch(ctx context.Context, url, apiKey string, format domain.APIFormat) ([]string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if format == domain.FormatAnthropic {
		req.Header.Set(constants.HeaderAnthropicKey, apiKey)
		req.Header.Set(constants.HeaderAnthropicVersion, constants.AnthropicVersion)
	} else {
		req.Header.Set(constants.HeaderAuthorization, "Bearer "+apiKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("model discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, domain.NewUpstreamStatusError(resp.StatusCode, body)
	}

	models, err := parseModelList(body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return models, resp.StatusCode, nil
}

// parseModelList tolerates the common catalogue shapes: {"data":[...]},
// {"models":[...]} and a bare array, with entries that are either objects
// carrying an id (or name) field or plain strings.
func parseModelList(body []byte) ([]string, error) {
	var envelope map[string]json.RawMessage
	var entries json.RawMessage
	if err := json.Unmarshal(body, &envelope); err == nil {
		if raw, ok := envelope["data"]; ok {
			entries = raw
		} else if raw, ok := envelope["models"]; ok {
			entries = raw
		}
	}
	if entries == nil {
		entries = body
	}

	var items []json.RawMessage
	if err := json.Unmarshal(entries, &items); err != nil {
		return nil, fmt.Errorf("unrecognised model list payload: %w", err)
	}

	var out []string
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		switch {
		case obj.ID != "":
			out = append(out, obj.ID)
		case obj.Name != "":
			out = append(out, obj.Name)
		}
	}
	return out, nil
}
