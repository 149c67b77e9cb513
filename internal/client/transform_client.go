package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/internal/metrics"
	"github.com/StergiosCha/perpatame/pkg/log"
)

var (
	ErrGatewayUnavailable  = errors.New("transformation gateway unavailable")
	ErrGatewayRejected     = errors.New("transformation gateway rejected the text")
	ErrEmptyTransformation = errors.New("transformation gateway returned no text")
)

// refusalMarkers appear in gateway output that declines to transform.
var refusalMarkers = []string{"δεν είναι κατάλληλο", "not appropriate for transformation"}

const maxGatewayBody = 1 << 20

// Transformer turns raw participant text into a display-ready story.
type Transformer interface {
	Transform(ctx context.Context, text, style string) (*domain.Transformation, error)
}

// HTTPTransformerConfig configures HTTPTransformer.
type HTTPTransformerConfig struct {
	URL             string
	APIKey          string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	BreakerFailures uint
	BreakerWindow   uint
	BreakerDelay    time.Duration
}

type gatewayReply struct {
	status int
	body   []byte
}

type transformRequest struct {
	Text  string `json:"text"`
	Style string `json:"style"`
}

type transformResponse struct {
	TransformedText string        `json:"transformed_text"`
	Theme           *domain.Theme `json:"theme,omitempty"`
	Comment         string        `json:"comment,omitempty"`
	Style           string        `json:"style,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// HTTPTransformer calls the transformation gateway over HTTP with a
// per-call timeout, retries on transient failures and a circuit breaker.
type HTTPTransformer struct {
	cfg      HTTPTransformerConfig
	http     *http.Client
	executor failsafe.Executor[*gatewayReply]
	breaker  circuitbreaker.CircuitBreaker[*gatewayReply]
}

// NewHTTPTransformer creates a gateway client.
func NewHTTPTransformer(cfg HTTPTransformerConfig) *HTTPTransformer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = cfg.RetryBackoff
	}
	if cfg.BreakerWindow == 0 {
		cfg.BreakerWindow = 10
	}
	if cfg.BreakerFailures == 0 || cfg.BreakerFailures > cfg.BreakerWindow {
		cfg.BreakerFailures = cfg.BreakerWindow / 2
		if cfg.BreakerFailures == 0 {
			cfg.BreakerFailures = 1
		}
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = 30 * time.Second
	}

	transient := func(r *gatewayReply, err error) bool {
		if err != nil {
			return !errors.Is(err, context.Canceled)
		}
		return r != nil && (r.status >= 500 || r.status == http.StatusTooManyRequests)
	}

	retry := retrypolicy.NewBuilder[*gatewayReply]().
		WithBackoff(cfg.RetryBackoff, cfg.MaxRetryBackoff).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(transient).
		Build()

	breaker := circuitbreaker.NewBuilder[*gatewayReply]().
		WithFailureThresholdRatio(cfg.BreakerFailures, cfg.BreakerWindow).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		HandleIf(transient).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			l := log.L()
			l.Warn().
				Str("gateway", "transform").
				Str("from", fmt.Sprint(e.OldState)).
				Str("to", fmt.Sprint(e.NewState)).
				Msg("circuit breaker state change")
		}).
		Build()

	return &HTTPTransformer{
		cfg:      cfg,
		http:     &http.Client{},
		executor: failsafe.With[*gatewayReply](retry, breaker),
		breaker:  breaker,
	}
}

// Transform sends text to the gateway. The whole call, retries
// included, is bounded by the configured timeout.
func (t *HTTPTransformer) Transform(ctx context.Context, text, style string) (*domain.Transformation, error) {
	l := log.Ctx(ctx)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(transformRequest{Text: text, Style: style})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	reply, err := t.executor.WithContext(ctx).Get(func() (*gatewayReply, error) {
		return t.post(ctx, body)
	})
	if err != nil {
		metrics.ObserveGateway("transform", "error", time.Since(start))
		l.Warn().Err(err).Msg("transformation gateway call failed")
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	metrics.ObserveGateway("transform", fmt.Sprint(reply.status), time.Since(start))

	var resp transformResponse
	if len(reply.body) > 0 {
		if err := json.Unmarshal(reply.body, &resp); err != nil && reply.status < 300 {
			return nil, fmt.Errorf("%w: undecodable response: %v", ErrGatewayUnavailable, err)
		}
	}

	if reply.status >= 400 {
		msg := resp.Error
		if msg == "" {
			msg = http.StatusText(reply.status)
		}
		return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, msg)
	}

	transformed := strings.TrimSpace(resp.TransformedText)
	if transformed == "" {
		return nil, ErrEmptyTransformation
	}
	lower := strings.ToLower(transformed)
	for _, marker := range refusalMarkers {
		if strings.Contains(lower, marker) {
			return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, transformed)
		}
	}

	out := &domain.Transformation{
		TransformedText: transformed,
		Theme:           resp.Theme,
		Comment:         strings.TrimSpace(resp.Comment),
		Style:           resp.Style,
	}
	if out.Theme == nil || len(out.Theme.Emojis) == 0 {
		out.Theme = ThemeFor(text)
	}
	if out.Style == "" {
		out.Style = style
	}
	return out, nil
}

func (t *HTTPTransformer) post(ctx context.Context, body []byte) (*gatewayReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(t.cfg.URL, "/")+"/v1/transform", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if err != nil {
		return nil, err
	}
	return &gatewayReply{status: resp.StatusCode, body: data}, nil
}

// Healthy reports whether the circuit breaker currently allows calls.
func (t *HTTPTransformer) Healthy() bool {
	return !t.breaker.IsOpen()
}
