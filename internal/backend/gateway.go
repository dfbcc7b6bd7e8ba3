// Package backend forwards transactions to the remote analysis service and
// folds its answer into the local verdict. Every failure degrades to the
// local result; nothing is retried.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mbd888/guardian/internal/chains"
	"github.com/mbd888/guardian/internal/circuitbreaker"
	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/risk"
)

const (
	// DefaultTimeout bounds one backend call.
	DefaultTimeout = 5 * time.Second

	maxResponseSize = 1 << 20 // 1MB
	breakerKey      = "analyze"
)

// Outcome labels for metrics.BackendRequestsTotal.
const (
	outcomeOK          = "ok"
	outcomeError       = "error"
	outcomeTimeout     = "timeout"
	outcomeBadStatus   = "bad_status"
	outcomeMalformed   = "malformed"
	outcomeCircuitOpen = "circuit_open"
)

var errBadStatus = errors.New("backend returned non-2xx status")

// Config configures the gateway.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	FailureThreshold int
	OpenDuration     time.Duration
}

// Gateway implements risk.Supplementer against POST {BaseURL}/api/analyze.
type Gateway struct {
	endpoint string
	client   *http.Client
	breaker  *circuitbreaker.Breaker
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the HTTP client. Its Timeout is overwritten by
// Config.Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithBreaker replaces the circuit breaker (tests).
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(g *Gateway) { g.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithClock overrides the time source used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// NewGateway creates a gateway. An empty BaseURL yields a gateway whose
// Supplement always returns nil.
func NewGateway(cfg Config, opts ...Option) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	g := &Gateway{
		client: &http.Client{},
		logger: slog.Default(),
		now:    time.Now,
	}
	if cfg.BaseURL != "" {
		g.endpoint = strings.TrimRight(cfg.BaseURL, "/") + "/api/analyze"
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client.Timeout = cfg.Timeout
	if g.breaker == nil {
		g.breaker = circuitbreaker.New(cfg.FailureThreshold, cfg.OpenDuration)
	}
	return g
}

// Enabled reports whether a backend URL is configured.
func (g *Gateway) Enabled() bool {
	return g.endpoint != ""
}

// BreakerState exposes the circuit state for health checks.
func (g *Gateway) BreakerState() circuitbreaker.State {
	return g.breaker.State(breakerKey)
}

type txData struct {
	To               string        `json:"to"`
	From             string        `json:"from,omitempty"`
	Value            string        `json:"value"`
	Data             string        `json:"data"`
	Gas              uint64        `json:"gas,omitempty"`
	GasPrice         string        `json:"gasPrice,omitempty"`
	Origin           string        `json:"origin,omitempty"`
	LocalRiskLevel   risk.Level    `json:"local_risk_level"`
	LocalRiskFactors []risk.Factor `json:"local_risk_factors"`
}

type analyzeRequest struct {
	TxData      txData `json:"tx_data"`
	Network     string `json:"network"`
	UserAddress string `json:"user_address,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

type analyzeResponse struct {
	Recommendations []string `json:"recommendations"`
	Verification    *struct {
		Verified     bool   `json:"verified"`
		Source       string `json:"source"`
		ContractName string `json:"contract_name"`
	} `json:"verification"`
}

// Supplement asks the backend about tx. It never returns an error: any
// failure yields a degraded Supplement carrying risk.BackendUnavailable.
func (g *Gateway) Supplement(ctx context.Context, tx *risk.TransactionRequest, local *risk.Verdict) *risk.Supplement {
	if !g.Enabled() {
		return nil
	}

	if !g.breaker.Allow(breakerKey) {
		metrics.BackendRequestsTotal.WithLabelValues(outcomeCircuitOpen).Inc()
		g.logger.Warn("backend skipped, circuit open")
		return degraded()
	}

	resp, err := g.post(ctx, g.buildRequest(tx, local))
	if err != nil {
		g.breaker.RecordFailure(breakerKey)
		metrics.BackendRequestsTotal.WithLabelValues(classify(err)).Inc()
		g.logger.Warn("backend analysis failed", "error", err)
		return degraded()
	}
	g.breaker.RecordSuccess(breakerKey)
	metrics.BackendRequestsTotal.WithLabelValues(outcomeOK).Inc()

	s := &risk.Supplement{Recommendations: resp.Recommendations}
	if v := resp.Verification; v != nil {
		s.Verification = &risk.BackendVerification{
			Verified:     v.Verified,
			Source:       v.Source,
			ContractName: v.ContractName,
		}
	}
	return s
}

func (g *Gateway) buildRequest(tx *risk.TransactionRequest, local *risk.Verdict) analyzeRequest {
	td := txData{
		From:     tx.From,
		Value:    tx.ValueWei().String(),
		Data:     hexutil.Encode(tx.Data),
		Gas:      tx.GasLimit,
		Origin:   tx.Origin,
		GasPrice: tx.GasPriceWei().String(),
	}
	if tx.To != nil {
		td.To = strings.ToLower(tx.To.Hex())
	}
	if local != nil {
		td.LocalRiskLevel = local.RiskLevel
		td.LocalRiskFactors = local.RiskFactors
	}
	return analyzeRequest{
		TxData:      td,
		Network:     chains.Name(tx.ChainID),
		UserAddress: tx.From,
		Timestamp:   g.now().Unix(),
	}
}

type malformedError struct{ err error }

func (e *malformedError) Error() string { return "malformed backend response: " + e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

func (g *Gateway) post(ctx context.Context, payload analyzeRequest) (*analyzeResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("%w: %d", errBadStatus, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(raw) > maxResponseSize {
		return nil, &malformedError{errors.New("response exceeds 1MB")}
	}

	var out analyzeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &malformedError{err}
	}
	return &out, nil
}

func classify(err error) string {
	var me *malformedError
	var netErr interface{ Timeout() bool }
	switch {
	case errors.As(err, &me):
		return outcomeMalformed
	case errors.Is(err, errBadStatus):
		return outcomeBadStatus
	case errors.Is(err, context.DeadlineExceeded):
		return outcomeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return outcomeTimeout
	default:
		return outcomeError
	}
}

func degraded() *risk.Supplement {
	return &risk.Supplement{
		Recommendations: []string{risk.BackendUnavailable},
		Degraded:        true,
	}
}
