// Package simulation dry-runs transactions against the Tenderly simulation API.
package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mbd888/guardian/internal/retry"
	"github.com/mbd888/guardian/internal/risk"
)

// DefaultAPIURL is Tenderly's public API root.
const DefaultAPIURL = "https://api.tenderly.co/api/v1"

const (
	defaultGas  = 3000000
	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// ErrNotConfigured is returned when credentials or slugs are missing.
var ErrNotConfigured = errors.New("tenderly: not configured")

// Config holds Tenderly credentials.
type Config struct {
	AccessKey      string
	AccountSlug    string
	ProjectSlug    string
	APIURL         string
	DefaultChainID int64
	Timeout        time.Duration
}

// Configured reports whether all credentials are present.
func (c Config) Configured() bool {
	return c.AccessKey != "" && c.AccountSlug != "" && c.ProjectSlug != ""
}

// TenderlyClient implements risk.Simulator.
type TenderlyClient struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewTenderlyClient creates a client.
func NewTenderlyClient(cfg Config, logger *slog.Logger) *TenderlyClient {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.DefaultChainID == 0 {
		cfg.DefaultChainID = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TenderlyClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type simulateRequest struct {
	NetworkID      string `json:"network_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Input          string `json:"input"`
	Gas            uint64 `json:"gas"`
	GasPrice       string `json:"gas_price"`
	Value          string `json:"value"`
	Save           bool   `json:"save"`
	SaveIfFails    bool   `json:"save_if_fails"`
	SimulationType string `json:"simulation_type"`
}

type simulateResponse struct {
	Transaction struct {
		Status       json.RawMessage `json:"status"`
		GasUsed      uint64          `json:"gas_used"`
		ErrorMessage string          `json:"error_message"`
	} `json:"transaction"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Simulate runs a quick, unsaved simulation. Transport errors and 5xx
// responses are retried; 4xx responses are not.
func (c *TenderlyClient) Simulate(ctx context.Context, tx *risk.TransactionRequest) (*risk.SimulationInfo, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}
	if tx.To == nil {
		return nil, errors.New("tenderly: transaction has no recipient")
	}

	chainID := tx.ChainID
	if chainID == 0 {
		chainID = c.cfg.DefaultChainID
	}
	from := tx.From
	if from == "" {
		from = zeroAddress
	}
	gas := tx.GasLimit
	if gas == 0 {
		gas = defaultGas
	}

	body, err := json.Marshal(simulateRequest{
		NetworkID:      strconv.FormatInt(chainID, 10),
		From:           from,
		To:             strings.ToLower(tx.To.Hex()),
		Input:          hexutil.Encode(tx.Data),
		Gas:            gas,
		GasPrice:       tx.GasPriceWei().String(),
		Value:          tx.ValueWei().String(),
		SimulationType: "quick",
	})
	if err != nil {
		return nil, fmt.Errorf("tenderly: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/account/%s/project/%s/simulate",
		strings.TrimRight(c.cfg.APIURL, "/"), c.cfg.AccountSlug, c.cfg.ProjectSlug)

	var result *risk.SimulationInfo
	policy := retry.Policy{
		Attempts:  3,
		BaseDelay: 200 * time.Millisecond,
		MaxDelay:  time.Second,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			c.logger.Debug("tenderly attempt failed", "attempt", attempt, "error", err, "retry_in", wait)
		},
	}
	err = policy.Do(ctx, func(ctx context.Context) error {
		res, err := c.post(ctx, endpoint, body)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *TenderlyClient) post(ctx context.Context, endpoint string, body []byte) (*risk.SimulationInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("tenderly: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Key", c.cfg.AccessKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tenderly: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, retry.Permanent(fmt.Errorf("tenderly: status %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("tenderly: status %d", resp.StatusCode)
	}

	var out simulateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&out); err != nil {
		return nil, retry.Permanent(fmt.Errorf("tenderly: decode response: %w", err))
	}

	info := &risk.SimulationInfo{
		Success: truthy(out.Transaction.Status),
		GasUsed: out.Transaction.GasUsed,
		Error:   out.Transaction.ErrorMessage,
		Source:  "tenderly",
	}
	if info.Error == "" && out.Error != nil {
		info.Error = out.Error.Message
	}
	return info, nil
}

// truthy treats a JSON true or a non-zero number as success.
func truthy(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	switch s {
	case "", "null", "false", "0":
		return false
	case "true":
		return true
	}
	n, err := strconv.ParseFloat(s, 64)
	return err == nil && n != 0
}
