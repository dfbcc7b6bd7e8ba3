// Package contractinfo resolves metadata (name, verification status, ABI)
// for contract addresses, caching every answer.
package contractinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/guardian/internal/cache"
	"github.com/mbd888/guardian/internal/risk"
)

// DefaultEtherscanURL is the multichain Etherscan API endpoint.
const DefaultEtherscanURL = "https://api.etherscan.io/v2/api"

// notVerified is Etherscan's ABI placeholder for unverified contracts.
const notVerified = "Contract source code not verified"

// Sources recorded on metadata.
const (
	SourceBuiltin   = "builtin"
	SourceEtherscan = "etherscan"
	SourceChain     = "chain"
	SourceUnknown   = "unknown"
)

// CodeReader is the subset of *ethclient.Client used to detect contracts.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Config configures a Service.
type Config struct {
	EtherscanAPIKey string
	EtherscanURL    string
	CacheTTL        time.Duration
	CacheMaxEntries int
}

// Service looks up contract metadata from the cache, builtin table,
// Etherscan and the chain, in that order.
type Service struct {
	cfg    Config
	cache  *cache.Store[*risk.ContractMetadata]
	code   CodeReader
	client *http.Client
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCodeReader enables on-chain contract detection.
func WithCodeReader(r CodeReader) Option {
	return func(s *Service) { s.code = r }
}

// WithHTTPClient overrides the Etherscan HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service. Zero cache settings default to 1h and 500 entries.
func New(cfg Config, opts ...Option) *Service {
	if cfg.EtherscanURL == "" {
		cfg.EtherscanURL = DefaultEtherscanURL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 500
	}
	s := &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: slog.Default(),
	}
	s.cache = cache.New[*risk.ContractMetadata]("contract", cfg.CacheTTL, cfg.CacheMaxEntries)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(chainID int64, addr common.Address) string {
	return strconv.FormatInt(chainID, 10) + ":" + strings.ToLower(addr.Hex())
}

// Lookup returns metadata for addr. Unknown addresses produce "unknown,
// unverified" metadata; an error is returned only when every configured
// remote source failed.
func (s *Service) Lookup(ctx context.Context, chainID int64, addr common.Address) (*risk.ContractMetadata, error) {
	key := cacheKey(chainID, addr)
	if md, ok := s.cache.Get(key); ok {
		return md, nil
	}

	if md := builtin(chainID, addr); md != nil {
		s.cache.Put(key, md)
		return md, nil
	}

	md := &risk.ContractMetadata{Address: strings.ToLower(addr.Hex()), Source: SourceUnknown}
	var errs []error
	configured := 0

	if s.cfg.EtherscanAPIKey != "" {
		configured++
		if found, err := s.etherscan(ctx, chainID, addr); err != nil {
			s.logger.Warn("etherscan lookup failed", "address", addr.Hex(), "error", err)
			errs = append(errs, err)
		} else {
			md = found
		}
	}

	if s.code != nil {
		configured++
		code, err := s.code.CodeAt(ctx, addr, nil)
		if err != nil {
			s.logger.Warn("code lookup failed", "address", addr.Hex(), "error", err)
			errs = append(errs, fmt.Errorf("code at %s: %w", addr.Hex(), err))
		} else {
			md.IsContract = len(code) > 0
			if md.Source == SourceUnknown {
				md.Source = SourceChain
			}
		}
	}

	if configured > 0 && len(errs) == configured {
		return nil, errors.Join(errs...)
	}

	s.cache.Put(key, md)
	return md, nil
}

func builtin(chainID int64, addr common.Address) *risk.ContractMetadata {
	if chainID != 0 && chainID != 1 {
		return nil
	}
	known, ok := mainnet[addr]
	if !ok {
		return nil
	}
	return &risk.ContractMetadata{
		Address:    strings.ToLower(addr.Hex()),
		Name:       known.name,
		Verified:   true,
		IsContract: true,
		ABI:        known.abi,
		Source:     SourceBuiltin,
	}
}

type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type etherscanSource struct {
	ContractName string `json:"ContractName"`
	ABI          string `json:"ABI"`
}

func (s *Service) etherscan(ctx context.Context, chainID int64, addr common.Address) (*risk.ContractMetadata, error) {
	if chainID == 0 {
		chainID = 1
	}
	q := url.Values{}
	q.Set("chainid", strconv.FormatInt(chainID, 10))
	q.Set("module", "contract")
	q.Set("action", "getsourcecode")
	q.Set("address", addr.Hex())
	q.Set("apikey", s.cfg.EtherscanAPIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.EtherscanURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("etherscan: create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("etherscan: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("etherscan: status %d", resp.StatusCode)
	}

	var body etherscanResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("etherscan: decode: %w", err)
	}
	if body.Status != "1" {
		return nil, fmt.Errorf("etherscan: %s", body.Message)
	}

	var sources []etherscanSource
	if err := json.Unmarshal(body.Result, &sources); err != nil || len(sources) == 0 {
		return nil, errors.New("etherscan: unexpected result shape")
	}

	src := sources[0]
	md := &risk.ContractMetadata{
		Address: strings.ToLower(addr.Hex()),
		Name:    src.ContractName,
		Source:  SourceEtherscan,
	}
	if src.ABI != "" && src.ABI != notVerified {
		md.ABI = src.ABI
		md.Verified = true
		md.IsContract = true
	}
	return md, nil
}
