package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/units"
)

// ChainReader is the subset of *ethclient.Client the advisor needs.
type ChainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// DefaultAdvisorTTL bounds how long a fee suggestion is reused.
const DefaultAdvisorTTL = 15 * time.Second

// Advisor suggests EIP-1559 fees from the latest block.
type Advisor struct {
	chain ChainReader
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	cached    *risk.FeeSuggestion
	fetchedAt time.Time
}

// NewAdvisor creates an advisor. A zero ttl uses DefaultAdvisorTTL.
func NewAdvisor(chain ChainReader, ttl time.Duration) *Advisor {
	if ttl <= 0 {
		ttl = DefaultAdvisorTTL
	}
	return &Advisor{chain: chain, ttl: ttl, now: time.Now}
}

// Suggest returns maxFee = 2×baseFee + tip and maxPriorityFee = tip. Chains
// without a base fee get the legacy gas price for both the tip and max fee.
func (a *Advisor) Suggest(ctx context.Context) (*risk.FeeSuggestion, error) {
	a.mu.Lock()
	if a.cached != nil && a.now().Sub(a.fetchedAt) < a.ttl {
		s := a.cached
		a.mu.Unlock()
		return s, nil
	}
	a.mu.Unlock()

	s, err := a.fetch(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cached = s
	a.fetchedAt = a.now()
	a.mu.Unlock()
	return s, nil
}

func (a *Advisor) fetch(ctx context.Context) (*risk.FeeSuggestion, error) {
	if a.chain == nil {
		return nil, errors.New("gas: no chain reader configured")
	}
	head, err := a.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("gas: latest header: %w", err)
	}

	if head.BaseFee == nil {
		price, err := a.chain.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas: suggest gas price: %w", err)
		}
		return suggestion(new(big.Int), price, price), nil
	}

	tip, err := a.chain.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas: suggest tip: %w", err)
	}
	maxFee := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	return suggestion(head.BaseFee, tip, maxFee), nil
}

func suggestion(baseFee, tip, maxFee *big.Int) *risk.FeeSuggestion {
	return &risk.FeeSuggestion{
		BaseFeeGwei:        units.FormatGwei(baseFee),
		MaxPriorityFeeGwei: units.FormatGwei(tip),
		MaxFeeGwei:         units.FormatGwei(maxFee),
		MaxFee:             new(big.Int).Set(maxFee),
	}
}
