package risk

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/guardian/internal/units"
)

// Analyzer is one independent check run during transaction analysis.
type Analyzer interface {
	Name() string
	Applies(tx *TransactionRequest) bool
	Analyze(ctx context.Context, tx *TransactionRequest) (*Partial, error)
}

// ContractSource looks up metadata for a contract address.
type ContractSource interface {
	Lookup(ctx context.Context, chainID int64, addr common.Address) (*ContractMetadata, error)
}

// FeeAdvisor suggests EIP-1559 fees from current network conditions.
type FeeAdvisor interface {
	Suggest(ctx context.Context) (*FeeSuggestion, error)
}

// PriceSource returns the current ETH price in USD.
type PriceSource interface {
	ETHPrice(ctx context.Context) float64
}

// Simulator dry-runs a transaction.
type Simulator interface {
	Simulate(ctx context.Context, tx *TransactionRequest) (*SimulationInfo, error)
}

// Supplementer adds remote verification to a local verdict. It must not
// fail; unavailability is reported through Supplement.Degraded.
type Supplementer interface {
	Supplement(ctx context.Context, tx *TransactionRequest, local *Verdict) *Supplement
}

// Analyzer names, also used as metric labels.
const (
	AnalyzerAddress    = "address"
	AnalyzerValue      = "value"
	AnalyzerContract   = "contract"
	AnalyzerSelector   = "selector"
	AnalyzerGas        = "gas"
	AnalyzerSimulation = "simulation"
)

// --- value ---

type valueAnalyzer struct {
	high, medium float64
}

func (a *valueAnalyzer) Name() string { return AnalyzerValue }
func (a *valueAnalyzer) Applies(*TransactionRequest) bool { return true }

func (a *valueAnalyzer) Analyze(_ context.Context, tx *TransactionRequest) (*Partial, error) {
	ether := units.ToEther(tx.ValueWei())
	switch {
	case ether > a.high:
		return &Partial{Level: LevelHigh, Factors: []Factor{FactorVeryHighValue}}, nil
	case ether > a.medium:
		return &Partial{Level: LevelMedium, Factors: []Factor{FactorHighValue}}, nil
	default:
		return &Partial{Level: LevelLow}, nil
	}
}

// --- address ---

var maxAddress = common.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff")

type addressAnalyzer struct {
	denylist map[common.Address]struct{}
}

func newAddressAnalyzer(denylist []string) *addressAnalyzer {
	a := &addressAnalyzer{denylist: make(map[common.Address]struct{}, len(denylist))}
	for _, s := range denylist {
		s = strings.TrimSpace(s)
		if common.IsHexAddress(s) {
			a.denylist[common.HexToAddress(s)] = struct{}{}
		}
	}
	return a
}

func (a *addressAnalyzer) Name() string { return AnalyzerAddress }
func (a *addressAnalyzer) Applies(*TransactionRequest) bool { return true }

func (a *addressAnalyzer) Analyze(_ context.Context, tx *TransactionRequest) (*Partial, error) {
	if a.suspicious(*tx.To) {
		return &Partial{Level: LevelCritical, Factors: []Factor{FactorSuspiciousAddress}}, nil
	}
	return &Partial{Level: LevelLow}, nil
}

func (a *addressAnalyzer) suspicious(addr common.Address) bool {
	if addr == (common.Address{}) || addr == maxAddress {
		return true
	}
	_, denied := a.denylist[addr]
	return denied
}

// --- contract interaction ---

type contractAnalyzer struct {
	source ContractSource
}

func (a *contractAnalyzer) Name() string { return AnalyzerContract }
func (a *contractAnalyzer) Applies(tx *TransactionRequest) bool { return tx.HasData() }

func (a *contractAnalyzer) Analyze(ctx context.Context, tx *TransactionRequest) (*Partial, error) {
	p := &Partial{Level: LevelMedium, Factors: []Factor{FactorContractInteraction}}
	if a.source == nil {
		return p, nil
	}
	// Metadata is optional; a failed lookup still reports the interaction.
	md, err := a.source.Lookup(ctx, tx.ChainID, *tx.To)
	if err == nil && md != nil {
		p.Contract = &ContractInfo{
			Address:    lowerHex(tx),
			Name:       md.Name,
			Verified:   md.Verified,
			IsContract: md.IsContract,
			Source:     md.Source,
		}
	}
	return p, nil
}

// --- gas ---

const (
	transferGasLimit = 21000
	contractGasLimit = 200000
)

type gasAnalyzer struct {
	threshold *big.Int
	advisor   FeeAdvisor
	optimize  func() bool
	prices    PriceSource
}

func (a *gasAnalyzer) Name() string { return AnalyzerGas }
func (a *gasAnalyzer) Applies(*TransactionRequest) bool { return true }

func (a *gasAnalyzer) Analyze(ctx context.Context, tx *TransactionRequest) (*Partial, error) {
	limit := tx.GasLimit
	if limit == 0 {
		limit = transferGasLimit
		if tx.HasData() {
			limit = contractGasLimit
		}
	}
	price := tx.GasPriceWei()
	cost := new(big.Int).Mul(new(big.Int).SetUint64(limit), price)

	info := &GasInfo{
		GasLimit:         limit,
		GasPriceGwei:     units.FormatGwei(price),
		EstimatedCostWei: cost.String(),
		EstimatedCostEth: units.FormatEther(cost),
	}
	p := &Partial{Level: LevelLow, Gas: info}

	if a.threshold != nil && price.Cmp(a.threshold) > 0 {
		info.HighGasPrice = true
		p.Factors = append(p.Factors, FactorHighGasPrice)
	}

	if a.prices != nil && cost.Sign() > 0 {
		usd := units.ToEther(cost) * a.prices.ETHPrice(ctx)
		info.EstimatedCostUSD = math.Round(usd*100) / 100
	}

	if a.advisor != nil && (a.optimize == nil || a.optimize()) {
		// Suggestions are advisory; an unavailable node just omits them.
		if s, err := a.advisor.Suggest(ctx); err == nil && s != nil {
			info.Suggestion = s
			if s.MaxFee != nil && s.MaxFee.Cmp(price) < 0 {
				saved := new(big.Int).Sub(price, s.MaxFee)
				saved.Mul(saved, new(big.Int).SetUint64(limit))
				info.PotentialSavingsEth = units.FormatEther(saved)
			}
		}
	}
	return p, nil
}

// --- simulation ---

type simulationAnalyzer struct {
	sim Simulator
}

func (a *simulationAnalyzer) Name() string { return AnalyzerSimulation }
func (a *simulationAnalyzer) Applies(tx *TransactionRequest) bool { return tx.HasData() }

func (a *simulationAnalyzer) Analyze(ctx context.Context, tx *TransactionRequest) (*Partial, error) {
	res, err := a.sim.Simulate(ctx, tx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("simulator returned no result")
	}
	if !res.Success {
		return &Partial{Level: LevelMedium, Factors: []Factor{FactorSimulationFailed}, Simulation: res}, nil
	}
	return &Partial{Level: LevelLow, Simulation: res}, nil
}

// LocalSimulator estimates intrinsic gas without executing anything. It is
// the fallback when no remote simulator is configured.
type LocalSimulator struct{}

// IntrinsicGas is the base cost plus calldata cost of tx.
func IntrinsicGas(data []byte) uint64 {
	gas := uint64(transferGasLimit)
	for _, b := range data {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	return gas
}

// Simulate succeeds when the gas limit covers the intrinsic gas or is unset.
func (LocalSimulator) Simulate(_ context.Context, tx *TransactionRequest) (*SimulationInfo, error) {
	need := IntrinsicGas(tx.Data)
	info := &SimulationInfo{Success: true, GasUsed: need, Source: "local"}
	if tx.GasLimit != 0 && tx.GasLimit < need {
		info.Success = false
		info.Error = "intrinsic gas too low"
	}
	return info, nil
}
