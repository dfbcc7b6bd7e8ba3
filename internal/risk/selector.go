package risk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrShortCallData is returned when call data cannot hold a selector.
var ErrShortCallData = errors.New("call data shorter than 4-byte selector")

// dangerousNames flags functions that move assets or change control.
var dangerousNames = []string{
	"transfer", "approve", "approval", "withdraw", "ownership",
	"selfdestruct", "destruct", "kill", "upgrade", "delegate",
	"sweep", "drain",
}

// IsDangerousFunction reports whether name matches a sensitive operation,
// case-insensitively by substring.
func IsDangerousFunction(name string) bool {
	lower := strings.ToLower(name)
	for _, d := range dangerousNames {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

// builtinABI covers the most common token, NFT, ownership and router calls.
const builtinABI = `[
{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}]},
{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}]},
{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}]},
{"type":"function","name":"increaseAllowance","inputs":[{"name":"spender","type":"address"},{"name":"addedValue","type":"uint256"}]},
{"type":"function","name":"permit","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}]},
{"type":"function","name":"setApprovalForAll","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}]},
{"type":"function","name":"safeTransferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}]},
{"type":"function","name":"safeTransferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"data","type":"bytes"}]},
{"type":"function","name":"transferOwnership","inputs":[{"name":"newOwner","type":"address"}]},
{"type":"function","name":"renounceOwnership","inputs":[]},
{"type":"function","name":"upgradeTo","inputs":[{"name":"newImplementation","type":"address"}]},
{"type":"function","name":"withdraw","inputs":[{"name":"amount","type":"uint256"}]},
{"type":"function","name":"deposit","inputs":[]},
{"type":"function","name":"mint","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}]},
{"type":"function","name":"burn","inputs":[{"name":"amount","type":"uint256"}]},
{"type":"function","name":"multicall","inputs":[{"name":"data","type":"bytes[]"}]},
{"type":"function","name":"swapExactTokensForTokens","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}]},
{"type":"function","name":"swapExactETHForTokens","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}]}
]`

var builtinMethods = sync.OnceValue(func() []abi.Method {
	parsed, err := abi.JSON(strings.NewReader(builtinABI))
	if err != nil {
		panic(fmt.Sprintf("risk: builtin ABI: %v", err))
	}
	return sortedMethods(parsed)
})

func sortedMethods(parsed abi.ABI) []abi.Method {
	names := make([]string, 0, len(parsed.Methods))
	for name := range parsed.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	methods := make([]abi.Method, 0, len(names))
	for _, name := range names {
		methods = append(methods, parsed.Methods[name])
	}
	return methods
}

type selectorAnalyzer struct {
	source ContractSource
}

func (a *selectorAnalyzer) Name() string { return AnalyzerSelector }
func (a *selectorAnalyzer) Applies(tx *TransactionRequest) bool { return tx.HasData() }

func (a *selectorAnalyzer) Analyze(ctx context.Context, tx *TransactionRequest) (*Partial, error) {
	if len(tx.Data) < 4 {
		return nil, ErrShortCallData
	}
	selector := tx.Data[:4]
	call := &FunctionCall{Selector: hexutil.Encode(selector)}

	m, ok := matchSelector(a.candidates(ctx, tx), selector)
	if !ok {
		return &Partial{Level: LevelLow, Function: call}, nil
	}

	call.Name = m.RawName
	call.Signature = m.Sig
	call.Args = decodeArgs(m, tx.Data[4:])
	call.Dangerous = IsDangerousFunction(m.RawName)

	p := &Partial{Level: LevelLow, Function: call}
	if call.Dangerous {
		p.Level = LevelMedium
		p.Factors = []Factor{FactorDangerousFunction}
	}
	return p, nil
}

// candidates prefers the contract's own ABI and falls back to the builtin
// table when none is known or it does not parse.
func (a *selectorAnalyzer) candidates(ctx context.Context, tx *TransactionRequest) []abi.Method {
	if a.source != nil {
		md, err := a.source.Lookup(ctx, tx.ChainID, *tx.To)
		if err == nil && md != nil && md.ABI != "" {
			if parsed, err := abi.JSON(strings.NewReader(md.ABI)); err == nil && len(parsed.Methods) > 0 {
				return sortedMethods(parsed)
			}
		}
	}
	return builtinMethods()
}

// matchSelector hashes each candidate signature and compares the first
// four bytes with selector.
func matchSelector(methods []abi.Method, selector []byte) (abi.Method, bool) {
	for _, m := range methods {
		if bytes.Equal(crypto.Keccak256([]byte(m.Sig))[:4], selector) {
			return m, true
		}
	}
	return abi.Method{}, false
}

func decodeArgs(m abi.Method, data []byte) []string {
	if len(m.Inputs) == 0 {
		return nil
	}
	values, err := m.Inputs.Unpack(data)
	if err != nil {
		return nil
	}
	args := make([]string, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case []byte:
			args[i] = hexutil.Encode(x)
		case [32]byte:
			args[i] = hexutil.Encode(x[:])
		default:
			args[i] = fmt.Sprint(v)
		}
	}
	return args
}
