// Package units converts between wei, gwei and ether and parses the
// quantity strings wallets put on the wire.
//
// Quantities arrive either as 0x-prefixed hex (JSON-RPC style) or as plain
// decimal strings. All amounts are kept as big.Int in wei.
package units

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	EtherDecimals = 18
	GweiDecimals  = 9
)

var (
	weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(EtherDecimals), nil)
	weiPerGwei  = new(big.Int).Exp(big.NewInt(10), big.NewInt(GweiDecimals), nil)
)

// ParseQuantity parses a hex ("0x1bc16d674ec80000") or decimal
// ("2000000000000000000") quantity. Empty input and bare "0x" are zero.
// Negative values are rejected.
func ParseQuantity(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" || s == "0X" {
		return new(big.Int), nil
	}

	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}
	if strings.HasPrefix(digits, "-") || strings.HasPrefix(digits, "+") {
		return nil, fmt.Errorf("invalid quantity %q: sign not allowed", s)
	}

	v, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return v, nil
}

// ToEther converts wei to a float ether amount. Precision loss beyond
// float64 is fine for threshold comparisons.
func ToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), new(big.Float).SetInt(weiPerEther)).Float64()
	return f
}

// ToGwei converts wei to a float gwei amount.
func ToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), new(big.Float).SetInt(weiPerGwei)).Float64()
	return f
}

// Gwei returns n gwei expressed in wei.
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), weiPerGwei)
}

// Ether returns n ether expressed in wei.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), weiPerEther)
}

// FormatEther renders wei as a decimal ether string with trailing zeros
// trimmed ("1.5", "0.000021", "0").
func FormatEther(wei *big.Int) string {
	return formatUnits(wei, EtherDecimals)
}

// FormatGwei renders wei as a decimal gwei string.
func FormatGwei(wei *big.Int) string {
	return formatUnits(wei, GweiDecimals)
}

func formatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	neg := amount.Sign() < 0
	s := new(big.Int).Abs(amount).String()
	for len(s) < decimals+1 {
		s = "0" + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	result := whole
	if frac != "" {
		result += "." + frac
	}
	if neg {
		result = "-" + result
	}
	return result
}
