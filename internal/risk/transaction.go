package risk

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mbd888/guardian/internal/units"
	"github.com/mbd888/guardian/internal/validation"
)

// TransactionPayload is the wire form of a transaction submitted for
// analysis. Quantities may be 0x-prefixed hex or decimal strings.
type TransactionPayload struct {
	ID       string `json:"id,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Value    string `json:"value,omitempty"`
	Data     string `json:"data,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasLimit string `json:"gasLimit,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Origin   string `json:"origin,omitempty"`
	ChainID  string `json:"chainId,omitempty"`
}

// TransactionRequest is a parsed, immutable transaction.
type TransactionRequest struct {
	ID       string
	From     string
	To       *common.Address // nil when the recipient is missing
	Value    *big.Int
	Data     []byte
	GasLimit uint64
	GasPrice *big.Int
	Origin   string
	ChainID  int64
}

// ParseTransaction validates p and converts it to a TransactionRequest.
func ParseTransaction(p TransactionPayload) (*TransactionRequest, error) {
	gas := p.Gas
	if gas == "" {
		gas = p.GasLimit
	}

	if errs := validation.Validate(
		validation.Required("to", p.To),
		validation.ValidAddress("to", p.To),
		optional(p.From, validation.ValidAddress("from", p.From)),
		validation.ValidQuantity("value", p.Value),
		validation.ValidHexData("data", p.Data),
		validation.ValidQuantity("gas", gas),
		validation.ValidQuantity("gasPrice", p.GasPrice),
		validation.ValidQuantity("chainId", p.ChainID),
		validation.MaxLength("origin", p.Origin, 2048),
	); errs != nil {
		return nil, errs
	}

	to := common.HexToAddress(p.To)
	tx := &TransactionRequest{
		ID:     p.ID,
		From:   strings.ToLower(p.From),
		To:     &to,
		Origin: p.Origin,
	}

	// Quantities were validated above.
	tx.Value, _ = units.ParseQuantity(p.Value)
	tx.GasPrice, _ = units.ParseQuantity(p.GasPrice)
	if g, _ := units.ParseQuantity(gas); g.IsUint64() {
		tx.GasLimit = g.Uint64()
	}
	if c, _ := units.ParseQuantity(p.ChainID); c.IsInt64() {
		tx.ChainID = c.Int64()
	}
	if data := strings.TrimSpace(p.Data); data != "" && data != "0x" {
		tx.Data = common.FromHex(data)
	}
	return tx, nil
}

func optional(value string, v func() *validation.ValidationError) func() *validation.ValidationError {
	return func() *validation.ValidationError {
		if value == "" {
			return nil
		}
		return v()
	}
}

// Validate checks the invariants the engine relies on.
func (tx *TransactionRequest) Validate() error {
	if tx == nil || tx.To == nil {
		return validation.ValidationErrors{{Field: "to", Message: "is required"}}
	}
	return nil
}

// ValueWei returns the transferred value, never nil.
func (tx *TransactionRequest) ValueWei() *big.Int {
	if tx.Value == nil {
		return new(big.Int)
	}
	return tx.Value
}

// GasPriceWei returns the gas price, never nil.
func (tx *TransactionRequest) GasPriceWei() *big.Int {
	if tx.GasPrice == nil {
		return new(big.Int)
	}
	return tx.GasPrice
}

// HasData reports whether the transaction carries call data.
func (tx *TransactionRequest) HasData() bool {
	return len(tx.Data) > 0
}

// CacheKey identifies semantically identical requests: recipient, value,
// call data and origin. Gas fields are excluded.
func (tx *TransactionRequest) CacheKey() string {
	parts := []string{
		strings.ToLower(tx.To.Hex()),
		tx.ValueWei().String(),
		hex.EncodeToString(tx.Data),
		strings.ToLower(tx.Origin),
	}
	return crypto.Keccak256Hash([]byte(strings.Join(parts, "|"))).Hex()
}

// Payload renders tx back to its wire form with hex quantities.
func (tx *TransactionRequest) Payload() TransactionPayload {
	p := TransactionPayload{
		ID:       tx.ID,
		From:     tx.From,
		Value:    hexutil.EncodeBig(tx.ValueWei()),
		Data:     hexutil.Encode(tx.Data),
		Gas:      hexutil.EncodeUint64(tx.GasLimit),
		GasPrice: hexutil.EncodeBig(tx.GasPriceWei()),
		Origin:   tx.Origin,
	}
	if tx.To != nil {
		p.To = tx.To.Hex()
	}
	if tx.ChainID != 0 {
		p.ChainID = strconv.FormatInt(tx.ChainID, 10)
	}
	return p
}
