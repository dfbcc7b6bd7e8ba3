package risk

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/guardian/internal/units"
	"github.com/mbd888/guardian/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recipient = "0xabc0000000000000000000000000000000000001"

func TestParseTransaction(t *testing.T) {
	tx, err := ParseTransaction(TransactionPayload{
		ID:       "tx-1",
		To:       recipient,
		From:     "0xAAAA000000000000000000000000000000000002",
		Value:    "0xde0b6b3a7640000",
		Data:     "0xa9059cbb",
		Gas:      "21000",
		GasPrice: "0x3b9aca00",
		Origin:   "https://app.example",
		ChainID:  "1",
	})
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(recipient), *tx.To)
	assert.Equal(t, 0, tx.Value.Cmp(units.Ether(1)))
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, tx.Data)
	assert.Equal(t, uint64(21000), tx.GasLimit)
	assert.Equal(t, 0, tx.GasPrice.Cmp(units.Gwei(1)))
	assert.Equal(t, int64(1), tx.ChainID)
	assert.Equal(t, "0xaaaa000000000000000000000000000000000002", tx.From)
	assert.True(t, tx.HasData())
}

func TestParseTransaction_GasLimitAlias(t *testing.T) {
	tx, err := ParseTransaction(TransactionPayload{To: recipient, GasLimit: "0x5208"})
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), tx.GasLimit)
}

func TestParseTransaction_EmptyDataIsNoData(t *testing.T) {
	tx, err := ParseTransaction(TransactionPayload{To: recipient, Value: "0x0", Data: "0x"})
	require.NoError(t, err)
	assert.False(t, tx.HasData())
	assert.Equal(t, 0, tx.ValueWei().Sign())
}

func TestParseTransaction_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		p     TransactionPayload
		field string
	}{
		{"missing to", TransactionPayload{}, "to"},
		{"malformed to", TransactionPayload{To: "0x123"}, "to"},
		{"negative value", TransactionPayload{To: recipient, Value: "-1"}, "value"},
		{"odd hex data", TransactionPayload{To: recipient, Data: "0xabc"}, "data"},
		{"bad from", TransactionPayload{To: recipient, From: "nope"}, "from"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTransaction(tt.p)
			require.Error(t, err)
			var verrs validation.ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestTransactionRequest_Validate(t *testing.T) {
	assert.Error(t, (&TransactionRequest{}).Validate())
	var nilTx *TransactionRequest
	assert.Error(t, nilTx.Validate())

	to := common.Address{}
	assert.NoError(t, (&TransactionRequest{To: &to}).Validate())
}

func TestCacheKey_IgnoresGas(t *testing.T) {
	a, err := ParseTransaction(TransactionPayload{To: recipient, Value: "100", Gas: "21000", GasPrice: "1"})
	require.NoError(t, err)
	b, err := ParseTransaction(TransactionPayload{To: "0xABC0000000000000000000000000000000000001", Value: "0x64", Gas: "50000", GasPrice: "99"})
	require.NoError(t, err)

	assert.Equal(t, a.CacheKey(), b.CacheKey())
}

func TestCacheKey_DistinguishesSemanticFields(t *testing.T) {
	base := TransactionPayload{To: recipient, Value: "1", Data: "0x01", Origin: "https://a.example"}
	key := func(p TransactionPayload) string {
		tx, err := ParseTransaction(p)
		require.NoError(t, err)
		return tx.CacheKey()
	}

	ref := key(base)
	changed := []TransactionPayload{
		{To: "0xabc0000000000000000000000000000000000002", Value: "1", Data: "0x01", Origin: "https://a.example"},
		{To: recipient, Value: "2", Data: "0x01", Origin: "https://a.example"},
		{To: recipient, Value: "1", Data: "0x02", Origin: "https://a.example"},
		{To: recipient, Value: "1", Data: "0x01", Origin: "https://b.example"},
	}
	for _, p := range changed {
		assert.NotEqual(t, ref, key(p))
	}
}

func TestPayload_RoundTrip(t *testing.T) {
	to := common.HexToAddress(recipient)
	tx := &TransactionRequest{To: &to, Value: big.NewInt(255), Data: []byte{1, 2}, GasLimit: 21000, ChainID: 8453}
	p := tx.Payload()

	assert.Equal(t, "0xff", p.Value)
	assert.Equal(t, "0x0102", p.Data)
	assert.Equal(t, "0x5208", p.Gas)
	assert.Equal(t, "0x0", p.GasPrice)
	assert.Equal(t, "8453", p.ChainID)

	back, err := ParseTransaction(p)
	require.NoError(t, err)
	assert.Equal(t, tx.CacheKey(), back.CacheKey())
}
