package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"0x", "0"},
		{"0x0", "0"},
		{"0xde0b6b3a7640000", "1000000000000000000"},
		{"11000000000000000000", "11000000000000000000"},
		{" 42 ", "42"},
	}
	for _, tt := range tests {
		got, err := ParseQuantity(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.String(), tt.in)
	}
}

func TestParseQuantity_Invalid(t *testing.T) {
	for _, in := range []string{"-1", "0x-1", "abc", "1.5", "0xzz"} {
		_, err := ParseQuantity(in)
		assert.Error(t, err, in)
	}
}

func TestToEther(t *testing.T) {
	assert.Equal(t, 0.0, ToEther(nil))
	assert.Equal(t, 1.0, ToEther(Ether(1)))
	assert.InDelta(t, 0.5, ToEther(big.NewInt(500000000000000000)), 1e-12)
	assert.Equal(t, 50.0, ToGwei(Gwei(50)))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0", FormatEther(nil))
	assert.Equal(t, "11", FormatEther(Ether(11)))
	assert.Equal(t, "1.5", FormatEther(big.NewInt(1500000000000000000)))
	assert.Equal(t, "0.000021", FormatEther(big.NewInt(21000000000000)))
	assert.Equal(t, "-2", FormatEther(big.NewInt(0).Neg(Ether(2))))
	assert.Equal(t, "30.5", FormatGwei(big.NewInt(30500000000)))
}
