package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidEthAddress(t *testing.T) {
	assert.True(t, IsValidEthAddress("0x0000000000000000000000000000000000000000"))
	assert.True(t, IsValidEthAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))
	assert.False(t, IsValidEthAddress("0x123"))
	assert.False(t, IsValidEthAddress("A0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))
	assert.False(t, IsValidEthAddress("0xZZb86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))
}

func TestIsValidHexData(t *testing.T) {
	assert.True(t, IsValidHexData("0x"))
	assert.True(t, IsValidHexData("0xa9059cbb"))
	assert.False(t, IsValidHexData("0xabc"))
	assert.False(t, IsValidHexData("a9059cbb"))
}

func TestSanitizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
		SanitizeAddress("  ABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD "))
}

func TestValidate_CollectsAll(t *testing.T) {
	errs := Validate(
		Required("to", ""),
		ValidQuantity("value", "-5"),
		ValidHexData("data", "0x1"),
		OneOf("riskTolerance", "extreme", "low", "medium", "high"),
		MaxLength("message", strings.Repeat("x", 11), 10),
	)
	assert.Len(t, errs, 5)
	assert.Equal(t, "to: is required", errs.Error())
}

func TestValidate_AllPass(t *testing.T) {
	errs := Validate(
		Required("to", "0x0000000000000000000000000000000000000001"),
		ValidAddress("to", "0x0000000000000000000000000000000000000001"),
		ValidQuantity("value", "0x10"),
		ValidHexData("data", "0x"),
		OneOf("riskTolerance", "", "low"),
	)
	assert.Nil(t, errs)
}
