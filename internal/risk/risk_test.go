package risk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_Order(t *testing.T) {
	assert.True(t, LevelLow < LevelMedium)
	assert.True(t, LevelMedium < LevelHigh)
	assert.True(t, LevelHigh < LevelCritical)

	assert.True(t, LevelLow.Ordered())
	assert.True(t, LevelCritical.Ordered())
	assert.False(t, LevelUnknown.Ordered())
	assert.False(t, LevelError.Ordered())
}

func TestMax(t *testing.T) {
	tests := []struct {
		a, b, want Level
	}{
		{LevelLow, LevelMedium, LevelMedium},
		{LevelCritical, LevelHigh, LevelCritical},
		{LevelHigh, LevelCritical, LevelCritical},
		{LevelUnknown, LevelLow, LevelLow},
		{LevelLow, LevelUnknown, LevelLow},
		{LevelError, LevelLow, LevelLow},
		{LevelMedium, LevelError, LevelMedium},
		{LevelUnknown, LevelError, LevelError},
		{LevelUnknown, LevelUnknown, LevelUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Max(tt.a, tt.b), "Max(%s, %s)", tt.a, tt.b)
	}
}

func TestLevel_JSON(t *testing.T) {
	b, err := json.Marshal(map[string]Level{"riskLevel": LevelCritical})
	require.NoError(t, err)
	assert.JSONEq(t, `{"riskLevel":"critical"}`, string(b))

	var out struct {
		Level Level `json:"level"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"level":"high"}`), &out))
	assert.Equal(t, LevelHigh, out.Level)

	assert.Error(t, json.Unmarshal([]byte(`{"level":"severe"}`), &out))
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel(" Medium ")
	require.NoError(t, err)
	assert.Equal(t, LevelMedium, l)

	_, err = ParseLevel("nope")
	assert.Error(t, err)
}

func TestRecommendationsFor_HeadlineThenFactors(t *testing.T) {
	recs := recommendationsFor(subjectTransaction, LevelHigh, []Factor{FactorVeryHighValue, FactorHighGasPrice})
	require.Len(t, recs, 3)
	assert.Equal(t, headlines[subjectTransaction][LevelHigh], recs[0])
	assert.Equal(t, FactorMessage(FactorVeryHighValue), recs[1])
	assert.Equal(t, FactorMessage(FactorHighGasPrice), recs[2])
}

func TestFactorSet_DedupesInFirstSeenOrder(t *testing.T) {
	var s factorSet
	assert.Equal(t, []Factor{}, s.list())

	s.add(FactorHighValue, FactorContractInteraction)
	s.add(FactorHighValue, FactorDangerousFunction)
	assert.Equal(t, []Factor{FactorHighValue, FactorContractInteraction, FactorDangerousFunction}, s.list())
	assert.True(t, s.has(FactorDangerousFunction))
	assert.False(t, s.has(FactorSuspiciousAddress))
}

func TestEveryFactorHasMessage(t *testing.T) {
	all := []Factor{
		FactorHighValue, FactorVeryHighValue, FactorSuspiciousAddress, FactorContractInteraction,
		FactorDangerousFunction, FactorHighGasPrice, FactorSimulationFailed,
		FactorImpersonation, FactorSuspiciousCharacters, FactorManyExternalDomains,
		FactorInsecureTransport, FactorObfuscatedCode,
		FactorTypedDataSigning, FactorRawHashSigning, FactorTransferLanguage,
		FactorEmbeddedAddress, FactorTokenAmount, FactorPermitLanguage, FactorLongMessage,
	}
	for _, f := range all {
		assert.NotEmpty(t, FactorMessage(f), "factor %s", f)
	}
}
