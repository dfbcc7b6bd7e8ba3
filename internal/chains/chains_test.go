package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestName(t *testing.T) {
	assert.Equal(t, "mainnet", Name(1))
	assert.Equal(t, "polygon", Name(137))
	assert.Equal(t, "base", Name(8453))
	assert.Equal(t, "mainnet", Name(999999), "unknown chains default to mainnet")
}

func TestKnown(t *testing.T) {
	assert.True(t, Known(42161))
	assert.False(t, Known(0))
}
