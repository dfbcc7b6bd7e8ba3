package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsUUID(t *testing.T) {
	id := New()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("tx_")
	assert.True(t, strings.HasPrefix(id, "tx_"))
	assert.Len(t, id, len("tx_")+32)
	assert.NotContains(t, id[3:], "-")
}

func TestWithPrefix_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix("x_")
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
