package tabs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_Lifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tbl := NewTable(WithClock(func() time.Time { return now }))

	c := tbl.Ready("tab-1", "https://app.uniswap.org/swap")
	assert.Equal(t, StateReady, c.State)
	assert.Equal(t, now, c.LastSeen)

	now = now.Add(time.Minute)
	c = tbl.Navigate("tab-1", "https://opensea.io")
	assert.Equal(t, StateNavigating, c.State)
	assert.Equal(t, "https://opensea.io", c.URL)
	assert.Equal(t, now, c.LastSeen)

	c = tbl.Ready("tab-1", "")
	assert.Equal(t, "https://opensea.io", c.URL, "empty url keeps the previous one")

	got, ok := tbl.Get("tab-1")
	require.True(t, ok)
	assert.Equal(t, StateReady, got.State)

	assert.True(t, tbl.Remove("tab-1"))
	assert.False(t, tbl.Remove("tab-1"))
	_, ok = tbl.Get("tab-1")
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_ListSortedAndCopied(t *testing.T) {
	tbl := NewTable()
	tbl.Ready("b", "https://b.example")
	tbl.Ready("a", "https://a.example")

	list := tbl.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	list[0].URL = "mutated"
	got, _ := tbl.Get("a")
	assert.Equal(t, "https://a.example", got.URL)
}
