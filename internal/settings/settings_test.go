package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/testutil"
	"github.com/mbd888/guardian/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, ToleranceMedium, d.RiskTolerance)
	assert.False(t, d.AutoApprove)
	assert.True(t, d.GasOptimizationEnabled)
}

func TestRequiresApproval(t *testing.T) {
	manual := Defaults()
	for _, l := range []risk.Level{risk.LevelLow, risk.LevelMedium, risk.LevelHigh, risk.LevelCritical} {
		assert.True(t, manual.RequiresApproval(l), "without auto-approve %s needs approval", l)
	}

	tests := []struct {
		tolerance Tolerance
		level     risk.Level
		want      bool
	}{
		{ToleranceLow, risk.LevelLow, false},
		{ToleranceLow, risk.LevelMedium, true},
		{ToleranceMedium, risk.LevelMedium, false},
		{ToleranceMedium, risk.LevelHigh, true},
		{ToleranceHigh, risk.LevelHigh, false},
		{ToleranceHigh, risk.LevelCritical, true},
		{ToleranceHigh, risk.LevelUnknown, true},
		{ToleranceHigh, risk.LevelError, true},
	}
	for _, tt := range tests {
		s := Settings{RiskTolerance: tt.tolerance, AutoApprove: true}
		assert.Equal(t, tt.want, s.RequiresApproval(tt.level), "%s/%s", tt.tolerance, tt.level)
	}
}

func TestPatch_Validate(t *testing.T) {
	assert.NoError(t, Patch{}.Validate())
	assert.NoError(t, Patch{RiskTolerance: ptr("high")}.Validate())

	err := Patch{RiskTolerance: ptr("reckless")}.Validate()
	var verrs validation.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "riskTolerance", verrs[0].Field)

	assert.Error(t, Patch{RiskTolerance: ptr("")}.Validate())
}

func TestManager_LoadsDefaultsWhenEmpty(t *testing.T) {
	m, err := NewManager(context.Background(), NewMemoryStore())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), m.Current())
	assert.True(t, m.GasOptimizationEnabled())
}

func TestManager_Update(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m, err := NewManager(context.Background(), store, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	got, err := m.Update(context.Background(), Patch{AutoApprove: ptr(true), RiskTolerance: ptr("high")})
	require.NoError(t, err)
	assert.True(t, got.AutoApprove)
	assert.Equal(t, ToleranceHigh, got.RiskTolerance)
	assert.True(t, got.GasOptimizationEnabled, "unpatched fields are kept")
	assert.Equal(t, now, got.UpdatedAt)
	assert.Equal(t, got, m.Current())

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, got, saved)
}

func TestManager_UpdateRejectsInvalid(t *testing.T) {
	m, err := NewManager(context.Background(), NewMemoryStore())
	require.NoError(t, err)

	_, err = m.Update(context.Background(), Patch{RiskTolerance: ptr("extreme")})
	assert.Error(t, err)
	assert.Equal(t, Defaults(), m.Current())
}

type failingStore struct {
	MemoryStore
}

func (s *failingStore) Save(context.Context, Settings) error {
	return errors.New("disk full")
}

func TestManager_UpdateNotVisibleWhenSaveFails(t *testing.T) {
	m, err := NewManager(context.Background(), &failingStore{})
	require.NoError(t, err)

	_, err = m.Update(context.Background(), Patch{AutoApprove: ptr(true)})
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, m.Current().AutoApprove)
}

type loadErrStore struct {
	MemoryStore
}

func (s *loadErrStore) Load(context.Context) (Settings, error) {
	return Settings{}, errors.New("connection refused")
}

func TestManager_LoadError(t *testing.T) {
	_, err := NewManager(context.Background(), &loadErrStore{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestManager_ConcurrentUpdates(t *testing.T) {
	m, err := NewManager(context.Background(), NewMemoryStore())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(on bool) {
			defer wg.Done()
			_, _ = m.Update(context.Background(), Patch{AutoApprove: ptr(on)})
			_ = m.Current()
		}(i%2 == 0)
	}
	wg.Wait()
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	store := NewFileStore(path)

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	want := Settings{RiskTolerance: ToleranceLow, AutoApprove: true, UpdatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, store.Save(context.Background(), want))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	want := Settings{RiskTolerance: ToleranceHigh, AutoApprove: true, GasOptimizationEnabled: false, UpdatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, store.Save(ctx, want))
	want.RiskTolerance = ToleranceLow
	require.NoError(t, store.Save(ctx, want), "second save upserts")

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.RiskTolerance, got.RiskTolerance)
	assert.Equal(t, want.AutoApprove, got.AutoApprove)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
}
