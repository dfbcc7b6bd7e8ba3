package router

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/pending"
	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/settings"
	"github.com/mbd888/guardian/internal/tabs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type event struct {
	Type string
	Data any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Publish(eventType string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{eventType, data})
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	router   *Router
	registry *pending.Registry
	tabs     *tabs.Table
	settings *settings.Manager
	events   *recorder
	clock    *fakeClock
}

func newHarness(t *testing.T, stored *settings.Settings) *harness {
	t.Helper()
	h := &harness{
		tabs:   tabs.NewTable(),
		events: &recorder{},
		clock:  &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	store := settings.NewMemoryStore()
	if stored != nil {
		require.NoError(t, store.Save(context.Background(), *stored))
	}
	mgr, err := settings.NewManager(context.Background(), store)
	require.NoError(t, err)
	h.settings = mgr

	h.registry = pending.NewRegistry(pending.DefaultConfig(),
		pending.WithClock(h.clock.Now),
		pending.OnRemove(func(a *pending.Action, reason pending.RemoveReason) {
			h.router.ActionRemoved(a, reason)
		}),
	)
	h.router = New(Deps{
		Engine:   risk.NewEngine(risk.DefaultConfig()),
		Pending:  h.registry,
		Settings: mgr,
		Tabs:     h.tabs,
		Events:   h.events,
	})
	return h
}

func (h *harness) call(t *testing.T, typ RequestType, payload any) Response {
	t.Helper()
	msg := &Message{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		msg.Payload = raw
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.router.Call(ctx, msg)
}

const zeroAddr = "0x0000000000000000000000000000000000000000"
const recipient = "0xabc0000000000000000000000000000000000001"

func TestDispatch_UnknownType(t *testing.T) {
	h := newHarness(t, nil)

	var replies int
	var got Response
	async := h.router.Dispatch(context.Background(), &Message{Type: "SELF_DESTRUCT", RequestID: "r1"}, func(resp Response) {
		replies++
		got = resp
	})

	assert.False(t, async)
	assert.Equal(t, 1, replies)
	assert.False(t, got.Success())
	assert.Equal(t, CodeRouting, got["code"])
	assert.Equal(t, "r1", got["requestId"])
}

func TestDispatch_AsyncRepliesLater(t *testing.T) {
	h := newHarness(t, nil)
	raw := json.RawMessage(`{"to":"` + recipient + `","value":"1000"}`)

	done := make(chan Response, 1)
	async := h.router.Dispatch(context.Background(), &Message{Type: TypeAnalyzeTransaction, Payload: raw}, func(resp Response) {
		done <- resp
	})
	assert.True(t, async)

	select {
	case resp := <-done:
		assert.True(t, resp.Success())
	case <-time.After(5 * time.Second):
		t.Fatal("async reply never arrived")
	}
}

func TestDispatch_HandlerPanicBecomesInternalError(t *testing.T) {
	h := newHarness(t, nil)
	h.router.routes["BOOM"] = route{handler: typed[struct{}]{func(context.Context, struct{}, Source) (Response, error) {
		panic("kaboom")
	}}}

	resp := h.call(t, "BOOM", nil)
	assert.False(t, resp.Success())
	assert.Equal(t, CodeInternal, resp["code"])
}

func TestDispatch_MalformedPayload(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.router.Call(context.Background(), &Message{Type: TypeTransactionDecision, Payload: json.RawMessage(`{"id":`)})
	assert.Equal(t, CodeValidation, resp["code"])
}

func TestCall_Timeout(t *testing.T) {
	h := newHarness(t, nil)
	release := make(chan struct{})
	defer close(release)
	h.router.routes["SLOW"] = route{async: true, handler: typed[struct{}]{func(context.Context, struct{}, Source) (Response, error) {
		<-release
		return nil, nil
	}}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	resp := h.router.Call(ctx, &Message{Type: "SLOW"})
	assert.Equal(t, CodeTimeout, resp["code"])
}

func TestAnalyzeTransaction_ZeroAddressPendsForApproval(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.call(t, TypeAnalyzeTransaction, map[string]string{"to": zeroAddr, "value": "0x0", "data": "0x"})
	require.True(t, resp.Success(), "%v", resp)
	assert.Equal(t, risk.LevelCritical, resp["riskLevel"])
	assert.Equal(t, []risk.Factor{risk.FactorSuspiciousAddress}, resp["riskFactors"])
	assert.Equal(t, true, resp["requiresApproval"])

	id, _ := resp["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, h.registry.Len())
	state, ok := h.router.FlowState(id)
	require.True(t, ok)
	assert.Equal(t, StatePending, state)
	assert.Equal(t, []string{EventPendingAdded}, h.events.types())
}

func TestAnalyzeTransaction_ValidationError(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.call(t, TypeAnalyzeTransaction, map[string]string{"value": "1"})
	assert.False(t, resp.Success())
	assert.Equal(t, CodeValidation, resp["code"])
	assert.Equal(t, 0, h.registry.Len())
}

func TestAnalyzeTransaction_AutoApproveBelowThreshold(t *testing.T) {
	h := newHarness(t, &settings.Settings{RiskTolerance: settings.ToleranceMedium, AutoApprove: true, GasOptimizationEnabled: true})

	resp := h.call(t, TypeAnalyzeTransaction, map[string]string{"to": recipient, "value": "1000"})
	require.True(t, resp.Success())
	assert.Equal(t, risk.LevelLow, resp["riskLevel"])
	assert.Equal(t, false, resp["requiresApproval"])
	assert.NotContains(t, resp, "id")
	assert.Equal(t, 0, h.registry.Len())

	again := h.call(t, TypeAnalyzeTransaction, map[string]string{"to": recipient, "value": "1000"})
	assert.Equal(t, true, again["cached"])
}

func TestAnalyzeTransaction_OriginFromContext(t *testing.T) {
	h := newHarness(t, nil)
	h.tabs.Ready("tab-9", "https://www.app.example/swap")

	raw, _ := json.Marshal(map[string]string{"to": recipient})
	resp := h.router.Call(context.Background(), &Message{Type: TypeAnalyzeTransaction, Payload: raw, ContextID: "tab-9"})
	require.True(t, resp.Success())

	a, ok := h.registry.Get(resp["id"].(string))
	require.True(t, ok)
	assert.Equal(t, "app.example", a.Origin)
	assert.Equal(t, "tab-9", a.SourceContextID)
}

func TestDecision_ApproveThenNotFound(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.call(t, TypeAnalyzeTransaction, map[string]string{"to": recipient, "id": "tx-42"})
	require.Equal(t, "tx-42", resp["id"])

	dec := h.call(t, TypeTransactionDecision, map[string]any{"id": "tx-42", "approved": true})
	require.True(t, dec.Success(), "%v", dec)
	assert.Equal(t, true, dec["approved"])
	assert.Equal(t, 0, h.registry.Len())
	_, tracked := h.router.FlowState("tx-42")
	assert.False(t, tracked)

	again := h.call(t, TypeUserDecision, map[string]any{"id": "tx-42", "approved": false})
	assert.False(t, again.Success())
	assert.Equal(t, CodeNotFound, again["code"])
	assert.Contains(t, h.events.types(), EventPendingResolved)
}

func TestDecision_MissingID(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.call(t, TypeTransactionDecision, map[string]any{"approved": true})
	assert.Equal(t, CodeValidation, resp["code"])
}

func TestDecision_LateAfterExpiry(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.call(t, TypeAnalyzeTransaction, map[string]string{"to": recipient, "id": "tx-late"})
	require.True(t, resp.Success())

	h.clock.Advance(5*time.Minute + time.Second)
	expired := h.registry.Sweep()
	require.Len(t, expired, 1)

	assert.Contains(t, h.events.types(), EventPendingExpired)
	_, tracked := h.router.FlowState("tx-late")
	assert.False(t, tracked)

	late := h.call(t, TypeTransactionDecision, map[string]any{"id": "tx-late", "approved": true})
	assert.Equal(t, CodeNotFound, late["code"])
}

func TestGetPendingTransactions(t *testing.T) {
	h := newHarness(t, nil)
	h.call(t, TypeAnalyzeTransaction, map[string]string{"to": recipient, "id": "a"})
	h.clock.Advance(time.Second)
	h.call(t, TypeAnalyzeTransaction, map[string]string{"to": zeroAddr, "id": "b"})

	resp := h.call(t, TypeGetPendingTransactions, nil)
	require.True(t, resp.Success())
	data := resp["data"].(map[string]any)
	assert.Equal(t, 2, data["count"])
	list := data["transactions"].([]*pending.Action)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestAnalyzeSigning_TypedDataAlwaysHigh(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.call(t, TypeAnalyzeSigningRequest, map[string]string{"method": "eth_signTypedData_v4", "message": "{}"})
	require.True(t, resp.Success())
	assert.Equal(t, risk.LevelHigh, resp["riskLevel"])
	assert.Contains(t, resp["riskFactors"], risk.FactorTypedDataSigning)
	assert.Equal(t, true, resp["requiresApproval"])
	assert.NotEmpty(t, resp["id"])
}

func TestAnalyzeWalletConnection(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.call(t, TypeAnalyzeWalletConnection, map[string]any{"url": "https://app.uniswap.org"})
	require.True(t, resp.Success(), "%v", resp)
	assert.Equal(t, "app.uniswap.org", resp["domain"])
	assert.Equal(t, true, resp["dAppVerified"])
	assert.Contains(t, resp, "trustScore")
}

func TestAnalyzeWalletConnection_MissingDomain(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.call(t, TypeAnalyzeWalletConnection, map[string]any{})
	assert.Equal(t, CodeValidation, resp["code"])
}

func TestSettings_UpdateAndGet(t *testing.T) {
	h := newHarness(t, nil)

	upd := h.call(t, TypeUpdateSettings, map[string]any{"autoApprove": true, "riskTolerance": "high"})
	require.True(t, upd.Success(), "%v", upd)

	got := h.call(t, TypeGetSettings, nil)
	s := got["data"].(settings.Settings)
	assert.True(t, s.AutoApprove)
	assert.Equal(t, settings.ToleranceHigh, s.RiskTolerance)
	assert.Contains(t, h.events.types(), EventSettingsUpdated)

	bad := h.call(t, TypeUpdateSettings, map[string]any{"riskTolerance": "yolo"})
	assert.Equal(t, CodeValidation, bad["code"])
}

func TestContextLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	ready := h.router.Call(context.Background(), &Message{Type: TypeContentScriptReady, URL: "https://a.example"})
	id, _ := ready["contextId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, h.tabs.Len())

	nav := h.router.Call(context.Background(), &Message{Type: TypePageNavigated, ContextID: id, Payload: json.RawMessage(`{"url":"https://b.example"}`)})
	require.True(t, nav.Success())
	c, _ := h.tabs.Get(id)
	assert.Equal(t, tabs.StateNavigating, c.State)
	assert.Equal(t, "https://b.example", c.URL)

	closed := h.router.Call(context.Background(), &Message{Type: TypeContextClosed, ContextID: id})
	assert.Equal(t, true, closed["removed"])
	assert.Equal(t, 0, h.tabs.Len())

	missing := h.router.Call(context.Background(), &Message{Type: TypePageNavigated, Payload: json.RawMessage(`{"url":"https://b.example"}`)})
	assert.Equal(t, CodeValidation, missing["code"])
}

func TestDispatch_ConcurrentMessages(t *testing.T) {
	h := newHarness(t, nil)
	var wg sync.WaitGroup
	var okCount atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := h.call(t, TypeAnalyzeTransaction, map[string]string{"to": recipient, "value": "5"})
			if resp.Success() {
				okCount.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(20), okCount.Load())
	assert.LessOrEqual(t, h.registry.Len(), pending.DefaultConfig().MaxEntries)
}

func TestAnalyzeSigning_AlwaysPendsUnderAutoApprove(t *testing.T) {
	tests := []struct {
		name      string
		tolerance settings.Tolerance
		method    string
		message   string
		level     risk.Level
	}{
		{"typed data at high tolerance", settings.ToleranceHigh, "eth_signTypedData_v4", "{}", risk.LevelHigh},
		{"personal sign at medium tolerance", settings.ToleranceMedium, "personal_sign", "hello", risk.LevelMedium},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, &settings.Settings{RiskTolerance: tc.tolerance, AutoApprove: true})
			resp := h.call(t, TypeAnalyzeSigningRequest, map[string]string{"method": tc.method, "message": tc.message})
			require.True(t, resp.Success(), "%v", resp)
			assert.Equal(t, tc.level, resp["riskLevel"])
			assert.Equal(t, true, resp["requiresApproval"])
			assert.NotEmpty(t, resp["id"])
			assert.Equal(t, 1, h.registry.Len())
		})
	}
}

func TestResubmittedIDClosesSupersededFlow(t *testing.T) {
	h := newHarness(t, nil)
	expired := metrics.FlowsTotal.WithLabelValues(string(StateExpired))
	before := testutil.ToFloat64(expired)

	payload := map[string]string{"id": "sig-dup", "method": "personal_sign", "message": "hello"}
	first := h.call(t, TypeAnalyzeSigningRequest, payload)
	require.True(t, first.Success(), "%v", first)
	second := h.call(t, TypeAnalyzeSigningRequest, payload)
	require.True(t, second.Success(), "%v", second)

	assert.Equal(t, 1, h.registry.Len())
	assert.Equal(t, before+1, testutil.ToFloat64(expired), "the replaced flow is counted as expired")
	state, ok := h.router.FlowState("sig-dup")
	require.True(t, ok)
	assert.Equal(t, StatePending, state)
	assert.Equal(t, []string{EventPendingAdded, EventPendingExpired, EventPendingAdded}, h.events.types())

	resp := h.call(t, TypeTransactionDecision, map[string]any{"id": "sig-dup", "approved": true})
	require.True(t, resp.Success(), "%v", resp)
	_, ok = h.router.FlowState("sig-dup")
	assert.False(t, ok)
}
