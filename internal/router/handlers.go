package router

import (
	"context"
	"fmt"

	"github.com/mbd888/guardian/internal/idgen"
	"github.com/mbd888/guardian/internal/logging"
	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/pending"
	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/settings"
)

type decisionPayload struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

type urlPayload struct {
	URL string `json:"url"`
}

// sourceURL is the page a message came from: the tracked context's URL,
// else the URL on the message itself.
func (r *Router) sourceURL(src Source) string {
	if src.ContextID != "" {
		if c, ok := r.tabs.Get(src.ContextID); ok && c.URL != "" {
			return c.URL
		}
	}
	return src.URL
}

func (r *Router) analyzeTransaction(ctx context.Context, in risk.TransactionPayload, src Source) (Response, error) {
	if in.Origin == "" {
		in.Origin = risk.HostOf(r.sourceURL(src))
	}

	f := newFlow()
	tx, err := risk.ParseTransaction(in)
	if err != nil {
		_ = f.To(StateFailed)
		return nil, err
	}

	_ = f.To(StateAnalyzing)
	v, cached, err := r.engine.Analyze(ctx, tx)
	if err != nil {
		_ = f.To(StateFailed)
		return nil, err
	}
	if cached {
		_ = f.To(StateCached)
	} else {
		_ = f.To(StateAnalyzed)
	}

	resp := Response{
		"riskLevel":       v.RiskLevel,
		"riskFactors":     v.RiskFactors,
		"recommendations": v.Recommendations,
		"contractInfo":    v.ContractInfo,
		"gasInfo":         v.GasInfo,
		"simulation":      v.Simulation,
		"analysisTime":    v.AnalysisDurationMs,
		"cached":          cached,
	}
	if v.Backend != nil {
		resp["backend"] = v.Backend
	}
	if v.Degraded {
		resp["degraded"] = true
	}

	id := tx.ID
	if id == "" {
		id = idgen.WithPrefix("tx_")
	}
	return r.settle(ctx, f, &pending.Action{
		ID:              id,
		Kind:            pending.KindTransaction,
		Request:         tx.Payload(),
		Verdict:         v,
		SourceContextID: src.ContextID,
		Origin:          tx.Origin,
	}, v.RiskLevel, resp), nil
}

func (r *Router) analyzeConnection(ctx context.Context, in risk.ConnectionRequest, src Source) (Response, error) {
	if in.Domain == "" && in.URL == "" {
		in.URL = r.sourceURL(src)
	}

	f := newFlow()
	_ = f.To(StateAnalyzing)
	v, err := r.engine.AnalyzeConnection(ctx, in)
	if err != nil {
		_ = f.To(StateFailed)
		return nil, err
	}
	_ = f.To(StateAnalyzed)

	resp := Response{
		"domain":          v.Domain,
		"riskLevel":       v.RiskLevel,
		"riskFactors":     v.RiskFactors,
		"recommendations": v.Recommendations,
		"trustScore":      v.TrustScore,
		"dAppVerified":    v.DAppVerified,
	}
	return r.settle(ctx, f, &pending.Action{
		ID:              idgen.WithPrefix("conn_"),
		Kind:            pending.KindWalletConnection,
		Request:         in,
		Verdict:         v,
		SourceContextID: src.ContextID,
		Origin:          v.Domain,
	}, v.RiskLevel, resp), nil
}

func (r *Router) analyzeSigning(ctx context.Context, in risk.SigningRequest, src Source) (Response, error) {
	f := newFlow()
	_ = f.To(StateAnalyzing)
	v, err := r.engine.AnalyzeSigning(ctx, in)
	if err != nil {
		_ = f.To(StateFailed)
		return nil, err
	}
	_ = f.To(StateAnalyzed)

	id := in.ID
	if id == "" {
		id = idgen.WithPrefix("sig_")
	}
	resp := Response{
		"riskLevel":       v.RiskLevel,
		"riskFactors":     v.RiskFactors,
		"recommendations": v.Recommendations,
		"messageType":     v.MessageType,
	}
	return r.settle(ctx, f, &pending.Action{
		ID:              id,
		Kind:            pending.KindSigning,
		Request:         in,
		Verdict:         v,
		SourceContextID: src.ContextID,
		Origin:          risk.HostOf(r.sourceURL(src)),
	}, v.RiskLevel, resp), nil
}

// settle applies the approval policy to an analyzed flow. When approval is
// needed the action is registered and its id returned to the caller.
// Signing requests always wait for a human, whatever the settings allow.
func (r *Router) settle(ctx context.Context, f *Flow, a *pending.Action, level risk.Level, resp Response) Response {
	need := a.Kind == pending.KindSigning || r.settings.Current().RequiresApproval(level)
	resp["requiresApproval"] = need
	if !need {
		f.Finish()
		return resp
	}

	if err := f.To(StatePending); err != nil {
		logging.L(ctx).Error("flow transition refused", "id", a.ID, "error", err)
	}
	if old := r.swapFlow(a.ID, f); old != nil {
		if err := old.To(StateExpired); err != nil {
			logging.L(ctx).Error("flow transition refused", "id", a.ID, "error", err)
		}
	}
	r.pending.Add(a)
	metrics.PendingActions.Set(float64(r.pending.Len()))

	logging.L(ctx).Info("awaiting approval", "id", a.ID, "kind", a.Kind, "level", level)
	r.publish(EventPendingAdded, map[string]any{
		"id":        a.ID,
		"kind":      a.Kind,
		"riskLevel": level,
		"origin":    a.Origin,
	})
	resp["id"] = a.ID
	return resp
}

func (r *Router) listPending(_ context.Context, _ struct{}, _ Source) (Response, error) {
	actions := r.pending.List()
	return Response{
		"data": map[string]any{
			"transactions": actions,
			"count":        len(actions),
		},
	}, nil
}

func (r *Router) decide(ctx context.Context, in decisionPayload, _ Source) (Response, error) {
	if in.ID == "" {
		return nil, invalid("id", "is required")
	}

	a, err := r.pending.Remove(in.ID)
	metrics.PendingActions.Set(float64(r.pending.Len()))
	if err != nil {
		return nil, fmt.Errorf("decision for %s: %w", in.ID, err)
	}

	next := StateRejected
	if in.Approved {
		next = StateApproved
	}
	if f := r.takeFlow(a.ID); f != nil {
		if err := f.To(next); err != nil {
			logging.L(ctx).Error("flow transition refused", "id", a.ID, "error", err)
		}
	}

	logging.L(ctx).Info("decision recorded", "id", a.ID, "kind", a.Kind, "approved", in.Approved)
	r.publish(EventPendingResolved, map[string]any{
		"id":       a.ID,
		"kind":     a.Kind,
		"approved": in.Approved,
	})
	return Response{"id": a.ID, "approved": in.Approved}, nil
}

func (r *Router) getSettings(_ context.Context, _ struct{}, _ Source) (Response, error) {
	return Response{"data": r.settings.Current()}, nil
}

func (r *Router) updateSettings(ctx context.Context, in settings.Patch, _ Source) (Response, error) {
	s, err := r.settings.Update(ctx, in)
	if err != nil {
		return nil, err
	}
	// Cached verdicts embed gas suggestions computed under the old flag.
	if in.GasOptimizationEnabled != nil {
		r.engine.ClearCache()
	}
	r.publish(EventSettingsUpdated, s)
	return Response{"data": s}, nil
}

func (r *Router) contentScriptReady(ctx context.Context, in urlPayload, src Source) (Response, error) {
	id := src.ContextID
	if id == "" {
		id = idgen.WithPrefix("ctx_")
	}
	url := in.URL
	if url == "" {
		url = src.URL
	}
	c := r.tabs.Ready(id, url)
	logging.L(ctx).Debug("context ready", "context_id", c.ID, "url", c.URL)
	return Response{"contextId": c.ID}, nil
}

func (r *Router) pageNavigated(_ context.Context, in urlPayload, src Source) (Response, error) {
	if src.ContextID == "" {
		return nil, invalid("contextId", "is required")
	}
	if in.URL == "" {
		return nil, invalid("url", "is required")
	}
	r.tabs.Navigate(src.ContextID, in.URL)
	return Response{}, nil
}

func (r *Router) contextClosed(_ context.Context, _ struct{}, src Source) (Response, error) {
	if src.ContextID == "" {
		return nil, invalid("contextId", "is required")
	}
	return Response{"removed": r.tabs.Remove(src.ContextID)}, nil
}
