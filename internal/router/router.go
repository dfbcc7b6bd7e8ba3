// Package router dispatches inbound extension messages to their handlers.
//
// The handler table is closed: every RequestType maps to one typed handler
// declared in routes(). Dispatch always yields exactly one structured
// Response per message, converting handler errors and panics into
// {success:false, error, code}.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/guardian/internal/logging"
	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/pending"
	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/settings"
	"github.com/mbd888/guardian/internal/tabs"
	"github.com/mbd888/guardian/internal/traces"
)

// Event types published to realtime subscribers.
const (
	EventPendingAdded    = "pending_added"
	EventPendingResolved = "pending_resolved"
	EventPendingExpired  = "pending_expired"
	EventSettingsUpdated = "settings_updated"
)

// Publisher receives router events. Implementations must not block.
type Publisher interface {
	Publish(eventType string, data any)
}

// Handler processes one decoded message.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage, src Source) (Response, error)
}

// HandlerFunc is a handler over a concrete payload type.
type HandlerFunc[In any] func(ctx context.Context, in In, src Source) (Response, error)

// typed adapts a HandlerFunc to Handler by decoding the payload into In.
type typed[In any] struct {
	fn HandlerFunc[In]
}

func (t typed[In]) Handle(ctx context.Context, payload json.RawMessage, src Source) (Response, error) {
	var in In
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, invalid("payload", "malformed JSON: "+err.Error())
		}
	}
	return t.fn(ctx, in, src)
}

type route struct {
	handler Handler
	async   bool
}

// Deps are the router's collaborators.
type Deps struct {
	Engine   *risk.Engine
	Pending  *pending.Registry
	Settings *settings.Manager
	Tabs     *tabs.Table
	Events   Publisher
	Logger   *slog.Logger
}

// Router owns the dispatch table and the flows awaiting a decision.
type Router struct {
	engine   *risk.Engine
	pending  *pending.Registry
	settings *settings.Manager
	tabs     *tabs.Table
	events   Publisher
	logger   *slog.Logger
	routes   map[RequestType]route

	mu    sync.Mutex
	flows map[string]*Flow // by pending action id
}

// New creates a router.
func New(d Deps) *Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := &Router{
		engine:   d.Engine,
		pending:  d.Pending,
		settings: d.Settings,
		tabs:     d.Tabs,
		events:   d.Events,
		logger:   d.Logger,
		flows:    make(map[string]*Flow),
	}
	r.routes = r.buildRoutes()
	return r
}

// SetPublisher replaces the event sink. Call before serving traffic.
func (r *Router) SetPublisher(p Publisher) {
	r.events = p
}

func (r *Router) buildRoutes() map[RequestType]route {
	decision := typed[decisionPayload]{r.decide}
	return map[RequestType]route{
		TypeAnalyzeTransaction:      {typed[risk.TransactionPayload]{r.analyzeTransaction}, true},
		TypeAnalyzeWalletConnection: {typed[risk.ConnectionRequest]{r.analyzeConnection}, true},
		TypeAnalyzeSigningRequest:   {typed[risk.SigningRequest]{r.analyzeSigning}, true},
		TypeGetPendingTransactions:  {typed[struct{}]{r.listPending}, false},
		TypeTransactionDecision:     {decision, false},
		TypeUserDecision:            {decision, false},
		TypeGetSettings:             {typed[struct{}]{r.getSettings}, false},
		TypeUpdateSettings:          {typed[settings.Patch]{r.updateSettings}, true},
		TypeContentScriptReady:      {typed[urlPayload]{r.contentScriptReady}, false},
		TypePageNavigated:           {typed[urlPayload]{r.pageNavigated}, false},
		TypeContextClosed:           {typed[struct{}]{r.contextClosed}, false},
	}
}

// Known reports whether t has a handler.
func (r *Router) Known(t RequestType) bool {
	_, ok := r.routes[t]
	return ok
}

// Dispatch routes msg and delivers its response through reply, exactly
// once. It returns true when the handler is asynchronous: reply will be
// called later from another goroutine. Unknown types are answered
// immediately with a routing error.
func (r *Router) Dispatch(ctx context.Context, msg *Message, reply func(Response)) bool {
	ctx = logging.WithRequestID(ctx, msg.RequestID)
	ctx = logging.WithContextID(ctx, msg.ContextID)

	rt, ok := r.routes[msg.Type]
	if !ok {
		metrics.DispatchTotal.WithLabelValues("unknown", CodeRouting).Inc()
		logging.L(ctx).Warn("unknown request type", "type", msg.Type)
		reply(r.stamp(msg, errorResponse(fmt.Errorf("%w: %q", ErrUnknownType, msg.Type))))
		return false
	}

	if !rt.async {
		reply(r.invoke(ctx, msg, rt.handler))
		return false
	}

	// Async work outlives the caller's cancellation; a decision timeout is
	// enforced by the pending registry, not by aborting analysis.
	bg := context.WithoutCancel(ctx)
	go func() {
		reply(r.invoke(bg, msg, rt.handler))
	}()
	return true
}

// Call dispatches msg and waits for its response or for ctx to end.
func (r *Router) Call(ctx context.Context, msg *Message) Response {
	ch := make(chan Response, 1)
	r.Dispatch(ctx, msg, func(resp Response) { ch <- resp })

	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		metrics.DispatchTotal.WithLabelValues(string(msg.Type), CodeTimeout).Inc()
		return r.stamp(msg, failure(CodeTimeout, fmt.Errorf("response not ready: %w", ctx.Err())))
	}
}

func (r *Router) invoke(ctx context.Context, msg *Message, h Handler) (resp Response) {
	ctx, span := traces.StartSpan(ctx, "router.Dispatch",
		traces.MessageType(string(msg.Type)),
		traces.ContextID(msg.ContextID),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logging.L(ctx).Error("handler panic", "type", msg.Type, "panic", fmt.Sprint(p))
			resp = errorResponse(fmt.Errorf("internal error handling %s", msg.Type))
		}
		result := "ok"
		if code, _ := resp["code"].(string); code != "" {
			result = code
		}
		metrics.DispatchTotal.WithLabelValues(string(msg.Type), result).Inc()
		logging.L(ctx).Debug("dispatched", "type", msg.Type, "result", result, "duration", time.Since(start))
		resp = r.stamp(msg, resp)
	}()

	out, err := h.Handle(ctx, msg.Payload, Source{ContextID: msg.ContextID, URL: msg.URL})
	if err != nil {
		resp := errorResponse(err)
		if resp["code"] == CodeInternal {
			logging.L(ctx).Error("handler failed", "type", msg.Type, "error", err)
		} else {
			logging.L(ctx).Info("request rejected", "type", msg.Type, "error", err)
		}
		return resp
	}
	return succeed(out)
}

func (r *Router) stamp(msg *Message, resp Response) Response {
	if msg.RequestID != "" {
		resp["requestId"] = msg.RequestID
	}
	return resp
}

// ActionRemoved is the pending registry's OnRemove hook: an expired or
// evicted action ends its flow as expired. Every removal is published.
func (r *Router) ActionRemoved(a *pending.Action, reason pending.RemoveReason) {
	metrics.PendingActions.Set(float64(r.pending.Len()))

	// A replaced action's flow was closed by settle; the id now belongs to
	// its successor.
	if reason != pending.ReasonReplaced {
		if f := r.takeFlow(a.ID); f != nil {
			if err := f.To(StateExpired); err != nil {
				r.logger.Error("flow transition refused", "id", a.ID, "error", err)
			}
		}
	}
	r.logger.Info("pending action dropped", "id", a.ID, "kind", a.Kind, "reason", reason)
	r.publish(EventPendingExpired, map[string]any{
		"id":     a.ID,
		"kind":   a.Kind,
		"reason": reason,
	})
}

// swapFlow tracks f under id and returns the flow it displaced, if any.
func (r *Router) swapFlow(id string, f *Flow) *Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.flows[id]
	r.flows[id] = f
	return old
}

func (r *Router) takeFlow(id string) *Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.flows[id]
	delete(r.flows, id)
	return f
}

// FlowState returns the state of the flow pending under id.
func (r *Router) FlowState(id string) (State, bool) {
	r.mu.Lock()
	f, ok := r.flows[id]
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	return f.State(), true
}

func (r *Router) publish(eventType string, data any) {
	if r.events != nil {
		r.events.Publish(eventType, data)
	}
}
