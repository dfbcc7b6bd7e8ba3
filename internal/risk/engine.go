package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/guardian/internal/cache"
	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/syncutil"
	"github.com/mbd888/guardian/internal/traces"
	"github.com/mbd888/guardian/internal/units"
	"github.com/mbd888/guardian/internal/validation"
	"golang.org/x/sync/errgroup"
)

// BackendUnavailable is the recommendation a degraded Supplement carries.
const BackendUnavailable = "backend unavailable — local analysis only"

var errEmptyPartial = errors.New("analyzer returned no result")

// Config holds analysis thresholds and cache bounds.
type Config struct {
	HighValueEther        float64
	MediumValueEther      float64
	GasPriceThresholdGwei int64
	Denylist              []string
	CacheTTL              time.Duration
	CacheMaxEntries       int
	AnalyzerTimeout       time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		HighValueEther:        10,
		MediumValueEther:      1,
		GasPriceThresholdGwei: 50,
		CacheTTL:              5 * time.Minute,
		CacheMaxEntries:       100,
		AnalyzerTimeout:       10 * time.Second,
	}
}

// Engine runs the analyzers and merges their results into verdicts.
type Engine struct {
	cfg          Config
	analyzers    []Analyzer
	cache        *cache.Store[*Verdict]
	inflight     *syncutil.KeyLock
	supplementer Supplementer
	logger       *slog.Logger
	now          func() time.Time

	contracts ContractSource
	advisor   FeeAdvisor
	optimize  func() bool
	prices    PriceSource
	simulator Simulator
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for absorbed analyzer failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source for the verdict cache and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithContractSource enables contract metadata and ABI-based selector decoding.
func WithContractSource(s ContractSource) Option {
	return func(e *Engine) { e.contracts = s }
}

// WithFeeAdvisor enables EIP-1559 suggestions while enabled returns true.
func WithFeeAdvisor(a FeeAdvisor, enabled func() bool) Option {
	return func(e *Engine) {
		e.advisor = a
		e.optimize = enabled
	}
}

// WithPriceSource enables USD cost estimates.
func WithPriceSource(p PriceSource) Option {
	return func(e *Engine) { e.prices = p }
}

// WithSimulator replaces the local intrinsic-gas simulator.
func WithSimulator(s Simulator) Option {
	return func(e *Engine) { e.simulator = s }
}

// WithSupplementer attaches the remote backend.
func WithSupplementer(s Supplementer) Option {
	return func(e *Engine) { e.supplementer = s }
}

// WithAnalyzers replaces the analyzer set. Order is the merge order.
func WithAnalyzers(analyzers ...Analyzer) Option {
	return func(e *Engine) { e.analyzers = analyzers }
}

// NewEngine creates an engine. Zero config fields take their defaults.
func NewEngine(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.HighValueEther <= 0 {
		cfg.HighValueEther = def.HighValueEther
	}
	if cfg.MediumValueEther <= 0 {
		cfg.MediumValueEther = def.MediumValueEther
	}
	if cfg.GasPriceThresholdGwei <= 0 {
		cfg.GasPriceThresholdGwei = def.GasPriceThresholdGwei
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = def.CacheMaxEntries
	}
	if cfg.AnalyzerTimeout <= 0 {
		cfg.AnalyzerTimeout = def.AnalyzerTimeout
	}

	e := &Engine{
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
		simulator: LocalSimulator{},
		inflight:  syncutil.NewKeyLock(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.analyzers == nil {
		e.analyzers = e.defaultAnalyzers()
	}
	e.cache = cache.New[*Verdict]("analysis", cfg.CacheTTL, cfg.CacheMaxEntries, cache.WithClock(e.now))
	return e
}

// defaultAnalyzers lists the analyzers in merge order.
func (e *Engine) defaultAnalyzers() []Analyzer {
	return []Analyzer{
		newAddressAnalyzer(e.cfg.Denylist),
		&valueAnalyzer{high: e.cfg.HighValueEther, medium: e.cfg.MediumValueEther},
		&contractAnalyzer{source: e.contracts},
		&selectorAnalyzer{source: e.contracts},
		&gasAnalyzer{
			threshold: units.Gwei(e.cfg.GasPriceThresholdGwei),
			advisor:   e.advisor,
			optimize:  e.optimize,
			prices:    e.prices,
		},
		&simulationAnalyzer{sim: e.simulator},
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// ClearCache drops every cached verdict.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// Analyze evaluates tx. Identical requests within the cache TTL return the
// cached verdict without running analyzers again; cached reports that case.
// Concurrent identical requests run the analyzers once; the others wait
// and take the cached verdict. An error is returned for an invalid request
// or when ctx ends while waiting.
func (e *Engine) Analyze(ctx context.Context, tx *TransactionRequest) (*Verdict, bool, error) {
	if err := tx.Validate(); err != nil {
		return nil, false, err
	}

	key := tx.CacheKey()
	if v, ok := e.cache.Get(key); ok {
		e.logger.Debug("analysis cache hit", "to", tx.To.Hex(), "level", v.RiskLevel)
		return v, true, nil
	}

	unlock, err := e.inflight.Lock(ctx, key)
	if err != nil {
		return nil, false, err
	}
	defer unlock()
	if v, ok := e.cache.Get(key); ok {
		return v, true, nil
	}

	ctx, span := traces.StartSpan(ctx, "risk.Analyze", traces.TxTo(tx.To.Hex()), traces.Origin(tx.Origin))
	defer span.End()

	start := e.now()
	v := e.merge(tx, e.fanOut(ctx, tx))

	if e.supplementer != nil {
		e.applySupplement(v, e.supplementer.Supplement(ctx, tx, v))
	}

	v.ComputedAt = e.now()
	v.AnalysisDurationMs = v.ComputedAt.Sub(start).Milliseconds()

	// Degraded verdicts are not cached so a recovered backend is consulted
	// on the next identical request.
	if !v.Degraded {
		e.cache.Put(key, v)
	}

	span.SetAttributes(traces.RiskLevel(v.RiskLevel.String()))
	metrics.AnalysisDuration.Observe(v.ComputedAt.Sub(start).Seconds())
	e.recordAnalysis("transaction", v.RiskLevel)
	return v, false, nil
}

type outcome struct {
	name    string
	partial *Partial
	err     error
}

// fanOut runs every applicable analyzer concurrently and waits for all of
// them. Each task writes only its own slot and never fails the group.
func (e *Engine) fanOut(ctx context.Context, tx *TransactionRequest) []outcome {
	var applicable []Analyzer
	for _, a := range e.analyzers {
		if a.Applies(tx) {
			applicable = append(applicable, a)
		}
	}

	results := make([]outcome, len(applicable))
	var g errgroup.Group
	for i, a := range applicable {
		g.Go(func() error {
			results[i] = e.run(ctx, a, tx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) run(ctx context.Context, a Analyzer, tx *TransactionRequest) (out outcome) {
	out.name = a.Name()
	defer func() {
		if r := recover(); r != nil {
			out.partial = nil
			out.err = fmt.Errorf("analyzer %s panicked: %v", out.name, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.AnalyzerTimeout)
	defer cancel()

	out.partial, out.err = a.Analyze(ctx, tx)
	if out.err == nil && out.partial == nil {
		out.err = errEmptyPartial
	}
	return out
}

// merge combines outcomes in analyzer order, independent of completion order.
func (e *Engine) merge(tx *TransactionRequest, outcomes []outcome) *Verdict {
	level := LevelUnknown
	succeeded := 0
	var factors factorSet
	v := &Verdict{}
	var function *FunctionCall

	for _, o := range outcomes {
		if o.err != nil {
			e.logger.Warn("analyzer failed", "analyzer", o.name, "to", tx.To.Hex(), "error", o.err)
			metrics.AnalyzerFailuresTotal.WithLabelValues(o.name).Inc()
			continue
		}
		succeeded++
		p := o.partial
		level = Max(level, p.Level)
		factors.add(p.Factors...)
		if p.Contract != nil && v.ContractInfo == nil {
			c := *p.Contract
			v.ContractInfo = &c
		}
		if p.Function != nil && function == nil {
			function = p.Function
		}
		if p.Gas != nil && v.GasInfo == nil {
			v.GasInfo = p.Gas
		}
		if p.Simulation != nil && v.Simulation == nil {
			v.Simulation = p.Simulation
		}
	}

	if function != nil {
		if v.ContractInfo == nil {
			v.ContractInfo = &ContractInfo{Address: lowerHex(tx)}
		}
		v.ContractInfo.Function = function
	}

	if succeeded > 0 {
		if tx.HasData() {
			level = Max(level, LevelMedium)
		}
		if factors.has(FactorSuspiciousAddress) {
			level = LevelCritical
		}
	}

	v.RiskLevel = level
	v.RiskFactors = factors.list()
	v.Recommendations = recommendationsFor(subjectTransaction, level, v.RiskFactors)
	return v
}

func (e *Engine) applySupplement(v *Verdict, s *Supplement) {
	if s == nil {
		return
	}
	v.Recommendations = append(v.Recommendations, s.Recommendations...)
	v.Backend = s.Verification
	v.Degraded = s.Degraded
}

func (e *Engine) recordAnalysis(subject string, level Level) {
	metrics.AnalysesTotal.WithLabelValues(subject, level.String()).Inc()
}

func lowerHex(tx *TransactionRequest) string {
	return strings.ToLower(tx.To.Hex())
}

func validationErr(field, msg string) error {
	return validation.ValidationErrors{{Field: field, Message: msg}}
}
