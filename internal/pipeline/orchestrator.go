package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/cache"
	"github.com/orbitlabs/orbit/internal/metrics"
	"github.com/orbitlabs/orbit/internal/policy/breaker"
	"github.com/orbitlabs/orbit/internal/policy/ratelimit"
	"github.com/orbitlabs/orbit/internal/policy/retry"
	"github.com/orbitlabs/orbit/internal/progress"
)

// Stage progress milestones. Fixed percentages so listeners can rely on a
// stable, monotonically non-decreasing sequence within a run.
const (
	pctInitialized   = 0
	pctFetchStart    = 20
	pctFetchDone     = 40
	pctExtractStart  = 50
	pctExtractDone   = 70
	pctValidateStart = 75
	pctValidateDone  = 80
	pctRenderStart   = 85
	pctRenderDone    = 95
	pctCompleted     = 100
)

// Config tunes one Orchestrator. Zero values fall back to the defaults below.
type Config struct {
	// CacheTTL is the lifetime of artifacts written on success; 0 disables
	// both cache reads and writes (the no_cache strategy).
	CacheTTL time.Duration
	// FreshnessWindow, when positive, is a stricter max-age applied to cache
	// reads on top of TTL expiry.
	FreshnessWindow time.Duration

	// Per-stage remote call timeouts.
	FetchTimeout   time.Duration
	ExtractTimeout time.Duration
	RenderTimeout  time.Duration

	// Retry policy shared by the remote stages.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Breaker policy shared by the remote stages; one breaker per stage.
	FailureThreshold int
	RecoveryTimeout  time.Duration

	// Rate limiter resource keys per remote stage.
	FetchResource   string
	ExtractResource string
	RenderResource  string

	// RefreshAhead schedules a forced re-run one TTL after each successful
	// run so the next reader rarely misses.
	RefreshAhead bool
	// PublishTopic, when set together with a Publisher, receives one
	// notification per terminal run event.
	PublishTopic string
}

const (
	defaultFetchTimeout   = 60 * time.Second
	defaultExtractTimeout = 90 * time.Second
	defaultRenderTimeout  = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = defaultExtractTimeout
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = defaultRenderTimeout
	}
	if c.FetchResource == "" {
		c.FetchResource = "fetch"
	}
	if c.ExtractResource == "" {
		c.ExtractResource = "llm"
	}
	if c.RenderResource == "" {
		c.RenderResource = "render"
	}
	return c
}

// Deps are the orchestrator's collaborators, injected explicitly. Publisher
// and Emitter are optional; everything else is required.
type Deps struct {
	Fetcher   Fetcher
	Extractor Extractor
	Validator Validator
	Renderer  Renderer

	Cache   *cache.Cache
	Limiter *ratelimit.Limiter
	Clock   Clock
	Hasher  Hasher
	IDs     IDGenerator

	Publisher Publisher
	Emitter   progress.Emitter
	Logger    *zap.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Fetcher == nil:
		return fmt.Errorf("orchestrator deps: fetcher is required")
	case d.Extractor == nil:
		return fmt.Errorf("orchestrator deps: extractor is required")
	case d.Validator == nil:
		return fmt.Errorf("orchestrator deps: validator is required")
	case d.Renderer == nil:
		return fmt.Errorf("orchestrator deps: renderer is required")
	case d.Cache == nil:
		return fmt.Errorf("orchestrator deps: cache is required")
	case d.Limiter == nil:
		return fmt.Errorf("orchestrator deps: rate limiter is required")
	case d.Clock == nil:
		return fmt.Errorf("orchestrator deps: clock is required")
	case d.Hasher == nil:
		return fmt.Errorf("orchestrator deps: hasher is required")
	case d.IDs == nil:
		return fmt.Errorf("orchestrator deps: id generator is required")
	}
	return nil
}

// RunOptions adjust a single Run invocation.
type RunOptions struct {
	// ForceRefresh skips the cache read (the write still happens).
	ForceRefresh bool
}

// Run is the caller's handle on one in-flight pipeline invocation.
type Run struct {
	ID         uuid.UUID
	SubjectKey string
	Variant    string

	stream *progress.Stream
	cancel context.CancelFunc
}

// Events delivers the run's progress in strict stage order; the channel closes
// after the terminal event.
func (r *Run) Events() <-chan progress.Event {
	return r.stream.Events()
}

// Cancel requests cancellation, observed at the next stage boundary.
func (r *Run) Cancel() {
	r.cancel()
}

// Orchestrator drives the fetch, extract, validate, render pipeline for one
// subject at a time per invocation, with any number of invocations in flight
// concurrently. Rate limiter, breakers and cache are shared process-wide
// state; each run owns only its own stream and state machine.
//
// Two concurrent cache-miss runs for the same key may both execute the full
// pipeline; the last cache write wins. There is deliberately no single-flight
// guard, matching the source system's behavior.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	fetchBreaker   *breaker.Breaker
	extractBreaker *breaker.Breaker
	renderBreaker  *breaker.Breaker

	refresher *RefreshScheduler

	mu     sync.Mutex
	active map[uuid.UUID]*Run
	wg     sync.WaitGroup
	closed bool
}

// New builds an Orchestrator. The refresh scheduler is started even when
// RefreshAhead is off so Close has a single shutdown path.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	newBreaker := func(op string) *breaker.Breaker {
		return breaker.New(breaker.Config{
			Operation:        op,
			FailureThreshold: cfg.FailureThreshold,
			RecoveryTimeout:  cfg.RecoveryTimeout,
		}, logger)
	}
	return &Orchestrator{
		cfg:            cfg,
		deps:           deps,
		logger:         logger,
		fetchBreaker:   newBreaker("fetch"),
		extractBreaker: newBreaker("extract"),
		renderBreaker:  newBreaker("render"),
		refresher:      NewRefreshScheduler(logger),
		active:         make(map[uuid.UUID]*Run),
	}, nil
}

// Run starts a pipeline invocation and returns its handle immediately. The
// run executes on its own goroutine; progress arrives on the handle's stream.
func (o *Orchestrator) Run(ctx context.Context, subjectKey, variant string, opts RunOptions) (*Run, error) {
	if subjectKey == "" {
		return nil, Permanentf("subject key is required")
	}
	if variant == "" {
		variant = "standard"
	}

	rawID, err := o.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("mint run id: %w", err)
	}
	runID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", rawID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:         runID,
		SubjectKey: subjectKey,
		Variant:    variant,
		stream:     progress.NewStream(),
		cancel:     cancel,
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("orchestrator is shut down")
	}
	o.active[runID] = run
	o.wg.Add(1)
	o.mu.Unlock()

	metrics.IncActiveRuns()
	go func() {
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.active, runID)
			o.mu.Unlock()
			o.wg.Done()
			metrics.DecActiveRuns()
		}()
		o.execute(runCtx, run, opts)
	}()
	return run, nil
}

// CancelRun cancels the in-flight run with the given ID, reporting whether
// such a run existed. Used by the HTTP cancel endpoint.
func (o *Orchestrator) CancelRun(runID uuid.UUID) bool {
	o.mu.Lock()
	run, ok := o.active[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	run.Cancel()
	return true
}

// Cached returns the cached artifact for (subjectKey, variant) without
// triggering a run.
func (o *Orchestrator) Cached(ctx context.Context, subjectKey, variant string) (Artifact, bool) {
	if o.cfg.CacheTTL <= 0 {
		return Artifact{}, false
	}
	raw, ok := o.deps.Cache.Get(ctx, CacheKey(subjectKey, variant))
	if !ok {
		return Artifact{}, false
	}
	var artifact Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		o.logger.Warn("cached artifact undecodable",
			zap.String("subject", subjectKey),
			zap.String("variant", variant),
			zap.Error(err),
		)
		return Artifact{}, false
	}
	return artifact, true
}

// Close cancels pending background refreshes and waits for in-flight runs to
// reach a terminal event, honoring ctx.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, run := range o.active {
		run.Cancel()
	}
	o.mu.Unlock()

	if err := o.refresher.Close(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator close wait: %w", ctx.Err())
	}
}

// runState carries the mutable bits of one executing run.
type runState struct {
	run     *Run
	started time.Time
	lastPct float64
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, opts RunOptions) {
	st := &runState{run: run, started: o.deps.Clock.Now()}

	o.emit(st, StageInitialized, pctInitialized, "Pipeline initialized", nil, nil, nil)

	key := CacheKey(run.SubjectKey, run.Variant)
	if !opts.ForceRefresh && o.cfg.CacheTTL > 0 {
		if raw, ok := o.cachedRaw(ctx, key); ok {
			o.emit(st, StageCompleted, pctCompleted, "Served from cache",
				map[string]any{"cache_hit": true}, raw, nil)
			metrics.ObserveRun("cached")
			o.notify(run, string(StageCompleted))
			return
		}
	}

	if o.checkpoint(ctx, st) {
		return
	}

	// FETCHING
	o.emit(st, StageFetching, pctFetchStart, "Fetching pages", nil, nil, nil)
	bundle, err := timeStage(o, StageFetching, func() (PageBundle, error) {
		return callGuarded(ctx, o, o.fetchBreaker, o.cfg.FetchResource, o.cfg.FetchTimeout,
			func(ctx context.Context) (PageBundle, error) {
				return o.deps.Fetcher.Fetch(ctx, run.SubjectKey)
			})
	})
	if err != nil {
		o.fail(ctx, st, StageFetching, err)
		return
	}
	o.emit(st, StageFetching, pctFetchDone, "Pages fetched",
		map[string]any{"pages": len(bundle.Pages)}, nil, nil)

	if o.checkpoint(ctx, st) {
		return
	}

	// EXTRACTING
	o.emit(st, StageExtracting, pctExtractStart, "Extracting structured data", nil, nil, nil)
	record, err := timeStage(o, StageExtracting, func() (StructuredRecord, error) {
		return callGuarded(ctx, o, o.extractBreaker, o.cfg.ExtractResource, o.cfg.ExtractTimeout,
			func(ctx context.Context) (StructuredRecord, error) {
				return o.deps.Extractor.Extract(ctx, bundle)
			})
	})
	if err != nil {
		o.fail(ctx, st, StageExtracting, err)
		return
	}
	o.emit(st, StageExtracting, pctExtractDone, "Extraction complete", nil, nil, nil)

	if o.checkpoint(ctx, st) {
		return
	}

	// VALIDATING: pure, local, no guard.
	o.emit(st, StageValidating, pctValidateStart, "Validating record", nil, nil, nil)
	report := o.deps.Validator.Validate(record)
	o.emit(st, StageValidating, pctValidateDone, "Validation complete",
		map[string]any{"score": report.Score, "issues": len(report.Issues)}, nil, nil)

	if o.checkpoint(ctx, st) {
		return
	}

	// RENDERING
	o.emit(st, StageRendering, pctRenderStart, "Rendering dashboard", nil, nil, nil)
	artifact, err := timeStage(o, StageRendering, func() (Artifact, error) {
		return callGuarded(ctx, o, o.renderBreaker, o.cfg.RenderResource, o.cfg.RenderTimeout,
			func(ctx context.Context) (Artifact, error) {
				return o.deps.Renderer.Render(ctx, record, run.Variant)
			})
	})
	if err != nil {
		o.fail(ctx, st, StageRendering, err)
		return
	}
	o.emit(st, StageRendering, pctRenderDone, "Dashboard rendered", nil, nil, nil)

	if o.checkpoint(ctx, st) {
		return
	}

	artifact = o.finalize(artifact, run, bundle, report)
	raw, err := json.Marshal(artifact)
	if err != nil {
		o.fail(ctx, st, StageRendering, Permanentf("encode artifact: %v", err))
		return
	}

	if o.cfg.CacheTTL > 0 {
		o.deps.Cache.Set(ctx, key, raw, o.cfg.CacheTTL, artifact.QualityTag, artifact.ContentHash)
		if o.cfg.RefreshAhead {
			o.scheduleRefresh(key, run.SubjectKey, run.Variant)
		}
	}

	o.emit(st, StageCompleted, pctCompleted, "Pipeline completed",
		map[string]any{"score": report.Score, "quality_tag": artifact.QualityTag}, raw, nil)
	metrics.ObserveRun("completed")
	o.notify(run, string(StageCompleted))
	o.logger.Info("pipeline run completed",
		zap.String("run_id", run.ID.String()),
		zap.String("subject", run.SubjectKey),
		zap.String("variant", run.Variant),
		zap.Int("score", report.Score),
		zap.Duration("elapsed", o.deps.Clock.Now().Sub(st.started)),
	)
}

// finalize stamps the run's validation and provenance metadata onto the
// rendered artifact.
func (o *Orchestrator) finalize(artifact Artifact, run *Run, bundle PageBundle, report ValidationReport) Artifact {
	artifact.SubjectKey = run.SubjectKey
	artifact.Variant = run.Variant
	artifact.GeneratedAt = o.deps.Clock.Now()
	artifact.ValidationScore = report.Score
	artifact.Issues = report.Issues
	artifact.QualityTag = QualityTag(report.Score)
	artifact.PagesAnalyzed = len(bundle.Pages)
	if hash, err := o.deps.Hasher.Hash([]byte(artifact.Markdown)); err == nil {
		artifact.ContentHash = hash
	} else {
		o.logger.Warn("artifact content hash failed", zap.Error(err))
	}
	return artifact
}

func (o *Orchestrator) cachedRaw(ctx context.Context, key string) (json.RawMessage, bool) {
	var opts []cache.GetOption
	if o.cfg.FreshnessWindow > 0 {
		opts = append(opts, cache.MaxAge(o.cfg.FreshnessWindow))
	}
	return o.deps.Cache.Get(ctx, key, opts...)
}

// checkpoint reports whether the run was cancelled, emitting the terminal
// CANCELLED event when so. Cancellation is only observed here, at stage
// boundaries, never mid-remote-call.
func (o *Orchestrator) checkpoint(ctx context.Context, st *runState) bool {
	if ctx.Err() == nil {
		return false
	}
	o.emit(st, StageCancelled, st.lastPct, "Pipeline cancelled", nil, nil, nil)
	metrics.ObserveRun("cancelled")
	o.notify(st.run, string(StageCancelled))
	o.logger.Info("pipeline run cancelled",
		zap.String("run_id", st.run.ID.String()),
		zap.String("subject", st.run.SubjectKey),
	)
	return true
}

// fail emits the terminal FAILED event. The failing stage and classified kind
// travel in the event; the cache is left untouched.
func (o *Orchestrator) fail(ctx context.Context, st *runState, stage Stage, err error) {
	if ctx.Err() != nil && o.checkpoint(ctx, st) {
		return
	}
	stageErr := NewStageError(stage, err)
	o.emit(st, StageFailed, st.lastPct, stageErr.Error(), nil, nil, &progress.ErrInfo{
		Stage:   string(stage),
		Kind:    string(stageErr.Kind),
		Message: err.Error(),
	})
	metrics.ObserveRun("failed")
	o.notify(st.run, string(StageFailed))
	o.logger.Warn("pipeline run failed",
		zap.String("run_id", st.run.ID.String()),
		zap.String("subject", st.run.SubjectKey),
		zap.String("stage", string(stage)),
		zap.String("kind", string(stageErr.Kind)),
		zap.Error(err),
	)
}

func (o *Orchestrator) emit(st *runState, stage Stage, pct float64, msg string,
	metadata map[string]any, artifact json.RawMessage, errInfo *progress.ErrInfo) {
	if pct < st.lastPct {
		pct = st.lastPct
	}
	st.lastPct = pct
	evt := progress.Event{
		RunID:      st.run.ID,
		SubjectKey: st.run.SubjectKey,
		Variant:    st.run.Variant,
		Stage:      string(stage),
		Pct:        pct,
		Message:    msg,
		TS:         o.deps.Clock.Now().UTC(),
		Metadata:   metadata,
		Artifact:   artifact,
		Err:        errInfo,
		Terminal:   stage.Terminal(),
	}
	st.run.stream.Push(evt)
	if o.deps.Emitter != nil {
		o.deps.Emitter.Emit(evt)
	}
}

// notify publishes a terminal-run notification when a publisher is wired.
// Publish failures are logged and never affect the run outcome.
func (o *Orchestrator) notify(run *Run, status string) {
	if o.deps.Publisher == nil || o.cfg.PublishTopic == "" {
		return
	}
	payload := map[string]any{
		"run_id":      run.ID.String(),
		"subject_key": run.SubjectKey,
		"variant":     run.Variant,
		"status":      status,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.PublishTopic, payload); err != nil {
		o.logger.Warn("run notification publish failed",
			zap.String("run_id", run.ID.String()),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) scheduleRefresh(key, subjectKey, variant string) {
	o.refresher.Schedule(key, o.cfg.CacheTTL, func(ctx context.Context) {
		run, err := o.Run(ctx, subjectKey, variant, RunOptions{ForceRefresh: true})
		if err != nil {
			o.logger.Warn("background refresh start failed",
				zap.String("subject", subjectKey),
				zap.String("variant", variant),
				zap.Error(err),
			)
			return
		}
		// Background runs have no interactive consumer.
		run.stream.Drain()
	})
}

// callGuarded runs one remote stage operation through the full resilience
// stack: rate limiter admission, then retry around the breaker-guarded call,
// each attempt under its own timeout. Breaker-open errors are classified
// non-retryable by the Retryable wiring.
func callGuarded[T any](ctx context.Context, o *Orchestrator, br *breaker.Breaker,
	resource string, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {

	var zero T
	if err := o.deps.Limiter.Acquire(ctx, resource, 1); err != nil {
		return zero, err
	}
	policy := retry.Policy{
		Operation:   resource,
		MaxAttempts: o.cfg.MaxAttempts,
		BaseDelay:   o.cfg.BaseDelay,
		MaxDelay:    o.cfg.MaxDelay,
		Retryable:   Retryable,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			o.logger.Debug("stage attempt failed, retrying",
				zap.String("resource", resource),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}
	return retry.Do(ctx, policy, func(ctx context.Context) (T, error) {
		return breaker.Call(br, func() (T, error) {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return op(callCtx)
		})
	})
}

// timeStage observes the stage duration histogram around fn.
func timeStage[T any](o *Orchestrator, stage Stage, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	metrics.ObserveStage(string(stage), time.Since(start))
	return out, err
}
