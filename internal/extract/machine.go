package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"lotcli/internal/page"
	"lotcli/internal/retry"
)

const tracerName = "lotcli/extract"

// Options configure a Machine. Zero values fall back to the live-page
// defaults.
type Options struct {
	// PositionsURLFragment must appear in the current page URL for a
	// run to start.
	PositionsURLFragment string

	// Pace is the minimum interval between consecutive targets.
	Pace time.Duration

	// RetryAttempts and RetryBaseDelay bound the per-target retry.
	RetryAttempts  int
	RetryBaseDelay time.Duration

	Timings Timings

	// Sleep substitutes the settle/backoff waits in tests.
	Sleep retry.SleepFunc

	Logger *slog.Logger
}

// DefaultPositionsURLFragment identifies the brokerage positions page.
const DefaultPositionsURLFragment = "client.schwab.com/app/accounts/positions"

// DefaultPace is the wait between consecutive targets; it keeps the host
// page responsive and lets transient UI state settle.
const DefaultPace = 2 * time.Second

// Machine owns the extraction run lifecycle: it discovers targets, walks
// them one at a time through the interaction protocol with retry, merges
// results, persists state after every step, and pushes events to the
// notifier. All run state lives on the instance; a single goroutine (the
// run loop) mutates it.
type Machine struct {
	page     page.Page
	store    Store
	notifier Notifier
	protocol *Protocol
	logger   *slog.Logger
	tracer   trace.Tracer

	urlFragment    string
	retryAttempts  int
	retryBaseDelay time.Duration
	sleep          retry.SleepFunc
	limiter        *rate.Limiter

	mu            sync.Mutex
	running       bool
	stopRequested bool
	progress      Progress
	targets       []page.Target
	processed     map[string]struct{}
	data          *AccumulatedData
	errs          []ErrorEntry
}

// NewMachine wires a machine over its collaborators.
func NewMachine(p page.Page, store Store, notifier Notifier, opts Options) *Machine {
	if opts.PositionsURLFragment == "" {
		opts.PositionsURLFragment = DefaultPositionsURLFragment
	}
	if opts.Pace == 0 {
		opts.Pace = DefaultPace
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = retry.DefaultAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = retry.DefaultBaseDelay
	}
	if opts.Timings == (Timings{}) {
		opts.Timings = DefaultTimings()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limit := rate.Inf
	if opts.Pace > 0 {
		limit = rate.Every(opts.Pace)
	}

	return &Machine{
		page:           p,
		store:          store,
		notifier:       notifier,
		protocol:       NewProtocol(p, opts.Timings, opts.Sleep, opts.Logger),
		logger:         opts.Logger.With(slog.String("component", "extract.machine")),
		tracer:         otel.Tracer(tracerName),
		urlFragment:    opts.PositionsURLFragment,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		sleep:          opts.Sleep,
		limiter:        rate.NewLimiter(limit, 1),
	}
}

// Start begins a new extraction run. It validates the page context,
// discovers targets, resets all run state, persists the initial snapshot
// and launches the run loop. Returns ErrAlreadyRunning, ErrWrongPage or
// ErrNoTargets without mutating state when the run cannot start.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.mu.Unlock()

	loc, err := m.page.URL(ctx)
	if err != nil {
		return fmt.Errorf("could not read page location: %w", err)
	}
	if !strings.Contains(loc, m.urlFragment) {
		m.notifier.RunError("Error: Wrong page", "0/0")
		return fmt.Errorf("%w (at %s)", ErrWrongPage, loc)
	}

	targets, err := m.page.FindTargets(ctx)
	if err != nil {
		return fmt.Errorf("target discovery failed: %w", err)
	}
	if len(targets) == 0 {
		m.notifier.RunError("Error: No positions found", "0/0")
		return ErrNoTargets
	}
	m.logger.Info("discovered targets", slog.Int("count", len(targets)))

	now := time.Now()
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.stopRequested = false
	m.targets = targets
	m.processed = make(map[string]struct{})
	m.data = &AccumulatedData{}
	m.errs = nil
	m.progress = Progress{
		IsRunning:      true,
		CurrentIndex:   0,
		TotalPositions: len(targets),
		LastUpdated:    &now,
	}
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return fmt.Errorf("could not persist initial state: %w", err)
	}

	m.notifier.Progress("Starting extraction...", 0, len(targets))
	go m.run(context.WithoutCancel(ctx))
	return nil
}

// Stop requests a stop. A no-op when no run is in progress. The run loop
// observes the request at the top of its next iteration; an in-flight
// interaction is allowed to finish first.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.stopRequested = true
	return nil
}

// Resume continues an interrupted run when the persisted progress says one
// was in flight. Targets are re-discovered; if none are found the persisted
// running flag is cleared and the machine stays idle without reporting
// completion.
func (m *Machine) Resume(ctx context.Context) error {
	progress, err := m.store.LoadProgress(ctx)
	if err != nil {
		return fmt.Errorf("could not load persisted progress: %w", err)
	}
	if !progress.IsRunning {
		return nil
	}

	m.logger.Info("resuming interrupted extraction",
		slog.Int("current_index", progress.CurrentIndex),
		slog.Int("total_positions", progress.TotalPositions))

	targets, err := m.page.FindTargets(ctx)
	if err != nil {
		return fmt.Errorf("target discovery failed: %w", err)
	}
	if len(targets) == 0 {
		progress.IsRunning = false
		if err := m.store.SaveProgress(ctx, progress); err != nil {
			return fmt.Errorf("could not clear running flag: %w", err)
		}
		m.logger.Warn("no targets found on resume, returning to idle")
		return nil
	}

	data, err := m.store.LoadData(ctx)
	if err != nil {
		return fmt.Errorf("could not load persisted data: %w", err)
	}
	errs, err := m.store.LoadErrors(ctx)
	if err != nil {
		return fmt.Errorf("could not load persisted errors: %w", err)
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.stopRequested = false
	m.targets = targets
	// The processed set is rebuilt empty on resume; within-run dedup
	// restarts from the persisted index. The persisted total is kept even
	// when rediscovery returns a different count, so CurrentIndex never
	// exceeds TotalPositions; the run loop bounds itself by both.
	m.processed = make(map[string]struct{})
	m.data = data
	m.errs = errs
	m.progress = progress
	m.mu.Unlock()

	go m.run(context.WithoutCancel(ctx))
	return nil
}

// State returns the persisted progress snapshot and whether any data has
// been accumulated. Reads go through the store so that callers observe a
// consistent snapshot rather than in-flight run state.
func (m *Machine) State(ctx context.Context) (Progress, bool, error) {
	progress, err := m.store.LoadProgress(ctx)
	if err != nil {
		return Progress{}, false, err
	}
	data, err := m.store.LoadData(ctx)
	if err != nil {
		return Progress{}, false, err
	}
	return progress, data.HasData(), nil
}

// run is the single control loop. Exactly one instance executes at a time.
func (m *Machine) run(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "extraction.run")
	defer span.End()

	for {
		m.mu.Lock()
		if m.stopRequested {
			m.mu.Unlock()
			m.finishStopped(ctx)
			return
		}
		idx := m.progress.CurrentIndex
		total := m.progress.TotalPositions
		// A resumed run can hold fewer rediscovered targets than the
		// persisted total.
		if idx >= total || idx >= len(m.targets) {
			m.mu.Unlock()
			m.finishCompleted(ctx, span)
			return
		}
		target := m.targets[idx]
		m.mu.Unlock()

		if err := m.limiter.Wait(ctx); err != nil {
			m.failRun(ctx, fmt.Errorf("pacing interrupted: %w", err))
			return
		}

		m.notifier.Progress("Processing position...", idx+1, total)
		m.processTarget(ctx, target)

		m.mu.Lock()
		now := time.Now()
		m.progress.CurrentIndex++
		m.progress.LastUpdated = &now
		m.mu.Unlock()

		if err := m.persist(ctx); err != nil {
			m.failRun(ctx, fmt.Errorf("could not persist step: %w", err))
			return
		}
	}
}

// processTarget runs the retry-wrapped protocol for one target and folds
// the outcome into the run state. The composite key is marked processed
// once an interaction attempt was actually made, success or not, so later
// duplicates of the same position are skipped.
func (m *Machine) processTarget(ctx context.Context, target page.Target) {
	ctx, span := m.tracer.Start(ctx, "extraction.target",
		trace.WithAttributes(
			attribute.String("account_id", target.AccountID),
			attribute.String("symbol", target.Symbol),
		))
	defer span.End()

	if err := m.page.Highlight(ctx, target); err != nil {
		m.logger.Debug("highlight failed", slog.String("error", err.Error()))
	}
	defer func() {
		if err := m.page.Unhighlight(ctx, target); err != nil {
			m.logger.Debug("unhighlight failed", slog.String("error", err.Error()))
		}
	}()

	m.mu.Lock()
	processed := m.processed
	m.mu.Unlock()

	outcome, err := retry.Do(ctx, m.retryAttempts, m.retryBaseDelay, m.sleep,
		func(ctx context.Context) (Outcome, error) {
			return m.protocol.ExtractOne(ctx, target, processed)
		})

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.logger.Error("target failed after retries",
			slog.String("account_id", target.AccountID),
			slog.String("symbol", target.Symbol),
			slog.String("error", err.Error()))
		m.errs = append(m.errs, ErrorEntry{
			Timestamp: time.Now(),
			AccountID: orUnknown(target.AccountID),
			Symbol:    orUnknown(target.Symbol),
			Error:     err.Error(),
		})
		m.processed[target.Key()] = struct{}{}
		return
	}

	if outcome.AlreadyProcessed {
		return
	}

	m.data.Merge(outcome.AccountID, outcome.Symbol, outcome.Lots)
	m.processed[target.Key()] = struct{}{}
}

func (m *Machine) finishStopped(ctx context.Context) {
	m.mu.Lock()
	m.progress.IsRunning = false
	now := time.Now()
	m.progress.LastUpdated = &now
	ratio := m.progress.Ratio()
	hasData := m.data.HasData()
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		m.logger.Error("could not persist stopped state", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.running = false
	m.stopRequested = false
	m.mu.Unlock()

	m.logger.Info("extraction stopped", slog.String("progress", ratio))
	m.notifier.Stopped(ratio, hasData)
}

func (m *Machine) finishCompleted(ctx context.Context, span trace.Span) {
	m.mu.Lock()
	m.progress.IsRunning = false
	now := time.Now()
	m.progress.LastUpdated = &now
	summary := Summary{
		Total:     m.progress.TotalPositions,
		Symbols:   m.data.SymbolCount(),
		Positions: m.data.LotCount(),
		Errors:    len(m.errs),
	}
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		m.logger.Error("could not persist completed state", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	span.SetAttributes(
		attribute.Int("targets", summary.Total),
		attribute.Int("symbols", summary.Symbols),
		attribute.Int("lots", summary.Positions),
		attribute.Int("errors", summary.Errors),
	)
	m.logger.Info("extraction complete",
		slog.Int("targets", summary.Total),
		slog.Int("symbols", summary.Symbols),
		slog.Int("lots", summary.Positions),
		slog.Int("errors", summary.Errors))
	m.notifier.Completed(summary)
}

// failRun aborts the loop on a run-level failure (persistence, cancelled
// pacing). The persisted snapshot keeps whatever was last written.
func (m *Machine) failRun(ctx context.Context, err error) {
	m.mu.Lock()
	ratio := m.progress.Ratio()
	m.running = false
	m.stopRequested = false
	m.mu.Unlock()

	m.logger.Error("extraction aborted", slog.String("error", err.Error()))
	m.notifier.RunError(err.Error(), ratio)
}

// persist writes all three slots. Called after every step; a failure is
// fatal to the current operation.
func (m *Machine) persist(ctx context.Context) error {
	m.mu.Lock()
	progress := m.progress
	data := m.data
	errs := append([]ErrorEntry(nil), m.errs...)
	m.mu.Unlock()

	if err := m.store.SaveProgress(ctx, progress); err != nil {
		return err
	}
	if err := m.store.SaveData(ctx, data); err != nil {
		return err
	}
	return m.store.SaveErrors(ctx, errs)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
