// Package netmon watches connectivity, classifies link quality, and decides
// when the engine runs a queue-processing pass. It guarantees at most one
// pass in flight and suppresses triggers that arrive inside the cooldown
// window of the previous attempt.
package netmon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxsync/voxsync/internal/connectivity"
	"github.com/voxsync/voxsync/internal/metrics"
	"github.com/voxsync/voxsync/internal/types"
)

var (
	// ErrOffline is returned by SyncNow when no connection is available.
	ErrOffline = errors.New("cannot sync: not connected")

	// ErrSyncInProgress is returned by SyncNow when a pass is already
	// running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrCooldown is returned by SyncNow when the previous attempt was too
	// recent.
	ErrCooldown = errors.New("sync attempted too recently")
)

// Engine is the queue-processing dependency of the monitor.
type Engine interface {
	ProcessQueue(ctx context.Context) (types.SyncResult, error)
	Stats(ctx context.Context) (types.OperationStats, error)
}

// Options holds the monitor's scheduling knobs.
type Options struct {
	// Interval between periodic trigger checks.
	Interval time.Duration
	// Cooldown is the minimum spacing between sync attempts.
	Cooldown time.Duration
	// PostMutationDelay is how long after an enqueue the post-mutation
	// trigger fires.
	PostMutationDelay time.Duration
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 5 * time.Second
	}
	if o.PostMutationDelay <= 0 {
		o.PostMutationDelay = 2 * time.Second
	}
}

// Monitor observes connectivity and orchestrates sync passes. Construct one
// per process and inject it; it keeps no global state.
type Monitor struct {
	engine    Engine
	source    connectivity.Source
	collector *metrics.Collector
	opts      Options
	now       func() time.Time

	// syncing is the single-flight guard: set with one compare-and-swap
	// before any suspension point, cleared when the pass finishes.
	syncing atomic.Bool
	skipped atomic.Int64

	mu            sync.RWMutex
	state         types.NetworkState
	status        types.SyncStatus
	observedOnce  bool
	lastAttemptAt time.Time
	runCtx        context.Context
}

// NewMonitor creates a network monitor. collector may be nil.
func NewMonitor(engine Engine, source connectivity.Source, collector *metrics.Collector, opts Options) *Monitor {
	opts.applyDefaults()
	return &Monitor{
		engine:    engine,
		source:    source,
		collector: collector,
		opts:      opts,
		now:       time.Now,
		state:     types.NetworkState{Quality: types.QualityOffline},
	}
}

// ClassifyQuality derives connection quality from a raw connectivity signal.
// Pure function of the signal; no hidden state.
func ClassifyQuality(sig connectivity.Signal) types.ConnectionQuality {
	if !sig.IsConnected || !sig.IsInternetReachable {
		return types.QualityOffline
	}
	switch sig.Transport {
	case connectivity.TransportWifi, connectivity.TransportEthernet:
		return types.QualityExcellent
	case connectivity.TransportCellular:
		return types.QualityGood
	}
	return types.QualityPoor
}

// Run consumes connectivity signals and drives the periodic trigger until
// ctx is cancelled. Blocks; run it in a worker goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	signals := m.source.Signals()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			m.handleSignal(ctx, sig)
		case <-ticker.C:
			m.periodic(ctx)
		}
	}
}

// handleSignal folds one connectivity observation into the network state and
// fires the recovery trigger on an offline-to-online transition (including
// the very first online observation).
func (m *Monitor) handleSignal(ctx context.Context, sig connectivity.Signal) {
	quality := ClassifyQuality(sig)
	online := quality != types.QualityOffline

	m.mu.Lock()
	wasOnline := m.state.IsOnline
	first := !m.observedOnce
	m.observedOnce = true

	m.state.IsOnline = online
	m.state.Quality = quality
	if online {
		now := m.now()
		m.state.LastOnlineAt = &now
	}
	m.mu.Unlock()

	if online != wasOnline || first {
		slog.Info("network state changed",
			"component", "netmon",
			"online", online,
			"quality", string(quality),
		)
	}

	if online && (!wasOnline || first) {
		m.runPass(ctx, "recovery")
	}
}

// periodic fires the timer trigger: only when connectivity is acceptable and
// the queue holds runnable work.
func (m *Monitor) periodic(ctx context.Context) {
	state := m.NetworkState()
	if !state.IsOnline || state.Quality == types.QualityPoor {
		return
	}

	stats, err := m.engine.Stats(ctx)
	if err != nil {
		slog.Error("failed to read queue stats",
			"component", "netmon",
			"error", err,
		)
		return
	}
	if m.collector != nil {
		m.collector.SetQueueDepth(stats)
	}
	if stats.Runnable == 0 {
		return
	}

	m.runPass(ctx, "periodic")
}

// NotifyMutation schedules a post-mutation trigger shortly after an enqueue,
// without blocking the caller. Suppressed while offline or on a poor link.
func (m *Monitor) NotifyMutation() {
	state := m.NetworkState()
	if !state.IsOnline || state.Quality == types.QualityPoor {
		return
	}

	m.mu.RLock()
	ctx := m.runCtx
	m.mu.RUnlock()
	if ctx == nil {
		return
	}

	go func() {
		timer := time.NewTimer(m.opts.PostMutationDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			m.runPass(ctx, "post_mutation")
		}
	}()
}

// SyncNow runs a manual pass. It is the only trigger that surfaces errors:
// ErrOffline when not connected, ErrSyncInProgress when single-flighted,
// ErrCooldown inside the cooldown window, and any pass error otherwise.
func (m *Monitor) SyncNow(ctx context.Context) (types.SyncResult, error) {
	if !m.NetworkState().IsOnline {
		return types.SyncResult{}, ErrOffline
	}
	return m.trigger(ctx, "manual")
}

// runPass executes an automatic trigger, logging rather than propagating
// errors.
func (m *Monitor) runPass(ctx context.Context, trig string) {
	if _, err := m.trigger(ctx, trig); err != nil {
		if errors.Is(err, ErrSyncInProgress) || errors.Is(err, ErrCooldown) {
			return // already recorded as a skip
		}
		slog.Error("sync pass failed",
			"component", "netmon",
			"trigger", trig,
			"error", err,
		)
	}
}

// trigger enforces single-flight and cooldown, then runs one pass. The
// single-flight flag is claimed in one unsuspended compare-and-swap before
// any other work; a losing trigger is dropped, never queued.
func (m *Monitor) trigger(ctx context.Context, trig string) (types.SyncResult, error) {
	if !m.syncing.CompareAndSwap(false, true) {
		m.recordSkip(trig, "in_flight")
		return types.SyncResult{}, ErrSyncInProgress
	}
	defer m.syncing.Store(false)

	start := m.now()

	m.mu.Lock()
	if !m.lastAttemptAt.IsZero() && start.Sub(m.lastAttemptAt) < m.opts.Cooldown {
		m.mu.Unlock()
		m.recordSkip(trig, "cooldown")
		return types.SyncResult{}, ErrCooldown
	}
	m.lastAttemptAt = start
	m.status.IsSyncing = true
	m.mu.Unlock()

	slog.Info("sync pass started",
		"component", "netmon",
		"trigger", trig,
	)

	result, err := m.engine.ProcessQueue(ctx)
	elapsed := m.now().Sub(start)

	finished := m.now()
	m.mu.Lock()
	m.status.IsSyncing = false
	m.status.LastSyncAt = &finished
	if err != nil {
		m.status.LastSyncError = err.Error()
		m.status.LastSyncResult = nil
	} else {
		m.status.LastSyncError = ""
		m.status.LastSyncResult = &result
	}
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.RecordPass(trig, result, err, elapsed)
		if stats, statsErr := m.engine.Stats(ctx); statsErr == nil {
			m.collector.SetQueueDepth(stats)
		}
	}

	if err != nil {
		return result, err
	}

	slog.Info("sync pass completed",
		"component", "netmon",
		"trigger", trig,
		"total", result.TotalOperations,
		"succeeded", result.SuccessCount,
		"failed", result.FailedCount,
		"conflicts", result.ConflictCount,
		"elapsed", elapsed.String(),
	)

	return result, nil
}

func (m *Monitor) recordSkip(trig, reason string) {
	m.skipped.Add(1)
	if m.collector != nil {
		m.collector.RecordSkip(reason)
	}
	slog.Debug("sync trigger skipped",
		"component", "netmon",
		"trigger", trig,
		"reason", reason,
	)
}

// Status returns the observational sync snapshot for the presentation layer.
func (m *Monitor) Status() types.SyncStatus {
	m.mu.RLock()
	status := m.status
	m.mu.RUnlock()

	status.SkippedCount = m.skipped.Load()
	if status.LastSyncResult != nil {
		res := *status.LastSyncResult
		status.LastSyncResult = &res
	}
	return status
}

// NetworkState returns the current connectivity view. OfflineDuration is
// computed against the last time the link was seen online.
func (m *Monitor) NetworkState() types.NetworkState {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	if !state.IsOnline && state.LastOnlineAt != nil {
		state.OfflineDuration = m.now().Sub(*state.LastOnlineAt)
	}
	return state
}
