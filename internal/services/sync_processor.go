package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gastos/internal/core"
)

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often to look for pending pushes (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of pushes per poll cycle (default: 10)
	BatchSize int

	// ReconcileInterval is how often every owner's mirror is reconciled and
	// repaired (default: 1h, 0 disables)
	ReconcileInterval time.Duration
}

func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:      10 * time.Second,
		BatchSize:         10,
		ReconcileInterval: 1 * time.Hour,
	}
}

// PendingLedger is the part of the ledger the processor polls.
type PendingLedger interface {
	PendingMirror(ctx context.Context, limit int) ([]core.Transaction, error)
	Owners(ctx context.Context) ([]int64, error)
}

// SyncProcessor retries mirror pushes the ledger still has pending and
// periodically repairs drift. It is the fallback for lost queue messages
// and the only mirror driver when no queue is configured.
type SyncProcessor struct {
	ledger PendingLedger
	mirror Mirror
	config SyncProcessorConfig

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	stopOnce *sync.Once
	doneCh   chan struct{}
}

func NewSyncProcessor(ledger PendingLedger, mirror Mirror, config SyncProcessorConfig) *SyncProcessor {
	def := DefaultSyncProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &SyncProcessor{ledger: ledger, mirror: mirror, config: config}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.stopOnce = new(sync.Once)
	p.doneCh = make(chan struct{})
	stop, done := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stop, done)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
		"reconcile_interval", p.config.ReconcileInterval)
	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stop, once, done := p.stopCh, p.stopOnce, p.doneCh
	p.mu.Unlock()

	once.Do(func() { close(stop) })

	select {
	case <-done:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}
}

func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// runLoop clears running on exit, whether it was stopped or its context
// ended, so the processor can be started again.
func (p *SyncProcessor) runLoop(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(done)
	}()

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	var reconcileC <-chan time.Time
	if p.config.ReconcileInterval > 0 {
		reconcileTicker := time.NewTicker(p.config.ReconcileInterval)
		defer reconcileTicker.Stop()
		reconcileC = reconcileTicker.C
	}

	p.ProcessBatch(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.ProcessBatch(ctx)
		case <-reconcileC:
			p.ReconcileAll(ctx)
		}
	}
}

// ProcessBatch pushes one batch of pending transactions in ID order and
// returns how many succeeded.
func (p *SyncProcessor) ProcessBatch(ctx context.Context) int {
	items, err := p.ledger.PendingMirror(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load pending mirror pushes", "error", err)
		return 0
	}
	if len(items) == 0 {
		return 0
	}
	slog.DebugContext(ctx, "Processing pending mirror pushes", "count", len(items))

	p.mu.Lock()
	stop := p.stopCh
	p.mu.Unlock()

	synced := 0
	for _, tx := range items {
		select {
		case <-stop:
			return synced
		case <-ctx.Done():
			return synced
		default:
		}
		// Push records the failure in the ledger; the attempt cap there
		// stops endless retries.
		if err := p.mirror.Push(ctx, tx); err != nil {
			continue
		}
		synced++
	}
	return synced
}

// ReconcileAll runs a clean pass for every owner with transactions.
func (p *SyncProcessor) ReconcileAll(ctx context.Context) {
	owners, err := p.ledger.Owners(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list owners for reconciliation", "error", err)
		return
	}
	for _, owner := range owners {
		if ctx.Err() != nil {
			return
		}
		report, err := p.mirror.CleanInconsistencies(ctx, owner)
		if err != nil {
			slog.WarnContext(ctx, "Scheduled mirror clean failed", "owner_id", owner, "error", err)
			continue
		}
		if report.RePushed+report.Removed > 0 {
			slog.InfoContext(ctx, "Scheduled mirror clean repaired drift",
				"owner_id", owner,
				"repushed", report.RePushed,
				"removed", report.Removed)
		}
	}
}
