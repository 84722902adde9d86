package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gastos/internal/amqp"
	"gastos/internal/core"
)

// Ledger is what the worker reads before pushing.
type Ledger interface {
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	PendingMirror(ctx context.Context, limit int) ([]core.Transaction, error)
}

type Mirror interface {
	Push(ctx context.Context, t core.Transaction) error
	CleanInconsistencies(ctx context.Context, ownerID int64) (core.CleanReport, error)
}

// SyncWorker applies queued mirror work from AMQP.
type SyncWorker struct {
	ledger    Ledger
	mirror    Mirror
	batchSize int
}

func NewSyncWorker(ledger Ledger, mirror Mirror, batchSize int) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &SyncWorker{ledger: ledger, mirror: mirror, batchSize: batchSize}
}

// HandleMessage processes one queued message. Messages about transactions
// that no longer exist are dropped.
func (w *SyncWorker) HandleMessage(ctx context.Context, msg *amqp.MirrorMessage) error {
	slog.InfoContext(ctx, "Processing mirror message",
		"message_id", msg.MessageID,
		"kind", msg.Kind,
		"owner_id", msg.OwnerID,
		"transaction_id", msg.TransactionID)

	switch msg.Kind {
	case amqp.KindPush:
		tx, err := w.ledger.GetTransaction(ctx, msg.TransactionID)
		if errors.Is(err, core.ErrNotFound) {
			slog.WarnContext(ctx, "Transaction no longer in ledger, dropping push", "transaction_id", msg.TransactionID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("get transaction: %w", err)
		}
		if err := w.mirror.Push(ctx, tx); err != nil {
			return fmt.Errorf("push transaction %d: %w", tx.ID, err)
		}
		return nil
	case amqp.KindClean:
		report, err := w.mirror.CleanInconsistencies(ctx, msg.OwnerID)
		if err != nil {
			return fmt.Errorf("clean owner %d: %w", msg.OwnerID, err)
		}
		slog.InfoContext(ctx, "Mirror clean finished",
			"owner_id", msg.OwnerID,
			"repushed", report.RePushed,
			"removed", report.Removed,
			"failures", report.Failures)
		return nil
	}
	return fmt.Errorf("unknown message kind %q", msg.Kind)
}

// StartupSyncCheck pushes anything left pending while the worker was down.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	pending, err := w.ledger.PendingMirror(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending transactions for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending transactions found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending transactions on startup, processing...", "count", len(pending))
	synced, failed := 0, 0
	for _, tx := range pending {
		if err := w.mirror.Push(ctx, tx); err != nil {
			failed++
			continue
		}
		synced++
	}
	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", synced,
		"errors", failed)
	return nil
}
