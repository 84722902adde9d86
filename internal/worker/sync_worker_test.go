package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gastos/internal/amqp"
	"gastos/internal/core"
)

type fakeLedger struct {
	txs     map[int64]core.Transaction
	pending []core.Transaction
}

func (f *fakeLedger) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	tx, ok := f.txs[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", core.ErrNotFound)
	}
	return tx, nil
}

func (f *fakeLedger) PendingMirror(_ context.Context, limit int) ([]core.Transaction, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

type fakeMirror struct {
	pushed  []int64
	cleaned []int64
	err     error
}

func (m *fakeMirror) Push(_ context.Context, t core.Transaction) error {
	if m.err != nil {
		return m.err
	}
	m.pushed = append(m.pushed, t.ID)
	return nil
}

func (m *fakeMirror) CleanInconsistencies(_ context.Context, owner int64) (core.CleanReport, error) {
	m.cleaned = append(m.cleaned, owner)
	return core.CleanReport{OwnerID: owner}, m.err
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{txs: map[int64]core.Transaction{5: {ID: 5, OwnerID: 1}}}

	tests := []struct {
		name    string
		msg     *amqp.MirrorMessage
		mirrErr error
		wantErr bool
		pushed  int
		cleaned int
	}{
		{name: "push", msg: amqp.NewPushMessage(1, 5), pushed: 1},
		{name: "push of deleted transaction is dropped", msg: amqp.NewPushMessage(1, 99)},
		{name: "push failure is returned", msg: amqp.NewPushMessage(1, 5), mirrErr: errors.New("503"), wantErr: true},
		{name: "clean", msg: amqp.NewCleanMessage(1), cleaned: 1},
		{name: "unknown kind", msg: &amqp.MirrorMessage{Kind: "delete"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMirror{err: tt.mirrErr}
			w := NewSyncWorker(ledger, m, 10)
			err := w.HandleMessage(ctx, tt.msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(m.pushed) != tt.pushed {
				t.Errorf("pushed %d, want %d", len(m.pushed), tt.pushed)
			}
			if tt.mirrErr == nil && len(m.cleaned) != tt.cleaned {
				t.Errorf("cleaned %d, want %d", len(m.cleaned), tt.cleaned)
			}
		})
	}
}

func TestStartupSyncCheck(t *testing.T) {
	ledger := &fakeLedger{pending: []core.Transaction{{ID: 1}, {ID: 2}}}
	m := &fakeMirror{}
	w := NewSyncWorker(ledger, m, 1)

	if err := w.StartupSyncCheck(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(m.pushed) != 2 {
		t.Fatalf("expected both pending pushed, got %v", m.pushed)
	}
}
