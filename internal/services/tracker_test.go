package services

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/interpreter"
	"gastos/internal/mirror"
	"gastos/internal/sheets/memory"
	"gastos/internal/storage"
)

var (
	fixedNow = time.Date(2025, 11, 10, 15, 0, 0, 0, time.UTC)
	ref      = core.NewDate(2025, 11, 10)
)

// scripted answers by raw text, the way the language capability would.
type scripted map[string]interpreter.Inference

func (s scripted) Infer(_ context.Context, text string, _ core.Date) (interpreter.Inference, error) {
	inf, ok := s[text]
	if !ok {
		return interpreter.Inference{}, errors.New("upstream 503")
	}
	return inf, nil
}

func answer(desc, amount string, cat core.Category, confidence float64) interpreter.Inference {
	return interpreter.Inference{
		Description: desc,
		Amount:      json.RawMessage(amount),
		Category:    string(cat),
		Confidence:  &confidence,
	}
}

var answers = scripted{
	"almoço 85 reais":       answer("Almoço", "85", core.CategoryFood, 0.9),
	"lanche 20 reais":       answer("Lanche", "20", core.CategoryFood, 0.9),
	"uber 30":               answer("Uber", "30", core.CategoryTransport, 0.6),
	"cinema 40 reais ontem": answer("Cinema", "40", core.CategoryLeisure, 0.95),
	"almoço 75 reais":       answer("Almoço", "75", core.CategoryFood, 1),
}

type fixture struct {
	ledger  *storage.SQLiteRepository
	sheet   *memory.Store
	mirror  *mirror.Synchronizer
	tracker *Tracker
}

func newFixture(t *testing.T, opts ...TrackerOption) *fixture {
	t.Helper()
	ledger, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"),
		storage.WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	sheet := memory.New()
	m := mirror.New(sheet, ledger, mirror.Options{})
	interp := interpreter.New(answers, cache.NewMemory(), time.Second)
	opts = append([]TrackerOption{WithMirror(m), WithClock(func() time.Time { return fixedNow })}, opts...)
	return &fixture{
		ledger:  ledger,
		sheet:   sheet,
		mirror:  m,
		tracker: NewTracker(ledger, interp, opts...),
	}
}

func TestInterpretAndRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.tracker.InterpretAndRecord(ctx, 1, "cinema 40 reais ontem", ref)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	tx := res.Transaction
	if tx.ID == 0 || tx.Category != core.CategoryLeisure || tx.Amount.Cents != 4000 {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if got := tx.OccurredOn.String(); got != "2025-11-09" {
		t.Fatalf("expected yesterday's date, got %s", got)
	}
	if res.MirrorErr != nil || res.MirrorPending {
		t.Fatalf("expected an inline push, got err=%v pending=%v", res.MirrorErr, res.MirrorPending)
	}
	if keys := f.sheet.Keys("Novembro 2025"); len(keys) != 1 {
		t.Fatalf("expected mirrored row, got %v", keys)
	}

	cfg, err := f.ledger.GetOwnerConfig(ctx, 1)
	if err != nil || cfg.Currency != core.DefaultCurrency {
		t.Fatalf("expected default owner config, got %+v (%v)", cfg, err)
	}
}

func TestRecordMirrorFailureIsSoft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sheet.Fail = errors.New("quota exceeded")

	res, err := f.tracker.InterpretAndRecord(ctx, 1, "almoço 85 reais", ref)
	if err != nil {
		t.Fatalf("mirror failures must not fail the record: %v", err)
	}
	if !errors.Is(res.MirrorErr, core.ErrRemoteUnavailable) || !res.MirrorPending {
		t.Fatalf("expected pending mirror with remote error, got %+v", res)
	}
	if core.UserMessage(res.MirrorErr) != core.MsgMirror {
		t.Fatalf("unexpected user message %q", core.UserMessage(res.MirrorErr))
	}
	txs, _ := f.tracker.ListTransactions(ctx, 1, core.Period{})
	if len(txs) != 1 {
		t.Fatalf("expected the transaction in the ledger, got %d", len(txs))
	}
}

func TestRecordRejectsNegativeAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tracker.InterpretAndRecord(ctx, 1, "almoço -10 reais", ref)
	var ie *core.InterpretationError
	if !errors.As(err, &ie) || ie.Kind != core.InvalidAmount {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	txs, _ := f.tracker.ListTransactions(ctx, 1, core.Period{})
	if len(txs) != 0 {
		t.Fatalf("nothing may be stored, got %d", len(txs))
	}
	if n, _ := f.tracker.ClearCache(ctx); n != 0 {
		t.Fatalf("nothing may be cached, got %d", n)
	}
}

func TestRecordServiceUnavailable(t *testing.T) {
	_, err := newFixture(t).tracker.InterpretAndRecord(context.Background(), 1, "algo desconhecido", ref)
	if !errors.Is(err, core.ErrServiceUnavailable) {
		t.Fatalf("expected service unavailable, got %v", err)
	}
	if core.UserMessage(err) != core.MsgTemporary {
		t.Fatalf("unexpected message %q", core.UserMessage(err))
	}
}

func TestGoalAlerts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.tracker.SetGoal(ctx, 1, core.CategoryFood, core.Money{Cents: 10000}, core.MonthPeriod(2025, 11)); err != nil {
		t.Fatal(err)
	}

	res, err := f.tracker.InterpretAndRecord(ctx, 1, "almoço 85 reais", ref)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.GoalAlerts) != 1 || res.GoalAlerts[0].Status != core.GoalNearing {
		t.Fatalf("expected nearing alert, got %+v", res.GoalAlerts)
	}

	res, err = f.tracker.InterpretAndRecord(ctx, 1, "lanche 20 reais", ref)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.GoalAlerts) != 1 || res.GoalAlerts[0].Status != core.GoalExceeded || res.GoalAlerts[0].Spent.Cents != 10500 {
		t.Fatalf("expected exceeded alert, got %+v", res.GoalAlerts)
	}

	progress, err := f.tracker.Goals(ctx, 1, core.MonthPeriod(2025, 11))
	if err != nil || len(progress) != 1 || progress[0].Percent != 105 {
		t.Fatalf("unexpected progress %+v (%v)", progress, err)
	}
}

func TestLowConfidence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithLowConfidenceThreshold(0.7))

	res, err := f.tracker.InterpretAndRecord(ctx, 1, "uber 30", ref)
	if err != nil {
		t.Fatal(err)
	}
	if !res.LowConfidence {
		t.Fatal("expected 0.6 to be flagged below 0.7")
	}
	res, _ = f.tracker.InterpretAndRecord(ctx, 1, "almoço 85 reais", ref)
	if res.LowConfidence {
		t.Fatal("0.9 must not be flagged")
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	pushes []int64
	cleans []int64
	err    error
}

func (p *fakePublisher) PublishPush(_ context.Context, _, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pushes = append(p.pushes, id)
	return nil
}

func (p *fakePublisher) PublishClean(_ context.Context, owner int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleans = append(p.cleans, owner)
	return nil
}

func TestRecordQueuesPush(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	f := newFixture(t, WithPublisher(pub))

	res, err := f.tracker.InterpretAndRecord(ctx, 1, "almoço 85 reais", ref)
	if err != nil {
		t.Fatal(err)
	}
	if !res.MirrorPending || len(pub.pushes) != 1 || pub.pushes[0] != res.Transaction.ID {
		t.Fatalf("expected a queued push, got %+v pushes=%v", res, pub.pushes)
	}
	if f.sheet.Calls() != 0 {
		t.Fatal("queued pushes must not touch the sheet inline")
	}

	if err := f.tracker.Delete(ctx, 1, res.Transaction.ID); err != nil {
		t.Fatal(err)
	}
	if len(pub.cleans) != 1 {
		t.Fatalf("expected a clean request after delete, got %v", pub.cleans)
	}
}

func TestRecordQueueDownIsReported(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{err: errors.New("channel closed")}
	f := newFixture(t, WithPublisher(pub))

	res, err := f.tracker.InterpretAndRecord(ctx, 1, "almoço 85 reais", ref)
	if err != nil {
		t.Fatalf("publish failures must not fail the record: %v", err)
	}
	if !res.MirrorPending || !errors.Is(res.MirrorErr, core.ErrRemoteUnavailable) {
		t.Fatalf("expected pending push with publish error, got %+v", res)
	}
	pending, err := f.ledger.PendingMirror(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != res.Transaction.ID {
		t.Fatalf("expected the transaction to stay pending, got %+v", pending)
	}
}

func TestCorrect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.tracker.InterpretAndRecord(ctx, 1, "almoço 85 reais", ref)
	if err != nil {
		t.Fatal(err)
	}
	fixed, err := f.tracker.Correct(ctx, 1, first.Transaction.ID, "almoço 75 reais", ref)
	if err != nil {
		t.Fatal(err)
	}
	if fixed.Transaction.Supersedes != first.Transaction.ID {
		t.Fatalf("expected supersedes %d, got %d", first.Transaction.ID, fixed.Transaction.Supersedes)
	}

	s, err := f.tracker.GetSummary(ctx, 1, core.MonthPeriod(2025, 11))
	if err != nil {
		t.Fatal(err)
	}
	if s.Total.Cents != 7500 || s.Count != 1 {
		t.Fatalf("expected only the correction to count, got %+v", s)
	}
	report, err := f.tracker.SyncNow(ctx, 1)
	if err != nil || !report.Consistent() {
		t.Fatalf("expected a consistent mirror, got %+v (%v)", report, err)
	}
}

func TestInsights(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, text := range []string{"almoço 85 reais", "uber 30", "cinema 40 reais ontem"} {
		if _, err := f.tracker.InterpretAndRecord(ctx, 1, text, ref); err != nil {
			t.Fatal(err)
		}
	}

	in, err := f.tracker.Insights(ctx, 1, core.MonthPeriod(2025, 11))
	if err != nil {
		t.Fatal(err)
	}
	if in.TotalSpent.Cents != 15500 || in.Count != 3 || in.TopCategory != core.CategoryFood {
		t.Fatalf("unexpected insights %+v", in)
	}
	// 10 days of November have elapsed at the fixed clock.
	if in.DailyAverage.Cents != 1550 {
		t.Fatalf("expected daily average 1550, got %d", in.DailyAverage.Cents)
	}

	year, err := f.tracker.Insights(ctx, 1, core.YearPeriod(2025))
	if err != nil {
		t.Fatal(err)
	}
	if len(year.Months) != 12 || year.TotalSpent.Cents != 15500 {
		t.Fatalf("unexpected yearly insights %+v", year)
	}
}

func TestMirrorDisabled(t *testing.T) {
	ledger, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()
	tr := NewTracker(ledger, interpreter.New(answers, cache.NewMemory(), time.Second))

	if _, err := tr.SyncNow(context.Background(), 1); !errors.Is(err, ErrMirrorDisabled) {
		t.Fatalf("expected mirror disabled, got %v", err)
	}
	if _, err := tr.GetSummary(context.Background(), 1, core.YearPeriod(2025)); err == nil {
		t.Fatal("expected a yearly summary request to be rejected")
	}
}

func TestClearCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tracker.InterpretAndRecord(ctx, 1, "almoço 85 reais", ref)
	f.tracker.InterpretAndRecord(ctx, 1, "uber 30", ref)

	n, err := f.tracker.ClearCache(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 entries cleared, got %d (%v)", n, err)
	}
}
