package mirror

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"gastos/internal/core"
	"gastos/internal/sheets"
	"gastos/internal/sheets/memory"
	"gastos/internal/storage"
)

var fixedNow = time.Date(2025, 11, 10, 15, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"),
		storage.WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func record(t *testing.T, repo *storage.SQLiteRepository, owner int64, desc string, cents int64, cat core.Category, d core.Date) core.Transaction {
	t.Helper()
	tx, err := repo.Append(context.Background(), owner, core.StructuredTransaction{
		Description: desc,
		Amount:      core.Money{Cents: cents},
		Category:    cat,
		Date:        d,
		Confidence:  0.9,
	}, storage.Meta{RawText: desc})
	if err != nil {
		t.Fatalf("append %q: %v", desc, err)
	}
	return tx
}

func summaryCells(t *testing.T, ms *memory.Store, tab, key string) []any {
	t.Helper()
	rows, err := ms.ListRows(context.Background(), tab)
	if err != nil {
		t.Fatalf("list %s: %v", tab, err)
	}
	for _, r := range rows {
		if r.Key == key {
			return r.Cells
		}
	}
	t.Fatalf("no summary row %q in %s", key, tab)
	return nil
}

func TestPushWritesRowAndSummary(t *testing.T) {
	ctx := context.Background()
	repo := newLedger(t)
	ms := memory.New()
	s := New(ms, repo, Options{})

	a := record(t, repo, 1, "almoço", 3500, core.CategoryFood, core.NewDate(2025, 11, 3))
	b := record(t, repo, 1, "poupança", 30000, core.CategoryFinance, core.NewDate(2025, 11, 4))
	for _, tx := range []core.Transaction{a, b} {
		if err := s.Push(ctx, tx); err != nil {
			t.Fatalf("push %d: %v", tx.ID, err)
		}
	}
	// Replaying a push must not duplicate anything.
	if err := s.Push(ctx, a); err != nil {
		t.Fatal(err)
	}

	rows, _ := ms.ListRows(ctx, "Novembro 2025")
	if len(rows) != 2 {
		t.Fatalf("expected 2 month rows, got %d", len(rows))
	}
	if rows[0].Cells[5] != "Confiança: 90%" || rows[0].Cells[4] != 35.0 {
		t.Fatalf("unexpected row %+v", rows[0].Cells)
	}

	cells := summaryCells(t, ms, SummaryTab, "2025-11 (1)")
	if cells[1] != 335.0 {
		t.Fatalf("expected total 335, got %v", cells[1])
	}
	if count := cells[len(cells)-2]; count != 2 {
		t.Fatalf("expected count 2, got %v", count)
	}

	stats, err := repo.Stats(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stats.MirrorState["synced"] != 2 {
		t.Fatalf("expected 2 synced, got %v", stats.MirrorState)
	}
}

func TestPushFailureKeepsLedger(t *testing.T) {
	ctx := context.Background()
	repo := newLedger(t)
	ms := memory.New()
	ms.Fail = errors.New("503 backend error")
	s := New(ms, repo, Options{})

	tx := record(t, repo, 1, "uber", 2000, core.CategoryTransport, core.NewDate(2025, 11, 5))
	err := s.Push(ctx, tx)
	if !errors.Is(err, core.ErrRemoteUnavailable) {
		t.Fatalf("expected remote unavailable, got %v", err)
	}
	var se *core.SyncError
	if !errors.As(err, &se) || se.Sheet != "Novembro 2025" {
		t.Fatalf("expected sync error on month tab, got %v", err)
	}

	got, err := repo.GetTransaction(ctx, tx.ID)
	if err != nil || got.ID != tx.ID {
		t.Fatalf("ledger record must survive a mirror failure: %v", err)
	}
	pending, err := repo.PendingMirror(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected the transaction to stay pending, got %d (%v)", len(pending), err)
	}
}

func TestPushSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	repo := newLedger(t)
	ms := memory.New()
	ms.EnsureSheet(ctx, "Novembro 2025", []string{"Data", "Valor"})
	s := New(ms, repo, Options{})

	tx := record(t, repo, 1, "uber", 2000, core.CategoryTransport, core.NewDate(2025, 11, 5))
	if err := s.Push(ctx, tx); !errors.Is(err, core.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestPushCorrectionMovesRow(t *testing.T) {
	ctx := context.Background()
	repo := newLedger(t)
	ms := memory.New()
	s := New(ms, repo, Options{})

	old := record(t, repo, 1, "mercado", 10000, core.CategoryHome, core.NewDate(2025, 10, 30))
	if err := s.Push(ctx, old); err != nil {
		t.Fatal(err)
	}
	fixed, err := repo.Append(ctx, 1, core.StructuredTransaction{
		Description: "mercado",
		Amount:      core.Money{Cents: 12000},
		Category:    core.CategoryFood,
		Date:        core.NewDate(2025, 11, 1),
		Confidence:  1,
	}, storage.Meta{Supersedes: old.ID})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Push(ctx, fixed); err != nil {
		t.Fatal(err)
	}

	if keys := ms.Keys("Outubro 2025"); len(keys) != 0 {
		t.Fatalf("expected corrected row removed from October, got %v", keys)
	}
	if cells := summaryCells(t, ms, SummaryTab, "2025-10 (1)"); cells[1] != 0.0 {
		t.Fatalf("expected October total 0, got %v", cells[1])
	}
	if cells := summaryCells(t, ms, SummaryTab, "2025-11 (1)"); cells[1] != 120.0 {
		t.Fatalf("expected November total 120, got %v", cells[1])
	}
}

func TestReconcileConvergence(t *testing.T) {
	ctx := context.Background()
	repo := newLedger(t)
	ms := memory.New()
	s := New(ms, repo, Options{})

	for _, d := range []string{"café", "pão", "leite"} {
		record(t, repo, 1, d, 500, core.CategoryFood, core.NewDate(2025, 11, 2))
	}
	if err := ms.EnsureSheet(ctx, "Novembro 2025", MonthHeader); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{2, 3, 4} {
		ms.AppendRow("Novembro 2025", sheets.NewRow(id, "2025-11-02", "x", "Alimentação", 5.0, ""))
	}

	report, err := s.Reconcile(ctx, 1)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !reflect.DeepEqual(report.MissingInMirror, []int64{1}) {
		t.Fatalf("expected missing [1], got %v", report.MissingInMirror)
	}
	if !reflect.DeepEqual(report.OrphanInMirror, []int64{4}) {
		t.Fatalf("expected orphan [4], got %v", report.OrphanInMirror)
	}
	if report.SheetsChecked != 1 || report.Failures != 0 {
		t.Fatalf("unexpected counters %+v", report)
	}

	clean, err := s.CleanInconsistencies(ctx, 1)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if clean.RePushed != 1 || clean.Removed != 1 || clean.SummariesRewritten != 1 {
		t.Fatalf("unexpected clean report %+v", clean)
	}

	report, err = s.Reconcile(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Consistent() {
		t.Fatalf("expected no drift after clean, got %+v", report)
	}

	again, err := s.CleanInconsistencies(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if again.RePushed != 0 || again.Removed != 0 || again.SummariesRewritten != 0 {
		t.Fatalf("second clean must repair nothing, got %+v", again)
	}
}

func TestCleanRemovesDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := newLedger(t)
	ms := memory.New()
	s := New(ms, repo, Options{})

	tx := record(t, repo, 1, "cinema", 4000, core.CategoryLeisure, core.NewDate(2025, 11, 8))
	if err := s.Push(ctx, tx); err != nil {
		t.Fatal(err)
	}
	ms.AppendRow("Novembro 2025", sheets.NewRow(tx.ID, "2025-11-08", "cinema"))

	report, _ := s.Reconcile(ctx, 1)
	if !reflect.DeepEqual(report.Duplicates, []int64{tx.ID}) {
		t.Fatalf("expected duplicate %d, got %v", tx.ID, report.Duplicates)
	}
	clean, err := s.CleanInconsistencies(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if clean.Removed != 1 {
		t.Fatalf("expected 1 copy removed, got %+v", clean)
	}
	if keys := ms.Keys("Novembro 2025"); len(keys) != 1 {
		t.Fatalf("expected one row left, got %v", keys)
	}
}

func TestReconcileSharedTabsKeepsOtherOwners(t *testing.T) {
	ctx := context.Background()
	repo := newLedger(t)
	ms := memory.New()
	s := New(ms, repo, Options{})

	mine := record(t, repo, 1, "café", 500, core.CategoryFood, core.NewDate(2025, 11, 2))
	theirs := record(t, repo, 2, "táxi", 2500, core.CategoryTransport, core.NewDate(2025, 11, 2))
	for _, tx := range []core.Transaction{mine, theirs} {
		if err := s.Push(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	clean, err := s.CleanInconsistencies(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if clean.Removed != 0 {
		t.Fatalf("another owner's row must not be treated as orphan: %+v", clean)
	}
	if keys := ms.Keys("Novembro 2025"); len(keys) != 2 {
		t.Fatalf("expected both rows kept, got %v", keys)
	}
}

func TestSharedSummaryKeepsOwnersApart(t *testing.T) {
	ctx := context.Background()
	repo := newLedger(t)
	ms := memory.New()
	s := New(ms, repo, Options{})

	food := record(t, repo, 1, "almoço", 3500, core.CategoryFood, core.NewDate(2025, 11, 3))
	taxi := record(t, repo, 2, "táxi", 1000, core.CategoryTransport, core.NewDate(2025, 11, 3))
	for _, tx := range []core.Transaction{food, taxi} {
		if err := s.Push(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}
	for _, owner := range []int64{1, 2} {
		if _, err := s.CleanInconsistencies(ctx, owner); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := ms.ListRows(ctx, SummaryTab)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected one summary row per owner, got %d", len(rows))
	}
	for owner, want := range map[int64]float64{1: 35, 2: 10} {
		cells := summaryCells(t, ms, SummaryTab, s.SummaryKey(owner, core.MonthPeriod(2025, 11)))
		if cells[1] != want {
			t.Fatalf("owner %d: expected total %v, got %v", owner, want, cells[1])
		}
		if got := cells[len(cells)-1]; got != owner {
			t.Fatalf("owner %d: unexpected owner cell %v", owner, got)
		}
	}
}

func TestOwnerTabs(t *testing.T) {
	ctx := context.Background()
	repo := newLedger(t)
	ms := memory.New()
	s := New(ms, repo, Options{OwnerTabs: true})

	tx := record(t, repo, 42, "farmácia", 1800, core.CategoryHealth, core.NewDate(2025, 11, 6))
	if err := s.Push(ctx, tx); err != nil {
		t.Fatal(err)
	}
	if keys := ms.Keys("Novembro 2025 (42)"); len(keys) != 1 {
		t.Fatalf("expected owner tab row, got %v", keys)
	}
	summaryCells(t, ms, "Resumo (42)", "2025-11")

	report, err := s.Reconcile(ctx, 42)
	if err != nil || !report.Consistent() || report.SheetsChecked != 1 {
		t.Fatalf("unexpected report %+v err=%v", report, err)
	}
}

func TestReconcileRemoteFailure(t *testing.T) {
	repo := newLedger(t)
	ms := memory.New()
	ms.Fail = errors.New("timeout")
	s := New(ms, repo, Options{})

	report, err := s.Reconcile(context.Background(), 1)
	if !errors.Is(err, core.ErrRemoteUnavailable) {
		t.Fatalf("expected remote unavailable, got %v", err)
	}
	if report.Failures != 1 {
		t.Fatalf("expected failure counted, got %+v", report)
	}
}

func TestParseMonthSheet(t *testing.T) {
	tests := []struct {
		title string
		p     core.Period
		owner int64
		ok    bool
	}{
		{"Novembro 2025", core.MonthPeriod(2025, 11), 0, true},
		{"Março 2024 (7)", core.MonthPeriod(2024, 3), 7, true},
		{"marco 2024", core.MonthPeriod(2024, 3), 0, true},
		{"Resumo", core.Period{}, 0, false},
		{"Resumo (7)", core.Period{}, 0, false},
		{"Novembro", core.Period{}, 0, false},
	}
	for _, tt := range tests {
		p, owner, ok := parseMonthSheet(tt.title)
		if ok != tt.ok || p != tt.p || owner != tt.owner {
			t.Errorf("%q: got (%v, %d, %v)", tt.title, p, owner, ok)
		}
	}
}
