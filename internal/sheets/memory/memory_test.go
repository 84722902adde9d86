package memory

import (
	"context"
	"errors"
	"testing"

	"gastos/internal/sheets"
)

var header = []string{"ID", "Data", "Descrição"}

func TestStoreUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.UpsertRow(ctx, "Novembro 2025", sheets.NewRow(int64(1))); !errors.Is(err, sheets.ErrSheetNotFound) {
		t.Fatalf("expected sheet not found, got %v", err)
	}
	if err := s.EnsureSheet(ctx, "Novembro 2025", header); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureSheet(ctx, "Novembro 2025", header); err != nil {
		t.Fatalf("ensure must be idempotent, got %v", err)
	}
	if err := s.EnsureSheet(ctx, "Novembro 2025", []string{"Outro"}); !errors.Is(err, sheets.ErrHeaderMismatch) {
		t.Fatalf("expected header mismatch, got %v", err)
	}

	s.UpsertRow(ctx, "Novembro 2025", sheets.NewRow(int64(1), "2025-11-01", "café"))
	s.UpsertRow(ctx, "Novembro 2025", sheets.NewRow(int64(2), "2025-11-02", "uber"))
	s.UpsertRow(ctx, "Novembro 2025", sheets.NewRow(int64(1), "2025-11-01", "café com leite"))

	rows, err := s.ListRows(ctx, "Novembro 2025")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Cells[2] != "café com leite" {
		t.Fatalf("expected upsert in place, got %+v", rows)
	}

	s.AppendRow("Novembro 2025", sheets.NewRow(int64(2), "dup"))
	n, err := s.DeleteRow(ctx, "Novembro 2025", "2")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 removed, got %d err=%v", n, err)
	}
	if keys := s.Keys("Novembro 2025"); len(keys) != 1 || keys[0] != "1" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestStoreFailure(t *testing.T) {
	s := New()
	s.Fail = errors.New("quota exceeded")
	if _, err := s.ListSheets(context.Background()); err == nil {
		t.Fatal("expected injected failure")
	}
}

func TestCellString(t *testing.T) {
	cases := map[any]string{
		float64(12): "12",
		int64(7):    "7",
		" 2025-11 ": "2025-11",
		nil:         "",
		12.5:        "12.5",
	}
	for in, want := range cases {
		if got := sheets.CellString(in); got != want {
			t.Fatalf("%v: expected %q, got %q", in, want, got)
		}
	}
}
