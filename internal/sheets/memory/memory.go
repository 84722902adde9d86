// Package memory is an in-process Spreadsheet for tests and for running
// without a remote mirror.
package memory

import (
	"context"
	"sort"
	"sync"

	"gastos/internal/sheets"
)

type tab struct {
	header []string
	rows   []sheets.Row
}

type Store struct {
	mu    sync.Mutex
	tabs  map[string]*tab
	order []string

	// Fail, when set, is returned by every call. Tests use it to simulate
	// an unreachable mirror.
	Fail  error
	calls int
}

var _ sheets.Spreadsheet = (*Store)(nil)

func New() *Store {
	return &Store{tabs: make(map[string]*tab)}
}

func (s *Store) EnsureSheet(_ context.Context, name string, header []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(); err != nil {
		return err
	}
	if t, ok := s.tabs[name]; ok {
		h := make([]any, len(t.header))
		for i, v := range t.header {
			h[i] = v
		}
		if !sheets.SameHeader(h, header) {
			return sheets.ErrHeaderMismatch
		}
		return nil
	}
	s.tabs[name] = &tab{header: append([]string(nil), header...)}
	s.order = append(s.order, name)
	return nil
}

func (s *Store) UpsertRow(_ context.Context, sheet string, row sheets.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(); err != nil {
		return err
	}
	t, ok := s.tabs[sheet]
	if !ok {
		return sheets.ErrSheetNotFound
	}
	row = copyRow(row)
	for i := range t.rows {
		if t.rows[i].Key == row.Key {
			t.rows[i] = row
			return nil
		}
	}
	t.rows = append(t.rows, row)
	return nil
}

// AppendRow adds a row without looking for an existing key. Tests use it
// to seed drift such as duplicates.
func (s *Store) AppendRow(sheet string, row sheets.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[sheet]
	if !ok {
		t = &tab{}
		s.tabs[sheet] = t
		s.order = append(s.order, sheet)
	}
	t.rows = append(t.rows, copyRow(row))
}

func (s *Store) ListRows(_ context.Context, sheet string) ([]sheets.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(); err != nil {
		return nil, err
	}
	t, ok := s.tabs[sheet]
	if !ok {
		return nil, sheets.ErrSheetNotFound
	}
	out := make([]sheets.Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = copyRow(r)
	}
	return out, nil
}

func (s *Store) DeleteRow(_ context.Context, sheet, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(); err != nil {
		return 0, err
	}
	t, ok := s.tabs[sheet]
	if !ok {
		return 0, sheets.ErrSheetNotFound
	}
	kept := t.rows[:0]
	removed := 0
	for _, r := range t.rows {
		if r.Key == key {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	t.rows = kept
	return removed, nil
}

func (s *Store) ListSheets(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(); err != nil {
		return nil, err
	}
	return append([]string(nil), s.order...), nil
}

// Keys returns the sorted row keys of sheet.
func (s *Store) Keys(sheet string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[sheet]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(t.rows))
	for _, r := range t.rows {
		keys = append(keys, r.Key)
	}
	sort.Strings(keys)
	return keys
}

// Calls returns how many capability calls were made.
func (s *Store) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Store) call() error {
	s.calls++
	return s.Fail
}

func copyRow(r sheets.Row) sheets.Row {
	return sheets.Row{Key: r.Key, Cells: append([]any(nil), r.Cells...)}
}
