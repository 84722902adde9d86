// Package mirror projects the ledger into the spreadsheet mirror and repairs
// drift between the two. The ledger is never modified here beyond its
// mirror bookkeeping columns.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"gastos/internal/core"
	"gastos/internal/sheets"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout     = 15 * time.Second
	defaultConcurrency = 4
)

// Ledger is the read side of the ledger plus mirror bookkeeping.
type Ledger interface {
	Summary(ctx context.Context, ownerID int64, year, month int) (core.MonthlySummary, error)
	ListAll(ctx context.Context, ownerID int64, period core.Period) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	MarkMirrored(ctx context.Context, id int64) error
	MarkMirrorError(ctx context.Context, id int64, cause error) error
}

type Options struct {
	// Timeout bounds each remote call.
	Timeout time.Duration
	// OwnerTabs suffixes tab titles with the owner ID so several owners can
	// share one spreadsheet.
	OwnerTabs bool
	// Concurrency caps parallel tab reads during reconciliation.
	Concurrency int
}

type Synchronizer struct {
	sheet       sheets.Spreadsheet
	ledger      Ledger
	timeout     time.Duration
	ownerTabs   bool
	concurrency int

	// serializes pushes and repairs so summary rewrites follow append order
	mu sync.Mutex
}

func New(sheet sheets.Spreadsheet, ledger Ledger, opts Options) *Synchronizer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Synchronizer{
		sheet:       sheet,
		ledger:      ledger,
		timeout:     opts.Timeout,
		ownerTabs:   opts.OwnerTabs,
		concurrency: opts.Concurrency,
	}
}

// Push writes t to its month tab and rewrites that month's summary row.
// The outcome is recorded in the ledger's mirror status.
func (s *Synchronizer) Push(ctx context.Context, t core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.push(ctx, t)
	if err != nil {
		slog.WarnContext(ctx, "Mirror push failed", "id", t.ID, "owner_id", t.OwnerID, "error", err)
		if merr := s.ledger.MarkMirrorError(ctx, t.ID, err); merr != nil {
			slog.ErrorContext(ctx, "Failed to record mirror error", "id", t.ID, "error", merr)
		}
		return err
	}
	if err := s.ledger.MarkMirrored(ctx, t.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark transaction mirrored", "id", t.ID, "error", err)
	}
	slog.InfoContext(ctx, "Transaction mirrored", "id", t.ID, "owner_id", t.OwnerID)
	return nil
}

func (s *Synchronizer) push(ctx context.Context, t core.Transaction) error {
	p := t.OccurredOn.Period()
	tab := s.MonthSheet(t.OwnerID, p)

	if t.Superseded {
		if _, err := s.deleteRow(ctx, tab, t.ID); err != nil {
			return err
		}
		return s.refreshSummary(ctx, t.OwnerID, p)
	}

	if err := s.writeRow(ctx, t); err != nil {
		return err
	}
	if t.Supersedes != 0 {
		old, err := s.ledger.GetTransaction(ctx, t.Supersedes)
		switch {
		case errors.Is(err, core.ErrNotFound):
		case err != nil:
			return err
		default:
			op := old.OccurredOn.Period()
			if _, err := s.deleteRow(ctx, s.MonthSheet(old.OwnerID, op), old.ID); err != nil {
				return err
			}
			if op != p {
				if err := s.refreshSummary(ctx, old.OwnerID, op); err != nil {
					return err
				}
			}
		}
	}
	return s.refreshSummary(ctx, t.OwnerID, p)
}

func (s *Synchronizer) writeRow(ctx context.Context, t core.Transaction) error {
	tab := s.MonthSheet(t.OwnerID, t.OccurredOn.Period())
	if err := s.remote(ctx, tab, func(ctx context.Context) error {
		return s.sheet.EnsureSheet(ctx, tab, MonthHeader)
	}); err != nil {
		return err
	}
	return s.remote(ctx, tab, func(ctx context.Context) error {
		return s.sheet.UpsertRow(ctx, tab, sheets.NewRow(monthRow(t)...))
	})
}

func (s *Synchronizer) deleteRow(ctx context.Context, tab string, id int64) (int, error) {
	var n int
	err := s.remote(ctx, tab, func(ctx context.Context) error {
		var err error
		n, err = s.sheet.DeleteRow(ctx, tab, strconv.FormatInt(id, 10))
		if errors.Is(err, sheets.ErrSheetNotFound) {
			return nil
		}
		return err
	})
	return n, err
}

// refreshSummary recomputes the month from the ledger and rewrites its
// summary row.
func (s *Synchronizer) refreshSummary(ctx context.Context, ownerID int64, p core.Period) error {
	sum, err := s.ledger.Summary(ctx, ownerID, p.Year, p.Month)
	if err != nil {
		return err
	}
	tab := s.SummarySheet(ownerID)
	if err := s.remote(ctx, tab, func(ctx context.Context) error {
		return s.sheet.EnsureSheet(ctx, tab, s.summaryHeader())
	}); err != nil {
		return err
	}
	return s.remote(ctx, tab, func(ctx context.Context) error {
		return s.sheet.UpsertRow(ctx, tab, sheets.NewRow(s.summaryRow(ownerID, sum)...))
	})
}

// remote runs one spreadsheet call under the mirror timeout and maps its
// failure into a SyncError.
func (s *Synchronizer) remote(ctx context.Context, tab string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	var se *core.SyncError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, sheets.ErrHeaderMismatch) {
		return core.NewSyncError(core.SchemaMismatch, tab, err)
	}
	return core.NewSyncError(core.RemoteUnavailable, tab, err)
}

// scan is the raw comparison behind Reconcile and CleanInconsistencies.
type scan struct {
	report core.ReconciliationReport
	ledger map[int64]core.Transaction
	// tab titles holding each mirrored ID, one entry per row
	rows     map[int64][]string
	orphans  map[int64][]string
	failed   map[string]bool
	expected map[int64]string
}

// Reconcile compares the owner's active ledger IDs with the IDs found on
// the owner's month tabs. Tabs that cannot be read are counted as failures
// and their months are left unclassified.
func (s *Synchronizer) Reconcile(ctx context.Context, ownerID int64) (core.ReconciliationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, err := s.scan(ctx, ownerID)
	if err != nil {
		return sc.report, err
	}
	slog.InfoContext(ctx, "Reconciliation finished",
		"owner_id", ownerID,
		"missing", len(sc.report.MissingInMirror),
		"orphans", len(sc.report.OrphanInMirror),
		"duplicates", len(sc.report.Duplicates),
		"sheets", sc.report.SheetsChecked,
		"failures", sc.report.Failures)
	return sc.report, nil
}

func (s *Synchronizer) scan(ctx context.Context, ownerID int64) (*scan, error) {
	sc := &scan{
		report:   core.ReconciliationReport{OwnerID: ownerID},
		ledger:   make(map[int64]core.Transaction),
		rows:     make(map[int64][]string),
		orphans:  make(map[int64][]string),
		failed:   make(map[string]bool),
		expected: make(map[int64]string),
	}

	txs, err := s.ledger.ListAll(ctx, ownerID, core.Period{})
	if err != nil {
		return sc, err
	}
	for _, t := range txs {
		sc.ledger[t.ID] = t
		sc.expected[t.ID] = s.MonthSheet(ownerID, t.OccurredOn.Period())
	}

	var titles []string
	err = s.remote(ctx, "", func(ctx context.Context) error {
		var err error
		titles, err = s.sheet.ListSheets(ctx)
		return err
	})
	if err != nil {
		sc.report.Failures++
		sc.report.Errors = append(sc.report.Errors, err.Error())
		return sc, err
	}

	var tabs []string
	for _, title := range titles {
		// MonthSheet also rejects other owners' tabs and foreign suffixes.
		p, _, ok := parseMonthSheet(title)
		if !ok || title != s.MonthSheet(ownerID, p) {
			continue
		}
		tabs = append(tabs, title)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, tab := range tabs {
		g.Go(func() error {
			var rows []sheets.Row
			err := s.remote(gctx, tab, func(ctx context.Context) error {
				var err error
				rows, err = s.sheet.ListRows(ctx, tab)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			sc.report.SheetsChecked++
			if err != nil {
				slog.WarnContext(ctx, "Failed to read mirror tab", "sheet", tab, "error", err)
				sc.failed[tab] = true
				sc.report.Failures++
				sc.report.Errors = append(sc.report.Errors, err.Error())
				return nil
			}
			for _, r := range rows {
				id, err := strconv.ParseInt(r.Key, 10, 64)
				if err != nil || id <= 0 {
					slog.DebugContext(ctx, "Skipping row without transaction id", "sheet", tab, "key", r.Key)
					continue
				}
				sc.rows[id] = append(sc.rows[id], tab)
			}
			return nil
		})
	}
	// Workers never return errors; failures are tallied in the report.
	_ = g.Wait()

	for id, t := range sc.ledger {
		tab := sc.expected[id]
		if sc.failed[tab] {
			continue
		}
		in := 0
		for _, at := range sc.rows[id] {
			if at == tab {
				in++
			}
		}
		if in == 0 {
			sc.report.MissingInMirror = append(sc.report.MissingInMirror, t.ID)
		}
		if len(sc.rows[id]) > 1 {
			sc.report.Duplicates = append(sc.report.Duplicates, t.ID)
		}
	}

	for id, at := range sc.rows {
		if _, ok := sc.ledger[id]; ok {
			continue
		}
		orphan, err := s.isOrphan(ctx, ownerID, id)
		if err != nil {
			return sc, err
		}
		if orphan {
			sc.orphans[id] = at
			sc.report.OrphanInMirror = append(sc.report.OrphanInMirror, id)
		}
	}

	sortIDs(sc.report.MissingInMirror)
	sortIDs(sc.report.OrphanInMirror)
	sortIDs(sc.report.Duplicates)
	return sc, nil
}

// isOrphan reports whether a mirrored ID has no active ledger record for
// this owner. On shared tabs a row may legitimately belong to another owner.
func (s *Synchronizer) isOrphan(ctx context.Context, ownerID, id int64) (bool, error) {
	if s.ownerTabs {
		return true, nil
	}
	t, err := s.ledger.GetTransaction(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if t.Superseded {
		return true, nil
	}
	return t.OwnerID == ownerID, nil
}

// CleanInconsistencies repairs what Reconcile finds: missing rows are
// pushed again, orphans and extra copies are removed, and the summary row
// of every touched month is recomputed. A second run with no ledger
// changes in between repairs nothing.
func (s *Synchronizer) CleanInconsistencies(ctx context.Context, ownerID int64) (core.CleanReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := core.CleanReport{OwnerID: ownerID}
	sc, err := s.scan(ctx, ownerID)
	if err != nil {
		report.Failures = sc.report.Failures
		report.Errors = sc.report.Errors
		return report, err
	}
	report.Failures = sc.report.Failures
	report.Errors = append(report.Errors, sc.report.Errors...)

	fail := func(err error) {
		report.Failures++
		report.Errors = append(report.Errors, err.Error())
	}
	touched := make(map[core.Period]bool)

	for _, id := range sc.report.OrphanInMirror {
		for _, tab := range uniq(sc.orphans[id]) {
			n, err := s.deleteRow(ctx, tab, id)
			if err != nil {
				fail(err)
				continue
			}
			report.Removed += n
			if p, _, ok := parseMonthSheet(tab); ok {
				touched[p] = true
			}
		}
	}

	for id, at := range sc.rows {
		t, ok := sc.ledger[id]
		if !ok {
			continue
		}
		want := sc.expected[id]
		in := 0
		for _, tab := range uniq(at) {
			if tab == want {
				for _, x := range at {
					if x == want {
						in++
					}
				}
				continue
			}
			n, err := s.deleteRow(ctx, tab, id)
			if err != nil {
				fail(err)
				continue
			}
			report.Removed += n
			if p, _, ok := parseMonthSheet(tab); ok {
				touched[p] = true
			}
		}
		if in > 1 {
			n, err := s.deleteRow(ctx, want, id)
			if err != nil {
				fail(err)
				continue
			}
			report.Removed += n - 1
			if err := s.writeRow(ctx, t); err != nil {
				fail(err)
				continue
			}
			touched[t.OccurredOn.Period()] = true
		}
	}

	for _, id := range sc.report.MissingInMirror {
		t := sc.ledger[id]
		if err := s.writeRow(ctx, t); err != nil {
			fail(err)
			if merr := s.ledger.MarkMirrorError(ctx, id, err); merr != nil {
				slog.ErrorContext(ctx, "Failed to record mirror error", "id", id, "error", merr)
			}
			continue
		}
		report.RePushed++
		touched[t.OccurredOn.Period()] = true
		if err := s.ledger.MarkMirrored(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Failed to mark transaction mirrored", "id", id, "error", err)
		}
	}

	months := make([]core.Period, 0, len(touched))
	for p := range touched {
		months = append(months, p)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].String() < months[j].String() })
	for _, p := range months {
		if err := s.refreshSummary(ctx, ownerID, p); err != nil {
			var le *core.LedgerError
			if errors.As(err, &le) {
				return report, fmt.Errorf("refresh summary %s: %w", p, err)
			}
			fail(err)
			continue
		}
		report.SummariesRewritten++
	}

	slog.InfoContext(ctx, "Mirror cleanup finished",
		"owner_id", ownerID,
		"repushed", report.RePushed,
		"removed", report.Removed,
		"summaries", report.SummariesRewritten,
		"failures", report.Failures)
	return report, nil
}

func uniq(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
