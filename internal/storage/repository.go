// Package storage is the SQLite ledger, the single source of truth for
// transactions.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"gastos/internal/core"
)

const (
	timeLayout = time.RFC3339Nano

	// MaxMirrorAttempts stops the pending poller from retrying a row
	// forever. Reconciliation still repairs it.
	MaxMirrorAttempts = 5

	minDate = "0000-01-01"
	maxDate = "9999-12-31"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
	loc     *time.Location
}

type Option func(*SQLiteRepository)

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(r *SQLiteRepository) { r.now = now }
}

// WithLocation sets the timezone in which "today" is computed.
func WithLocation(loc *time.Location) Option {
	return func(r *SQLiteRepository) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// DSN returns the connection string for dbPath with WAL and a busy timeout,
// so concurrent writers queue instead of failing.
func DSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func NewSQLiteRepository(dbPath string, opts ...Option) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := DSN(dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return core.NewLedgerError(core.StorageUnavailable, "ping", err)
	}
	return nil
}

// Meta carries the provenance of a new transaction.
type Meta struct {
	RawText    string
	Source     string
	Supersedes int64 // ID of the transaction being corrected, 0 if none
}

// Append stores st for ownerID and returns it with its new identifier.
// Identifiers come from AUTOINCREMENT and are strictly increasing. A
// correction (meta.Supersedes) retires the corrected record in the same
// transaction.
func (r *SQLiteRepository) Append(ctx context.Context, ownerID int64, st core.StructuredTransaction, meta Meta) (core.Transaction, error) {
	now := r.now().In(r.loc)
	if err := st.Validate(core.DateOf(now)); err != nil {
		return core.Transaction{}, core.NewLedgerError(core.ConstraintViolation, "append", err)
	}
	source := meta.Source
	if source == "" {
		source = core.SourceText
	}

	params := CreateTransactionParams{
		OwnerID:     ownerID,
		Description: strings.TrimSpace(st.Description),
		AmountCents: st.Amount.Cents,
		Category:    string(st.Category),
		OccurredOn:  st.Date.String(),
		Confidence:  st.Confidence,
		RawText:     meta.RawText,
		Source:      source,
		CreatedAt:   now.UTC().Format(timeLayout),
	}

	var row TransactionRow
	if meta.Supersedes == 0 {
		var err error
		row, err = r.queries.CreateTransaction(ctx, params)
		if err != nil {
			return core.Transaction{}, ledgerErr("append", err)
		}
	} else {
		params.Supersedes = sql.NullInt64{Int64: meta.Supersedes, Valid: true}
		err := r.withTx(ctx, func(q *Queries) error {
			n, err := q.MarkSuperseded(ctx, MarkSupersededParams{ID: meta.Supersedes, OwnerID: ownerID})
			if err != nil {
				return err
			}
			if n == 0 {
				return core.NewLedgerError(core.ConstraintViolation, "append",
					fmt.Errorf("transaction %d: %w or already corrected", meta.Supersedes, core.ErrNotFound))
			}
			row, err = q.CreateTransaction(ctx, params)
			return err
		})
		if err != nil {
			return core.Transaction{}, ledgerErr("append", err)
		}
	}

	t, err := toTransaction(row)
	if err != nil {
		return core.Transaction{}, ledgerErr("append", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"owner_id", ownerID,
		"description", t.Description,
		"amount_cents", t.Amount.Cents,
		"category", t.Category,
		"occurred_on", t.OccurredOn.String(),
		"supersedes", t.Supersedes)
	return t, nil
}

// GetTransaction returns a transaction by ID, superseded ones included.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, ledgerErr("get transaction", err)
	}
	t, err := toTransaction(row)
	if err != nil {
		return core.Transaction{}, ledgerErr("get transaction", err)
	}
	return t, nil
}

// ListAll returns the owner's active transactions in period ordered by date
// then ID. A zero period lists everything.
func (r *SQLiteRepository) ListAll(ctx context.Context, ownerID int64, period core.Period) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactions(ctx, rangeFor(ownerID, period))
	if err != nil {
		return nil, ledgerErr("list transactions", err)
	}
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := toTransaction(row)
		if err != nil {
			return nil, ledgerErr("list transactions", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// TransactionIDs returns the owner's active transaction IDs in ascending
// order.
func (r *SQLiteRepository) TransactionIDs(ctx context.Context, ownerID int64) ([]int64, error) {
	ids, err := r.queries.ListTransactionIDs(ctx, ownerID)
	if err != nil {
		return nil, ledgerErr("list ids", err)
	}
	return ids, nil
}

// Owners returns every owner with at least one transaction.
func (r *SQLiteRepository) Owners(ctx context.Context) ([]int64, error) {
	owners, err := r.queries.ListOwners(ctx)
	if err != nil {
		return nil, ledgerErr("list owners", err)
	}
	return owners, nil
}

// Summary aggregates the owner's active transactions for one month.
func (r *SQLiteRepository) Summary(ctx context.Context, ownerID int64, year, month int) (core.MonthlySummary, error) {
	p := core.MonthPeriod(year, month)
	if err := p.Validate(); err != nil || p.IsYear() {
		return core.MonthlySummary{}, fmt.Errorf("summary %d-%d: %w", year, month, core.ErrInvalidMonth)
	}
	totals, err := r.queries.CategoryTotals(ctx, rangeFor(ownerID, p))
	if err != nil {
		return core.MonthlySummary{}, ledgerErr("summary", err)
	}

	byCat := make(map[core.Category]CategoryTotalsRow, len(totals))
	for _, t := range totals {
		byCat[core.Category(t.Category)] = t
	}
	s := core.MonthlySummary{Year: year, Month: month}
	for _, c := range core.Categories() {
		t := byCat[c]
		s.ByCategory = append(s.ByCategory, core.CategoryAmount{
			Category: c,
			Amount:   core.Money{Cents: t.TotalCents},
			Count:    int(t.Count),
		})
		s.Total.Cents += t.TotalCents
		s.Count += int(t.Count)
	}
	return s, nil
}

// Stats computes aggregate statistics over all of the owner's active
// transactions.
func (r *SQLiteRepository) Stats(ctx context.Context, ownerID int64) (core.Stats, error) {
	rows, err := r.queries.CategoryStats(ctx, ownerID)
	if err != nil {
		return core.Stats{}, ledgerErr("stats", err)
	}
	byCat := make(map[core.Category]CategoryStatsRow, len(rows))
	for _, row := range rows {
		byCat[core.Category(row.Category)] = row
	}

	var s core.Stats
	var total int64
	for _, c := range core.Categories() {
		row, ok := byCat[c]
		if !ok {
			continue
		}
		cs := core.CategoryStats{
			Category: c,
			Total:    core.Money{Cents: row.TotalCents},
			Count:    int(row.Count),
			Max:      core.Money{Cents: row.MaxCents},
			Min:      core.Money{Cents: row.MinCents},
		}
		if row.Count > 0 {
			cs.Average = core.Money{Cents: roundDiv(row.TotalCents, row.Count)}
		}
		s.ByCategory = append(s.ByCategory, cs)
		s.Count += int(row.Count)
		total += row.TotalCents
		if c.IsSavings() {
			s.TotalSaved.Cents += row.TotalCents
		} else {
			s.TotalSpent.Cents += row.TotalCents
		}
	}
	if s.Count > 0 {
		s.Average = core.Money{Cents: roundDiv(total, int64(s.Count))}
	}

	first, last, err := r.queries.DateRange(ctx, ownerID)
	if err != nil {
		return core.Stats{}, ledgerErr("stats", err)
	}
	if first.Valid && last.Valid {
		if s.First, err = core.ParseDate(first.String); err != nil {
			return core.Stats{}, ledgerErr("stats", err)
		}
		if s.Last, err = core.ParseDate(last.String); err != nil {
			return core.Stats{}, ledgerErr("stats", err)
		}
		s.SpanDays = int(s.Last.Sub(s.First.Time).Hours()/24) + 1
	}

	if s.BySource, err = r.queries.SourceCounts(ctx, ownerID); err != nil {
		return core.Stats{}, ledgerErr("stats", err)
	}
	if s.MirrorState, err = r.queries.MirrorStatusCounts(ctx, ownerID); err != nil {
		return core.Stats{}, ledgerErr("stats", err)
	}
	return s, nil
}

// PendingMirror returns active transactions of every owner that still need
// a mirror push, oldest first.
func (r *SQLiteRepository) PendingMirror(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.queries.PendingMirror(ctx, PendingMirrorParams{MaxAttempts: MaxMirrorAttempts, Limit: int64(limit)})
	if err != nil {
		return nil, ledgerErr("pending mirror", err)
	}
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := toTransaction(row)
		if err != nil {
			return nil, ledgerErr("pending mirror", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// MarkMirrored marks a transaction as present in the mirror.
func (r *SQLiteRepository) MarkMirrored(ctx context.Context, id int64) error {
	if err := r.queries.MarkMirrored(ctx, r.now().UTC().Format(timeLayout), id); err != nil {
		return ledgerErr("mark mirrored", err)
	}
	slog.DebugContext(ctx, "Transaction marked as mirrored", "id", id)
	return nil
}

// MarkMirrorError records a failed push attempt.
func (r *SQLiteRepository) MarkMirrorError(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := r.queries.MarkMirrorError(ctx, msg, id); err != nil {
		return ledgerErr("mark mirror error", err)
	}
	slog.WarnContext(ctx, "Transaction marked with mirror error", "id", id, "error", msg)
	return nil
}

// MarkMirrorPending queues a transaction for another push.
func (r *SQLiteRepository) MarkMirrorPending(ctx context.Context, id int64) error {
	if err := r.queries.MarkMirrorPending(ctx, id); err != nil {
		return ledgerErr("mark mirror pending", err)
	}
	return nil
}

// DeleteTransaction removes a transaction permanently. It is an explicit
// administrative action and never runs automatically.
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, ownerID, id int64) error {
	err := r.withTx(ctx, func(q *Queries) error {
		if err := q.ClearSupersedesRef(ctx, id); err != nil {
			return err
		}
		n, err := q.DeleteTransaction(ctx, id, ownerID)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return ledgerErr("delete transaction", err)
	}
	slog.InfoContext(ctx, "Transaction deleted", "id", id, "owner_id", ownerID)
	return nil
}

// EnsureOwnerConfig creates the default configuration for ownerID if it does
// not exist yet and returns the stored one.
func (r *SQLiteRepository) EnsureOwnerConfig(ctx context.Context, ownerID int64) (core.OwnerConfig, error) {
	row, err := fromOwnerConfig(core.DefaultOwnerConfig(ownerID), r.now())
	if err != nil {
		return core.OwnerConfig{}, ledgerErr("ensure owner config", err)
	}
	if err := r.queries.InsertOwnerConfig(ctx, row); err != nil {
		return core.OwnerConfig{}, ledgerErr("ensure owner config", err)
	}
	return r.GetOwnerConfig(ctx, ownerID)
}

func (r *SQLiteRepository) GetOwnerConfig(ctx context.Context, ownerID int64) (core.OwnerConfig, error) {
	row, err := r.queries.GetOwnerConfig(ctx, ownerID)
	if err != nil {
		return core.OwnerConfig{}, ledgerErr("get owner config", err)
	}
	cfg, err := toOwnerConfig(row)
	if err != nil {
		return core.OwnerConfig{}, ledgerErr("get owner config", err)
	}
	return cfg, nil
}

func (r *SQLiteRepository) UpdateOwnerConfig(ctx context.Context, cfg core.OwnerConfig) (core.OwnerConfig, error) {
	if cfg.LowConfidenceThreshold < 0 || cfg.LowConfidenceThreshold > 1 {
		return core.OwnerConfig{}, core.NewLedgerError(core.ConstraintViolation, "update owner config", core.ErrInvalidConfidence)
	}
	for _, c := range cfg.Categories {
		if !c.Valid() {
			return core.OwnerConfig{}, core.NewLedgerError(core.ConstraintViolation, "update owner config", core.ErrInvalidCategory)
		}
	}
	row, err := fromOwnerConfig(cfg, r.now())
	if err != nil {
		return core.OwnerConfig{}, ledgerErr("update owner config", err)
	}
	n, err := r.queries.UpdateOwnerConfig(ctx, row)
	if err != nil {
		return core.OwnerConfig{}, ledgerErr("update owner config", err)
	}
	if n == 0 {
		return core.OwnerConfig{}, ledgerErr("update owner config", fmt.Errorf("owner %d: %w", cfg.OwnerID, core.ErrNotFound))
	}
	return r.GetOwnerConfig(ctx, cfg.OwnerID)
}

// SetGoal creates or replaces the monthly limit for category.
func (r *SQLiteRepository) SetGoal(ctx context.Context, ownerID int64, category core.Category, limit core.Money, year, month int) (core.Goal, error) {
	if !category.Valid() {
		return core.Goal{}, core.NewLedgerError(core.ConstraintViolation, "set goal", core.ErrInvalidCategory)
	}
	if err := limit.Validate(); err != nil {
		return core.Goal{}, core.NewLedgerError(core.ConstraintViolation, "set goal", err)
	}
	row, err := r.queries.UpsertGoal(ctx, GoalRow{
		OwnerID:    ownerID,
		Category:   string(category),
		LimitCents: limit.Cents,
		Year:       int64(year),
		Month:      int64(month),
		CreatedAt:  r.now().UTC().Format(timeLayout),
	})
	if err != nil {
		return core.Goal{}, ledgerErr("set goal", err)
	}
	return toGoal(row), nil
}

func (r *SQLiteRepository) ListGoals(ctx context.Context, ownerID int64, year, month int) ([]core.Goal, error) {
	rows, err := r.queries.ListGoals(ctx, ownerID, int64(year), int64(month))
	if err != nil {
		return nil, ledgerErr("list goals", err)
	}
	out := make([]core.Goal, 0, len(rows))
	for _, row := range rows {
		out = append(out, toGoal(row))
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteGoal(ctx context.Context, ownerID int64, category core.Category, year, month int) error {
	n, err := r.queries.DeleteGoal(ctx, ownerID, string(category), int64(year), int64(month))
	if err != nil {
		return ledgerErr("delete goal", err)
	}
	if n == 0 {
		return fmt.Errorf("goal %s %04d-%02d: %w", category, year, month, core.ErrNotFound)
	}
	return nil
}

// ClearGoals removes every goal of the owner and returns how many there were.
func (r *SQLiteRepository) ClearGoals(ctx context.Context, ownerID int64) (int, error) {
	n, err := r.queries.ClearGoals(ctx, ownerID)
	if err != nil {
		return 0, ledgerErr("clear goals", err)
	}
	return int(n), nil
}

// CategorySpent sums the owner's active transactions in category for one
// month.
func (r *SQLiteRepository) CategorySpent(ctx context.Context, ownerID int64, category core.Category, year, month int) (core.Money, error) {
	cents, err := r.queries.CategorySpent(ctx, rangeFor(ownerID, core.MonthPeriod(year, month)), string(category))
	if err != nil {
		return core.Money{}, ledgerErr("category spent", err)
	}
	return core.Money{Cents: cents}, nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func rangeFor(ownerID int64, p core.Period) RangeParams {
	if p.Year == 0 {
		return RangeParams{OwnerID: ownerID, From: minDate, To: maxDate}
	}
	from, to := p.Bounds()
	return RangeParams{OwnerID: ownerID, From: from.String(), To: to.String()}
}

// ledgerErr maps driver failures onto the ledger error taxonomy. Errors that
// already carry a domain meaning pass through.
func ledgerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *core.LedgerError
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return core.NewLedgerError(core.ConstraintViolation, op, err)
	}
	return core.NewLedgerError(core.StorageUnavailable, op, err)
}

func toTransaction(row TransactionRow) (core.Transaction, error) {
	occurred, err := core.ParseDate(row.OccurredOn)
	if err != nil {
		return core.Transaction{}, err
	}
	created, err := time.Parse(timeLayout, row.CreatedAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse created_at %q: %w", row.CreatedAt, err)
	}
	return core.Transaction{
		ID:          row.ID,
		OwnerID:     row.OwnerID,
		Description: row.Description,
		Amount:      core.Money{Cents: row.AmountCents},
		Category:    core.Category(row.Category),
		OccurredOn:  occurred,
		Confidence:  row.Confidence,
		RawText:     row.RawText,
		Source:      row.Source,
		Supersedes:  row.Supersedes.Int64,
		Superseded:  row.Superseded != 0,
		CreatedAt:   created,
	}, nil
}

func toOwnerConfig(row OwnerConfigRow) (core.OwnerConfig, error) {
	var names []string
	if err := json.Unmarshal([]byte(row.Categories), &names); err != nil {
		return core.OwnerConfig{}, fmt.Errorf("decode categories: %w", err)
	}
	cats := make([]core.Category, 0, len(names))
	for _, n := range names {
		cats = append(cats, core.Category(n))
	}
	created, _ := time.Parse(timeLayout, row.CreatedAt)
	updated, _ := time.Parse(timeLayout, row.UpdatedAt)
	return core.OwnerConfig{
		OwnerID:                row.OwnerID,
		Currency:               row.Currency,
		Timezone:               row.Timezone,
		Categories:             cats,
		AutoCategorize:         row.AutoCategorize != 0,
		MonthlyInsights:        row.MonthlyInsights != 0,
		LowConfidenceThreshold: row.LowConfidenceThreshold,
		CreatedAt:              created,
		UpdatedAt:              updated,
	}, nil
}

func fromOwnerConfig(cfg core.OwnerConfig, now time.Time) (OwnerConfigRow, error) {
	names := make([]string, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		names = append(names, string(c))
	}
	b, err := json.Marshal(names)
	if err != nil {
		return OwnerConfigRow{}, err
	}
	ts := now.UTC().Format(timeLayout)
	return OwnerConfigRow{
		OwnerID:                cfg.OwnerID,
		Currency:               cfg.Currency,
		Timezone:               cfg.Timezone,
		Categories:             string(b),
		AutoCategorize:         boolToInt(cfg.AutoCategorize),
		MonthlyInsights:        boolToInt(cfg.MonthlyInsights),
		LowConfidenceThreshold: cfg.LowConfidenceThreshold,
		CreatedAt:              ts,
		UpdatedAt:              ts,
	}, nil
}

func toGoal(row GoalRow) core.Goal {
	created, _ := time.Parse(timeLayout, row.CreatedAt)
	return core.Goal{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Category:  core.Category(row.Category),
		Limit:     core.Money{Cents: row.LimitCents},
		Year:      int(row.Year),
		Month:     int(row.Month),
		CreatedAt: created,
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// roundDiv divides rounding half up.
func roundDiv(a, b int64) int64 {
	return (a + b/2) / b
}
