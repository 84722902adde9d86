package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gastos/internal/core"
	"gastos/internal/storage"
)

// ErrMirrorDisabled is returned by mirror operations when no mirror is
// configured.
var ErrMirrorDisabled = errors.New("mirror disabled")

// Interpreter turns free text into a structured transaction.
type Interpreter interface {
	Interpret(ctx context.Context, rawText string, referenceDate core.Date) (core.StructuredTransaction, error)
	ClearCache(ctx context.Context) error
	CacheSize(ctx context.Context) (int, error)
}

type Mirror interface {
	Push(ctx context.Context, t core.Transaction) error
	Reconcile(ctx context.Context, ownerID int64) (core.ReconciliationReport, error)
	CleanInconsistencies(ctx context.Context, ownerID int64) (core.CleanReport, error)
}

// Publisher hands mirror work to the background worker.
type Publisher interface {
	PublishPush(ctx context.Context, ownerID, transactionID int64) error
	PublishClean(ctx context.Context, ownerID int64) error
}

type TrackerOption func(*Tracker)

// WithMirror pushes every new record to m inline.
func WithMirror(m Mirror) TrackerOption { return func(t *Tracker) { t.mirror = m } }

// WithPublisher queues pushes instead of running them inline.
func WithPublisher(p Publisher) TrackerOption { return func(t *Tracker) { t.publisher = p } }

// WithLowConfidenceThreshold sets the threshold used when an owner has
// none configured.
func WithLowConfidenceThreshold(v float64) TrackerOption {
	return func(t *Tracker) { t.lowConfidence = v }
}

func WithClock(now func() time.Time) TrackerOption { return func(t *Tracker) { t.now = now } }

// Tracker is the boundary the conversational front-end talks to.
type Tracker struct {
	ledger        *storage.SQLiteRepository
	interp        Interpreter
	mirror        Mirror
	publisher     Publisher
	lowConfidence float64
	now           func() time.Time
}

func NewTracker(ledger *storage.SQLiteRepository, interp Interpreter, opts ...TrackerOption) *Tracker {
	t := &Tracker{ledger: ledger, interp: interp, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordResult is the outcome of a successful record. MirrorErr is a soft
// failure: the transaction is already in the ledger.
type RecordResult struct {
	Transaction   core.Transaction
	MirrorErr     error
	MirrorPending bool
	GoalAlerts    []core.GoalAlert
	LowConfidence bool
}

// InterpretAndRecord interprets rawText relative to referenceDate and
// appends the result to the owner's ledger.
func (t *Tracker) InterpretAndRecord(ctx context.Context, ownerID int64, rawText string, referenceDate core.Date) (RecordResult, error) {
	return t.Record(ctx, ownerID, rawText, referenceDate, core.SourceText)
}

// Record is InterpretAndRecord with an explicit source tag.
func (t *Tracker) Record(ctx context.Context, ownerID int64, rawText string, referenceDate core.Date, source string) (RecordResult, error) {
	return t.record(ctx, ownerID, rawText, referenceDate, storage.Meta{RawText: rawText, Source: source})
}

// Correct records rawText as a replacement for transaction id. The old
// record stays in the ledger but no longer counts.
func (t *Tracker) Correct(ctx context.Context, ownerID, id int64, rawText string, referenceDate core.Date) (RecordResult, error) {
	return t.record(ctx, ownerID, rawText, referenceDate, storage.Meta{RawText: rawText, Source: core.SourceText, Supersedes: id})
}

func (t *Tracker) record(ctx context.Context, ownerID int64, rawText string, ref core.Date, meta storage.Meta) (RecordResult, error) {
	cfg, err := t.ledger.EnsureOwnerConfig(ctx, ownerID)
	if err != nil {
		return RecordResult{}, err
	}

	st, err := t.interp.Interpret(ctx, rawText, ref)
	if err != nil {
		slog.WarnContext(ctx, "Interpretation failed", "owner_id", ownerID, "error", err)
		return RecordResult{}, err
	}
	st.Category = allowedCategory(cfg, st.Category)

	tx, err := t.ledger.Append(ctx, ownerID, st, meta)
	if err != nil {
		return RecordResult{}, err
	}

	res := RecordResult{Transaction: tx}
	res.MirrorPending, res.MirrorErr = t.dispatch(ctx, tx)

	threshold := cfg.LowConfidenceThreshold
	if threshold == 0 {
		threshold = t.lowConfidence
	}
	res.LowConfidence = threshold > 0 && tx.Confidence < threshold

	alerts, err := t.goalAlerts(ctx, tx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to evaluate goals", "owner_id", ownerID, "error", err)
	}
	res.GoalAlerts = alerts
	return res, nil
}

// allowedCategory folds categories the owner does not use into Other.
// Savings are always kept apart from spending.
func allowedCategory(cfg core.OwnerConfig, c core.Category) core.Category {
	if c.IsSavings() {
		return c
	}
	if !cfg.AutoCategorize {
		return core.CategoryOther
	}
	if len(cfg.Categories) == 0 {
		return c
	}
	for _, allowed := range cfg.Categories {
		if allowed == c {
			return c
		}
	}
	return core.CategoryOther
}

// dispatch sends tx to the mirror. With a publisher the push is queued;
// the ledger keeps it pending until the worker acknowledges it, so a
// failed publish is retried by the ledger poll.
func (t *Tracker) dispatch(ctx context.Context, tx core.Transaction) (pending bool, err error) {
	if t.publisher != nil {
		if err := t.publisher.PublishPush(ctx, tx.OwnerID, tx.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to publish mirror push", "id", tx.ID, "error", err)
			return true, core.NewSyncError(core.RemoteUnavailable, "", fmt.Errorf("publish push: %w", err))
		}
		return true, nil
	}
	if t.mirror == nil {
		return false, nil
	}
	if err := t.mirror.Push(ctx, tx); err != nil {
		return true, err
	}
	return false, nil
}

func (t *Tracker) goalAlerts(ctx context.Context, tx core.Transaction) ([]core.GoalAlert, error) {
	y, m := tx.OccurredOn.Year(), tx.OccurredOn.Month()
	goals, err := t.ledger.ListGoals(ctx, tx.OwnerID, y, m)
	if err != nil {
		return nil, err
	}
	var alerts []core.GoalAlert
	for _, g := range goals {
		if g.Category != tx.Category {
			continue
		}
		spent, err := t.ledger.CategorySpent(ctx, tx.OwnerID, g.Category, y, m)
		if err != nil {
			return alerts, err
		}
		after := g.Evaluate(spent)
		before := g.Evaluate(core.Money{Cents: spent.Cents - tx.Amount.Cents})
		if after.Status == core.GoalWithin || after.Status == before.Status {
			continue
		}
		alerts = append(alerts, core.GoalAlert{
			Category: g.Category,
			Limit:    g.Limit,
			Spent:    spent,
			Percent:  after.Percent,
			Status:   after.Status,
		})
	}
	return alerts, nil
}

// GetSummary returns the monthly summary for period, which must be a month.
func (t *Tracker) GetSummary(ctx context.Context, ownerID int64, period core.Period) (core.MonthlySummary, error) {
	if err := period.Validate(); err != nil {
		return core.MonthlySummary{}, err
	}
	if period.IsYear() {
		return core.MonthlySummary{}, fmt.Errorf("summary needs a month: %w", core.ErrInvalidMonth)
	}
	return t.ledger.Summary(ctx, ownerID, period.Year, period.Month)
}

func (t *Tracker) GetStats(ctx context.Context, ownerID int64) (core.Stats, error) {
	return t.ledger.Stats(ctx, ownerID)
}

// ListTransactions lists the owner's active transactions. A zero period
// lists everything.
func (t *Tracker) ListTransactions(ctx context.Context, ownerID int64, period core.Period) ([]core.Transaction, error) {
	if period != (core.Period{}) {
		if err := period.Validate(); err != nil {
			return nil, err
		}
	}
	return t.ledger.ListAll(ctx, ownerID, period)
}

// Insights breaks spending down for a month or a whole year.
func (t *Tracker) Insights(ctx context.Context, ownerID int64, period core.Period) (core.Insights, error) {
	if err := period.Validate(); err != nil {
		return core.Insights{}, err
	}
	months := []int{period.Month}
	if period.IsYear() {
		months = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	}

	in := core.Insights{Period: period}
	byCat := make(map[core.Category]core.CategoryAmount)
	for _, m := range months {
		s, err := t.ledger.Summary(ctx, ownerID, period.Year, m)
		if err != nil {
			return core.Insights{}, err
		}
		if period.IsYear() {
			in.Months = append(in.Months, s)
		}
		in.Count += s.Count
		for _, ca := range s.ByCategory {
			acc := byCat[ca.Category]
			acc.Category = ca.Category
			acc.Amount = acc.Amount.Add(ca.Amount)
			acc.Count += ca.Count
			byCat[ca.Category] = acc
		}
	}

	var top core.CategoryAmount
	for _, c := range core.Categories() {
		ca := byCat[c]
		in.ByCategory = append(in.ByCategory, ca)
		if c.IsSavings() {
			in.TotalSaved = in.TotalSaved.Add(ca.Amount)
			continue
		}
		in.TotalSpent = in.TotalSpent.Add(ca.Amount)
		if ca.Amount.Cents > top.Amount.Cents {
			top = ca
		}
	}
	in.TopCategory = top.Category

	if days := t.elapsedDays(period); days > 0 {
		in.DailyAverage = core.Money{Cents: (in.TotalSpent.Cents + int64(days)/2) / int64(days)}
	}
	return in, nil
}

// elapsedDays counts the period's days up to today, so a running month is
// not averaged over days that have not happened yet.
func (t *Tracker) elapsedDays(p core.Period) int {
	start, end := p.Bounds()
	today := core.DateOf(t.now())
	switch {
	case today.Before(start.Time):
		return 0
	case today.Before(end.Time):
		return int(today.Sub(start.Time).Hours()/24) + 1
	}
	return p.Days()
}

// SyncNow reports drift between the ledger and the mirror without
// repairing it.
func (t *Tracker) SyncNow(ctx context.Context, ownerID int64) (core.ReconciliationReport, error) {
	if t.mirror == nil {
		return core.ReconciliationReport{OwnerID: ownerID}, ErrMirrorDisabled
	}
	return t.mirror.Reconcile(ctx, ownerID)
}

// CleanNow repairs the owner's mirror.
func (t *Tracker) CleanNow(ctx context.Context, ownerID int64) (core.CleanReport, error) {
	if t.mirror == nil {
		return core.CleanReport{OwnerID: ownerID}, ErrMirrorDisabled
	}
	return t.mirror.CleanInconsistencies(ctx, ownerID)
}

// RequestClean queues a clean pass for the worker, or runs it inline when
// there is no queue.
func (t *Tracker) RequestClean(ctx context.Context, ownerID int64) error {
	if t.publisher != nil {
		return t.publisher.PublishClean(ctx, ownerID)
	}
	_, err := t.CleanNow(ctx, ownerID)
	return err
}

// Delete removes a transaction from the ledger. Its mirror row becomes an
// orphan that the next clean pass removes.
func (t *Tracker) Delete(ctx context.Context, ownerID, id int64) error {
	if err := t.ledger.DeleteTransaction(ctx, ownerID, id); err != nil {
		return err
	}
	if t.mirror == nil && t.publisher == nil {
		return nil
	}
	if err := t.RequestClean(ctx, ownerID); err != nil {
		slog.WarnContext(ctx, "Mirror cleanup after delete failed", "owner_id", ownerID, "id", id, "error", err)
	}
	return nil
}

// SetGoal sets a monthly limit for category.
func (t *Tracker) SetGoal(ctx context.Context, ownerID int64, category core.Category, limit core.Money, period core.Period) (core.Goal, error) {
	if err := period.Validate(); err != nil {
		return core.Goal{}, err
	}
	if period.IsYear() {
		return core.Goal{}, fmt.Errorf("goal needs a month: %w", core.ErrInvalidMonth)
	}
	return t.ledger.SetGoal(ctx, ownerID, category, limit, period.Year, period.Month)
}

// Goals returns the month's goals with what has been spent against them.
func (t *Tracker) Goals(ctx context.Context, ownerID int64, period core.Period) ([]core.GoalProgress, error) {
	goals, err := t.ledger.ListGoals(ctx, ownerID, period.Year, period.Month)
	if err != nil {
		return nil, err
	}
	out := make([]core.GoalProgress, 0, len(goals))
	for _, g := range goals {
		spent, err := t.ledger.CategorySpent(ctx, ownerID, g.Category, g.Year, g.Month)
		if err != nil {
			return nil, err
		}
		out = append(out, g.Evaluate(spent))
	}
	return out, nil
}

func (t *Tracker) DeleteGoal(ctx context.Context, ownerID int64, category core.Category, period core.Period) error {
	return t.ledger.DeleteGoal(ctx, ownerID, category, period.Year, period.Month)
}

func (t *Tracker) ClearGoals(ctx context.Context, ownerID int64) (int, error) {
	return t.ledger.ClearGoals(ctx, ownerID)
}

func (t *Tracker) OwnerConfig(ctx context.Context, ownerID int64) (core.OwnerConfig, error) {
	return t.ledger.EnsureOwnerConfig(ctx, ownerID)
}

func (t *Tracker) UpdateOwnerConfig(ctx context.Context, cfg core.OwnerConfig) (core.OwnerConfig, error) {
	if _, err := t.ledger.EnsureOwnerConfig(ctx, cfg.OwnerID); err != nil {
		return core.OwnerConfig{}, err
	}
	return t.ledger.UpdateOwnerConfig(ctx, cfg)
}

// ClearCache empties the interpretation cache and returns how many entries
// it held.
func (t *Tracker) ClearCache(ctx context.Context) (int, error) {
	n, err := t.interp.CacheSize(ctx)
	if err != nil {
		return 0, err
	}
	if err := t.interp.ClearCache(ctx); err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "Interpretation cache cleared", "entries", n)
	return n, nil
}

// Ping checks the ledger.
func (t *Tracker) Ping(ctx context.Context) error {
	return t.ledger.Ping(ctx)
}
