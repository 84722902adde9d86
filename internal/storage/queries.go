package storage

import (
	"context"
	"database/sql"
)

const transactionColumns = `id, owner_id, description, amount_cents, category, occurred_on, confidence,
    raw_text, source, supersedes, superseded, created_at, mirror_status, mirror_attempts,
    mirror_error, mirrored_at`

func scanTransaction(row interface{ Scan(...any) error }) (TransactionRow, error) {
	var i TransactionRow
	err := row.Scan(
		&i.ID,
		&i.OwnerID,
		&i.Description,
		&i.AmountCents,
		&i.Category,
		&i.OccurredOn,
		&i.Confidence,
		&i.RawText,
		&i.Source,
		&i.Supersedes,
		&i.Superseded,
		&i.CreatedAt,
		&i.MirrorStatus,
		&i.MirrorAttempts,
		&i.MirrorError,
		&i.MirroredAt,
	)
	return i, err
}

func scanTransactions(rows *sql.Rows) ([]TransactionRow, error) {
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		i, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createTransaction = `
INSERT INTO transactions (owner_id, description, amount_cents, category, occurred_on, confidence, raw_text, source, supersedes, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + transactionColumns

type CreateTransactionParams struct {
	OwnerID     int64
	Description string
	AmountCents int64
	Category    string
	OccurredOn  string
	Confidence  float64
	RawText     string
	Source      string
	Supersedes  sql.NullInt64
	CreatedAt   string
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (TransactionRow, error) {
	row := q.db.QueryRowContext(ctx, createTransaction,
		arg.OwnerID,
		arg.Description,
		arg.AmountCents,
		arg.Category,
		arg.OccurredOn,
		arg.Confidence,
		arg.RawText,
		arg.Source,
		arg.Supersedes,
		arg.CreatedAt,
	)
	return scanTransaction(row)
}

const markSuperseded = `
UPDATE transactions SET superseded = 1
WHERE id = ? AND owner_id = ? AND superseded = 0
`

type MarkSupersededParams struct {
	ID      int64
	OwnerID int64
}

func (q *Queries) MarkSuperseded(ctx context.Context, arg MarkSupersededParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, markSuperseded, arg.ID, arg.OwnerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id int64) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id))
}

const listTransactions = `
SELECT ` + transactionColumns + ` FROM transactions
WHERE owner_id = ? AND superseded = 0 AND occurred_on >= ? AND occurred_on < ?
ORDER BY occurred_on, id
`

type RangeParams struct {
	OwnerID int64
	From    string // inclusive, YYYY-MM-DD
	To      string // exclusive
}

func (q *Queries) ListTransactions(ctx context.Context, arg RangeParams) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions, arg.OwnerID, arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

const listTransactionIDs = `
SELECT id FROM transactions WHERE owner_id = ? AND superseded = 0 ORDER BY id
`

func (q *Queries) ListTransactionIDs(ctx context.Context, ownerID int64) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, listTransactionIDs, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

const listOwners = `SELECT DISTINCT owner_id FROM transactions ORDER BY owner_id`

func (q *Queries) ListOwners(ctx context.Context) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, listOwners)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

const categoryTotals = `
SELECT category, COALESCE(SUM(amount_cents), 0), COUNT(*)
FROM transactions
WHERE owner_id = ? AND superseded = 0 AND occurred_on >= ? AND occurred_on < ?
GROUP BY category
`

type CategoryTotalsRow struct {
	Category   string
	TotalCents int64
	Count      int64
}

func (q *Queries) CategoryTotals(ctx context.Context, arg RangeParams) ([]CategoryTotalsRow, error) {
	rows, err := q.db.QueryContext(ctx, categoryTotals, arg.OwnerID, arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryTotalsRow
	for rows.Next() {
		var i CategoryTotalsRow
		if err := rows.Scan(&i.Category, &i.TotalCents, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const categoryStats = `
SELECT category, COUNT(*), SUM(amount_cents), MAX(amount_cents), MIN(amount_cents)
FROM transactions
WHERE owner_id = ? AND superseded = 0
GROUP BY category
`

type CategoryStatsRow struct {
	Category   string
	Count      int64
	TotalCents int64
	MaxCents   int64
	MinCents   int64
}

func (q *Queries) CategoryStats(ctx context.Context, ownerID int64) ([]CategoryStatsRow, error) {
	rows, err := q.db.QueryContext(ctx, categoryStats, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryStatsRow
	for rows.Next() {
		var i CategoryStatsRow
		if err := rows.Scan(&i.Category, &i.Count, &i.TotalCents, &i.MaxCents, &i.MinCents); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const sourceCounts = `
SELECT source, COUNT(*) FROM transactions WHERE owner_id = ? AND superseded = 0 GROUP BY source
`

const mirrorStatusCounts = `
SELECT mirror_status, COUNT(*) FROM transactions WHERE owner_id = ? AND superseded = 0 GROUP BY mirror_status
`

func (q *Queries) countBy(ctx context.Context, query string, ownerID int64) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (q *Queries) SourceCounts(ctx context.Context, ownerID int64) (map[string]int, error) {
	return q.countBy(ctx, sourceCounts, ownerID)
}

func (q *Queries) MirrorStatusCounts(ctx context.Context, ownerID int64) (map[string]int, error) {
	return q.countBy(ctx, mirrorStatusCounts, ownerID)
}

const dateRange = `
SELECT MIN(occurred_on), MAX(occurred_on) FROM transactions WHERE owner_id = ? AND superseded = 0
`

func (q *Queries) DateRange(ctx context.Context, ownerID int64) (sql.NullString, sql.NullString, error) {
	var first, last sql.NullString
	err := q.db.QueryRowContext(ctx, dateRange, ownerID).Scan(&first, &last)
	return first, last, err
}

const pendingMirror = `
SELECT ` + transactionColumns + ` FROM transactions
WHERE superseded = 0 AND mirror_status IN ('pending', 'error') AND mirror_attempts < ?
ORDER BY id
LIMIT ?
`

type PendingMirrorParams struct {
	MaxAttempts int64
	Limit       int64
}

func (q *Queries) PendingMirror(ctx context.Context, arg PendingMirrorParams) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, pendingMirror, arg.MaxAttempts, arg.Limit)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

const markMirrored = `
UPDATE transactions SET mirror_status = 'synced', mirror_error = '', mirrored_at = ? WHERE id = ?
`

func (q *Queries) MarkMirrored(ctx context.Context, at string, id int64) error {
	_, err := q.db.ExecContext(ctx, markMirrored, at, id)
	return err
}

const markMirrorError = `
UPDATE transactions SET mirror_status = 'error', mirror_error = ?, mirror_attempts = mirror_attempts + 1 WHERE id = ?
`

func (q *Queries) MarkMirrorError(ctx context.Context, msg string, id int64) error {
	_, err := q.db.ExecContext(ctx, markMirrorError, msg, id)
	return err
}

const markMirrorPending = `
UPDATE transactions SET mirror_status = 'pending', mirror_attempts = 0, mirror_error = '' WHERE id = ?
`

func (q *Queries) MarkMirrorPending(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, markMirrorPending, id)
	return err
}

const deleteTransaction = `DELETE FROM transactions WHERE id = ? AND owner_id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, id, ownerID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransaction, id, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const clearSupersedesRef = `UPDATE transactions SET supersedes = NULL WHERE supersedes = ?`

func (q *Queries) ClearSupersedesRef(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, clearSupersedesRef, id)
	return err
}

const insertOwnerConfig = `
INSERT INTO owner_config (owner_id, currency, timezone, categories, auto_categorize, monthly_insights, low_confidence_threshold, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (owner_id) DO NOTHING
`

func (q *Queries) InsertOwnerConfig(ctx context.Context, arg OwnerConfigRow) error {
	_, err := q.db.ExecContext(ctx, insertOwnerConfig,
		arg.OwnerID,
		arg.Currency,
		arg.Timezone,
		arg.Categories,
		arg.AutoCategorize,
		arg.MonthlyInsights,
		arg.LowConfidenceThreshold,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const getOwnerConfig = `
SELECT owner_id, currency, timezone, categories, auto_categorize, monthly_insights, low_confidence_threshold, created_at, updated_at
FROM owner_config WHERE owner_id = ?
`

func (q *Queries) GetOwnerConfig(ctx context.Context, ownerID int64) (OwnerConfigRow, error) {
	var i OwnerConfigRow
	err := q.db.QueryRowContext(ctx, getOwnerConfig, ownerID).Scan(
		&i.OwnerID,
		&i.Currency,
		&i.Timezone,
		&i.Categories,
		&i.AutoCategorize,
		&i.MonthlyInsights,
		&i.LowConfidenceThreshold,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const updateOwnerConfig = `
UPDATE owner_config
SET currency = ?, timezone = ?, categories = ?, auto_categorize = ?, monthly_insights = ?, low_confidence_threshold = ?, updated_at = ?
WHERE owner_id = ?
`

func (q *Queries) UpdateOwnerConfig(ctx context.Context, arg OwnerConfigRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateOwnerConfig,
		arg.Currency,
		arg.Timezone,
		arg.Categories,
		arg.AutoCategorize,
		arg.MonthlyInsights,
		arg.LowConfidenceThreshold,
		arg.UpdatedAt,
		arg.OwnerID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const upsertGoal = `
INSERT INTO goals (owner_id, category, limit_cents, year, month, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (owner_id, category, year, month) DO UPDATE SET limit_cents = excluded.limit_cents
RETURNING id, owner_id, category, limit_cents, year, month, created_at
`

func (q *Queries) UpsertGoal(ctx context.Context, arg GoalRow) (GoalRow, error) {
	var i GoalRow
	err := q.db.QueryRowContext(ctx, upsertGoal,
		arg.OwnerID,
		arg.Category,
		arg.LimitCents,
		arg.Year,
		arg.Month,
		arg.CreatedAt,
	).Scan(&i.ID, &i.OwnerID, &i.Category, &i.LimitCents, &i.Year, &i.Month, &i.CreatedAt)
	return i, err
}

const listGoals = `
SELECT id, owner_id, category, limit_cents, year, month, created_at
FROM goals WHERE owner_id = ? AND year = ? AND month = ?
ORDER BY category
`

func (q *Queries) ListGoals(ctx context.Context, ownerID, year, month int64) ([]GoalRow, error) {
	rows, err := q.db.QueryContext(ctx, listGoals, ownerID, year, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GoalRow
	for rows.Next() {
		var i GoalRow
		if err := rows.Scan(&i.ID, &i.OwnerID, &i.Category, &i.LimitCents, &i.Year, &i.Month, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const deleteGoal = `DELETE FROM goals WHERE owner_id = ? AND category = ? AND year = ? AND month = ?`

func (q *Queries) DeleteGoal(ctx context.Context, ownerID int64, category string, year, month int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteGoal, ownerID, category, year, month)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const clearGoals = `DELETE FROM goals WHERE owner_id = ?`

func (q *Queries) ClearGoals(ctx context.Context, ownerID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, clearGoals, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const categorySpent = `
SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
WHERE owner_id = ? AND category = ? AND superseded = 0 AND occurred_on >= ? AND occurred_on < ?
`

func (q *Queries) CategorySpent(ctx context.Context, arg RangeParams, category string) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx, categorySpent, arg.OwnerID, category, arg.From, arg.To).Scan(&total)
	return total, err
}
