package storage

import "database/sql"

type TransactionRow struct {
	ID             int64
	OwnerID        int64
	Description    string
	AmountCents    int64
	Category       string
	OccurredOn     string
	Confidence     float64
	RawText        string
	Source         string
	Supersedes     sql.NullInt64
	Superseded     int64
	CreatedAt      string
	MirrorStatus   string
	MirrorAttempts int64
	MirrorError    string
	MirroredAt     sql.NullString
}

type OwnerConfigRow struct {
	OwnerID                int64
	Currency               string
	Timezone               string
	Categories             string
	AutoCategorize         int64
	MonthlyInsights        int64
	LowConfidenceThreshold float64
	CreatedAt              string
	UpdatedAt              string
}

type GoalRow struct {
	ID         int64
	OwnerID    int64
	Category   string
	LimitCents int64
	Year       int64
	Month      int64
	CreatedAt  string
}
