package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var monthNames = [...]string{
	"Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro",
}

// MonthName returns the Portuguese name of month (1-12).
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthNames[month-1]
}

// Period is a calendar month, or a whole year when Month is 0.
type Period struct {
	Year  int
	Month int // 1-12, 0 for the whole year
}

// MonthPeriod returns the period for the given year and month.
func MonthPeriod(year, month int) Period { return Period{Year: year, Month: month} }

// YearPeriod returns the period covering a whole year.
func YearPeriod(year int) Period { return Period{Year: year} }

// ParsePeriod parses "2025-11" as a month or "2025" as a whole year.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	ys, ms, hasMonth := strings.Cut(s, "-")
	year, err := strconv.Atoi(ys)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	p := YearPeriod(year)
	if hasMonth {
		month, err := strconv.Atoi(ms)
		if err != nil || month < 1 || month > 12 {
			return Period{}, fmt.Errorf("invalid period %q: %w", s, ErrInvalidMonth)
		}
		p.Month = month
	}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (p Period) IsYear() bool { return p.Month == 0 }

func (p Period) Validate() error {
	if p.Year < 1900 || p.Year > 3000 {
		return fmt.Errorf("invalid year: %d", p.Year)
	}
	if p.Month < 0 || p.Month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Bounds returns the first day of the period and the first day after it.
func (p Period) Bounds() (Date, Date) {
	if p.IsYear() {
		return NewDate(p.Year, 1, 1), NewDate(p.Year+1, 1, 1)
	}
	start := NewDate(p.Year, p.Month, 1)
	return start, Date{Time: start.AddDate(0, 1, 0)}
}

// Days returns the number of calendar days in the period.
func (p Period) Days() int {
	start, end := p.Bounds()
	return int(end.Sub(start.Time).Hours() / 24)
}

// Label is the human name of the period, also used as the mirror tab name
// for months ("Novembro 2025").
func (p Period) Label() string {
	if p.IsYear() {
		return fmt.Sprintf("Ano %d", p.Year)
	}
	return fmt.Sprintf("%s %d", MonthName(p.Month), p.Year)
}

func (p Period) String() string {
	if p.IsYear() {
		return fmt.Sprintf("%04d", p.Year)
	}
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// CategoryAmount represents an amount aggregated by category.
type CategoryAmount struct {
	Category Category
	Amount   Money
	Count    int
}

// MonthlySummary is the derived aggregate for one calendar month. It is
// always recomputed from the ledger.
type MonthlySummary struct {
	Year       int
	Month      int // 1-12
	Total      Money
	Count      int
	ByCategory []CategoryAmount // every category, in Categories() order
}

// Spent returns the total excluding savings.
func (s MonthlySummary) Spent() Money {
	return Money{Cents: s.Total.Cents - s.CategoryTotal(CategoryFinance).Cents}
}

// CategoryTotal returns the subtotal for c.
func (s MonthlySummary) CategoryTotal(c Category) Money {
	for _, ca := range s.ByCategory {
		if ca.Category == c {
			return ca.Amount
		}
	}
	return Money{}
}

// Period returns the month this summary covers.
func (s MonthlySummary) Period() Period { return MonthPeriod(s.Year, s.Month) }

// CategoryStats holds per-category statistics over the whole ledger.
type CategoryStats struct {
	Category Category
	Total    Money
	Count    int
	Average  Money
	Max      Money
	Min      Money
}

// Stats are aggregate counts over all of an owner's active transactions.
type Stats struct {
	Count       int
	TotalSpent  Money // excludes savings
	TotalSaved  Money
	Average     Money
	First       Date
	Last        Date
	SpanDays    int
	ByCategory  []CategoryStats
	BySource    map[string]int
	MirrorState map[string]int
}

// Insights summarizes spending for a month or a year.
type Insights struct {
	Period       Period
	TotalSpent   Money
	TotalSaved   Money
	Count        int
	ByCategory   []CategoryAmount
	TopCategory  Category
	DailyAverage Money
	Months       []MonthlySummary // populated for yearly insights
}

// Goal is a monthly spending limit for one category.
type Goal struct {
	ID        int64
	OwnerID   int64
	Category  Category
	Limit     Money
	Year      int
	Month     int
	CreatedAt time.Time
}

type GoalStatus string

const (
	GoalWithin   GoalStatus = "within"
	GoalNearing  GoalStatus = "nearing"  // 80-100%
	GoalExceeded GoalStatus = "exceeded" // above 100%
)

// GoalProgress is a goal with the amount already spent against it.
type GoalProgress struct {
	Goal    Goal
	Spent   Money
	Percent float64
	Status  GoalStatus
}

// Evaluate computes progress for spent against g.
func (g Goal) Evaluate(spent Money) GoalProgress {
	pct := 0.0
	if g.Limit.Cents > 0 {
		pct = float64(spent.Cents) * 100 / float64(g.Limit.Cents)
	}
	status := GoalWithin
	switch {
	case pct > 100:
		status = GoalExceeded
	case pct >= 80:
		status = GoalNearing
	}
	return GoalProgress{Goal: g, Spent: spent, Percent: pct, Status: status}
}

// GoalAlert is raised when a new transaction moves a goal across the 80% or
// 100% mark.
type GoalAlert struct {
	Category Category
	Limit    Money
	Spent    Money
	Percent  float64
	Status   GoalStatus
}

// OwnerConfig holds per-owner settings stored in the ledger.
type OwnerConfig struct {
	OwnerID         int64
	Currency        string
	Timezone        string
	Categories      []Category
	AutoCategorize  bool
	MonthlyInsights bool

	// LowConfidenceThreshold flags records below it for confirmation.
	// Zero disables flagging.
	LowConfidenceThreshold float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	DefaultCurrency = "BRL"
	DefaultTimezone = "America/Sao_Paulo"
)

// DefaultOwnerConfig is the configuration created on an owner's first record.
func DefaultOwnerConfig(ownerID int64) OwnerConfig {
	return OwnerConfig{
		OwnerID:         ownerID,
		Currency:        DefaultCurrency,
		Timezone:        DefaultTimezone,
		Categories:      Categories(),
		AutoCategorize:  true,
		MonthlyInsights: true,
	}
}

// MirrorRow is one transaction as projected into a month tab.
type MirrorRow struct {
	TransactionID int64
	Date          Date
	Description   string
	Category      Category
	Amount        Money
	Notes         string
}

// NewMirrorRow projects t into its mirror form.
func NewMirrorRow(t Transaction) MirrorRow {
	return MirrorRow{
		TransactionID: t.ID,
		Date:          t.OccurredOn,
		Description:   t.Description,
		Category:      t.Category,
		Amount:        t.Amount,
		Notes:         ConfidenceNote(t.Confidence),
	}
}

// ConfidenceNote renders the confidence annotation shown in the notes column.
func ConfidenceNote(confidence float64) string {
	return fmt.Sprintf("Confiança: %.0f%%", confidence*100)
}

// ReconciliationReport lists drift between the ledger and the mirror.
type ReconciliationReport struct {
	OwnerID         int64
	MissingInMirror []int64 // in the ledger, absent from the mirror
	OrphanInMirror  []int64 // in the mirror, absent from the ledger
	Duplicates      []int64 // present more than once in the mirror
	SheetsChecked   int
	Failures        int
	Errors          []string
}

// Consistent reports whether no repair is needed.
func (r ReconciliationReport) Consistent() bool {
	return len(r.MissingInMirror) == 0 && len(r.OrphanInMirror) == 0 && len(r.Duplicates) == 0
}

// CleanReport counts the repairs done by a clean pass.
type CleanReport struct {
	OwnerID            int64
	RePushed           int
	Removed            int
	SummariesRewritten int
	Failures           int
	Errors             []string
}
