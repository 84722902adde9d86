package http

import (
	"time"

	"gastos/internal/core"
	"gastos/internal/services"
)

// Amounts leave the API as exact decimal strings in reais ("12.50") next to
// integer cents, so clients never round through floats.

type amountView struct {
	Cents     int64  `json:"cents"`
	Value     string `json:"value"`
	Formatted string `json:"formatted"`
}

func newAmount(m core.Money) amountView {
	return amountView{Cents: m.Cents, Value: m.Decimal().StringFixed(2), Formatted: m.String()}
}

type transactionView struct {
	ID          int64      `json:"id"`
	OwnerID     int64      `json:"owner_id"`
	Description string     `json:"description"`
	Amount      amountView `json:"amount"`
	Category    string     `json:"category"`
	Date        core.Date  `json:"date"`
	Confidence  float64    `json:"confidence"`
	Source      string     `json:"source"`
	Supersedes  int64      `json:"supersedes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func newTransactionView(t core.Transaction) transactionView {
	return transactionView{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Description: t.Description,
		Amount:      newAmount(t.Amount),
		Category:    string(t.Category),
		Date:        t.OccurredOn,
		Confidence:  t.Confidence,
		Source:      t.Source,
		Supersedes:  t.Supersedes,
		CreatedAt:   t.CreatedAt,
	}
}

type goalAlertView struct {
	Category string     `json:"category"`
	Limit    amountView `json:"limit"`
	Spent    amountView `json:"spent"`
	Percent  float64    `json:"percent"`
	Status   string     `json:"status"`
}

type recordView struct {
	Transaction   transactionView `json:"transaction"`
	MirrorPending bool            `json:"mirror_pending"`
	MirrorError   string          `json:"mirror_error,omitempty"`
	LowConfidence bool            `json:"low_confidence"`
	GoalAlerts    []goalAlertView `json:"goal_alerts,omitempty"`
	Message       string          `json:"message,omitempty"`
}

func newRecordView(res services.RecordResult) recordView {
	v := recordView{
		Transaction:   newTransactionView(res.Transaction),
		MirrorPending: res.MirrorPending,
		LowConfidence: res.LowConfidence,
	}
	if res.MirrorErr != nil {
		v.MirrorError = res.MirrorErr.Error()
		v.Message = core.UserMessage(res.MirrorErr)
	}
	for _, a := range res.GoalAlerts {
		v.GoalAlerts = append(v.GoalAlerts, goalAlertView{
			Category: string(a.Category),
			Limit:    newAmount(a.Limit),
			Spent:    newAmount(a.Spent),
			Percent:  a.Percent,
			Status:   string(a.Status),
		})
	}
	return v
}

type categoryAmountView struct {
	Category string     `json:"category"`
	Amount   amountView `json:"amount"`
	Count    int        `json:"count"`
}

func newCategoryAmounts(in []core.CategoryAmount) []categoryAmountView {
	out := make([]categoryAmountView, 0, len(in))
	for _, ca := range in {
		out = append(out, categoryAmountView{Category: string(ca.Category), Amount: newAmount(ca.Amount), Count: ca.Count})
	}
	return out
}

type summaryView struct {
	Period     string               `json:"period"`
	Label      string               `json:"label"`
	Total      amountView           `json:"total"`
	Spent      amountView           `json:"spent"`
	Count      int                  `json:"count"`
	ByCategory []categoryAmountView `json:"by_category"`
}

func newSummaryView(s core.MonthlySummary) summaryView {
	return summaryView{
		Period:     s.Period().String(),
		Label:      s.Period().Label(),
		Total:      newAmount(s.Total),
		Spent:      newAmount(s.Spent()),
		Count:      s.Count,
		ByCategory: newCategoryAmounts(s.ByCategory),
	}
}

type categoryStatsView struct {
	Category string     `json:"category"`
	Total    amountView `json:"total"`
	Count    int        `json:"count"`
	Average  amountView `json:"average"`
	Max      amountView `json:"max"`
	Min      amountView `json:"min"`
}

type statsView struct {
	Count       int                 `json:"count"`
	TotalSpent  amountView          `json:"total_spent"`
	TotalSaved  amountView          `json:"total_saved"`
	Average     amountView          `json:"average"`
	First       *core.Date          `json:"first,omitempty"`
	Last        *core.Date          `json:"last,omitempty"`
	SpanDays    int                 `json:"span_days"`
	ByCategory  []categoryStatsView `json:"by_category"`
	BySource    map[string]int      `json:"by_source"`
	MirrorState map[string]int      `json:"mirror_state"`
}

func newStatsView(s core.Stats) statsView {
	v := statsView{
		Count:       s.Count,
		TotalSpent:  newAmount(s.TotalSpent),
		TotalSaved:  newAmount(s.TotalSaved),
		Average:     newAmount(s.Average),
		SpanDays:    s.SpanDays,
		ByCategory:  make([]categoryStatsView, 0, len(s.ByCategory)),
		BySource:    s.BySource,
		MirrorState: s.MirrorState,
	}
	if !s.First.IsZero() {
		first, last := s.First, s.Last
		v.First, v.Last = &first, &last
	}
	for _, c := range s.ByCategory {
		v.ByCategory = append(v.ByCategory, categoryStatsView{
			Category: string(c.Category),
			Total:    newAmount(c.Total),
			Count:    c.Count,
			Average:  newAmount(c.Average),
			Max:      newAmount(c.Max),
			Min:      newAmount(c.Min),
		})
	}
	return v
}

type insightsView struct {
	Period       string               `json:"period"`
	Label        string               `json:"label"`
	TotalSpent   amountView           `json:"total_spent"`
	TotalSaved   amountView           `json:"total_saved"`
	Count        int                  `json:"count"`
	TopCategory  string               `json:"top_category,omitempty"`
	DailyAverage amountView           `json:"daily_average"`
	ByCategory   []categoryAmountView `json:"by_category"`
	Months       []summaryView        `json:"months,omitempty"`
}

func newInsightsView(in core.Insights) insightsView {
	v := insightsView{
		Period:       in.Period.String(),
		Label:        in.Period.Label(),
		TotalSpent:   newAmount(in.TotalSpent),
		TotalSaved:   newAmount(in.TotalSaved),
		Count:        in.Count,
		TopCategory:  string(in.TopCategory),
		DailyAverage: newAmount(in.DailyAverage),
		ByCategory:   newCategoryAmounts(in.ByCategory),
	}
	for _, m := range in.Months {
		v.Months = append(v.Months, newSummaryView(m))
	}
	return v
}

type goalView struct {
	Category string     `json:"category"`
	Period   string     `json:"period"`
	Limit    amountView `json:"limit"`
	Spent    amountView `json:"spent"`
	Percent  float64    `json:"percent"`
	Status   string     `json:"status"`
}

func newGoalView(p core.GoalProgress) goalView {
	return goalView{
		Category: string(p.Goal.Category),
		Period:   core.MonthPeriod(p.Goal.Year, p.Goal.Month).String(),
		Limit:    newAmount(p.Goal.Limit),
		Spent:    newAmount(p.Spent),
		Percent:  p.Percent,
		Status:   string(p.Status),
	}
}

type configView struct {
	OwnerID                int64    `json:"owner_id"`
	Currency               string   `json:"currency"`
	Timezone               string   `json:"timezone"`
	Categories             []string `json:"categories"`
	AutoCategorize         bool     `json:"auto_categorize"`
	MonthlyInsights        bool     `json:"monthly_insights"`
	LowConfidenceThreshold float64  `json:"low_confidence_threshold"`
}

func newConfigView(c core.OwnerConfig) configView {
	cats := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		cats = append(cats, string(cat))
	}
	return configView{
		OwnerID:                c.OwnerID,
		Currency:               c.Currency,
		Timezone:               c.Timezone,
		Categories:             cats,
		AutoCategorize:         c.AutoCategorize,
		MonthlyInsights:        c.MonthlyInsights,
		LowConfidenceThreshold: c.LowConfidenceThreshold,
	}
}

type reconcileView struct {
	OwnerID         int64    `json:"owner_id"`
	Consistent      bool     `json:"consistent"`
	MissingInMirror []int64  `json:"missing_in_mirror"`
	OrphanInMirror  []int64  `json:"orphan_in_mirror"`
	Duplicates      []int64  `json:"duplicates"`
	SheetsChecked   int      `json:"sheets_checked"`
	Failures        int      `json:"failures"`
	Errors          []string `json:"errors,omitempty"`
}

func newReconcileView(r core.ReconciliationReport) reconcileView {
	return reconcileView{
		OwnerID:         r.OwnerID,
		Consistent:      r.Consistent(),
		MissingInMirror: nonNil(r.MissingInMirror),
		OrphanInMirror:  nonNil(r.OrphanInMirror),
		Duplicates:      nonNil(r.Duplicates),
		SheetsChecked:   r.SheetsChecked,
		Failures:        r.Failures,
		Errors:          r.Errors,
	}
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
