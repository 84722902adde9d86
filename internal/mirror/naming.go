package mirror

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"gastos/internal/core"
)

// SummaryTab is the base title of the summary tab.
const SummaryTab = "Resumo"

var (
	MonthHeader = []string{"ID", "Data", "Descrição", "Categoria", "Valor", "Observações"}

	// SummaryHeader is the layout of a per-owner summary tab.
	SummaryHeader = func() []string {
		h := []string{"Mês", "Total"}
		for _, c := range core.Categories() {
			h = append(h, string(c))
		}
		return append(h, "Quantidade")
	}()

	// SharedSummaryHeader adds the owner to SummaryHeader for the summary
	// tab every owner writes to.
	SharedSummaryHeader = append(slices.Clone(SummaryHeader), "Titular")
)

// MonthSheet returns the tab title for an owner's month.
func (s *Synchronizer) MonthSheet(ownerID int64, p core.Period) string {
	if s.ownerTabs {
		return fmt.Sprintf("%s (%d)", p.Label(), ownerID)
	}
	return p.Label()
}

// SummarySheet returns the summary tab title for an owner.
func (s *Synchronizer) SummarySheet(ownerID int64) string {
	if s.ownerTabs {
		return fmt.Sprintf("%s (%d)", SummaryTab, ownerID)
	}
	return SummaryTab
}

// SummaryKey returns the summary row key for an owner's month. Rows on the
// shared tab carry the owner so one owner never overwrites another's month.
func (s *Synchronizer) SummaryKey(ownerID int64, p core.Period) string {
	if s.ownerTabs {
		return p.String()
	}
	return fmt.Sprintf("%s (%d)", p, ownerID)
}

func (s *Synchronizer) summaryHeader() []string {
	if s.ownerTabs {
		return SummaryHeader
	}
	return SharedSummaryHeader
}

// parseMonthSheet reads a month tab title back. Owner is 0 when the title
// carries no owner suffix.
func parseMonthSheet(title string) (core.Period, int64, bool) {
	title = strings.TrimSpace(title)
	var owner int64
	if i := strings.LastIndex(title, " ("); i > 0 && strings.HasSuffix(title, ")") {
		n, err := strconv.ParseInt(title[i+2:len(title)-1], 10, 64)
		if err != nil {
			return core.Period{}, 0, false
		}
		owner = n
		title = title[:i]
	}
	fields := strings.Fields(title)
	if len(fields) != 2 {
		return core.Period{}, 0, false
	}
	year, err := strconv.Atoi(fields[1])
	if err != nil {
		return core.Period{}, 0, false
	}
	name := core.Fold(fields[0])
	for m := 1; m <= 12; m++ {
		if core.Fold(core.MonthName(m)) == name {
			p := core.MonthPeriod(year, m)
			if p.Validate() != nil {
				return core.Period{}, 0, false
			}
			return p, owner, true
		}
	}
	return core.Period{}, 0, false
}

func monthRow(t core.Transaction) []any {
	r := core.NewMirrorRow(t)
	return []any{
		r.TransactionID,
		r.Date.String(),
		r.Description,
		string(r.Category),
		r.Amount.Reais(),
		r.Notes,
	}
}

func (s *Synchronizer) summaryRow(ownerID int64, sum core.MonthlySummary) []any {
	cells := []any{s.SummaryKey(ownerID, sum.Period()), sum.Total.Reais()}
	for _, c := range core.Categories() {
		cells = append(cells, sum.CategoryTotal(c).Reais())
	}
	cells = append(cells, sum.Count)
	if !s.ownerTabs {
		cells = append(cells, ownerID)
	}
	return cells
}
