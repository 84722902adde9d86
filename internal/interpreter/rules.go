package interpreter

import (
	"regexp"

	"gastos/internal/cache"
	"gastos/internal/core"
)

// Savings vocabulary, folded. Any match forces the Finance category.
var reSavings = regexp.MustCompile(`\b(guardei|guardar|investi|investir|investimento|poupanca|reserva de emergencia|reserva|aplicacao|apliquei|caixinha|tesouro direto|cdb)\b`)

var (
	// A minus sign glued to a number: "-10", "- 10", "(-3".
	reSignedNumber = regexp.MustCompile(`(^|[\s(:])-\s*\d`)
	// A signed number tied to a currency marker: "-r$10", "r$ -10", "-10 reais".
	reSignedCurrency = regexp.MustCompile(`(^|[\s(:])(-\s*r\$\s*\d|r\$\s*-\s*\d|-\s*\d+(?:[.,]\d+)*\s*(?:reais|real)\b)`)
	reNumber         = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
)

// IsSavings reports whether text describes money saved or invested.
func IsSavings(text string) bool {
	return reSavings.MatchString(core.Fold(text))
}

// HasNegativeAmount reports whether the transaction amount in text is
// explicitly signed negative. A signed number counts when it carries the
// currency or is the only number in the message; "100 reais - 20 de
// desconto" is left to the capability.
func HasNegativeAmount(text string) bool {
	s := core.Fold(text)
	if reSignedCurrency.MatchString(s) {
		return true
	}
	return reSignedNumber.MatchString(s) && len(reNumber.FindAllString(s, 2)) == 1
}

// applyRules overrides the capability's category and date with the
// deterministic local rules. resolved reports whether the date came from
// ResolveDate; otherwise the capability's date is kept.
func applyRules(text string, ref core.Date, st core.StructuredTransaction) (_ core.StructuredTransaction, resolved bool) {
	if IsSavings(text) {
		st.Category = core.CategoryFinance
	}
	if d, ok := ResolveDate(text, ref); ok {
		st.Date = d
		resolved = true
	}
	return st, resolved
}

// fromCache re-resolves a cached interpretation against ref. ok is false
// when the cached date came from an expression only the capability
// understands and was resolved against another day.
func fromCache(text string, ref core.Date, e cache.Entry) (core.StructuredTransaction, bool) {
	st, resolved := applyRules(text, ref, e.Payload)
	switch {
	case resolved:
		return st, true
	case e.ReferenceDate.IsZero():
		return st, false
	case e.ReferenceDate.Equal(ref.Time):
		return st, true
	case st.Date.Equal(e.ReferenceDate.Time):
		// The message carried no date: it happened on whatever day it is sent.
		st.Date = ref
		return st, true
	}
	return st, false
}
