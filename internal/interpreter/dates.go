package interpreter

import (
	"regexp"
	"strconv"
	"time"

	"gastos/internal/core"
)

var monthsByName = map[string]int{
	"janeiro": 1, "fevereiro": 2, "marco": 3, "abril": 4, "maio": 5, "junho": 6,
	"julho": 7, "agosto": 8, "setembro": 9, "outubro": 10, "novembro": 11, "dezembro": 12,
}

var weekdaysByName = map[string]time.Weekday{
	"domingo": time.Sunday, "segunda": time.Monday, "terca": time.Tuesday,
	"quarta": time.Wednesday, "quinta": time.Thursday, "sexta": time.Friday,
	"sabado": time.Saturday,
}

const (
	monthAlt   = `(janeiro|fevereiro|marco|abril|maio|junho|julho|agosto|setembro|outubro|novembro|dezembro)`
	weekdayAlt = `(domingo|segunda|terca|quarta|quinta|sexta|sabado)(?:-feira| feira)?`
)

// Patterns run against folded text (lowercase, no accents).
var (
	reSlashDate   = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2}|\d{4}))?\b`)
	reDayOfMonth  = regexp.MustCompile(`\b(\d{1,2}) de ` + monthAlt + `(?: de (\d{4}))?\b`)
	reDayN        = regexp.MustCompile(`\bdia (\d{1,2})\b`)
	reMonthName   = regexp.MustCompile(`\b(?:em|no mes de|mes de) ` + monthAlt + `\b`)
	reAgo         = regexp.MustCompile(`\b(?:ha|faz) (\d{1,3}) dias?\b`)
	reLastWeekday = regexp.MustCompile(`\b(?:ultim[oa] ` + weekdayAlt + `|` + weekdayAlt + ` passad[oa]|n[oa] ` + weekdayAlt + `)\b`)
	reAnteontem   = regexp.MustCompile(`\banteontem\b`)
	reOntem       = regexp.MustCompile(`\bontem\b`)
	reHoje        = regexp.MustCompile(`\bhoje\b`)
	reLastWeek    = regexp.MustCompile(`\bsemana passada\b`)
	reLastMonth   = regexp.MustCompile(`\bmes passado\b`)
)

// ResolveDate finds a date expression in text and resolves it against ref.
// It is a pure function of its inputs. The boolean is false when text
// carries no expression it understands.
func ResolveDate(text string, ref core.Date) (core.Date, bool) {
	s := core.Fold(text)

	if m := reSlashDate.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := ref.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		if d, ok := exactDate(year, month, day); ok {
			if m[3] == "" && d.After(ref) {
				d, ok = exactDate(year-1, month, day)
				return d, ok
			}
			return d, true
		}
	}

	if m := reDayOfMonth.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month := monthsByName[m[2]]
		year := ref.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		if d, ok := exactDate(year, month, day); ok {
			if m[3] == "" && d.After(ref) {
				return exactDate(year-1, month, day)
			}
			return d, true
		}
	}

	if m := reAgo.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return ref.AddDays(-n), true
	}

	switch {
	case reAnteontem.MatchString(s):
		return ref.AddDays(-2), true
	case reOntem.MatchString(s):
		return ref.AddDays(-1), true
	case reHoje.MatchString(s):
		return ref, true
	case reLastWeek.MatchString(s):
		return ref.AddDays(-7), true
	case reLastMonth.MatchString(s):
		return sameDayMonthsBack(ref, 1), true
	}

	if m := reLastWeekday.FindStringSubmatch(s); m != nil {
		name := firstNonEmpty(m[1:]...)
		return previousWeekday(ref, weekdaysByName[name]), true
	}

	if m := reDayN.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		if day >= 1 && day <= 31 {
			d := clampedDate(ref.Year(), ref.Month(), day)
			if d.After(ref) {
				prev := sameDayMonthsBack(ref, 1)
				d = clampedDate(prev.Year(), prev.Month(), day)
			}
			return d, true
		}
	}

	if m := reMonthName.FindStringSubmatch(s); m != nil {
		month := monthsByName[m[1]]
		d := core.NewDate(ref.Year(), month, 1)
		if d.After(ref) {
			d = core.NewDate(ref.Year()-1, month, 1)
		}
		return d, true
	}

	return core.Date{}, false
}

// exactDate rejects dates that do not exist instead of normalizing them.
func exactDate(year, month, day int) (core.Date, bool) {
	if month < 1 || month > 12 || day < 1 {
		return core.Date{}, false
	}
	d := core.NewDate(year, month, day)
	if d.Month() != month || d.Day() != day {
		return core.Date{}, false
	}
	return d, true
}

func clampedDate(year, month, day int) core.Date {
	last := core.NewDate(year, month+1, 0).Day()
	if day > last {
		day = last
	}
	return core.NewDate(year, month, day)
}

func sameDayMonthsBack(ref core.Date, n int) core.Date {
	first := core.NewDate(ref.Year(), ref.Month()-n, 1)
	return clampedDate(first.Year(), first.Month(), ref.Day())
}

// previousWeekday returns the latest date strictly before ref falling on wd.
func previousWeekday(ref core.Date, wd time.Weekday) core.Date {
	diff := int(ref.Weekday() - wd)
	if diff <= 0 {
		diff += 7
	}
	return ref.AddDays(-diff)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
