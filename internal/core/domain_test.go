package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2025, 11, 9)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2025-11-09"` {
		t.Fatalf("unexpected json %s", b)
	}
	var back Date
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Equal(d.Time) {
		t.Fatalf("round trip mismatch: %v", back)
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"Alimentação": CategoryFood,
		"alimentacao": CategoryFood,
		" SAÚDE ":     CategoryHealth,
		"finance":     CategoryFinance,
		"Outros":      CategoryOther,
	}
	for in, want := range cases {
		got, ok := ParseCategory(in)
		if !ok || got != want {
			t.Fatalf("%q: expected %s, got %s (ok=%v)", in, want, got, ok)
		}
	}
	if _, ok := ParseCategory("viagem"); ok {
		t.Fatalf("expected unknown category")
	}
}

func TestStructuredTransactionValidate(t *testing.T) {
	ref := NewDate(2025, 11, 10)
	good := StructuredTransaction{
		Description: "almoço",
		Amount:      Money{Cents: 3500},
		Category:    CategoryFood,
		Date:        NewDate(2025, 11, 9),
		Confidence:  0.9,
	}
	if err := good.Validate(ref); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		mutate func(*StructuredTransaction)
		want   error
	}{
		{func(s *StructuredTransaction) { s.Description = " " }, ErrEmptyDescription},
		{func(s *StructuredTransaction) { s.Amount = Money{} }, ErrInvalidAmount},
		{func(s *StructuredTransaction) { s.Category = "Viagem" }, ErrInvalidCategory},
		{func(s *StructuredTransaction) { s.Date = NewDate(2025, 11, 11) }, ErrFutureDate},
		{func(s *StructuredTransaction) { s.Confidence = 1.2 }, ErrInvalidConfidence},
	}
	for i, tc := range cases {
		s := good
		tc.mutate(&s)
		if err := s.Validate(ref); !errors.Is(err, tc.want) {
			t.Fatalf("case %d expected %v, got %v", i, tc.want, err)
		}
	}
}

func TestDescriptionLengthCountsCharacters(t *testing.T) {
	ref := NewDate(2025, 11, 10)
	s := StructuredTransaction{
		Description: strings.Repeat("ã", MaxDescriptionLength),
		Amount:      Money{Cents: 100},
		Category:    CategoryOther,
		Date:        ref,
		Confidence:  0.9,
	}
	if err := s.Validate(ref); err != nil {
		t.Fatalf("%d accented characters should be accepted, got %v", MaxDescriptionLength, err)
	}
	s.Description += "ã"
	if err := s.Validate(ref); err == nil {
		t.Fatalf("expected error above %d characters", MaxDescriptionLength)
	}
}

func TestPeriod(t *testing.T) {
	p := MonthPeriod(2025, 11)
	if p.Label() != "Novembro 2025" {
		t.Fatalf("unexpected label %q", p.Label())
	}
	if p.Days() != 30 {
		t.Fatalf("expected 30 days, got %d", p.Days())
	}
	if MonthPeriod(2024, 2).Days() != 29 {
		t.Fatalf("expected leap february")
	}
	if YearPeriod(2025).Days() != 365 {
		t.Fatalf("expected 365 days")
	}
	start, end := MonthPeriod(2025, 12).Bounds()
	if start.String() != "2025-12-01" || end.String() != "2026-01-01" {
		t.Fatalf("unexpected bounds %s %s", start, end)
	}
}

func TestGoalEvaluate(t *testing.T) {
	g := Goal{Category: CategoryFood, Limit: Money{Cents: 10000}}
	cases := []struct {
		spent int64
		want  GoalStatus
	}{
		{5000, GoalWithin},
		{8000, GoalNearing},
		{10000, GoalNearing},
		{10001, GoalExceeded},
	}
	for _, tc := range cases {
		if got := g.Evaluate(Money{Cents: tc.spent}).Status; got != tc.want {
			t.Fatalf("spent %d: expected %s, got %s", tc.spent, tc.want, got)
		}
	}
}

func TestConfidenceNote(t *testing.T) {
	if got := ConfidenceNote(0.9); got != "Confiança: 90%" {
		t.Fatalf("unexpected note %q", got)
	}
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    Period
		wantErr bool
	}{
		{"2025-11", MonthPeriod(2025, 11), false},
		{" 2025-03 ", MonthPeriod(2025, 3), false},
		{"2024", YearPeriod(2024), false},
		{"2025-13", Period{}, true},
		{"2025-00", Period{}, true},
		{"novembro", Period{}, true},
		{"1800", Period{}, true},
		{"", Period{}, true},
	}
	for _, tt := range tests {
		got, err := ParsePeriod(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePeriod(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePeriod(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
