package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{"12,345", 1235, true},
		{" 2.50 ", 250, true},
		{"R$ 35,90", 3590, true},
		{"1.234,56", 123456, true},
		{"1,234.56", 123456, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"0", 0, false},
		{"0.001", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestMoneyFromDecimal(t *testing.T) {
	m, err := MoneyFromDecimal(decimal.RequireFromString("49.995"))
	if err != nil || m.Cents != 5000 {
		t.Fatalf("expected 5000, got %d (err=%v)", m.Cents, err)
	}
	if _, err := MoneyFromDecimal(decimal.NewFromInt(-3)); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[int64]string{
		5:          "R$ 0,05",
		3590:       "R$ 35,90",
		100000:     "R$ 1.000,00",
		123456:     "R$ 1.234,56",
		-12345:     "-R$ 123,45",
		1000000000: "R$ 10.000.000,00",
	}
	for cents, want := range cases {
		if got := (Money{Cents: cents}).String(); got != want {
			t.Fatalf("%d: expected %q, got %q", cents, want, got)
		}
	}
}

func TestMoneyReais(t *testing.T) {
	if got := (Money{Cents: 1250}).Reais(); got != 12.5 {
		t.Fatalf("expected 12.5, got %v", got)
	}
}
