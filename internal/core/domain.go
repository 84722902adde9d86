package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	CategoryFood      Category = "Alimentação"
	CategoryTransport Category = "Transporte"
	CategoryHealth    Category = "Saúde"
	CategoryLeisure   Category = "Lazer"
	CategoryHome      Category = "Casa"
	CategoryFinance   Category = "Finanças"
	CategoryOther     Category = "Outros"
)

const (
	SourceText  = "text"
	SourceAudio = "audio"
	SourceAPI   = "api"
)

const dateLayout = "2006-01-02"

type (
	// Category is one of the fixed spending categories. The value is the
	// Portuguese label shown in the mirror and to users.
	Category string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// StructuredTransaction is the validated output of interpretation,
	// before the ledger assigns an identity to it.
	StructuredTransaction struct {
		Description string   `json:"description"`
		Amount      Money    `json:"amount_cents"`
		Category    Category `json:"category"`
		Date        Date     `json:"date"`
		Confidence  float64  `json:"confidence"`
	}

	Transaction struct {
		ID          int64
		OwnerID     int64
		Description string
		Amount      Money
		Category    Category
		OccurredOn  Date
		Confidence  float64
		RawText     string
		Source      string
		Supersedes  int64 // 0 when this is not a correction
		Superseded  bool  // replaced by a later correction
		CreatedAt   time.Time
	}
)

var (
	ErrInvalidDay        = errors.New("invalid day")
	ErrInvalidMonth      = errors.New("invalid month")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyDescription  = errors.New("empty description")
	ErrInvalidCategory   = errors.New("invalid category")
	ErrFutureDate        = errors.New("date is in the future")
	ErrInvalidConfidence = errors.New("confidence out of range")
)

// Categories returns the category set in display order.
func Categories() []Category {
	return []Category{
		CategoryFood,
		CategoryTransport,
		CategoryHealth,
		CategoryLeisure,
		CategoryHome,
		CategoryFinance,
		CategoryOther,
	}
}

var categoryAliases = map[string]Category{
	"alimentacao":  CategoryFood,
	"food":         CategoryFood,
	"comida":       CategoryFood,
	"transporte":   CategoryTransport,
	"transport":    CategoryTransport,
	"saude":        CategoryHealth,
	"health":       CategoryHealth,
	"lazer":        CategoryLeisure,
	"leisure":      CategoryLeisure,
	"casa":         CategoryHome,
	"home":         CategoryHome,
	"financas":     CategoryFinance,
	"finance":      CategoryFinance,
	"savings":      CategoryFinance,
	"investimento": CategoryFinance,
	"outros":       CategoryOther,
	"other":        CategoryOther,
}

// ParseCategory matches a label against the category set ignoring case and
// accents. English names are accepted as aliases.
func ParseCategory(s string) (Category, bool) {
	c, ok := categoryAliases[Fold(s)]
	return c, ok
}

// Valid reports whether c belongs to the category set.
func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryTransport, CategoryHealth, CategoryLeisure,
		CategoryHome, CategoryFinance, CategoryOther:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }

// IsSavings reports whether the category counts as saved/invested money
// rather than consumption.
func (c Category) IsSavings() bool { return c == CategoryFinance }

var foldChain = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases s, strips accents and trims it.
func Fold(s string) string {
	out, _, err := transform.String(foldChain, strings.TrimSpace(s))
	if err != nil {
		out = strings.TrimSpace(s)
	}
	return strings.ToLower(out)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the clock part of t, keeping its calendar day in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// AddDays returns the date n days later (earlier when n is negative).
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// After reports whether d is a later calendar day than o.
func (d Date) After(o Date) bool {
	return d.Time.After(o.Time)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// Period returns the month d falls in.
func (d Date) Period() Period {
	return Period{Year: d.Year(), Month: d.Month()}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%d", m.Cents)), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var cents int64
	if _, err := fmt.Sscanf(string(b), "%d", &cents); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	m.Cents = cents
	return nil
}

// MaxDescriptionLength is counted in characters, not bytes.
const MaxDescriptionLength = 255

// Validate checks the structured fields. referenceDate bounds the date:
// nothing can be recorded later than the day the message refers to.
func (s StructuredTransaction) Validate(referenceDate Date) error {
	if len(strings.TrimSpace(s.Description)) == 0 {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(s.Description) > MaxDescriptionLength {
		return fmt.Errorf("description too long (max %d characters)", MaxDescriptionLength)
	}
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	if !s.Category.Valid() {
		return ErrInvalidCategory
	}
	if err := s.Date.Validate(); err != nil {
		return err
	}
	if !referenceDate.IsZero() && s.Date.After(referenceDate) {
		return ErrFutureDate
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return ErrInvalidConfidence
	}
	return nil
}

// Structured returns the interpreted fields of t.
func (t Transaction) Structured() StructuredTransaction {
	return StructuredTransaction{
		Description: t.Description,
		Amount:      t.Amount,
		Category:    t.Category,
		Date:        t.OccurredOn,
		Confidence:  t.Confidence,
	}
}
