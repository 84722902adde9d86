// Package interpreter turns free-form Portuguese text into validated
// structured transactions, with the interpretation cache in front of an
// external language capability.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"gastos/internal/cache"
	"gastos/internal/core"
)

// DefaultTimeout bounds a single capability call.
const DefaultTimeout = 20 * time.Second

// defaultConfidence is used when the capability omits one.
const defaultConfidence = 0.8

// Capability is an external language-understanding service. It may fail,
// may be slow and is billed per call.
type Capability interface {
	Infer(ctx context.Context, text string, referenceDate core.Date) (Inference, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, text string, referenceDate core.Date) (Inference, error)

func (f CapabilityFunc) Infer(ctx context.Context, text string, referenceDate core.Date) (Inference, error) {
	return f(ctx, text, referenceDate)
}

type Interpreter struct {
	capability Capability
	cache      cache.Store
	timeout    time.Duration
	group      singleflight.Group
}

// New returns an Interpreter. store is owned by the caller so tests can pass
// an isolated cache.
func New(capability Capability, store cache.Store, timeout time.Duration) *Interpreter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Interpreter{capability: capability, cache: store, timeout: timeout}
}

// Interpret returns the structured form of rawText as of referenceDate.
// Failures are *core.InterpretationError. Nothing is cached on failure.
func (i *Interpreter) Interpret(ctx context.Context, rawText string, referenceDate core.Date) (core.StructuredTransaction, error) {
	if strings.TrimSpace(rawText) == "" {
		return core.StructuredTransaction{}, core.NewInterpretationError(core.InvalidResponse, errors.New("empty message"))
	}
	if err := referenceDate.Validate(); err != nil {
		return core.StructuredTransaction{}, fmt.Errorf("reference date: %w", err)
	}
	if HasNegativeAmount(rawText) {
		return core.StructuredTransaction{}, core.NewInterpretationError(core.InvalidAmount, errors.New("negative amount in message"))
	}

	key := cache.Normalize(rawText)

	entry, ok, err := i.cache.Lookup(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "Interpretation cache lookup failed", "error", err)
	}
	if ok {
		if st, fresh := fromCache(rawText, referenceDate, entry); fresh {
			if err := checkStructured(st, referenceDate); err != nil {
				return core.StructuredTransaction{}, err
			}
			slog.DebugContext(ctx, "Interpretation cache hit", "key", key)
			return st, nil
		}
		slog.DebugContext(ctx, "Cached date is relative to another day, asking capability again",
			"key", key,
			"cached_reference", entry.ReferenceDate.String())
	}

	// Concurrent misses for the same phrase and day share one external call.
	// A stale hit is not written back: entries are write-once.
	v, err, shared := i.group.Do(key+"|"+referenceDate.String(), func() (any, error) {
		return i.infer(ctx, rawText, key, referenceDate, !ok)
	})
	if err != nil {
		return core.StructuredTransaction{}, err
	}
	if shared {
		slog.DebugContext(ctx, "Interpretation shared with concurrent request", "key", key)
	}
	return v.(core.StructuredTransaction), nil
}

func (i *Interpreter) infer(ctx context.Context, rawText, key string, ref core.Date, store bool) (core.StructuredTransaction, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	start := time.Now()
	inf, err := i.capability.Infer(callCtx, rawText, ref)
	if err != nil {
		slog.WarnContext(ctx, "Language capability failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return core.StructuredTransaction{}, classifyCapabilityError(err)
	}

	st, err := fromInference(inf, rawText, ref)
	if err != nil {
		return core.StructuredTransaction{}, err
	}

	if store {
		if err := i.cache.Put(ctx, key, st, ref); err != nil {
			// Another process may have cached the phrase first. The ledger is
			// unaffected either way.
			slog.WarnContext(ctx, "Interpretation cache write failed", "key", key, "error", err)
		}
	}

	slog.InfoContext(ctx, "Message interpreted",
		"description", st.Description,
		"amount_cents", st.Amount.Cents,
		"category", st.Category,
		"date", st.Date.String(),
		"confidence", st.Confidence,
		"duration_ms", time.Since(start).Milliseconds())
	return st, nil
}

// ClearCache drops every cached interpretation.
func (i *Interpreter) ClearCache(ctx context.Context) error {
	return i.cache.Clear(ctx)
}

// CacheSize returns the number of cached interpretations.
func (i *Interpreter) CacheSize(ctx context.Context) (int, error) {
	return i.cache.Len(ctx)
}

func classifyCapabilityError(err error) error {
	var ie *core.InterpretationError
	if errors.As(err, &ie) {
		return ie
	}
	return core.NewInterpretationError(core.ServiceUnavailable, err)
}

// fromInference validates a capability answer and applies the local rules.
func fromInference(inf Inference, rawText string, ref core.Date) (core.StructuredTransaction, error) {
	desc := strings.TrimSpace(inf.Description)
	if desc == "" {
		return core.StructuredTransaction{}, core.NewInterpretationError(core.InvalidResponse, core.ErrEmptyDescription)
	}
	if utf8.RuneCountInString(desc) > core.MaxDescriptionLength {
		desc = string([]rune(desc)[:core.MaxDescriptionLength])
	}

	cents, err := core.ParseDecimalToCents(inf.AmountText())
	if err != nil {
		return core.StructuredTransaction{}, core.NewInterpretationError(core.InvalidAmount, fmt.Errorf("amount %q: %w", inf.AmountText(), err))
	}

	category, ok := core.ParseCategory(inf.Category)
	if !ok {
		slog.Warn("Unknown category from capability, using default", "category", inf.Category, "default", core.CategoryOther)
		category = core.CategoryOther
	}

	date := ref
	if s := strings.TrimSpace(inf.Date); s != "" {
		date, err = core.ParseDate(s)
		if err != nil {
			return core.StructuredTransaction{}, core.NewInterpretationError(core.InvalidResponse, err)
		}
	}

	confidence := defaultConfidence
	if inf.Confidence != nil {
		confidence = *inf.Confidence
	}

	// A date the capability resolved is kept unless a local rule knows
	// better; Validate still bounds it by ref.
	st, _ := applyRules(rawText, ref, core.StructuredTransaction{
		Description: desc,
		Amount:      core.Money{Cents: cents},
		Category:    category,
		Date:        date,
		Confidence:  confidence,
	})
	if err := checkStructured(st, ref); err != nil {
		return core.StructuredTransaction{}, err
	}
	return st, nil
}

func checkStructured(st core.StructuredTransaction, ref core.Date) error {
	err := st.Validate(ref)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrInvalidAmount):
		return core.NewInterpretationError(core.InvalidAmount, err)
	default:
		return core.NewInterpretationError(core.InvalidResponse, err)
	}
}
