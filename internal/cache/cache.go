// Package cache holds the interpretation cache: normalized raw text mapped to
// the structured transaction it was interpreted as.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"gastos/internal/core"
)

// ErrPayloadConflict is returned when a key is written twice with different
// payloads. Entries are write-once.
var ErrPayloadConflict = errors.New("cache: different payload for existing key")

// Entry is one cached interpretation. ReferenceDate is the day the payload's
// date was resolved against.
type Entry struct {
	Key           string                     `json:"key"`
	Payload       core.StructuredTransaction `json:"payload"`
	ReferenceDate core.Date                  `json:"reference_date"`
	CreatedAt     time.Time                  `json:"created_at"`
	Hits          int64                      `json:"hits"`
}

// Store is the interpretation cache used by the interpreter.
type Store interface {
	// Lookup returns the entry stored under key, counting a hit.
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	// Put stores payload, resolved as of ref, under key. Writing an equal
	// payload again is a no-op.
	Put(ctx context.Context, key string, payload core.StructuredTransaction, ref core.Date) error
	// Clear drops every entry.
	Clear(ctx context.Context) error
	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)
}

// Normalize lowercases text, trims it and collapses inner whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func samePayload(a, b core.StructuredTransaction) bool {
	return a.Description == b.Description &&
		a.Amount == b.Amount &&
		a.Category == b.Category &&
		a.Date.Equal(b.Date.Time) &&
		a.Confidence == b.Confidence
}
