package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/interpreter"
	"gastos/internal/log"
	"gastos/internal/mirror"
	"gastos/internal/services"
	"gastos/internal/sheets/memory"
	"gastos/internal/storage"
)

var fixedNow = time.Date(2025, 11, 10, 15, 0, 0, 0, time.UTC)

type scripted map[string]interpreter.Inference

func (s scripted) Infer(_ context.Context, text string, _ core.Date) (interpreter.Inference, error) {
	inf, ok := s[text]
	if !ok {
		return interpreter.Inference{}, errors.New("upstream 503")
	}
	return inf, nil
}

func answer(desc, amount string, cat core.Category, confidence float64) interpreter.Inference {
	return interpreter.Inference{
		Description: desc,
		Amount:      json.RawMessage(amount),
		Category:    string(cat),
		Confidence:  &confidence,
	}
}

var answers = scripted{
	"almoço 85 reais":       answer("Almoço", "85", core.CategoryFood, 0.9),
	"almoço 75 reais":       answer("Almoço", "75", core.CategoryFood, 0.9),
	"uber 30":               answer("Uber", "30", core.CategoryTransport, 0.8),
	"cinema 40 reais ontem": answer("Cinema", "40", core.CategoryLeisure, 0.95),
}

func newTestServer(t *testing.T, withMirror bool, opts ...Option) *Server {
	t.Helper()
	ledger, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"),
		storage.WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	trackerOpts := []services.TrackerOption{services.WithClock(func() time.Time { return fixedNow })}
	if withMirror {
		trackerOpts = append(trackerOpts, services.WithMirror(mirror.New(memory.New(), ledger, mirror.Options{})))
	}
	tracker := services.NewTracker(ledger, interpreter.New(answers, cache.NewMemory(), time.Second), trackerOpts...)

	logger := log.New(log.Config{Output: io.Discard})
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	srv := NewServer(":0", tracker, logger, opts...)
	t.Cleanup(func() { srv.limiter.Stop() })
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func record(t *testing.T, srv *Server, owner, text string) recordView {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/api/owners/"+owner+"/transactions", map[string]string{"text": text})
	if rr.Code != http.StatusCreated {
		t.Fatalf("record %q: status %d body %s", text, rr.Code, rr.Body.String())
	}
	return decode[recordView](t, rr)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, false)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s: missing request id", path)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: missing security headers", path)
		}
	}
}

func TestRecord(t *testing.T) {
	srv := newTestServer(t, true)

	v := record(t, srv, "1", "cinema 40 reais ontem")
	tx := v.Transaction
	if tx.ID == 0 || tx.Amount.Cents != 4000 || tx.Amount.Value != "40.00" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if tx.Category != string(core.CategoryLeisure) || tx.Date.String() != "2025-11-09" {
		t.Errorf("category/date = %s %s", tx.Category, tx.Date)
	}
	if tx.Source != core.SourceAPI {
		t.Errorf("source = %q", tx.Source)
	}
	if v.MirrorPending || v.MirrorError != "" {
		t.Errorf("mirror should be in sync: %+v", v)
	}
}

func TestRecord_Errors(t *testing.T) {
	srv := newTestServer(t, false)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad owner", "/api/owners/abc/transactions", map[string]string{"text": "uber 30"}, http.StatusBadRequest, "bad_request"},
		{"empty text", "/api/owners/1/transactions", map[string]string{"text": "  "}, http.StatusBadRequest, "bad_request"},
		{"unknown field", "/api/owners/1/transactions", `{"text":"uber 30","amount":3}`, http.StatusBadRequest, "bad_request"},
		{"malformed json", "/api/owners/1/transactions", `{"text":`, http.StatusBadRequest, "bad_request"},
		{"unknown source", "/api/owners/1/transactions", map[string]string{"text": "uber 30", "source": "fax"}, http.StatusBadRequest, "bad_request"},
		{"invalid reference date", "/api/owners/1/transactions", map[string]string{"text": "uber 30", "reference_date": "2025-13-01"}, http.StatusBadRequest, "bad_request"},
		{"negative amount", "/api/owners/1/transactions", map[string]string{"text": "almoço -10 reais"}, http.StatusUnprocessableEntity, "invalid_amount"},
		{"capability down", "/api/owners/1/transactions", map[string]string{"text": "something else"}, http.StatusServiceUnavailable, "service_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, tt.path, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			body := decode[errorBody](t, rr)
			if body.Error != tt.code || body.Message == "" {
				t.Errorf("body = %+v", body)
			}
		})
	}

	rr := do(t, srv, http.MethodPost, "/api/owners/1/transactions", map[string]string{"text": "something else"})
	if got := decode[errorBody](t, rr).Message; got != core.MsgTemporary {
		t.Errorf("message = %q", got)
	}
}

func TestSummaryListAndDelete(t *testing.T) {
	srv := newTestServer(t, true)
	record(t, srv, "1", "almoço 85 reais")
	uber := record(t, srv, "1", "uber 30")
	record(t, srv, "2", "almoço 75 reais")

	rr := do(t, srv, http.MethodGet, "/api/owners/1/summary?period=2025-11", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status=%d %s", rr.Code, rr.Body.String())
	}
	sum := decode[summaryView](t, rr)
	if sum.Total.Cents != 11500 || sum.Count != 2 || sum.Label != "Novembro 2025" {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.ByCategory) != len(core.Categories()) {
		t.Errorf("expected every category, got %d", len(sum.ByCategory))
	}

	if rr := do(t, srv, http.MethodGet, "/api/owners/1/summary?period=2025", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("yearly summary status = %d", rr.Code)
	}

	list := decode[struct {
		Transactions []transactionView `json:"transactions"`
		Count        int               `json:"count"`
	}](t, do(t, srv, http.MethodGet, "/api/owners/1/transactions?period=2025-11", nil))
	if list.Count != 2 {
		t.Fatalf("list count = %d", list.Count)
	}

	path := "/api/owners/1/transactions/" + itoa(uber.Transaction.ID)
	if rr := do(t, srv, http.MethodDelete, path, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, srv, http.MethodDelete, path, nil); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, "/api/owners/2/transactions/"+itoa(uber.Transaction.ID), nil); rr.Code != http.StatusNotFound {
		t.Errorf("cross-owner delete status = %d", rr.Code)
	}
}

func TestCorrect(t *testing.T) {
	srv := newTestServer(t, true)
	first := record(t, srv, "1", "almoço 85 reais")

	rr := do(t, srv, http.MethodPut, "/api/owners/1/transactions/"+itoa(first.Transaction.ID),
		map[string]string{"text": "almoço 75 reais"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("correct status=%d %s", rr.Code, rr.Body.String())
	}
	v := decode[recordView](t, rr)
	if v.Transaction.Supersedes != first.Transaction.ID || v.Transaction.Amount.Cents != 7500 {
		t.Errorf("correction = %+v", v.Transaction)
	}

	sum := decode[summaryView](t, do(t, srv, http.MethodGet, "/api/owners/1/summary", nil))
	if sum.Total.Cents != 7500 || sum.Count != 1 {
		t.Errorf("superseded record still counted: %+v", sum)
	}
}

func TestStatsAndInsights(t *testing.T) {
	srv := newTestServer(t, false)
	record(t, srv, "1", "almoço 85 reais")
	record(t, srv, "1", "uber 30")

	stats := decode[statsView](t, do(t, srv, http.MethodGet, "/api/owners/1/stats", nil))
	if stats.Count != 2 || stats.TotalSpent.Cents != 11500 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.BySource[core.SourceAPI] != 2 {
		t.Errorf("by source = %v", stats.BySource)
	}

	in := decode[insightsView](t, do(t, srv, http.MethodGet, "/api/owners/1/insights?period=2025-11", nil))
	if in.TopCategory != string(core.CategoryFood) || in.TotalSpent.Cents != 11500 {
		t.Errorf("insights = %+v", in)
	}
	// ten elapsed days in November as of the fixed clock
	if in.DailyAverage.Cents != 1150 {
		t.Errorf("daily average = %d", in.DailyAverage.Cents)
	}

	year := decode[insightsView](t, do(t, srv, http.MethodGet, "/api/owners/1/insights?period=2025", nil))
	if len(year.Months) != 12 {
		t.Errorf("yearly insights months = %d", len(year.Months))
	}
}

func TestGoals(t *testing.T) {
	srv := newTestServer(t, false)
	food := "alimentacao"

	rr := do(t, srv, http.MethodPut, "/api/owners/1/goals/"+food, map[string]string{"limit": "100,00"})
	if rr.Code != http.StatusOK {
		t.Fatalf("set goal status=%d %s", rr.Code, rr.Body.String())
	}

	v := record(t, srv, "1", "almoço 85 reais")
	if len(v.GoalAlerts) != 1 || v.GoalAlerts[0].Status != string(core.GoalNearing) {
		t.Fatalf("goal alerts = %+v", v.GoalAlerts)
	}

	goals := decode[struct {
		Goals []goalView `json:"goals"`
	}](t, do(t, srv, http.MethodGet, "/api/owners/1/goals?period=2025-11", nil))
	if len(goals.Goals) != 1 || goals.Goals[0].Spent.Cents != 8500 {
		t.Fatalf("goals = %+v", goals)
	}

	if rr := do(t, srv, http.MethodPut, "/api/owners/1/goals/"+food, map[string]string{"limit": "-5"}); rr.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPut, "/api/owners/1/goals/astrologia", map[string]string{"limit": "5"}); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown category status = %d", rr.Code)
	}

	if rr := do(t, srv, http.MethodDelete, "/api/owners/1/goals/"+food, nil); rr.Code != http.StatusNoContent {
		t.Errorf("delete goal status = %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, srv, http.MethodDelete, "/api/owners/1/goals/"+food, nil); rr.Code != http.StatusNotFound {
		t.Errorf("second delete goal status = %d", rr.Code)
	}
}

func TestOwnerConfig(t *testing.T) {
	srv := newTestServer(t, false)

	cfg := decode[configView](t, do(t, srv, http.MethodGet, "/api/owners/7/config", nil))
	if cfg.Currency != core.DefaultCurrency || !cfg.AutoCategorize {
		t.Fatalf("default config = %+v", cfg)
	}

	rr := do(t, srv, http.MethodPatch, "/api/owners/7/config", `{"low_confidence_threshold":0.7,"auto_categorize":false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status=%d %s", rr.Code, rr.Body.String())
	}
	cfg = decode[configView](t, rr)
	if cfg.LowConfidenceThreshold != 0.7 || cfg.AutoCategorize {
		t.Errorf("patched config = %+v", cfg)
	}

	for _, body := range []string{`{"timezone":"Mars/Olympus"}`, `{"low_confidence_threshold":2}`, `{"categories":["nada"]}`} {
		if rr := do(t, srv, http.MethodPatch, "/api/owners/7/config", body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, rr.Code)
		}
	}
}

func TestSyncAndClean(t *testing.T) {
	srv := newTestServer(t, true)
	record(t, srv, "1", "almoço 85 reais")

	rep := decode[reconcileView](t, do(t, srv, http.MethodPost, "/api/owners/1/sync", nil))
	if !rep.Consistent || rep.MissingInMirror == nil {
		t.Errorf("report = %+v", rep)
	}

	rr := do(t, srv, http.MethodPost, "/api/owners/1/clean", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clean status=%d %s", rr.Code, rr.Body.String())
	}
	if c := decode[cleanView](t, rr); c.RePushed != 0 || c.Removed != 0 {
		t.Errorf("clean on a consistent mirror changed something: %+v", c)
	}
}

func TestSyncWithoutMirror(t *testing.T) {
	srv := newTestServer(t, false)
	rr := do(t, srv, http.MethodPost, "/api/owners/1/sync", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
	if decode[errorBody](t, rr).Error != "mirror_disabled" {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestClearCache(t *testing.T) {
	srv := newTestServer(t, false)
	record(t, srv, "1", "almoço 85 reais")
	record(t, srv, "1", "uber 30")

	got := decode[map[string]int](t, do(t, srv, http.MethodDelete, "/api/cache", nil))
	if got["cleared"] != 2 {
		t.Errorf("cleared = %v", got)
	}
}

func TestRecordRateLimit(t *testing.T) {
	srv := newTestServer(t, false, WithRecordLimit(1))
	record(t, srv, "1", "uber 30")

	rr := do(t, srv, http.MethodPost, "/api/owners/1/transactions", map[string]string{"text": "uber 30"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rr.Code)
	}
	// other owners keep their own budget
	record(t, srv, "2", "uber 30")
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, false)
	if rr := do(t, srv, http.MethodGet, "/api/owners/1/sync", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rr.Code)
	}
}

func itoa(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}
