package http

import (
	"context"
	"net/http"
	"time"

	"gastos/internal/core"
	"gastos/internal/log"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]any{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.started).String(),
	}).Write(w)
}

// handleReady checks the ledger. The mirror and the language capability
// are not required for readiness: records still land in the ledger while
// either is down.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"ledger": "ok"}
	status, code := "ready", http.StatusOK
	if err := s.tracker.Ping(ctx); err != nil {
		checks["ledger"] = "failed: " + err.Error()
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	NewJSONResponse().Status(code).Data(map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": s.now().Format(time.RFC3339),
	}).Write(w)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	ref, err := req.validate(s.today())
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}

	res, err := s.tracker.Record(ctx, ownerID, req.Text, ref, req.Source)
	if err != nil {
		s.fail(ctx, w, "Failed to record transaction", err, log.OpRecord, ownerID)
		return
	}

	tx := res.Transaction
	s.sl.LogTransactionRecorded(ctx, ownerID, tx.ID, tx.Description, tx.Amount.Cents, string(tx.Category), tx.Confidence)
	NewJSONResponse().Status(http.StatusCreated).Data(newRecordView(res)).Write(w)
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	id, err := parseTransactionID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	ref, err := req.validate(s.today())
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}

	res, err := s.tracker.Correct(ctx, ownerID, id, req.Text, ref)
	if err != nil {
		s.fail(ctx, w, "Failed to correct transaction", err, log.OpCorrect, ownerID)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(newRecordView(res)).Write(w)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	id, err := parseTransactionID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	if err := s.tracker.Delete(ctx, ownerID, id); err != nil {
		s.fail(ctx, w, "Failed to delete transaction", err, log.OpDelete, ownerID)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	period, err := parsePeriod(r, core.Period{})
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	txs, err := s.tracker.ListTransactions(ctx, ownerID, period)
	if err != nil {
		s.fail(ctx, w, "Failed to list transactions", err, log.OpList, ownerID)
		return
	}
	out := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, newTransactionView(t))
	}
	NewJSONResponse().Data(map[string]any{"transactions": out, "count": len(out)}).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	period, err := parsePeriod(r, s.today().Period())
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	sum, err := s.tracker.GetSummary(ctx, ownerID, period)
	if err != nil {
		s.fail(ctx, w, "Failed to build summary", err, log.OpSummary, ownerID)
		return
	}
	NewJSONResponse().Data(newSummaryView(sum)).Write(w)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	stats, err := s.tracker.GetStats(ctx, ownerID)
	if err != nil {
		s.fail(ctx, w, "Failed to compute stats", err, log.OpSummary, ownerID)
		return
	}
	NewJSONResponse().Data(newStatsView(stats)).Write(w)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	period, err := parsePeriod(r, s.today().Period())
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	in, err := s.tracker.Insights(ctx, ownerID, period)
	if err != nil {
		s.fail(ctx, w, "Failed to compute insights", err, log.OpSummary, ownerID)
		return
	}
	NewJSONResponse().Data(newInsightsView(in)).Write(w)
}

// fail logs err and writes the mapped error response. Client errors are
// not logged as failures.
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, msg string, err error, op string, ownerID int64) {
	resp := ErrorResponse(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.NewStructuredLogger(log.FromContext(ctx)).LogError(ctx, msg, err, log.ComponentHTTP, op, log.NewFields().WithOwner(ownerID))
	} else {
		log.FromContext(ctx).WarnContext(ctx, msg, log.FieldOwnerID, ownerID, log.FieldError, err)
	}
	resp.Write(w)
}
