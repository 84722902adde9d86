package http

import (
	"net/http"

	"gastos/internal/core"
	"gastos/internal/log"
)

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
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
	progress, err := s.tracker.Goals(ctx, ownerID, period)
	if err != nil {
		s.fail(ctx, w, "Failed to list goals", err, log.OpList, ownerID)
		return
	}
	out := make([]goalView, 0, len(progress))
	for _, p := range progress {
		out = append(out, newGoalView(p))
	}
	NewJSONResponse().Data(map[string]any{"goals": out}).Write(w)
}

func (s *Server) handleSetGoal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	category, err := parseCategory(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	var req goalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	cents, err := core.ParseDecimalToCents(req.Limit)
	if err != nil {
		ErrorResponse(badRequest("invalid limit %q", req.Limit)).Write(w)
		return
	}
	period := s.today().Period()
	if req.Period != "" {
		if period, err = core.ParsePeriod(req.Period); err != nil {
			ErrorResponse(badRequest("%v", err)).Write(w)
			return
		}
	}

	goal, err := s.tracker.SetGoal(ctx, ownerID, category, core.Money{Cents: cents}, period)
	if err != nil {
		s.fail(ctx, w, "Failed to set goal", err, log.OpRecord, ownerID)
		return
	}
	NewJSONResponse().Data(newGoalView(goal.Evaluate(core.Money{}))).Write(w)
}

func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	category, err := parseCategory(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	period, err := parsePeriod(r, s.today().Period())
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	if err := s.tracker.DeleteGoal(ctx, ownerID, category, period); err != nil {
		s.fail(ctx, w, "Failed to delete goal", err, log.OpDelete, ownerID)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleClearGoals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	n, err := s.tracker.ClearGoals(ctx, ownerID)
	if err != nil {
		s.fail(ctx, w, "Failed to clear goals", err, log.OpDelete, ownerID)
		return
	}
	NewJSONResponse().Data(map[string]int{"removed": n}).Write(w)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	cfg, err := s.tracker.OwnerConfig(ctx, ownerID)
	if err != nil {
		s.fail(ctx, w, "Failed to load owner config", err, log.OpList, ownerID)
		return
	}
	NewJSONResponse().Data(newConfigView(cfg)).Write(w)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	var req configRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	cfg, err := s.tracker.OwnerConfig(ctx, ownerID)
	if err != nil {
		s.fail(ctx, w, "Failed to load owner config", err, log.OpList, ownerID)
		return
	}
	if cfg, err = req.apply(cfg); err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	cfg, err = s.tracker.UpdateOwnerConfig(ctx, cfg)
	if err != nil {
		s.fail(ctx, w, "Failed to update owner config", err, log.OpRecord, ownerID)
		return
	}
	NewJSONResponse().Data(newConfigView(cfg)).Write(w)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	report, err := s.tracker.SyncNow(ctx, ownerID)
	if err != nil {
		s.fail(ctx, w, "Mirror reconciliation failed", err, log.OpSync, ownerID)
		return
	}
	NewJSONResponse().Data(newReconcileView(report)).Write(w)
}

type cleanView struct {
	OwnerID            int64    `json:"owner_id"`
	RePushed           int      `json:"re_pushed"`
	Removed            int      `json:"removed"`
	SummariesRewritten int      `json:"summaries_rewritten"`
	Failures           int      `json:"failures"`
	Errors             []string `json:"errors,omitempty"`
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := parseOwnerID(r)
	if err != nil {
		ErrorResponse(err).Write(w)
		return
	}
	report, err := s.tracker.CleanNow(ctx, ownerID)
	if err != nil {
		s.fail(ctx, w, "Mirror cleanup failed", err, log.OpClean, ownerID)
		return
	}
	NewJSONResponse().Data(cleanView{
		OwnerID:            report.OwnerID,
		RePushed:           report.RePushed,
		Removed:            report.Removed,
		SummariesRewritten: report.SummariesRewritten,
		Failures:           report.Failures,
		Errors:             report.Errors,
	}).Write(w)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := s.tracker.ClearCache(ctx)
	if err != nil {
		s.fail(ctx, w, "Failed to clear interpretation cache", err, log.OpDelete, 0)
		return
	}
	NewJSONResponse().Data(map[string]int{"cleared": n}).Write(w)
}
