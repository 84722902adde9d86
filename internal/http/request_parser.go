package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gastos/internal/core"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// parseOwnerID reads the {owner} path segment.
func parseOwnerID(r *http.Request) (int64, error) {
	return parsePositiveID(r.PathValue("owner"), "owner")
}

// parseTransactionID reads the {id} path segment.
func parseTransactionID(r *http.Request) (int64, error) {
	return parsePositiveID(r.PathValue("id"), "transaction id")
}

func parsePositiveID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", what, raw)
	}
	return id, nil
}

// parsePeriod reads ?period=2025-11 or ?period=2025. An absent value yields
// def.
func parsePeriod(r *http.Request, def core.Period) (core.Period, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("period"))
	if raw == "" {
		return def, nil
	}
	p, err := core.ParsePeriod(raw)
	if err != nil {
		return core.Period{}, badRequest("%v", err)
	}
	return p, nil
}

// parseCategory matches the {category} path segment against the category
// set, ignoring case and accents.
func parseCategory(r *http.Request) (core.Category, error) {
	raw := r.PathValue("category")
	c, ok := core.ParseCategory(raw)
	if !ok {
		return "", badRequest("unknown category %q", raw)
	}
	return c, nil
}

// decodeJSON decodes a bounded JSON body into dst, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return badRequest("body larger than %d bytes", maxErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return badRequest("empty body")
		}
		return badRequest("malformed JSON: %v", err)
	}
	if dec.More() {
		return badRequest("unexpected data after JSON body")
	}
	return nil
}

// sanitizeInput drops control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s))
}

type recordRequest struct {
	Text          string `json:"text"`
	ReferenceDate string `json:"reference_date,omitempty"`
	Source        string `json:"source,omitempty"`
}

// validate normalizes the request and resolves the reference date against
// today.
func (req *recordRequest) validate(today core.Date) (core.Date, error) {
	req.Text = sanitizeInput(req.Text)
	if req.Text == "" {
		return core.Date{}, badRequest("text is required")
	}
	switch req.Source {
	case "":
		req.Source = core.SourceAPI
	case core.SourceText, core.SourceAudio, core.SourceAPI:
	default:
		return core.Date{}, badRequest("unknown source %q", req.Source)
	}
	if req.ReferenceDate == "" {
		return today, nil
	}
	ref, err := core.ParseDate(req.ReferenceDate)
	if err != nil {
		return core.Date{}, badRequest("invalid reference_date: %v", err)
	}
	return ref, nil
}

type goalRequest struct {
	Limit  string `json:"limit"`
	Period string `json:"period,omitempty"`
}

type configRequest struct {
	Currency               *string  `json:"currency,omitempty"`
	Timezone               *string  `json:"timezone,omitempty"`
	Categories             []string `json:"categories,omitempty"`
	AutoCategorize         *bool    `json:"auto_categorize,omitempty"`
	MonthlyInsights        *bool    `json:"monthly_insights,omitempty"`
	LowConfidenceThreshold *float64 `json:"low_confidence_threshold,omitempty"`
}

// apply overlays the fields present in req onto cfg.
func (req configRequest) apply(cfg core.OwnerConfig) (core.OwnerConfig, error) {
	if req.Currency != nil {
		c := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if len(c) != 3 {
			return cfg, badRequest("invalid currency %q", *req.Currency)
		}
		cfg.Currency = c
	}
	if req.Timezone != nil {
		tz := strings.TrimSpace(*req.Timezone)
		if _, err := time.LoadLocation(tz); err != nil || tz == "" {
			return cfg, badRequest("invalid timezone %q", *req.Timezone)
		}
		cfg.Timezone = tz
	}
	if req.Categories != nil {
		cats := make([]core.Category, 0, len(req.Categories))
		for _, raw := range req.Categories {
			c, ok := core.ParseCategory(raw)
			if !ok {
				return cfg, badRequest("unknown category %q", raw)
			}
			cats = append(cats, c)
		}
		cfg.Categories = cats
	}
	if req.AutoCategorize != nil {
		cfg.AutoCategorize = *req.AutoCategorize
	}
	if req.MonthlyInsights != nil {
		cfg.MonthlyInsights = *req.MonthlyInsights
	}
	if req.LowConfidenceThreshold != nil {
		v := *req.LowConfidenceThreshold
		if v < 0 || v > 1 {
			return cfg, badRequest("low_confidence_threshold must be between 0 and 1")
		}
		cfg.LowConfidenceThreshold = v
	}
	return cfg, nil
}
