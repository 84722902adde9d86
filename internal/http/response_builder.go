package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"gastos/internal/core"
	"gastos/internal/services"
)

// JSONResponseBuilder builds a JSON response with a fluent API.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	payload    any
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Data sets the response body.
func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.payload = v
	return b
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Error sets an error body. code is machine-readable; message is shown to
// the owner.
func (b *JSONResponseBuilder) Error(code, message string) *JSONResponseBuilder {
	b.payload = errorBody{Error: code, Message: message}
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if b.payload == nil || b.statusCode == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(b.payload)
}

// ErrorResponse maps err onto a status code and a user-facing message.
func ErrorResponse(err error) *JSONResponseBuilder {
	status, code := classify(err)
	msg := core.UserMessage(err)
	if errors.Is(err, errBadRequest) {
		msg = err.Error()
	}
	return NewJSONResponse().Status(status).Error(code, msg)
}

func classify(err error) (int, string) {
	var ie *core.InterpretationError
	var se *core.SyncError
	var le *core.LedgerError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrMirrorDisabled):
		return http.StatusConflict, "mirror_disabled"
	case errors.As(err, &ie):
		if ie.Kind == core.ServiceUnavailable {
			return http.StatusServiceUnavailable, ie.Kind.String()
		}
		return http.StatusUnprocessableEntity, ie.Kind.String()
	case errors.As(err, &se):
		return http.StatusBadGateway, se.Kind.String()
	case errors.As(err, &le):
		if le.Kind == core.ConstraintViolation {
			return http.StatusUnprocessableEntity, le.Kind.String()
		}
		return http.StatusInternalServerError, le.Kind.String()
	case errors.Is(err, core.ErrInvalidMonth), errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidCategory):
		return http.StatusBadRequest, "bad_request"
	}
	return http.StatusInternalServerError, "internal"
}
