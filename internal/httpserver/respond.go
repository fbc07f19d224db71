package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/demeter-run/fabric/internal/apperr"
	"github.com/demeter-run/fabric/internal/telemetry"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, code string, message string) {
	Respond(w, status, ErrorResponse{Error: code, Message: message})
}

// RespondDomainError writes the HTTP response for an apperr.Error and
// increments fabric_domain_errors_total, per spec.md §6/§7.
func RespondDomainError(w http.ResponseWriter, source, domain string, err error) {
	e := apperr.As(err)
	telemetry.DomainErrorsTotal.WithLabelValues(source, domain, string(e.Code)).Inc()
	RespondError(w, e.Status, string(e.Code), e.Message)
}
