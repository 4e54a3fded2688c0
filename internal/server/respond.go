package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/logger"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errs.IsPermissionDenied(err):
		return http.StatusForbidden
	case errs.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errs.IsTransport(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs err and renders it. Messages of unclassified errors are
// not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := errorDetail{Kind: errs.KindOf(err).String(), Message: http.StatusText(status)}

	var e *errs.Error
	if errors.As(err, &e) {
		detail.Message = e.Message
		detail.Code = e.Code
	}

	log := logger.FromContext(r.Context())
	if status >= 500 {
		log.ErrorWith("request failed", err, map[string]any{"status": status})
	} else {
		log.DebugWith("request rejected", map[string]any{"status": status, "error": err.Error()})
	}

	writeJSON(w, status, errorBody{Error: detail})
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: errs.ErrKindUnknown.String(), Message: msg}})
}
