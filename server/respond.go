package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/store"
)

// envelope is the uniform error body. Message carries the Swedish display
// text for the code; Count is set only for ORPHANS_REMAINING.
type envelope struct {
	ErrorCode string   `json:"error_code"`
	Reasons   []string `json:"reasons"`
	Detail    string   `json:"detail,omitempty"`
	Message   string   `json:"message,omitempty"`
	Count     int      `json:"count,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err *core.CodedError) {
	env := envelope{
		ErrorCode: string(err.Code),
		Reasons:   err.Reasons,
		Detail:    err.Detail,
		Message:   err.Code.Message(),
		Count:     err.Count,
	}
	if env.Reasons == nil {
		env.Reasons = []string{}
	}
	writeJSON(w, status, env)
}

// statusFor maps each error code to its HTTP status.
var statusFor = map[core.ErrorCode]int{
	core.CodeValidationError:  http.StatusBadRequest,
	core.CodeInputGateFailed:  http.StatusUnprocessableEntity,
	core.CodeOutputGateFailed: http.StatusUnprocessableEntity,
	core.CodeEmptyInputSet:    http.StatusUnprocessableEntity,
	core.CodeUnmaskable:       http.StatusUnprocessableEntity,
	core.CodeOriginalMissing:  http.StatusConflict,
	core.CodeOrphansRemaining: http.StatusInternalServerError,
	core.CodeFortKnoxOffline:  http.StatusServiceUnavailable,
	core.CodeTimeout:          http.StatusGatewayTimeout,
	core.CodeNetworkError:     http.StatusBadGateway,
}

// fail translates any service error into the envelope. Unknown errors are
// deliberately opaque: no stack traces, no wrapped detail chains.
func fail(w http.ResponseWriter, err error) {
	var coded *core.CodedError
	if errors.As(err, &coded) {
		status, ok := statusFor[coded.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		writeError(w, status, coded)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, core.NewError(core.CodeValidationError, "not found"))
		return
	}
	writeError(w, http.StatusInternalServerError, core.NewError(core.CodeNetworkError, "internal error"))
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.NewError(core.CodeValidationError, "malformed request body")
	}
	return nil
}
