package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindState:
		return http.StatusConflict
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError maps engine errors onto status codes. Anything untyped is
// logged and reported as an internal error.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		writeError(w, statusFor(ae.Kind), ae.Code, ae.Message)
	case db.IsUniqueViolation(err, ""):
		writeError(w, http.StatusConflict, "conflict", "the request conflicts with existing data")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// query reads optional query parameters and remembers the first bad one.
type query struct {
	r   *http.Request
	err error
}

func (q *query) uuidParam(name string) *uuid.UUID {
	v := q.r.URL.Query().Get(name)
	if v == "" || q.err != nil {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		q.err = apperr.Validation("%s must be a valid UUID", name)
		return nil
	}
	return &id
}

func (q *query) dateParam(name string) *civil.Date {
	v := q.r.URL.Query().Get(name)
	if v == "" || q.err != nil {
		return nil
	}
	d, err := civil.ParseDate(v)
	if err != nil {
		q.err = apperr.Validation("%s must be a date (YYYY-MM-DD)", name)
		return nil
	}
	return &d
}

func (q *query) intParam(name string, def int) int {
	v := q.r.URL.Query().Get(name)
	if v == "" || q.err != nil {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		q.err = apperr.Validation("%s must be a non-negative integer", name)
		return def
	}
	return n
}

func (q *query) listParam(name string) []string {
	v := q.r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func (q *query) resourceTypeParam() *resource.Type {
	v := q.r.URL.Query().Get("resource_type")
	if v == "" || q.err != nil {
		return nil
	}
	rt := resource.Type(v)
	if !rt.Valid() {
		q.err = apperr.Validation("invalid resource_type %q", v)
		return nil
	}
	return &rt
}

// resourceParam reads resource_type and resource_id. Both or neither must be set.
func (q *query) resourceParam() *resource.Ref {
	typ, id := q.r.URL.Query().Get("resource_type"), q.r.URL.Query().Get("resource_id")
	if (typ == "" && id == "") || q.err != nil {
		return nil
	}
	ref, err := resource.Parse(typ, id)
	if err != nil {
		q.err = err
		return nil
	}
	return &ref
}
