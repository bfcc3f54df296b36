// Package handler implements the HTTP endpoints. Handlers depend on narrow
// interfaces so tests can drive them with in-memory fakes.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/svgforge/internal/api/middleware"
	"github.com/kiranshivaraju/svgforge/internal/api/response"
)

const maxBodyBytes = 64 << 10

var validate = validator.New()

// decodeJSON reads a JSON body into v. It writes the error response itself and
// reports whether the caller should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "Request body too large", nil)
			return false
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

// checkStruct validates v with its validate tags and writes a 400 listing the
// failed fields by their json names.
func checkStruct(w http.ResponseWriter, v any, names map[string]string) bool {
	err := validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", nil)
		return false
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name, ok := names[fe.Field()]
		if !ok {
			name = fe.Field()
		}
		details[name] = "failed " + fe.Tag() + " validation"
	}
	response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", details)
	return false
}

func ownerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
	}
	return id, ok
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, code, "Invalid "+name+" format", nil)
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func internalError(w http.ResponseWriter) {
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
