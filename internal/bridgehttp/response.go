package bridgehttp

import (
	"encoding/json"
	"net/http"
)

// envelope mirrors the {"data": ...} / {"error": {...}} wrapper arkeep's
// server/internal/api package uses for every response.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func ok(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, envelope{"data": payload})
}

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func errJSON(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, envelope{"error": errorResponse{Message: message, Code: code}})
}

func errBadRequest(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message, "bad_request")
}

func errUnauthorized(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusUnauthorized, message, "unauthorized")
}

func errNotFound(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusNotFound, message, "not_found")
}

func errInternal(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusInternalServerError, message, "internal_error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		errBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
