package api

import (
	"encoding/json"
	"net/http"

	"imagepipe/internal/services"
)

// RespondWithJSON writes payload as a JSON response with the given status code.
func RespondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "failed to marshal response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// RespondWithError writes a standardized JSON error response.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	body, _ := json.Marshal(map[string]string{"error": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// RespondWithErr maps err to a status code via its marker and writes it.
func RespondWithErr(w http.ResponseWriter, err error) {
	RespondWithError(w, services.HTTPStatus(err), err.Error())
}
