package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fleetsync/server/internal/models"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message})
}

// respondServiceError maps the domain error taxonomy onto HTTP statuses:
// validation 400, conflicts 409, unknown ids 404, everything else 500.
func respondServiceError(w http.ResponseWriter, err error) {
	var validationErr models.ValidationError
	var deviceErr models.DeviceError
	var conflictErr models.ConflictError
	var notFoundErr models.NotFoundError

	switch {
	case errors.Is(err, models.ErrDeviceNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validationErr), errors.As(err, &deviceErr):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflictErr):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notFoundErr):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "Internal server error.")
	}
}
