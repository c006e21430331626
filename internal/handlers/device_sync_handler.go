package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fleetsync/server/internal/models"
	"github.com/fleetsync/server/internal/services"
)

// DeviceSyncHandler serves the device-facing state protocol: conditional
// target state polls and current state reports.
type DeviceSyncHandler struct {
	stateService *services.DeviceStateService
}

// NewDeviceSyncHandler creates a new DeviceSyncHandler
func NewDeviceSyncHandler(stateService *services.DeviceStateService) *DeviceSyncHandler {
	return &DeviceSyncHandler{
		stateService: stateService,
	}
}

// GetTargetState serves a device's target state document
// @Summary Fetch target state
// @Description Conditional fetch of the device's deployed target state. Send the last ETag in If-None-Match to poll cheaply.
// @Tags device-sync
// @Produce json
// @Param uuid path string true "Device UUID"
// @Param If-None-Match header string false "ETag from a previous fetch"
// @Success 200 {object} models.TargetStateDocument
// @Success 304 "Target state unchanged"
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/device/{uuid}/state [get]
func (h *DeviceSyncHandler) GetTargetState(w http.ResponseWriter, r *http.Request) {
	deviceUUID := chi.URLParam(r, "uuid")
	if _, err := uuid.Parse(deviceUUID); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid device UUID.")
		return
	}

	ifNoneMatch := unquoteETag(r.Header.Get("If-None-Match"))

	result, err := h.stateService.FetchTargetState(r.Context(), deviceUUID, ifNoneMatch)
	if err != nil {
		log.Printf("Error fetching target state for %s: %v", deviceUUID, err)
		respondServiceError(w, err)
		return
	}

	if result.NotModified {
		if result.ETag != "" {
			w.Header().Set("ETag", quoteETag(result.ETag))
		}
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", quoteETag(result.ETag))
	respondJSON(w, http.StatusOK, result.Document)
}

// ReportCurrentState ingests a batch of device state reports
// @Summary Report current state
// @Description Accepts a wholesale current state report, keyed by device UUID. Each entry is applied independently.
// @Tags device-sync
// @Accept json
// @Produce json
// @Param request body models.StateReportBatch true "State reports keyed by device UUID"
// @Success 200 {object} models.StateReportResponse
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/device/state [patch]
func (h *DeviceSyncHandler) ReportCurrentState(w http.ResponseWriter, r *http.Request) {
	var batch models.StateReportBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if len(batch) == 0 {
		respondError(w, http.StatusBadRequest, "Report batch cannot be empty.")
		return
	}

	response := h.stateService.ReportCurrentState(r.Context(), batch)
	respondJSON(w, http.StatusOK, response)
}

func quoteETag(token string) string {
	return `"` + token + `"`
}

func unquoteETag(header string) string {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "W/")
	return strings.Trim(header, `"`)
}
