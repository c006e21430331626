package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetsync/server/internal/models"
	"github.com/fleetsync/server/internal/repository"
	"github.com/fleetsync/server/internal/services"
)

// TargetStateHandler exposes the operator side of target state: draft
// edits, deploys, cancels and the revision history.
type TargetStateHandler struct {
	targetRepo  repository.TargetStateRepo
	currentRepo repository.CurrentStateRepo
	deviceRepo  repository.DeviceRepo
	hub         *services.NotificationHub
	metrics     *services.FleetMetrics
}

// NewTargetStateHandler creates a new TargetStateHandler
func NewTargetStateHandler(
	targetRepo repository.TargetStateRepo,
	currentRepo repository.CurrentStateRepo,
	deviceRepo repository.DeviceRepo,
	hub *services.NotificationHub,
	metrics *services.FleetMetrics,
) *TargetStateHandler {
	return &TargetStateHandler{
		targetRepo:  targetRepo,
		currentRepo: currentRepo,
		deviceRepo:  deviceRepo,
		hub:         hub,
		metrics:     metrics,
	}
}

// GetTargetState returns the full target state row for a device
// @Summary Get target state
// @Description Returns the device's target state including any undeployed draft
// @Tags target-state
// @Produce json
// @Param uuid path string true "Device UUID"
// @Success 200 {object} models.TargetState
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/devices/{uuid}/target-state [get]
func (h *TargetStateHandler) GetTargetState(w http.ResponseWriter, r *http.Request) {
	deviceUUID, ok := h.knownDevice(w, r)
	if !ok {
		return
	}

	state, err := h.targetRepo.CreateIfMissing(r.Context(), deviceUUID)
	if err != nil {
		log.Printf("Error loading target state for %s: %v", deviceUUID, err)
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// SetDraft writes the draft target state for a device
// @Summary Set draft target state
// @Description Stores apps and config as an undeployed draft. Devices keep seeing the previously deployed state until a deploy.
// @Tags target-state
// @Accept json
// @Produce json
// @Param uuid path string true "Device UUID"
// @Param request body models.SetDraftRequest true "Draft content"
// @Success 200 {object} models.TargetState
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/devices/{uuid}/target-state [put]
func (h *TargetStateHandler) SetDraft(w http.ResponseWriter, r *http.Request) {
	deviceUUID, ok := h.knownDevice(w, r)
	if !ok {
		return
	}

	var req models.SetDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	state, err := h.targetRepo.SetDraft(r.Context(), deviceUUID, models.StateSnapshot{Apps: req.Apps, Config: req.Config})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// Deploy commits the pending draft, making it visible to the device
// @Summary Deploy target state
// @Description Commits the pending draft: records a revision, bumps the version and lifts the deployment gate
// @Tags target-state
// @Accept json
// @Produce json
// @Param uuid path string true "Device UUID"
// @Param request body models.DeployRequest false "Deploy metadata"
// @Success 200 {object} models.TargetState
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/devices/{uuid}/target-state/deploy [post]
func (h *TargetStateHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	deviceUUID, ok := h.knownDevice(w, r)
	if !ok {
		return
	}

	var req models.DeployRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body.")
			return
		}
	}
	actor := req.Actor
	if actor == "" {
		actor = "operator"
	}

	state, err := h.targetRepo.Deploy(r.Context(), deviceUUID, actor)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	log.Printf("Target state deployed for %s by %s (version %d)", deviceUUID, actor, state.Version)
	h.metrics.RecordDeploy(r.Context(), "operator")
	h.hub.BroadcastToTopic(services.DeviceTopic(deviceUUID), services.WSMessage{
		Type:    services.WSTypeTargetUpdated,
		Payload: services.TargetUpdatedPayload{DeviceUUID: deviceUUID, Version: state.Version},
	})

	respondJSON(w, http.StatusOK, state)
}

// CancelPendingDeploy discards the draft and restores deployed content
// @Summary Cancel pending deploy
// @Description Discards the undeployed draft, restoring the last deployed content without a version change
// @Tags target-state
// @Produce json
// @Param uuid path string true "Device UUID"
// @Success 200 {object} models.TargetState
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/devices/{uuid}/target-state/cancel [post]
func (h *TargetStateHandler) CancelPendingDeploy(w http.ResponseWriter, r *http.Request) {
	deviceUUID, ok := h.knownDevice(w, r)
	if !ok {
		return
	}

	state, err := h.targetRepo.CancelPendingDeploy(r.Context(), deviceUUID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// ClearTargetState deploys an empty target state
// @Summary Clear target state
// @Description Replaces the target state with an empty document as a new deployed version
// @Tags target-state
// @Produce json
// @Param uuid path string true "Device UUID"
// @Param actor query string false "Operator identity for the audit trail"
// @Success 200 {object} models.TargetState
// @Security ApiKeyAuth
// @Router /api/v1/devices/{uuid}/target-state [delete]
func (h *TargetStateHandler) ClearTargetState(w http.ResponseWriter, r *http.Request) {
	deviceUUID, ok := h.knownDevice(w, r)
	if !ok {
		return
	}

	actor := r.URL.Query().Get("actor")
	if actor == "" {
		actor = "operator"
	}

	state, err := h.targetRepo.Clear(r.Context(), deviceUUID, actor)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	log.Printf("Target state cleared for %s by %s", deviceUUID, actor)
	h.metrics.RecordDeploy(r.Context(), "operator")
	h.hub.BroadcastToTopic(services.DeviceTopic(deviceUUID), services.WSMessage{
		Type:    services.WSTypeTargetUpdated,
		Payload: services.TargetUpdatedPayload{DeviceUUID: deviceUUID, Version: state.Version},
	})

	respondJSON(w, http.StatusOK, state)
}

// GetHistory returns the deploy revision history for a device
// @Summary Target state history
// @Description Lists deployed revisions, newest first
// @Tags target-state
// @Produce json
// @Param uuid path string true "Device UUID"
// @Param limit query int false "Maximum revisions to return"
// @Success 200 {array} models.TargetStateRevision
// @Security ApiKeyAuth
// @Router /api/v1/devices/{uuid}/target-state/history [get]
func (h *TargetStateHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	deviceUUID, ok := h.knownDevice(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "Invalid limit parameter.")
			return
		}
		limit = parsed
	}

	revisions, err := h.targetRepo.GetRevisions(r.Context(), deviceUUID, limit)
	if err != nil {
		log.Printf("Error loading revisions for %s: %v", deviceUUID, err)
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, revisions)
}

// GetCurrentState returns the last state the device reported
// @Summary Get current state
// @Description Returns the device's last reported state, or 404 if it never reported
// @Tags target-state
// @Produce json
// @Param uuid path string true "Device UUID"
// @Success 200 {object} models.CurrentState
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/devices/{uuid}/current-state [get]
func (h *TargetStateHandler) GetCurrentState(w http.ResponseWriter, r *http.Request) {
	deviceUUID, ok := h.knownDevice(w, r)
	if !ok {
		return
	}

	state, err := h.currentRepo.Get(r.Context(), deviceUUID)
	if err != nil {
		log.Printf("Error loading current state for %s: %v", deviceUUID, err)
		respondServiceError(w, err)
		return
	}
	if state == nil {
		respondError(w, http.StatusNotFound, "Device has not reported state yet.")
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// knownDevice resolves and validates the device path parameter
func (h *TargetStateHandler) knownDevice(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceUUID := chi.URLParam(r, "uuid")

	device, err := h.deviceRepo.GetByUUID(r.Context(), deviceUUID)
	if err != nil {
		log.Printf("Error loading device %s: %v", deviceUUID, err)
		respondError(w, http.StatusInternalServerError, "Database error.")
		return "", false
	}
	if device == nil {
		respondError(w, http.StatusNotFound, "Device not found.")
		return "", false
	}
	return deviceUUID, true
}
