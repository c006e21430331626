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

// RolloutHandler exposes rollout orchestration to operators
type RolloutHandler struct {
	orchestrator *services.RolloutOrchestrator
	rollback     *services.RollbackManager
	rolloutRepo  repository.RolloutRepo
	statusRepo   repository.RolloutDeviceRepo
	eventRepo    repository.RolloutEventRepo
}

// NewRolloutHandler creates a new RolloutHandler
func NewRolloutHandler(
	orchestrator *services.RolloutOrchestrator,
	rollback *services.RollbackManager,
	rolloutRepo repository.RolloutRepo,
	statusRepo repository.RolloutDeviceRepo,
	eventRepo repository.RolloutEventRepo,
) *RolloutHandler {
	return &RolloutHandler{
		orchestrator: orchestrator,
		rollback:     rollback,
		rolloutRepo:  rolloutRepo,
		statusRepo:   statusRepo,
		eventRepo:    eventRepo,
	}
}

// CreateRollout creates a new batched rollout
// @Summary Create rollout
// @Description Creates a rollout over a fleet or an explicit device list, computing the batch plan up front
// @Tags rollouts
// @Accept json
// @Produce json
// @Param request body models.CreateRolloutRequest true "Rollout definition"
// @Success 201 {object} models.Rollout
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts [post]
func (h *RolloutHandler) CreateRollout(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRolloutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	rollout, err := h.orchestrator.Create(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	log.Printf("Rollout created: %s (%s, %d devices)", rollout.ID, rollout.Name, rollout.TotalDevices)
	respondJSON(w, http.StatusCreated, rollout)
}

// ListRollouts returns all rollouts
// @Summary List rollouts
// @Tags rollouts
// @Produce json
// @Success 200 {object} models.RolloutListResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts [get]
func (h *RolloutHandler) ListRollouts(w http.ResponseWriter, r *http.Request) {
	rollouts, err := h.rolloutRepo.GetAll(r.Context())
	if err != nil {
		log.Printf("Error listing rollouts: %v", err)
		respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	respondJSON(w, http.StatusOK, models.RolloutListResponse{
		Rollouts:   rollouts,
		TotalCount: len(rollouts),
	})
}

// GetRollout returns one rollout
// @Summary Get rollout
// @Tags rollouts
// @Produce json
// @Param id path string true "Rollout ID"
// @Success 200 {object} models.Rollout
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts/{id} [get]
func (h *RolloutHandler) GetRollout(w http.ResponseWriter, r *http.Request) {
	rollout, ok := h.loadRollout(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, rollout)
}

// ListRolloutDevices returns per-device progress for a rollout
// @Summary List rollout devices
// @Tags rollouts
// @Produce json
// @Param id path string true "Rollout ID"
// @Success 200 {array} models.RolloutDevice
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts/{id}/devices [get]
func (h *RolloutHandler) ListRolloutDevices(w http.ResponseWriter, r *http.Request) {
	rollout, ok := h.loadRollout(w, r)
	if !ok {
		return
	}

	devices, err := h.statusRepo.GetByRollout(r.Context(), rollout.ID)
	if err != nil {
		log.Printf("Error listing rollout devices for %s: %v", rollout.ID, err)
		respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}
	respondJSON(w, http.StatusOK, devices)
}

// ListRolloutEvents returns the audit trail for a rollout
// @Summary List rollout events
// @Tags rollouts
// @Produce json
// @Param id path string true "Rollout ID"
// @Param limit query int false "Maximum events to return"
// @Success 200 {array} models.RolloutEvent
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts/{id}/events [get]
func (h *RolloutHandler) ListRolloutEvents(w http.ResponseWriter, r *http.Request) {
	rollout, ok := h.loadRollout(w, r)
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

	events, err := h.eventRepo.GetByRollout(r.Context(), rollout.ID, limit)
	if err != nil {
		log.Printf("Error listing rollout events for %s: %v", rollout.ID, err)
		respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// StartRollout starts a pending rollout
// @Summary Start rollout
// @Description Moves a PENDING rollout to IN_PROGRESS and deploys the first batch
// @Tags rollouts
// @Produce json
// @Param id path string true "Rollout ID"
// @Success 200 {object} models.Rollout
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts/{id}/start [post]
func (h *RolloutHandler) StartRollout(w http.ResponseWriter, r *http.Request) {
	rollout, err := h.orchestrator.StartRollout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rollout)
}

// PauseRollout pauses an in-progress rollout
// @Summary Pause rollout
// @Tags rollouts
// @Accept json
// @Produce json
// @Param id path string true "Rollout ID"
// @Param request body models.RolloutActionRequest false "Pause reason"
// @Success 200 {object} models.Rollout
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts/{id}/pause [post]
func (h *RolloutHandler) PauseRollout(w http.ResponseWriter, r *http.Request) {
	rollout, err := h.orchestrator.Pause(r.Context(), chi.URLParam(r, "id"), h.actionReason(r, "paused by operator"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rollout)
}

// ResumeRollout resumes a paused rollout
// @Summary Resume rollout
// @Tags rollouts
// @Produce json
// @Param id path string true "Rollout ID"
// @Success 200 {object} models.Rollout
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts/{id}/resume [post]
func (h *RolloutHandler) ResumeRollout(w http.ResponseWriter, r *http.Request) {
	rollout, err := h.orchestrator.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rollout)
}

// CancelRollout cancels a rollout
// @Summary Cancel rollout
// @Description Terminates the rollout. Devices already updated keep the new state unless rolled back explicitly.
// @Tags rollouts
// @Accept json
// @Produce json
// @Param id path string true "Rollout ID"
// @Param request body models.RolloutActionRequest false "Cancel reason"
// @Success 200 {object} models.Rollout
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts/{id}/cancel [post]
func (h *RolloutHandler) CancelRollout(w http.ResponseWriter, r *http.Request) {
	rollout, err := h.orchestrator.Cancel(r.Context(), chi.URLParam(r, "id"), h.actionReason(r, "canceled by operator"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rollout)
}

// AdvanceBatch manually advances to the next batch
// @Summary Advance batch
// @Description Operator override to move to the next batch once the current one has settled
// @Tags rollouts
// @Produce json
// @Param id path string true "Rollout ID"
// @Success 200 {object} models.Rollout
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts/{id}/advance [post]
func (h *RolloutHandler) AdvanceBatch(w http.ResponseWriter, r *http.Request) {
	rollout, err := h.orchestrator.AdvanceBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rollout)
}

// ReportDeviceHealth ingests a health verdict for an updated device
// @Summary Report device health
// @Description Marks a device healthy or failed within the rollout and re-evaluates the batch policy
// @Tags rollouts
// @Accept json
// @Produce json
// @Param id path string true "Rollout ID"
// @Param uuid path string true "Device UUID"
// @Param request body models.HealthSignalRequest true "Health verdict"
// @Success 200 {object} models.Rollout
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts/{id}/devices/{uuid}/health [post]
func (h *RolloutHandler) ReportDeviceHealth(w http.ResponseWriter, r *http.Request) {
	var req models.HealthSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	rollout, err := h.orchestrator.HandleHealthSignal(
		r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "uuid"), req.Healthy, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rollout)
}

// RollbackDevice restores one device to its pre-rollout state
// @Summary Roll back one device
// @Tags rollouts
// @Accept json
// @Produce json
// @Param id path string true "Rollout ID"
// @Param uuid path string true "Device UUID"
// @Param request body models.RolloutActionRequest false "Rollback reason"
// @Success 200 {object} models.RolloutDevice
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts/{id}/devices/{uuid}/rollback [post]
func (h *RolloutHandler) RollbackDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.rollback.RollbackDevice(
		r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "uuid"), h.actionReason(r, "rolled back by operator"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, device)
}

// RollbackAll restores every device the rollout updated
// @Summary Roll back rollout
// @Description Restores pre-update state on all updated devices. Partial failures are reported, not fatal.
// @Tags rollouts
// @Accept json
// @Produce json
// @Param id path string true "Rollout ID"
// @Param request body models.RolloutActionRequest false "Rollback reason"
// @Success 200 {object} models.RollbackReport
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/rollouts/{id}/rollback [post]
func (h *RolloutHandler) RollbackAll(w http.ResponseWriter, r *http.Request) {
	rolloutID := chi.URLParam(r, "id")
	report, err := h.rollback.RollbackAll(r.Context(), rolloutID, h.actionReason(r, "rolled back by operator"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	log.Printf("Rollback of rollout %s: %d rolled back, %d failed", rolloutID, report.DevicesRolledBack, report.DevicesFailed)
	respondJSON(w, http.StatusOK, report)
}

func (h *RolloutHandler) loadRollout(w http.ResponseWriter, r *http.Request) (*models.Rollout, bool) {
	rollout, err := h.rolloutRepo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		log.Printf("Error loading rollout: %v", err)
		respondError(w, http.StatusInternalServerError, "Database error.")
		return nil, false
	}
	if rollout == nil {
		respondError(w, http.StatusNotFound, "Rollout not found.")
		return nil, false
	}
	return rollout, true
}

func (h *RolloutHandler) actionReason(r *http.Request, fallback string) string {
	if r.ContentLength <= 0 {
		return fallback
	}
	var req models.RolloutActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		return fallback
	}
	return req.Reason
}
