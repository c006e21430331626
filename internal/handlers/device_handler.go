package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetsync/server/internal/models"
	"github.com/fleetsync/server/internal/repository"
)

// DeviceHandler handles device provisioning and inventory endpoints
type DeviceHandler struct {
	deviceRepo repository.DeviceRepo
	targetRepo repository.TargetStateRepo
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(deviceRepo repository.DeviceRepo, targetRepo repository.TargetStateRepo) *DeviceHandler {
	return &DeviceHandler{
		deviceRepo: deviceRepo,
		targetRepo: targetRepo,
	}
}

// ProvisionDevice registers a new device in a fleet
// @Summary Provision device
// @Description Registers a device and provisions its empty target state. The device may supply its own UUID.
// @Tags devices
// @Accept json
// @Produce json
// @Param request body models.ProvisionDeviceRequest true "Device info"
// @Success 201 {object} models.Device
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/devices [post]
func (h *DeviceHandler) ProvisionDevice(w http.ResponseWriter, r *http.Request) {
	var req models.ProvisionDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	device, err := models.NewDevice(req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	existing, err := h.deviceRepo.GetByUUID(r.Context(), device.UUID)
	if err != nil {
		log.Printf("Error checking device %s: %v", device.UUID, err)
		respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "Device already provisioned.")
		return
	}

	if err := h.deviceRepo.Add(r.Context(), device); err != nil {
		log.Printf("Error provisioning device %s: %v", device.UUID, err)
		respondError(w, http.StatusInternalServerError, "Failed to provision device.")
		return
	}
	if _, err := h.targetRepo.CreateIfMissing(r.Context(), device.UUID); err != nil {
		log.Printf("Error provisioning target state for %s: %v", device.UUID, err)
	}

	log.Printf("Device provisioned: %s (%s) in fleet %s", device.DeviceName, device.UUID, device.FleetID)
	respondJSON(w, http.StatusCreated, device)
}

// ListDevices returns the device inventory
// @Summary List devices
// @Description Lists devices, optionally filtered by fleet. Deactivated devices are excluded unless all=true.
// @Tags devices
// @Produce json
// @Param fleetId query string false "Filter by fleet"
// @Param all query bool false "Include deactivated devices"
// @Success 200 {object} models.DeviceListResponse
// @Security ApiKeyAuth
// @Router /api/v1/devices [get]
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"

	var devices []*models.Device
	var err error
	if fleetID := r.URL.Query().Get("fleetId"); fleetID != "" {
		devices, err = h.deviceRepo.GetByFleet(r.Context(), fleetID, activeOnly)
	} else {
		devices, err = h.deviceRepo.GetAll(r.Context(), activeOnly)
	}
	if err != nil {
		log.Printf("Error listing devices: %v", err)
		respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	respondJSON(w, http.StatusOK, models.DeviceListResponse{
		Devices:    devices,
		TotalCount: len(devices),
	})
}

// GetDevice returns one device
// @Summary Get device
// @Tags devices
// @Produce json
// @Param uuid path string true "Device UUID"
// @Success 200 {object} models.Device
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/devices/{uuid} [get]
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	deviceUUID := chi.URLParam(r, "uuid")

	device, err := h.deviceRepo.GetByUUID(r.Context(), deviceUUID)
	if err != nil {
		log.Printf("Error loading device %s: %v", deviceUUID, err)
		respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}
	if device == nil {
		respondError(w, http.StatusNotFound, "Device not found.")
		return
	}
	respondJSON(w, http.StatusOK, device)
}

// DeactivateDevice soft-deletes a device
// @Summary Deactivate device
// @Description Marks the device inactive. Its state history is retained.
// @Tags devices
// @Param uuid path string true "Device UUID"
// @Success 204 "Device deactivated"
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/devices/{uuid} [delete]
func (h *DeviceHandler) DeactivateDevice(w http.ResponseWriter, r *http.Request) {
	deviceUUID := chi.URLParam(r, "uuid")

	deactivated, err := h.deviceRepo.Deactivate(r.Context(), deviceUUID)
	if err != nil {
		log.Printf("Error deactivating device %s: %v", deviceUUID, err)
		respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}
	if !deactivated {
		respondError(w, http.StatusNotFound, "Device not found.")
		return
	}

	log.Printf("Device deactivated: %s", deviceUUID)
	w.WriteHeader(http.StatusNoContent)
}
