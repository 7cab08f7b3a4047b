package handlers

import (
	"net/http"
	"strconv"

	"github.com/smartdigilab/backend/internal/services"
	"go.uber.org/zap"
)

type EquipmentHandler struct {
	service *services.EquipmentService
	logger  *zap.Logger
}

func NewEquipmentHandler(service *services.EquipmentService, logger *zap.Logger) *EquipmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EquipmentHandler{service: service, logger: logger.Named("equipment_handler")}
}

// Available lists equipment that can be borrowed now
// @Summary List available equipment
// @Tags equipment
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Equipment
// @Router /equipment/available [get]
func (h *EquipmentHandler) Available(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListAvailable(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// List lists the whole catalogue
// @Summary List equipment
// @Tags equipment
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Equipment
// @Failure 403 {object} services.ErrorResponse
// @Router /equipment [get]
func (h *EquipmentHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	items, err := h.service.List(r.Context(), principal)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Get returns one item; public so QR codes resolve without a session
// @Summary Get equipment
// @Tags equipment
// @Produce json
// @Param id path int true "Equipment ID"
// @Success 200 {object} models.Equipment
// @Failure 404 {object} services.ErrorResponse
// @Router /equipment/{id} [get]
func (h *EquipmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	e, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// QRCode renders the item's QR code
// @Summary Equipment QR code
// @Tags equipment
// @Produce image/png
// @Param id path int true "Equipment ID"
// @Success 200 {file} binary
// @Failure 404 {object} services.ErrorResponse
// @Router /equipment/{id}/qrcode [get]
func (h *EquipmentHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	png, err := h.service.QRCode(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// Create adds an item to the catalogue
// @Summary Create equipment
// @Tags equipment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateEquipmentInput true "Equipment"
// @Success 201 {object} models.Equipment
// @Failure 403 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /equipment [post]
func (h *EquipmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	var input services.CreateEquipmentInput
	if !decodeJSON(w, r, &input) {
		return
	}

	e, err := h.service.Create(r.Context(), principal, input)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// Update edits catalogue details; quantity is not editable here
// @Summary Update equipment
// @Tags equipment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Equipment ID"
// @Param request body services.UpdateEquipmentInput true "Equipment details"
// @Success 200 {object} models.Equipment
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /equipment/{id} [put]
func (h *EquipmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var input services.UpdateEquipmentInput
	if !decodeJSON(w, r, &input) {
		return
	}

	e, err := h.service.Update(r.Context(), principal, id, input)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Delete removes an item that has no active borrowings
// @Summary Delete equipment
// @Tags equipment
// @Security BearerAuth
// @Param id path int true "Equipment ID"
// @Success 204
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /equipment/{id} [delete]
func (h *EquipmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), principal, id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
