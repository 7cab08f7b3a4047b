package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/smartdigilab/backend/internal/services"
	"go.uber.org/zap"
)

// multipartOverhead is the allowance for form fields on top of the letter
const multipartOverhead = 1 << 20

type BorrowingHandler struct {
	service        *services.BorrowingService
	maxLetterBytes int64
	logger         *zap.Logger
}

func NewBorrowingHandler(service *services.BorrowingService, maxLetterBytes int64, logger *zap.Logger) *BorrowingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BorrowingHandler{
		service:        service,
		maxLetterBytes: maxLetterBytes,
		logger:         logger.Named("borrowing_handler"),
	}
}

// Create submits a borrow request
// @Summary Create borrowing
// @Description Borrow equipment. Send multipart/form-data with an optional request_letter file (PDF, JPEG or PNG), or plain JSON without a letter.
// @Tags borrowings
// @Accept multipart/form-data
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param borrower_name formData string true "Borrower name"
// @Param borrower_nim formData string true "Borrower NIM"
// @Param borrower_contact formData string true "Borrower contact"
// @Param equipment_id formData int true "Equipment ID"
// @Param jumlah formData int true "Units to borrow"
// @Param borrow_date formData string true "Borrow date (YYYY-MM-DD)"
// @Param request_letter formData file false "Request letter"
// @Success 201 {object} models.Borrowing
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 413 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /borrowings [post]
func (h *BorrowingHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	input, cleanup, ok := h.readCreateInput(w, r)
	if !ok {
		return
	}
	defer cleanup()

	borrowing, err := h.service.CreateBorrowing(r.Context(), principal, input)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, borrowing)
}

func (h *BorrowingHandler) readCreateInput(w http.ResponseWriter, r *http.Request) (services.CreateBorrowingInput, func(), bool) {
	var input services.CreateBorrowingInput
	noop := func() {}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if !decodeJSON(w, r, &input) {
			return input, noop, false
		}
		return input, noop, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxLetterBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxLetterBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			services.SendErrorResponse(w, "Request too large", http.StatusRequestEntityTooLarge, nil)
			return input, noop, false
		}
		services.SendErrorResponse(w, "Invalid form data", http.StatusBadRequest, nil)
		return input, noop, false
	}

	input.BorrowerName = strings.TrimSpace(r.FormValue("borrower_name"))
	input.BorrowerNIM = strings.TrimSpace(r.FormValue("borrower_nim"))
	input.BorrowerContact = strings.TrimSpace(r.FormValue("borrower_contact"))
	input.BorrowDate = strings.TrimSpace(r.FormValue("borrow_date"))
	// unparsable numbers fall through to validation as zero
	input.EquipmentID, _ = strconv.ParseInt(r.FormValue("equipment_id"), 10, 64)
	input.Jumlah, _ = strconv.Atoi(r.FormValue("jumlah"))

	cleanup := func() { r.MultipartForm.RemoveAll() }

	file, header, err := r.FormFile("request_letter")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		cleanup()
		services.SendErrorResponse(w, "Invalid request letter upload", http.StatusBadRequest, nil)
		return input, noop, false
	default:
		input.Letter = file
		input.LetterFilename = header.Filename
		cleanup = func() {
			file.Close()
			r.MultipartForm.RemoveAll()
		}
	}

	return input, cleanup, true
}

// ListAll lists borrowings; admins see every borrowing, users their own
// @Summary List borrowings
// @Tags borrowings
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Success 200 {object} models.BorrowingPage
// @Failure 401 {object} services.ErrorResponse
// @Router /borrowings [get]
func (h *BorrowingHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	page, err := h.service.ListAll(r.Context(), principal, pageParam(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListMine lists the caller's borrowings
// @Summary List my borrowings
// @Tags borrowings
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Success 200 {object} models.BorrowingPage
// @Failure 401 {object} services.ErrorResponse
// @Router /my/borrowings [get]
func (h *BorrowingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	page, err := h.service.ListForUser(r.Context(), principal, pageParam(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Get returns one borrowing
// @Summary Get borrowing
// @Tags borrowings
// @Produce json
// @Security BearerAuth
// @Param id path int true "Borrowing ID"
// @Success 200 {object} models.Borrowing
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /borrowings/{id} [get]
func (h *BorrowingHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	borrowing, err := h.service.GetBorrowing(r.Context(), principal, id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, borrowing)
}

// Letter streams the stored request letter
// @Summary Download request letter
// @Tags borrowings
// @Produce application/pdf
// @Produce image/png
// @Produce image/jpeg
// @Security BearerAuth
// @Param id path int true "Borrowing ID"
// @Success 200 {file} binary
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /borrowings/{id}/letter [get]
func (h *BorrowingHandler) Letter(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rc, contentType, err := h.service.OpenLetter(r.Context(), principal, id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "inline")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("letter stream interrupted", zap.Int64("borrowing_id", id), zap.Error(err))
	}
}

// Update changes a borrowing's status or return date
// @Summary Update borrowing status
// @Description Returning a borrowing puts its units back into stock. A returned borrowing cannot be set back to dipinjam.
// @Tags borrowings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Borrowing ID"
// @Param request body services.UpdateBorrowingInput true "Status update"
// @Success 200 {object} models.Borrowing
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /borrowings/{id} [put]
func (h *BorrowingHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var input services.UpdateBorrowingInput
	if !decodeJSON(w, r, &input) {
		return
	}

	borrowing, err := h.service.UpdateStatus(r.Context(), principal, id, input)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, borrowing)
}

// Return marks a borrowing as returned today
// @Summary Return equipment
// @Tags borrowings
// @Produce json
// @Security BearerAuth
// @Param id path int true "Borrowing ID"
// @Success 200 {object} models.Borrowing
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /borrowings/{id}/return [post]
func (h *BorrowingHandler) Return(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	borrowing, err := h.service.ReturnEquipment(r.Context(), principal, id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, borrowing)
}

// Delete removes a borrowing, restoring stock if it was still on loan
// @Summary Delete borrowing
// @Tags borrowings
// @Security BearerAuth
// @Param id path int true "Borrowing ID"
// @Success 204
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /borrowings/{id} [delete]
func (h *BorrowingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteBorrowing(r.Context(), principal, id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
