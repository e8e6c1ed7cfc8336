package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"memo-sync/internal/domain"
	"memo-sync/internal/middleware"
	"memo-sync/internal/service"
	"memo-sync/pkg/logger"
	"memo-sync/pkg/response"
)

// DeviceIDHeader lets a device exclude itself from the change feed
// notification of its own push.
const DeviceIDHeader = "X-Device-ID"

type NoteHandler struct {
	service  *service.NoteService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewNoteHandler(service *service.NoteService, lg *zap.Logger) *NoteHandler {
	return &NoteHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.OrNop(lg),
	}
}

// Ping is the authenticated liveness probe.
func (h *NoteHandler) Ping(w http.ResponseWriter, r *http.Request) {
	response.Success(w, domain.PingResponse{Ping: true})
}

// Health reports whether the note store can be read.
func (h *NoteHandler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.List(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		response.ServiceUnavailable(w, "Note store unavailable")
		return
	}
	response.Success(w, map[string]string{"status": "healthy", "service": "memo-sync"})
}

func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	notes, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list notes failed", zap.Error(err))
		response.InternalError(w, "Failed to read notes")
		return
	}

	response.Success(w, notes)
}

func (h *NoteHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var note domain.Note
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(note); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	err := h.service.Sync(r.Context(), middleware.GetUsername(r), r.Header.Get(DeviceIDHeader), &note)

	var conflict *domain.ConflictError
	switch {
	case err == nil:
		response.Success(w, domain.SyncNoteResponse{Success: true})
	case errors.As(err, &conflict):
		response.Conflict(w, domain.SyncConflictResponse{
			Conflict:      true,
			ServerVersion: conflict.ServerNote,
		})
	case errors.Is(err, service.ErrInvalidNote):
		response.BadRequest(w, err.Error())
	default:
		h.logger.Error("sync note failed", zap.String(logger.FieldNoteID, note.ID), zap.Error(err))
		response.InternalError(w, "Failed to sync note")
	}
}
