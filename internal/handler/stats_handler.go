package handler

import (
	"net/http"

	"go.uber.org/zap"

	"memo-sync/internal/service"
	"memo-sync/pkg/logger"
	"memo-sync/pkg/response"
)

type StatsHandler struct {
	service *service.StatsService
	logger  *zap.Logger
}

func NewStatsHandler(service *service.StatsService, lg *zap.Logger) *StatsHandler {
	return &StatsHandler{service: service, logger: logger.OrNop(lg)}
}

func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Get(r.Context())
	if err != nil {
		h.logger.Error("compute stats failed", zap.Error(err))
		response.InternalError(w, "Failed to compute stats")
		return
	}

	response.Success(w, stats)
}
