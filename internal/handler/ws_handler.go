package handler

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"memo-sync/internal/websocket"
	"memo-sync/pkg/jwt"
	"memo-sync/pkg/logger"
	"memo-sync/pkg/response"
)

type WebSocketHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
	logger    *zap.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, jwtSecret string, readBuf, writeBuf int, lg *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.OrNop(lg),
	}
}

// HandleConnection upgrades an authenticated request to the change feed.
// The token comes from the token query parameter or a bearer header.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}

	if token == "" {
		response.Unauthorized(w, "Authentication required")
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil {
		h.logger.Debug("websocket token rejected", zap.Error(err))
		response.Forbidden(w, "Invalid or expired token")
		return
	}

	deviceID := r.URL.Query().Get("device_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := websocket.NewClient(uuid.New().String(), claims.Username, deviceID, conn, h.manager)
	if !h.manager.Add(client) {
		conn.Close()
		return
	}
	h.logger.Debug("change feed subscribed",
		zap.String("username", claims.Username),
		zap.String("device_id", deviceID),
		zap.Int("connections", h.manager.GetUserConnections(claims.Username)))

	go client.WritePump()
	go client.ReadPump()
}
