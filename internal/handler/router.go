package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"memo-sync/internal/middleware"
	"memo-sync/pkg/response"
)

type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
	Logger         *zap.Logger
}

// NewRouter mounts the sync API under /api, the change feed at /ws and the
// health check at /health.
func NewRouter(cfg RouterConfig, auth *AuthHandler, notes *NoteHandler, stats *StatsHandler, ws *WebSocketHandler) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(cfg.Logger))
	r.Use(middleware.CORSMiddleware(
		cfg.AllowedOrigins,
		cfg.AllowedMethods,
		cfg.AllowedHeaders,
	))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/login", auth.Login).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	protected.HandleFunc("/ping", notes.Ping).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes", notes.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes/sync", notes.Sync).Methods("POST", "OPTIONS")
	protected.HandleFunc("/stats", stats.Get).Methods("GET", "OPTIONS")

	if ws != nil {
		r.HandleFunc("/ws", ws.HandleConnection)
	}
	r.HandleFunc("/health", notes.Health).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "Not found")
	})

	return r
}
