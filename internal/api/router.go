package api

import (
	"net/http"
)

// NewRouter sets up all routes and applies global middleware.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /start/video", h.StartVideo)
	mux.HandleFunc("POST /start/audio", h.StartAudio)
	mux.HandleFunc("GET /progress/{id}", h.Progress)
	mux.HandleFunc("GET /download/{id}", h.Download)
	mux.HandleFunc("DELETE /api/job/{id}", h.DeleteJob)

	mux.HandleFunc("GET /api/semaphore", h.SemaphoreStatus)
	mux.HandleFunc("GET /api/retry/{id}", h.RetryInfo)
	mux.HandleFunc("GET /api/retry/{id}/chain", h.RetryChain)
	mux.HandleFunc("POST /api/retry/{id}", h.CreateRetry)

	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("GET /api/history/stats", h.HistoryStats)

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ws", h.Hub.Handle)

	return CORSMiddleware(h.Cfg.AllowedOrigins, mux)
}
