package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes wires every endpoint onto the router. The authorization
// flow and health check are public; the admin API sits behind the JWT
// middleware.
func SetupRoutes(router *mux.Router, h *Handlers, authMiddleware func(http.Handler) http.Handler) {
	router.HandleFunc("/callback", h.HandleCallback).Methods("GET")
	router.HandleFunc("/authorize", h.HandleAuthorize).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/login", h.HandleLogin).Methods("POST")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware)
	api.HandleFunc("/token", h.HandleTokenInfo).Methods("GET")
	api.HandleFunc("/tokens", h.HandleDeleteTokens).Methods("DELETE")
	api.HandleFunc("/notifications/status", h.HandleNotificationStatus).Methods("GET")
	api.HandleFunc("/notifications/check", h.HandleNotificationCheck).Methods("POST")
	api.HandleFunc("/proxy/{resource:.*}", h.HandleProxy).Methods("GET")
}
