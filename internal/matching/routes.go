package matching

import (
	"github.com/gorilla/mux"

	"github.com/peerfund/peerfund-backend/internal/auth"
)

func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware *auth.Middleware) {
	api := router.PathPrefix("/api/v1/matching").Subrouter()
	api.Use(authMiddleware.Authenticate)

	api.HandleFunc("/borrower/{requestId}", handler.GetBorrowerMatches).Methods("GET")
	api.HandleFunc("/lender/{offerId}", handler.GetLenderMatches).Methods("GET")
	api.HandleFunc("/cache/invalidate", handler.InvalidateCache).Methods("POST")
}
