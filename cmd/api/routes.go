package main

import (
	"net/http"

	"github.com/sirupsen/logrus"

	httphandlers "finsync/internal/interfaces/http"
	"finsync/internal/shared/config"
	"finsync/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config, logger logrus.FieldLogger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", httphandlers.HandleHealth)

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)
	protect := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(h))
	}

	protect("POST /api/sync", deps.SyncHandler.HandleTrigger)
	protect("GET /api/sync", deps.SyncHandler.HandleStatus)

	protect("POST /api/institutions/link-token", deps.InstitutionHandler.HandleLinkToken)
	protect("POST /api/institutions", deps.InstitutionHandler.HandleConnect)
	protect("GET /api/institutions", deps.InstitutionHandler.HandleList)
	protect("DELETE /api/institutions/{id}", deps.InstitutionHandler.HandleDisconnect)
	protect("POST /api/institutions/{id}/check", deps.InstitutionHandler.HandleCheck)

	protect("GET /api/accounts", deps.AccountHandler.HandleListAccounts)
	protect("POST /api/accounts", deps.AccountHandler.HandleCreateAccount)
	protect("GET /api/accounts/{id}/transactions", deps.AccountHandler.HandleListTransactions)

	protect("PATCH /api/transactions/{id}", deps.TransactionHandler.HandleUpdate)

	// Apply global middleware
	handler := middleware.Logging(logger)(middleware.CORS(cfg.Server.AllowedHosts)(mux))

	if cfg.TLS.Enabled {
		handler = middleware.HSTS(handler)
		logger.Info("TLS security middleware enabled (HSTS)")
	}

	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(handler)
	}

	return handler
}
