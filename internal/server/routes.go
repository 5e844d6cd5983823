package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/timeproof/internal/api/v1"
	"github.com/gosuda/timeproof/internal/api/ws"
)

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterDailyRootRoutes(api, deps.Roots)
	v1.RegisterEvidenceRoutes(api, deps.Notarizer, deps.Audit)
	v1.RegisterPackageRoutes(api, deps.Exporter)
	v1.RegisterHealthRoutes(api, deps.Monitor)
	v1.RegisterAuditLogRoutes(api, deps.Audit)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/evidence", hub.ServeEvidence)
	r.Get("/health", hub.ServeHealth)
}
