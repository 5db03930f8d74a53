// Package edgeapi implements the HTTP evaluation surface the SDKs call.
// It handles routing, request decoding, validation, and response formatting;
// every decision is delegated to the engine.
package edgeapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/bifrost-flags/bifrost/internal/config"
	"github.com/bifrost-flags/bifrost/internal/engine"
)

// API holds the router and its dependencies for the evaluation surface.
// It follows the Dependency Injection pattern to facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// engine coordinates config resolution, rule evaluation, and assignment.
	engine *engine.Engine

	// maxBatchSize caps the number of subjects in a single batch request.
	maxBatchSize int

	// maxContextBytes bounds the serialized evaluation context accepted
	// from callers.
	maxContextBytes int
}

// NewAPI creates a new API instance.
// Panics if the engine is nil.
func NewAPI(eng *engine.Engine, serverCfg *config.ServerConfig, engineCfg *config.EngineConfig) *API {
	if eng == nil {
		panic("edgeapi: engine cannot be nil")
	}
	if serverCfg == nil {
		panic("edgeapi: server config cannot be nil")
	}
	if engineCfg == nil {
		panic("edgeapi: engine config cannot be nil")
	}

	api := &API{
		Router:          chi.NewRouter(),
		engine:          eng,
		maxBatchSize:    serverCfg.MaxBatchSize,
		maxContextBytes: engineCfg.MaxContextBytes,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// RequestID: Adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// Logger: Logs request method, path, status, and duration.
	a.Router.Use(RequestLogger)
	// Recoverer: Prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	// Content-Type: Forces JSON content type for API responses.
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Post("/evaluate", a.handleEvaluate)
		r.Post("/evaluate/batch", a.handleBatchEvaluate)
	})
}
