package app

import (
	"net/http"
)

// buildHandler assembles the route table and the middleware chain. Admission
// (concurrency cap, body cap) applies only to the messages endpoint; metrics
// and health stay reachable under load.
func (a *Application) buildHandler() http.Handler {
	mux := http.NewServeMux()

	messages := a.admissionMiddleware(a.bodyCapMiddleware(http.HandlerFunc(a.handleMessages)))
	mux.Handle("POST /anthropic/v1/messages", a.authMiddleware(messages))
	mux.Handle("GET /anthropic/v1/models", a.authMiddleware(http.HandlerFunc(a.handleModels)))

	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /version", a.handleVersion)

	mux.HandleFunc("GET /metrics", a.handleMetrics)
	mux.HandleFunc("GET /metrics/comprehensive", a.handleMetricsComprehensive)
	mux.HandleFunc("GET /metrics/history", a.handleMetricsHistory)
	mux.HandleFunc("GET /metrics/provider/{name}", a.handleMetricsProvider)

	providers := http.HandlerFunc(a.handleProviders)
	mux.Handle("GET /providers", a.authMiddleware(providers))
	mux.Handle("POST /providers", a.authMiddleware(providers))
	mux.Handle("PUT /providers/{name}", a.authMiddleware(http.HandlerFunc(a.handleProviderByName)))
	mux.Handle("DELETE /providers/{name}", a.authMiddleware(http.HandlerFunc(a.handleProviderByName)))

	mux.HandleFunc("GET /ws", a.hub.Handle)

	return a.correlationMiddleware(a.observeMiddleware(mux))
}
