package api

import "net/http"

// RegisterRoutes wires the API. Paths registered without a method catch
// wrong methods; "/" catches everything else.
func RegisterRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("POST /v1/documents:analyzeSyntax", handler.HandleAnalyzeSyntax)
	mux.HandleFunc("GET /health", handler.HandleHealth)

	mux.HandleFunc("/v1/documents:analyzeSyntax", methodNotAllowed(http.MethodPost))
	mux.HandleFunc("/health", methodNotAllowed(http.MethodGet+", "+http.MethodHead))
	mux.HandleFunc("/", handler.HandleNotFound)
}
