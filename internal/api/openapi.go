package api

import (
	"fmt"
	"net/http"

	"github.com/mattjoyce/zika/internal/registry"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one trigger
// operation per configured alias.
func buildOpenAPIDoc(reg *registry.Registry) map[string]any {
	paths := map[string]any{}
	for _, a := range reg.All() {
		paths["/trigger/"+a.Alias] = map[string]any{
			"post": triggerOperation(a),
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "zika",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func triggerOperation(a registry.Action) map[string]any {
	summary := fmt.Sprintf("Run %s", a.Alias)
	if a.Button != nil && a.Button.Name != "" {
		summary = a.Button.Name
	}
	return map[string]any{
		"operationId": "trigger__" + registry.DiscoveryID(a.Alias),
		"summary":     summary,
		"tags":        []string{"actions"},
		"responses": map[string]any{
			"202": map[string]any{"description": "Action queued"},
			"401": map[string]any{"description": "Missing or invalid token"},
			"403": map[string]any{"description": "Insufficient scope"},
			"503": map[string]any{"description": "Queue full"},
		},
		"security": []any{map[string]any{"BearerAuth": []string{}}},
	}
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.deps.Registry))
}
