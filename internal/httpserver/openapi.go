package httpserver

import (
	"encoding/json"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

const openAPIPath = "api/openapi.yaml"

// OpenAPIYAMLHandler handles GET /openapi.yaml: serves the static spec
// describing the /v1 surface, after parsing it with yaml.v3 to make sure a
// broken file fails loudly instead of handing clients invalid YAML.
func (s *Server) OpenAPIYAMLHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := os.ReadFile(openAPIPath)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		var doc any
		if err := yaml.Unmarshal(b, &doc); err != nil {
			http.Error(w, "openapi.yaml is malformed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}

// OpenAPIJSONHandler handles GET /openapi.json: the same spec re-encoded as
// JSON for clients that would rather not pull in a YAML parser of their own.
func (s *Server) OpenAPIJSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := os.ReadFile(openAPIPath)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		var doc any
		if err := yaml.Unmarshal(b, &doc); err != nil {
			http.Error(w, "openapi.yaml is malformed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(doc)
	}
}
