package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// requestSchema reflects the JSON Schema for the streaming request body so
// clients can validate payloads before sending them.
func requestSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{}
		schema := r.Reflect(&TurnRequest{})
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	body, err := requestSchema()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "schema reflection failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
