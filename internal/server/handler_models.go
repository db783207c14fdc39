package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/subarray/pkg/model"
)

// handleSubmitModel ingests a model document for one subarray and model type.
// Acceptance means the document is scheduled, not that it has been applied.
func (s *Server) handleSubmitModel(w http.ResponseWriter, r *http.Request) {
	sub, reqID, ok := s.subarrayFromRequest(w, r)
	if !ok {
		return
	}
	typ := model.ModelType(chi.URLParam(r, "type"))
	if !typ.IsValid() {
		respondError(w, reqID, model.NewValidationError(fmt.Sprintf("unknown model type %q", typ)))
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, reqID, model.NewValidationError(fmt.Sprintf("reading request body: %v", err)))
		return
	}
	if apiErr := sub.SubmitModel(typ, raw); apiErr != nil {
		respondError(w, reqID, apiErr)
		return
	}
	respondOK(w, reqID, map[string]any{
		"model":    string(typ),
		"subarray": sub.ID(),
		"accepted": true,
	})
}
