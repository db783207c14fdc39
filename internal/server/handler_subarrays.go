package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/subarray/internal/subarray"
	"github.com/me/subarray/pkg/model"
)

// maxBodyBytes bounds configuration and model document uploads.
const maxBodyBytes = 4 << 20

// subarrayFromRequest resolves the {id} path parameter. On failure it writes
// the response itself and returns ok=false.
func (s *Server) subarrayFromRequest(w http.ResponseWriter, r *http.Request) (*subarray.Subarray, string, bool) {
	reqID := RequestIDFromContext(r.Context())
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, reqID, model.NewValidationError(fmt.Sprintf("invalid subarray id %q", chi.URLParam(r, "id"))))
		return nil, reqID, false
	}
	sub, ok := s.controller.Get(id)
	if !ok {
		respondJSON(w, http.StatusNotFound, reqID, nil,
			model.NewValidationError(fmt.Sprintf("subarray %d not found", id)))
		return nil, reqID, false
	}
	return sub, reqID, true
}

func (s *Server) handleListSubarrays(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.controller.Attributes())
}

func (s *Server) handleGetSubarray(w http.ResponseWriter, r *http.Request) {
	sub, reqID, ok := s.subarrayFromRequest(w, r)
	if !ok {
		return
	}
	respondOK(w, reqID, sub.Attributes())
}

// receptorRequest is the body of the add/remove receptor commands.
type receptorRequest struct {
	Receptors []int `json:"receptors"`
}

func (s *Server) handleAddReceptors(w http.ResponseWriter, r *http.Request) {
	sub, reqID, ok := s.subarrayFromRequest(w, r)
	if !ok {
		return
	}
	var req receptorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, model.NewValidationError(fmt.Sprintf("malformed request body: %v", err)))
		return
	}
	if apiErr := sub.AddReceptors(req.Receptors); apiErr != nil {
		respondError(w, reqID, apiErr)
		return
	}
	respondOK(w, reqID, sub.Attributes())
}

func (s *Server) handleRemoveReceptors(w http.ResponseWriter, r *http.Request) {
	sub, reqID, ok := s.subarrayFromRequest(w, r)
	if !ok {
		return
	}
	var req receptorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, model.NewValidationError(fmt.Sprintf("malformed request body: %v", err)))
		return
	}
	if apiErr := sub.RemoveReceptors(req.Receptors); apiErr != nil {
		respondError(w, reqID, apiErr)
		return
	}
	respondOK(w, reqID, sub.Attributes())
}

func (s *Server) handleRemoveAllReceptors(w http.ResponseWriter, r *http.Request) {
	sub, reqID, ok := s.subarrayFromRequest(w, r)
	if !ok {
		return
	}
	if apiErr := sub.RemoveAllReceptors(); apiErr != nil {
		respondError(w, reqID, apiErr)
		return
	}
	respondOK(w, reqID, sub.Attributes())
}

func (s *Server) handleConfigureScan(w http.ResponseWriter, r *http.Request) {
	sub, reqID, ok := s.subarrayFromRequest(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, reqID, model.NewValidationError(fmt.Sprintf("reading request body: %v", err)))
		return
	}
	if apiErr := sub.ConfigureScan(r.Context(), raw); apiErr != nil {
		respondError(w, reqID, apiErr)
		return
	}
	respondOK(w, reqID, sub.Attributes())
}

// scanRequest is the body of the scan command.
type scanRequest struct {
	ScanID int `json:"scan_id"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	sub, reqID, ok := s.subarrayFromRequest(w, r)
	if !ok {
		return
	}
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, model.NewValidationError(fmt.Sprintf("malformed request body: %v", err)))
		return
	}
	if apiErr := sub.Scan(r.Context(), req.ScanID); apiErr != nil {
		respondError(w, reqID, apiErr)
		return
	}
	respondOK(w, reqID, sub.Attributes())
}

func (s *Server) handleEndScan(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "EndScan", (*subarray.Subarray).EndScan)
}

func (s *Server) handleGoToIdle(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "GoToIdle", (*subarray.Subarray).GoToIdle)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "Abort", (*subarray.Subarray).Abort)
}

func (s *Server) handleObsReset(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "ObsReset", (*subarray.Subarray).ObsReset)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "Restart", (*subarray.Subarray).Restart)
}

// lifecycle handles the body-less lifecycle commands.
func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, command string, run func(*subarray.Subarray, context.Context) *model.APIError) {
	sub, reqID, ok := s.subarrayFromRequest(w, r)
	if !ok {
		return
	}
	if apiErr := run(sub, r.Context()); apiErr != nil {
		respondError(w, reqID, apiErr)
		return
	}
	s.logger.Debug("lifecycle command applied", "command", command, "subarray", sub.ID())
	respondOK(w, reqID, sub.Attributes())
}
