package server

import (
	"net/http"
	"runtime"
	"strconv"
	"time"
)

type healthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	GoVersion string            `json:"go_version"`
	Uptime    string            `json:"uptime"`
	Subarrays map[string]string `json:"subarrays"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	states := make(map[string]string)
	for _, attrs := range s.controller.Attributes() {
		states[strconv.Itoa(attrs.ID)] = string(attrs.ObsState)
	}
	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Subarrays: states,
	})
}
