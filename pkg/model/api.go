package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// SubarrayAttributes is the read-only attribute snapshot of one subarray.
type SubarrayAttributes struct {
	ID            int          `json:"id"`
	ObsState      ObsState     `json:"obs_state"`
	ScanID        int          `json:"scan_id"`
	ConfigID      string       `json:"config_id"`
	FrequencyBand string       `json:"frequency_band"`
	Receptors     []int        `json:"receptors"`
	VCCStates     []NodeStatus `json:"vcc_states"`
	FSPStates     []NodeStatus `json:"fsp_states"`
}
