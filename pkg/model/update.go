package model

import "encoding/json"

// ModelType identifies one class of time-critical parameter update.
type ModelType string

const (
	ModelTypeDelay       ModelType = "delay"
	ModelTypeJones       ModelType = "jones"
	ModelTypeBeamWeights ModelType = "beamweights"
)

// ModelTypes lists every model type; each has its own independent dispatcher.
var ModelTypes = []ModelType{ModelTypeDelay, ModelTypeJones, ModelTypeBeamWeights}

// IsValid reports whether t names a known model type.
func (t ModelType) IsValid() bool {
	switch t {
	case ModelTypeDelay, ModelTypeJones, ModelTypeBeamWeights:
		return true
	}
	return false
}

// UpdateCommand returns the fleet command that applies an update of this type.
func (t ModelType) UpdateCommand() string {
	switch t {
	case ModelTypeDelay:
		return "UpdateDelayModel"
	case ModelTypeJones:
		return "UpdateJonesMatrix"
	case ModelTypeBeamWeights:
		return "UpdateBeamWeights"
	}
	return ""
}

// ModelUpdateBatch is an ordered sequence of timed parameter updates for one
// model type, as delivered by the external telemetry source.
type ModelUpdateBatch struct {
	Entries []ModelUpdateEntry `json:"entries"`
}

// ModelUpdateEntry is one (epoch, payload) pair. Epoch is an absolute Unix
// time in seconds (fractional) at which the payload must take effect.
type ModelUpdateEntry struct {
	Epoch   float64         `json:"epoch"`
	Payload json.RawMessage `json:"payload"`
}
