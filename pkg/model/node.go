package model

import (
	"fmt"
	"time"
)

// NodeClass distinguishes the two kinds of remote processing nodes.
type NodeClass string

const (
	// NodeClassVCC is a per-receptor channel-processing node.
	NodeClassVCC NodeClass = "vcc"
	// NodeClassFSP is a per-function-mode signal-processing node.
	NodeClassFSP NodeClass = "fsp"
)

// NodeRef identifies one remote node in the fleet.
type NodeRef struct {
	Class NodeClass `json:"class"`
	ID    int       `json:"id"`
}

func (r NodeRef) String() string {
	return fmt.Sprintf("%s-%03d", r.Class, r.ID)
}

// VCCRef returns the NodeRef for a channel-processing node.
func VCCRef(id int) NodeRef { return NodeRef{Class: NodeClassVCC, ID: id} }

// FSPRef returns the NodeRef for a function-mode processing node.
func FSPRef(id int) NodeRef { return NodeRef{Class: NodeClassFSP, ID: id} }

// FunctionMode is the signal-processing role an FSP is bound to.
type FunctionMode string

const (
	FunctionModeUnbound FunctionMode = "IDLE"
	FunctionModeCorr    FunctionMode = "CORR"
	FunctionModePSS     FunctionMode = "PSS-BF"
	FunctionModePST     FunctionMode = "PST-BF"
)

// ValidFunctionModes lists the modes a scan configuration may request.
var ValidFunctionModes = []FunctionMode{FunctionModeCorr, FunctionModePSS, FunctionModePST}

// IsValid returns true for a mode a configuration entry may request.
func (m FunctionMode) IsValid() bool {
	for _, v := range ValidFunctionModes {
		if v == m {
			return true
		}
	}
	return false
}

// LivenessState is a node's operational state as reported over change events.
type LivenessState string

const (
	LivenessOn      LivenessState = "ON"
	LivenessOff     LivenessState = "OFF"
	LivenessStandby LivenessState = "STANDBY"
	LivenessFault   LivenessState = "FAULT"
	LivenessUnknown LivenessState = "UNKNOWN"
)

// HealthState is a node's self-assessed health as reported over change events.
type HealthState string

const (
	HealthOK       HealthState = "OK"
	HealthDegraded HealthState = "DEGRADED"
	HealthFailed   HealthState = "FAILED"
	HealthUnknown  HealthState = "UNKNOWN"
)

// ChangeAttr names a subscribable node attribute.
type ChangeAttr string

const (
	AttrOpState     ChangeAttr = "opState"
	AttrHealthState ChangeAttr = "healthState"
)

// ChangeEvent is a typed change notification from a fleet node. The node
// class rides along explicitly so consumers never infer it from names.
type ChangeEvent struct {
	Node     NodeRef       `json:"node"`
	Attr     ChangeAttr    `json:"attr"`
	Liveness LivenessState `json:"liveness,omitempty"`
	Health   HealthState   `json:"health,omitempty"`
	At       time.Time     `json:"at"`
}

// NodeStatus is one row of a health/state view: a tracked node with its
// last-known liveness and health.
type NodeStatus struct {
	Node     NodeRef       `json:"node"`
	Liveness LivenessState `json:"liveness"`
	Health   HealthState   `json:"health"`
}
