package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Topology is the externally authored fleet map: which VCC backs each
// receptor, and which FSPs exist. It is read-only input to the control
// plane; ownership of the nodes it names is managed at runtime.
type Topology struct {
	Receptors []ReceptorMapping `yaml:"receptors"`
	FSPs      []int             `yaml:"fsps"`
}

// ReceptorMapping binds one receptor to its backing channel-processing node.
type ReceptorMapping struct {
	ReceptorID int `yaml:"receptor_id"`
	VCCID      int `yaml:"vcc_id"`
}

// LoadTopology reads and validates a fleet topology YAML file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %s: %w", path, err)
	}
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("parse topology %s: %w", path, err)
	}
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("topology %s: %w", path, err)
	}
	return &topo, nil
}

// DefaultTopology returns the small built-in fleet used in standalone mode
// and in tests: four receptors backed one-to-one by four VCCs, four FSPs.
func DefaultTopology() *Topology {
	return &Topology{
		Receptors: []ReceptorMapping{
			{ReceptorID: 1, VCCID: 1},
			{ReceptorID: 2, VCCID: 2},
			{ReceptorID: 3, VCCID: 3},
			{ReceptorID: 4, VCCID: 4},
		},
		FSPs: []int{1, 2, 3, 4},
	}
}

// Validate checks the topology for duplicate or non-positive ids.
func (t *Topology) Validate() error {
	if len(t.Receptors) == 0 {
		return fmt.Errorf("no receptors defined")
	}
	if len(t.FSPs) == 0 {
		return fmt.Errorf("no fsps defined")
	}
	seenReceptor := make(map[int]bool, len(t.Receptors))
	seenVCC := make(map[int]bool, len(t.Receptors))
	for _, m := range t.Receptors {
		if m.ReceptorID <= 0 || m.VCCID <= 0 {
			return fmt.Errorf("receptor %d -> vcc %d: ids must be positive", m.ReceptorID, m.VCCID)
		}
		if seenReceptor[m.ReceptorID] {
			return fmt.Errorf("receptor %d mapped twice", m.ReceptorID)
		}
		if seenVCC[m.VCCID] {
			return fmt.Errorf("vcc %d backs two receptors", m.VCCID)
		}
		seenReceptor[m.ReceptorID] = true
		seenVCC[m.VCCID] = true
	}
	seenFSP := make(map[int]bool, len(t.FSPs))
	for _, id := range t.FSPs {
		if id <= 0 {
			return fmt.Errorf("fsp id %d must be positive", id)
		}
		if seenFSP[id] {
			return fmt.Errorf("fsp %d listed twice", id)
		}
		seenFSP[id] = true
	}
	return nil
}

// ReceptorToVCC returns the receptor id to VCC id map.
func (t *Topology) ReceptorToVCC() map[int]int {
	m := make(map[int]int, len(t.Receptors))
	for _, r := range t.Receptors {
		m[r.ReceptorID] = r.VCCID
	}
	return m
}
