package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTopology(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write topology: %v", err)
	}
	return path
}

func TestLoadTopology(t *testing.T) {
	path := writeTopology(t, `
receptors:
  - receptor_id: 1
    vcc_id: 10
  - receptor_id: 2
    vcc_id: 11
fsps: [1, 2, 3]
`)
	topo, err := LoadTopology(path)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	m := topo.ReceptorToVCC()
	if m[1] != 10 || m[2] != 11 {
		t.Errorf("receptor map = %v, want 1->10 2->11", m)
	}
	if len(topo.FSPs) != 3 {
		t.Errorf("fsps = %v, want 3 entries", topo.FSPs)
	}
}

func TestLoadTopologyRejectsDuplicates(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"duplicate receptor", `
receptors:
  - {receptor_id: 1, vcc_id: 10}
  - {receptor_id: 1, vcc_id: 11}
fsps: [1]
`},
		{"duplicate vcc", `
receptors:
  - {receptor_id: 1, vcc_id: 10}
  - {receptor_id: 2, vcc_id: 10}
fsps: [1]
`},
		{"duplicate fsp", `
receptors:
  - {receptor_id: 1, vcc_id: 10}
fsps: [1, 1]
`},
		{"non-positive id", `
receptors:
  - {receptor_id: 0, vcc_id: 10}
fsps: [1]
`},
		{"empty fsps", `
receptors:
  - {receptor_id: 1, vcc_id: 10}
fsps: []
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTopology(t, tc.content)
			if _, err := LoadTopology(path); err == nil {
				t.Errorf("LoadTopology accepted invalid topology")
			}
		})
	}
}

func TestDefaultTopologyIsValid(t *testing.T) {
	if err := DefaultTopology().Validate(); err != nil {
		t.Fatalf("default topology invalid: %v", err)
	}
}
