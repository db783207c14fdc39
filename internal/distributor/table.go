// Package distributor turns a validated scan configuration into per-node
// payloads, manages function-mode node groups, and tears them down again.
package distributor

import (
	"fmt"
	"sync"

	"github.com/me/subarray/pkg/model"
)

type fspBinding struct {
	mode    model.FunctionMode
	serving map[int]bool // subarray ids
}

// FSPTable is the process-wide function-mode binding table. An FSP serves
// any number of subarrays but only in a single function mode at a time;
// the mode clears when the last subarray lets go.
type FSPTable struct {
	mu       sync.Mutex
	bindings map[int]*fspBinding
}

// NewFSPTable creates a table covering the given FSP ids.
func NewFSPTable(fspIDs []int) *FSPTable {
	bindings := make(map[int]*fspBinding, len(fspIDs))
	for _, id := range fspIDs {
		bindings[id] = &fspBinding{mode: model.FunctionModeUnbound, serving: make(map[int]bool)}
	}
	return &FSPTable{bindings: bindings}
}

// Binding returns the bound mode and serving subarrays of an FSP. Unknown
// ids report unbound.
func (t *FSPTable) Binding(fspID int) (model.FunctionMode, []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bindings[fspID]
	if !ok {
		return model.FunctionModeUnbound, nil
	}
	var serving []int
	for id := range b.serving {
		serving = append(serving, id)
	}
	return b.mode, serving
}

// Bind adds a subarray to an FSP in the requested mode. Fails if the FSP is
// unknown or bound to a different mode.
func (t *FSPTable) Bind(fspID, subarrayID int, mode model.FunctionMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bindings[fspID]
	if !ok {
		return fmt.Errorf("fsp %d not in fleet", fspID)
	}
	if b.mode != model.FunctionModeUnbound && b.mode != mode {
		return fmt.Errorf("fsp %d bound to %s, requested %s", fspID, b.mode, mode)
	}
	b.mode = mode
	b.serving[subarrayID] = true
	return nil
}

// Release removes a subarray from an FSP; the mode clears with the last one.
func (t *FSPTable) Release(fspID, subarrayID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bindings[fspID]
	if !ok {
		return
	}
	delete(b.serving, subarrayID)
	if len(b.serving) == 0 {
		b.mode = model.FunctionModeUnbound
	}
}
