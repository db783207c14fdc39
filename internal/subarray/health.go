package subarray

import (
	"log/slog"
	"sync"

	"github.com/me/subarray/internal/allocator"
	"github.com/me/subarray/pkg/model"
)

// Aggregator maintains the last-known liveness and health of every node a
// subarray tracks. It is fed by gateway change events, which may arrive on
// any goroutine, so it carries its own lock rather than the subarray's.
type Aggregator struct {
	mu     sync.Mutex
	order  []model.NodeRef
	rows   map[model.NodeRef]*model.NodeStatus
	logger *slog.Logger
}

// NewAggregator creates an empty health view.
func NewAggregator(logger *slog.Logger) *Aggregator {
	return &Aggregator{
		rows:   make(map[model.NodeRef]*model.NodeStatus),
		logger: logger.With("component", "health"),
	}
}

// Track adds a node row, initially UNKNOWN/UNKNOWN. The subscription's
// initial event fills the row in. Tracking an already-tracked node is a no-op.
func (a *Aggregator) Track(node model.NodeRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rows[node]; ok {
		return
	}
	a.order = append(a.order, node)
	a.rows[node] = &model.NodeStatus{
		Node:     node,
		Liveness: model.LivenessUnknown,
		Health:   model.HealthUnknown,
	}
}

// Untrack drops a node row.
func (a *Aggregator) Untrack(node model.NodeRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rows[node]; !ok {
		return
	}
	delete(a.rows, node)
	for i, n := range a.order {
		if n == node {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// OnEvent folds a change event into the node's row. Events for nodes no
// longer tracked are logged and discarded; a release can race the last
// notification.
func (a *Aggregator) OnEvent(ev model.ChangeEvent) {
	a.mu.Lock()
	row, ok := a.rows[ev.Node]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("event for untracked node discarded", "node", ev.Node.String(), "attr", string(ev.Attr))
		return
	}
	switch ev.Attr {
	case model.AttrOpState:
		row.Liveness = ev.Liveness
	case model.AttrHealthState:
		row.Health = ev.Health
	}
	a.mu.Unlock()

	if ev.Liveness == model.LivenessFault || ev.Health == model.HealthFailed {
		a.logger.Warn("tracked node degraded", "node", ev.Node.String(),
			"liveness", string(ev.Liveness), "health", string(ev.Health))
	}
}

// Liveness returns a tracked node's last-known liveness.
func (a *Aggregator) Liveness(node model.NodeRef) (model.LivenessState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	row, ok := a.rows[node]
	if !ok {
		return model.LivenessUnknown, false
	}
	return row.Liveness, true
}

// Statuses returns the tracked rows of one node class, in tracking order.
func (a *Aggregator) Statuses(class model.NodeClass) []model.NodeStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.NodeStatus
	for _, node := range a.order {
		if node.Class != class {
			continue
		}
		out = append(out, *a.rows[node])
	}
	return out
}

// vccHealth adapts the receptor table plus the aggregator into the
// per-receptor liveness view the configuration validator consumes.
type vccHealth struct {
	table *allocator.ReceptorTable
	agg   *Aggregator
}

func (h vccHealth) VCCLiveness(receptor int) (model.LivenessState, bool) {
	vcc, ok := h.table.VCCFor(receptor)
	if !ok {
		return model.LivenessUnknown, false
	}
	return h.agg.Liveness(model.VCCRef(vcc))
}
