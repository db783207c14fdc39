package allocator

import (
	"fmt"
	"log/slog"

	"github.com/me/subarray/internal/gateway"
	"github.com/me/subarray/pkg/model"
)

// Assignment is one successfully claimed receptor with its backing node.
type Assignment struct {
	Receptor int
	Node     model.NodeRef
}

// Allocator claims and releases receptors for one subarray against the
// shared ReceptorTable. Not self-synchronized: the owning subarray's lock
// guards calls into it; only the table itself is shared.
type Allocator struct {
	subarrayID int
	table      *ReceptorTable
	gw         gateway.Gateway
	logger     *slog.Logger
	subs       map[int][]string // receptor id -> subscription ids
}

// New creates an Allocator for one subarray.
func New(subarrayID int, table *ReceptorTable, gw gateway.Gateway, logger *slog.Logger) *Allocator {
	return &Allocator{
		subarrayID: subarrayID,
		table:      table,
		gw:         gw,
		logger:     logger.With("component", "allocator"),
		subs:       make(map[int][]string),
	}
}

// Allocate claims each receptor in order. Ids with errors (unknown id,
// owned by another subarray) are collected and reported; the remaining ids
// are still processed. Receptors already held by this subarray are skipped
// with a warning. Per id, ownership and the returned assignment move
// together or not at all. onTrack, when set, fires after a claim and
// before its subscriptions, so the first delivered event finds a consumer.
func (a *Allocator) Allocate(ids []int, onEvent gateway.Callback, onTrack func(model.NodeRef)) ([]Assignment, *model.APIError) {
	var added []Assignment
	var errs []model.FieldError

	for _, id := range ids {
		field := fmt.Sprintf("receptor %d", id)

		vcc, ok := a.table.VCCFor(id)
		if !ok {
			errs = append(errs, model.FieldError{Field: field, Message: "unknown receptor id"})
			continue
		}
		if owner := a.table.Owner(id); owner == a.subarrayID {
			a.logger.Warn("receptor already assigned to this subarray", "receptor", id)
			continue
		}
		if prev := a.table.claim(id, a.subarrayID); prev != 0 {
			errs = append(errs, model.FieldError{
				Field:   field,
				Message: fmt.Sprintf("owned by subarray %d", prev),
			})
			continue
		}

		node := model.VCCRef(vcc)
		if onTrack != nil {
			onTrack(node)
		}
		subIDs, err := a.subscribe(node, onEvent)
		if err != nil {
			// Unwind the claim so the id is never half-assigned.
			a.table.release(id, a.subarrayID)
			errs = append(errs, model.FieldError{Field: field, Message: err.Error()})
			continue
		}
		a.subs[id] = subIDs
		added = append(added, Assignment{Receptor: id, Node: node})
		a.logger.Info("receptor assigned", "receptor", id, "node", node.String())
	}

	if len(errs) > 0 {
		return added, model.NewConflictError("receptor assignment completed with errors", errs...)
	}
	return added, nil
}

// Release returns each receptor to the unowned pool. Ids not held by this
// subarray are skipped with a warning, not an error.
func (a *Allocator) Release(ids []int) []Assignment {
	var released []Assignment
	for _, id := range ids {
		if a.table.Owner(id) != a.subarrayID {
			a.logger.Warn("release of unassigned receptor", "receptor", id)
			continue
		}
		for _, subID := range a.subs[id] {
			if err := a.gw.Unsubscribe(subID); err != nil {
				a.logger.Warn("unsubscribe failed", "receptor", id, "error", err)
			}
		}
		delete(a.subs, id)
		a.table.release(id, a.subarrayID)
		vcc, _ := a.table.VCCFor(id)
		released = append(released, Assignment{Receptor: id, Node: model.VCCRef(vcc)})
		a.logger.Info("receptor released", "receptor", id)
	}
	return released
}

func (a *Allocator) subscribe(node model.NodeRef, onEvent gateway.Callback) ([]string, error) {
	var ids []string
	for _, attr := range []model.ChangeAttr{model.AttrOpState, model.AttrHealthState} {
		id, err := a.gw.Subscribe(node, attr, onEvent)
		if err != nil {
			for _, prev := range ids {
				_ = a.gw.Unsubscribe(prev)
			}
			return nil, fmt.Errorf("subscribe %s/%s: %w", node, attr, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
