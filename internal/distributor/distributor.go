package distributor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/me/subarray/internal/gateway"
	"github.com/me/subarray/internal/scanconfig"
	"github.com/me/subarray/pkg/model"
)

// fspScanConfiguration is the per-node payload: the validated entry
// augmented with the resolved common parameters.
type fspScanConfiguration struct {
	model.FSPConfiguration
	ConfigID             string       `json:"config_id"`
	SubarrayID           int          `json:"subarray_id"`
	FrequencyBand        string       `json:"frequency_band"`
	Band5Tuning          []float64    `json:"band_5_tuning,omitempty"`
	FrequencyBandOffsets []float64    `json:"frequency_band_offsets"`
	OutputLinks          []OutputLink `json:"output_links,omitempty"`
}

// Distributor owns one subarray's node-group assignments and the dispatch
// of configuration payloads to them. Not self-synchronized: the owning
// subarray's lock guards calls into it; only the FSPTable is shared.
type Distributor struct {
	subarrayID int
	table      *FSPTable
	gw         gateway.Gateway
	logger     *slog.Logger

	groups    map[model.FunctionMode][]model.NodeRef
	modeOrder []model.FunctionMode
	subs      map[int][]string // fsp id -> subscription ids
	bound     []int            // fsp ids bound by this subarray, in binding order
}

// New creates a Distributor for one subarray.
func New(subarrayID int, table *FSPTable, gw gateway.Gateway, logger *slog.Logger) *Distributor {
	return &Distributor{
		subarrayID: subarrayID,
		table:      table,
		gw:         gw,
		logger:     logger.With("component", "distributor"),
		groups:     make(map[model.FunctionMode][]model.NodeRef),
		subs:       make(map[int][]string),
	}
}

// Distribute binds each entry's FSP, places it in the matching node group,
// and issues its configuration command. Entries dispatch grouped by
// function mode, in input order within a mode; each node receives one
// complete payload or nothing. A node joins its group before any command
// is sent to it.
func (d *Distributor) Distribute(ctx context.Context, doc *model.ScanConfiguration, onEvent gateway.Callback, onTrack func(model.NodeRef)) *model.APIError {
	byMode := make(map[model.FunctionMode][]*model.FSPConfiguration)
	var order []model.FunctionMode
	for i := range doc.FSP {
		entry := &doc.FSP[i]
		if _, seen := byMode[entry.FunctionMode]; !seen {
			order = append(order, entry.FunctionMode)
		}
		byMode[entry.FunctionMode] = append(byMode[entry.FunctionMode], entry)
	}

	for _, mode := range order {
		for _, entry := range byMode[mode] {
			if apiErr := d.dispatchEntry(ctx, doc, entry, onEvent, onTrack); apiErr != nil {
				return apiErr
			}
		}
	}
	return nil
}

func (d *Distributor) dispatchEntry(ctx context.Context, doc *model.ScanConfiguration, entry *model.FSPConfiguration, onEvent gateway.Callback, onTrack func(model.NodeRef)) *model.APIError {
	node := model.FSPRef(entry.FSPID)

	if err := d.table.Bind(entry.FSPID, d.subarrayID, entry.FunctionMode); err != nil {
		return model.NewInternalError(fmt.Sprintf("binding validated entry: %v", err))
	}
	d.bound = append(d.bound, entry.FSPID)

	payload, err := d.buildPayload(doc, entry)
	if err != nil {
		return model.NewInternalError(fmt.Sprintf("payload for validated entry fsp %d: %v", entry.FSPID, err))
	}

	// Group membership precedes any command targeting the group.
	d.addToGroup(entry.FunctionMode, node)
	if onTrack != nil {
		onTrack(node)
	}

	subIDs, err := d.subscribe(node, onEvent)
	if err != nil {
		return model.NewRemoteError(node.String(), "Subscribe", err)
	}
	d.subs[entry.FSPID] = subIDs

	if _, err := d.gw.Call(ctx, node, "ConfigureScan", payload); err != nil {
		return model.NewRemoteError(node.String(), "ConfigureScan", err)
	}
	d.logger.Info("fsp configured", "fsp", entry.FSPID, "mode", string(entry.FunctionMode))
	return nil
}

func (d *Distributor) buildPayload(doc *model.ScanConfiguration, entry *model.FSPConfiguration) (*fspScanConfiguration, error) {
	payload := &fspScanConfiguration{
		FSPConfiguration:     *entry,
		ConfigID:             doc.ConfigID,
		SubarrayID:           doc.SubarrayID,
		FrequencyBand:        doc.FrequencyBand,
		Band5Tuning:          doc.Band5Tuning,
		FrequencyBandOffsets: doc.FrequencyBandOffsets,
	}
	if entry.FunctionMode == model.FunctionModeCorr && len(entry.OutputLinkMap) > 0 {
		// A band-5 document carrying the default (0,0) tuning has no
		// resolvable slice span; the entry then ships its raw link map and
		// the node derives frequencies once a tuning arrives.
		if sliceLow, _, err := scanconfig.SliceSpan(doc.FrequencyBand, doc.Band5Tuning, entry.FrequencySliceID); err == nil {
			payload.OutputLinks = BuildOutputLinks(entry.ChannelAveragingMap, entry.OutputLinkMap, sliceLow, entry.ChannelOffset)
		}
	}
	return payload, nil
}

// Deconfigure is the idempotent full teardown: idle commands to every
// assigned group (failures logged and skipped so teardown always
// completes), subscriptions cancelled, bindings released, groups cleared.
// It returns the released nodes so the caller can drop their health rows.
func (d *Distributor) Deconfigure(ctx context.Context) []model.NodeRef {
	var released []model.NodeRef

	for _, mode := range d.modeOrder {
		nodes := d.groups[mode]
		if len(nodes) == 0 {
			continue
		}
		if err := d.gw.CallGroup(ctx, nodes, "GoToIdle", nil); err != nil {
			d.logger.Warn("idle command failed during teardown", "mode", string(mode), "error", err)
		}
		released = append(released, nodes...)
	}

	for fspID, subIDs := range d.subs {
		for _, id := range subIDs {
			if err := d.gw.Unsubscribe(id); err != nil {
				d.logger.Warn("unsubscribe failed during teardown", "fsp", fspID, "error", err)
			}
		}
	}
	for _, fspID := range d.bound {
		d.table.Release(fspID, d.subarrayID)
	}

	d.groups = make(map[model.FunctionMode][]model.NodeRef)
	d.modeOrder = nil
	d.subs = make(map[int][]string)
	d.bound = nil
	return released
}

// Groups returns a copy of the current node-group assignments.
func (d *Distributor) Groups() map[model.FunctionMode][]model.NodeRef {
	out := make(map[model.FunctionMode][]model.NodeRef, len(d.groups))
	for mode, nodes := range d.groups {
		out[mode] = append([]model.NodeRef(nil), nodes...)
	}
	return out
}

// AllNodes returns every assigned node across all groups, in assignment order.
func (d *Distributor) AllNodes() []model.NodeRef {
	var out []model.NodeRef
	for _, mode := range d.modeOrder {
		out = append(out, d.groups[mode]...)
	}
	return out
}

func (d *Distributor) addToGroup(mode model.FunctionMode, node model.NodeRef) {
	if _, ok := d.groups[mode]; !ok {
		d.modeOrder = append(d.modeOrder, mode)
	}
	d.groups[mode] = append(d.groups[mode], node)
}

func (d *Distributor) subscribe(node model.NodeRef, onEvent gateway.Callback) ([]string, error) {
	var ids []string
	for _, attr := range []model.ChangeAttr{model.AttrOpState, model.AttrHealthState} {
		id, err := d.gw.Subscribe(node, attr, onEvent)
		if err != nil {
			for _, prev := range ids {
				_ = d.gw.Unsubscribe(prev)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
