// Package modelsched applies time-stamped parameter-update batches to the
// fleet at their target epochs. One dispatcher per model type drains a
// min-heap keyed on epoch, so entries of a type always apply in ascending
// epoch order and fan-out for a type is naturally serialized. Different
// model types never contend with each other.
package modelsched

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/me/subarray/internal/gateway"
	"github.com/me/subarray/internal/observability"
	"github.com/me/subarray/pkg/model"
)

// StateFunc reports the owning subarray's current obsState.
type StateFunc func() model.ObsState

// TargetsFunc resolves the node groups relevant to a model type at fire
// time: delay and Jones corrections go to both channel-input and
// function-mode groups, beam weights only to the function-mode groups.
type TargetsFunc func(model.ModelType) []model.NodeRef

// Dispatcher schedules and applies updates for a single model type.
type Dispatcher struct {
	typ     model.ModelType
	gw      gateway.Gateway
	state   StateFunc
	targets TargetsFunc
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	pending entryHeap
	seq     uint64
	lastRaw []byte

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	now func() time.Time
}

// NewDispatcher creates a dispatcher for one model type. Start must be
// called before submissions fire.
func NewDispatcher(typ model.ModelType, gw gateway.Gateway, state StateFunc, targets TargetsFunc, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		typ:     typ,
		gw:      gw,
		state:   state,
		targets: targets,
		logger:  logger.With("component", "modelsched", "model", string(typ)),
		metrics: metrics,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Submit accepts a raw model document. Rejected unless the subarray is
// READY or SCANNING; a document byte-identical to the previous accepted
// one is dropped with a warning, not an error. Accepted entries join the
// epoch heap individually.
func (d *Dispatcher) Submit(raw []byte) *model.APIError {
	if st := d.state(); st != model.ObsStateReady && st != model.ObsStateScanning {
		return model.NewStateError(fmt.Sprintf("%s update", d.typ), st)
	}

	d.mu.Lock()
	if d.lastRaw != nil && bytes.Equal(d.lastRaw, raw) {
		d.mu.Unlock()
		d.logger.Warn("duplicate model document dropped")
		d.metrics.RecordDroppedBatch(string(d.typ))
		return nil
	}

	var batch model.ModelUpdateBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		d.mu.Unlock()
		return model.NewValidationError(fmt.Sprintf("malformed %s document: %v", d.typ, err))
	}
	if len(batch.Entries) == 0 {
		d.mu.Unlock()
		return model.NewValidationError(fmt.Sprintf("%s document has no entries", d.typ))
	}
	for _, e := range batch.Entries {
		if math.IsNaN(e.Epoch) || math.IsInf(e.Epoch, 0) {
			d.mu.Unlock()
			return model.NewValidationError(fmt.Sprintf("%s entry has invalid epoch", d.typ))
		}
	}

	d.lastRaw = append([]byte(nil), raw...)
	for _, e := range batch.Entries {
		d.seq++
		d.pending.push(entry{epoch: e.Epoch, payload: e.Payload, seq: d.seq})
	}
	n := d.pending.Len()
	d.mu.Unlock()

	d.logger.Info("model document scheduled", "entries", len(batch.Entries), "pending", n)
	d.signal()
	return nil
}

// Flush discards all pending entries and the dedup memory. Called by the
// owning subarray before it leaves READY/SCANNING so a stale entry never
// reaches the fleet.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	n := d.pending.Len()
	d.pending = nil
	d.lastRaw = nil
	d.mu.Unlock()
	if n > 0 {
		d.logger.Info("pending model updates flushed", "entries", n)
	}
}

// Start runs the dispatch loop until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	defer close(d.doneCh)
	for {
		d.mu.Lock()
		if d.pending.Len() == 0 {
			d.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.stopCh:
				return nil
			case <-d.wake:
				continue
			}
		}

		next := d.pending[0]
		delay := epochTime(next.epoch).Sub(d.now())
		if delay > 0 {
			d.mu.Unlock()
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-d.stopCh:
				timer.Stop()
				return nil
			case <-d.wake:
				// An earlier entry may have arrived; re-evaluate.
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		due := d.pending.pop()
		d.mu.Unlock()
		d.apply(ctx, due)
	}
}

// Stop shuts the dispatcher down and waits for the loop to exit.
func (d *Dispatcher) Stop() error {
	close(d.stopCh)
	<-d.doneCh
	return nil
}

// apply fans one entry out to every relevant node. Runs on the dispatch
// goroutine, which serializes fan-out for this model type. The obsState is
// re-checked at fire time: an entry outliving its configuration is dropped.
func (d *Dispatcher) apply(ctx context.Context, e entry) {
	if st := d.state(); st != model.ObsStateReady && st != model.ObsStateScanning {
		d.logger.Warn("model entry dropped at fire time", "obs_state", string(st), "epoch", e.epoch)
		return
	}

	command := d.typ.UpdateCommand()
	for _, node := range d.targets(d.typ) {
		if _, err := d.gw.Call(ctx, node, command, e.payload); err != nil {
			// Not retried; the next entry carries fresher parameters anyway.
			d.logger.Error("model fan-out failed", "node", node.String(), "error", err)
		}
	}
	d.metrics.RecordFanout(string(d.typ))
	d.logger.Debug("model entry applied", "epoch", e.epoch)
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func epochTime(epoch float64) time.Time {
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Scheduler bundles the three independent per-model-type dispatchers of
// one subarray.
type Scheduler struct {
	dispatchers map[model.ModelType]*Dispatcher
}

// New creates a Scheduler with one dispatcher per model type.
func New(gw gateway.Gateway, state StateFunc, targets TargetsFunc, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	s := &Scheduler{dispatchers: make(map[model.ModelType]*Dispatcher, len(model.ModelTypes))}
	for _, typ := range model.ModelTypes {
		s.dispatchers[typ] = NewDispatcher(typ, gw, state, targets, logger, metrics)
	}
	return s
}

// Start launches every dispatcher loop.
func (s *Scheduler) Start(ctx context.Context) {
	for _, d := range s.dispatchers {
		go func(d *Dispatcher) { _ = d.Start(ctx) }(d)
	}
}

// Stop shuts every dispatcher down.
func (s *Scheduler) Stop() {
	for _, d := range s.dispatchers {
		_ = d.Stop()
	}
}

// Submit routes a raw model document to its type's dispatcher.
func (s *Scheduler) Submit(typ model.ModelType, raw []byte) *model.APIError {
	d, ok := s.dispatchers[typ]
	if !ok {
		return model.NewValidationError(fmt.Sprintf("unknown model type %q", typ))
	}
	return d.Submit(raw)
}

// Flush discards pending entries for every model type.
func (s *Scheduler) Flush() {
	for _, d := range s.dispatchers {
		d.Flush()
	}
}
