// Package subarray hosts the lifecycle aggregate: observation state, the
// receptor and node-group assignments behind it, and the command surface
// that moves between states.
package subarray

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/me/subarray/internal/allocator"
	"github.com/me/subarray/internal/distributor"
	"github.com/me/subarray/internal/gateway"
	"github.com/me/subarray/internal/logging"
	"github.com/me/subarray/internal/modelsched"
	"github.com/me/subarray/internal/observability"
	"github.com/me/subarray/internal/scanconfig"
	"github.com/me/subarray/pkg/model"
)

// Subarray is one observation aggregate. A single coarse mutex serializes
// lifecycle commands; the allocator and distributor it owns are guarded by
// that same lock, while the shared tables and the health view synchronize
// themselves.
type Subarray struct {
	id      int
	gw      gateway.Gateway
	logger  *slog.Logger
	metrics *observability.Metrics

	alloc     *allocator.Allocator
	dist      *distributor.Distributor
	validator *scanconfig.Validator
	sched     *modelsched.Scheduler
	health    *Aggregator

	mu        sync.Mutex
	obsState  model.ObsState
	receptors []int // assignment order
	current   *model.ScanConfiguration
	scanID    int
}

// New assembles a subarray over the shared ownership tables.
func New(id int, receptorTable *allocator.ReceptorTable, fspTable *distributor.FSPTable, gw gateway.Gateway, logger *slog.Logger, metrics *observability.Metrics) *Subarray {
	logger = logging.ForSubarray(logger, id)
	s := &Subarray{
		id:       id,
		gw:       gw,
		logger:   logger,
		metrics:  metrics,
		obsState: model.ObsStateEmpty,
		health:   NewAggregator(logger),
	}
	s.alloc = allocator.New(id, receptorTable, gw, logger)
	s.dist = distributor.New(id, fspTable, gw, logger)
	s.validator = scanconfig.NewValidator(gw, fspTable, vccHealth{table: receptorTable, agg: s.health}, logger)
	s.sched = modelsched.New(gw, s.ObsState, s.modelTargets, logger, metrics)
	metrics.SetObsState(id, model.ObsStateEmpty)
	return s
}

// ID returns the subarray's identifier.
func (s *Subarray) ID() int { return s.id }

// ObsState returns the current observation state.
func (s *Subarray) ObsState() model.ObsState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obsState
}

// Attributes returns a read-only snapshot of the subarray.
func (s *Subarray) Attributes() model.SubarrayAttributes {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs := model.SubarrayAttributes{
		ID:        s.id,
		ObsState:  s.obsState,
		ScanID:    s.scanID,
		Receptors: append([]int(nil), s.receptors...),
		VCCStates: s.health.Statuses(model.NodeClassVCC),
		FSPStates: s.health.Statuses(model.NodeClassFSP),
	}
	if s.current != nil {
		attrs.ConfigID = s.current.ConfigID
		attrs.FrequencyBand = s.current.FrequencyBand
	}
	return attrs
}

// StartScheduler launches the model-update dispatchers.
func (s *Subarray) StartScheduler(ctx context.Context) { s.sched.Start(ctx) }

// StopScheduler shuts the model-update dispatchers down.
func (s *Subarray) StopScheduler() { s.sched.Stop() }

// SubmitModel hands a raw model document to the type's dispatcher. Runs
// outside the subarray lock: the dispatcher consults the obsState itself.
func (s *Subarray) SubmitModel(typ model.ModelType, raw []byte) *model.APIError {
	return s.sched.Submit(typ, raw)
}

// AddReceptors claims the given receptors for this subarray. Claims are
// per-receptor: ids that conflict or are unknown are reported in an
// aggregated error while the rest are still assigned. The subarray ends in
// IDLE if it holds any receptor afterwards, EMPTY otherwise.
func (s *Subarray) AddReceptors(ids []int) (apiErr *model.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.record("AddReceptors", apiErr) }()

	if !s.obsState.CanTransitionTo(model.ObsStateResourcing) {
		return model.NewStateError("AddReceptors", s.obsState)
	}
	if len(ids) == 0 {
		return model.NewValidationError("no receptor ids given")
	}
	s.setState(model.ObsStateResourcing)

	// Rows are tracked before their subscriptions fire so the initial
	// event lands; rows for claims that then failed are dropped again.
	var tracked []model.NodeRef
	added, allocErr := s.alloc.Allocate(ids, s.health.OnEvent, func(node model.NodeRef) {
		tracked = append(tracked, node)
		s.health.Track(node)
	})
	kept := make(map[model.NodeRef]bool, len(added))
	for _, asg := range added {
		kept[asg.Node] = true
		s.receptors = append(s.receptors, asg.Receptor)
	}
	for _, node := range tracked {
		if !kept[node] {
			s.health.Untrack(node)
		}
	}

	if len(s.receptors) > 0 {
		s.setState(model.ObsStateIdle)
	} else {
		s.setState(model.ObsStateEmpty)
	}
	return allocErr
}

// RemoveReceptors releases the given receptors. Ids not held by this
// subarray are ignored. Ends in EMPTY when the last receptor goes.
func (s *Subarray) RemoveReceptors(ids []int) (apiErr *model.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.record("RemoveReceptors", apiErr) }()

	if s.obsState != model.ObsStateIdle {
		return model.NewStateError("RemoveReceptors", s.obsState)
	}
	s.setState(model.ObsStateResourcing)
	s.releaseReceptors(ids)

	if len(s.receptors) > 0 {
		s.setState(model.ObsStateIdle)
	} else {
		s.setState(model.ObsStateEmpty)
	}
	return nil
}

// RemoveAllReceptors releases every held receptor and ends in EMPTY.
func (s *Subarray) RemoveAllReceptors() (apiErr *model.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.record("RemoveAllReceptors", apiErr) }()

	if s.obsState != model.ObsStateIdle {
		return model.NewStateError("RemoveAllReceptors", s.obsState)
	}
	s.setState(model.ObsStateResourcing)
	s.releaseReceptors(append([]int(nil), s.receptors...))
	s.setState(model.ObsStateEmpty)
	return nil
}

// ConfigureScan validates a raw configuration document and, on success,
// distributes it to the fleet. A configuration supersedes any prior one
// wholesale: arriving in READY tears the old one down first. Validation
// failure lands the subarray back in IDLE with nothing applied; a fleet
// call failure rolls the partial distribution back to IDLE; an internal
// inconsistency routes to FAULT.
func (s *Subarray) ConfigureScan(ctx context.Context, raw []byte) (apiErr *model.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.record("ConfigureScan", apiErr) }()

	if !s.obsState.CanTransitionTo(model.ObsStateConfiguring) {
		return model.NewStateError("ConfigureScan", s.obsState)
	}
	s.setState(model.ObsStateConfiguring)
	if s.current != nil {
		s.teardownConfiguration(ctx)
	}

	doc, apiErr := s.validator.Validate(raw, s.id, append([]int(nil), s.receptors...))
	if apiErr != nil {
		s.setState(model.ObsStateIdle)
		return apiErr
	}

	if apiErr = s.dist.Distribute(ctx, doc, s.health.OnEvent, s.health.Track); apiErr != nil {
		if apiErr.Code == model.ErrInternal {
			s.setState(model.ObsStateFault)
			return apiErr
		}
		s.teardownConfiguration(ctx)
		s.setState(model.ObsStateIdle)
		return apiErr
	}

	s.current = doc
	s.setState(model.ObsStateReady)
	s.logger.Info("scan configured", "config_id", doc.ConfigID, "band", doc.FrequencyBand, "fsps", len(doc.FSP))
	return nil
}

// Scan starts observing under the current configuration. The scan id must
// be positive; it stays visible for the duration of the scan only.
func (s *Subarray) Scan(ctx context.Context, scanID int) (apiErr *model.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.record("Scan", apiErr) }()

	if !s.obsState.CanTransitionTo(model.ObsStateScanning) {
		return model.NewStateError("Scan", s.obsState)
	}
	if scanID <= 0 {
		return model.NewValidationError(fmt.Sprintf("scan id %d must be positive", scanID))
	}

	payload := map[string]int{"scan_id": scanID}
	if err := s.gw.CallGroup(ctx, s.scanTargets(), "Scan", payload); err != nil {
		return model.NewRemoteError("node group", "Scan", err)
	}
	s.scanID = scanID
	s.setState(model.ObsStateScanning)
	s.logger.Info("scan started", "scan_id", scanID)
	return nil
}

// EndScan stops the running scan and returns to READY. The configuration
// stays in force for the next scan.
func (s *Subarray) EndScan(ctx context.Context) (apiErr *model.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.record("EndScan", apiErr) }()

	if s.obsState != model.ObsStateScanning {
		return model.NewStateError("EndScan", s.obsState)
	}
	if err := s.gw.CallGroup(ctx, s.scanTargets(), "EndScan", nil); err != nil {
		s.logger.Warn("end-scan command failed on some nodes", "error", err)
	}
	s.scanID = 0
	s.setState(model.ObsStateReady)
	s.logger.Info("scan ended")
	return nil
}

// GoToIdle discards the current configuration and returns to IDLE.
// Receptors stay assigned.
func (s *Subarray) GoToIdle(ctx context.Context) (apiErr *model.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.record("GoToIdle", apiErr) }()

	if s.obsState != model.ObsStateReady {
		return model.NewStateError("GoToIdle", s.obsState)
	}
	s.teardownConfiguration(ctx)
	s.setState(model.ObsStateIdle)
	return nil
}

// Abort interrupts whatever is in progress and parks the subarray in
// ABORTED. A running scan is ended on the fleet first; the configuration
// and receptors are kept so ObsReset or Restart decides their fate.
func (s *Subarray) Abort(ctx context.Context) (apiErr *model.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.record("Abort", apiErr) }()

	if !s.obsState.CanTransitionTo(model.ObsStateAborting) {
		return model.NewStateError("Abort", s.obsState)
	}
	wasScanning := s.obsState == model.ObsStateScanning
	s.setState(model.ObsStateAborting)

	// Pending model updates must never fire into an aborted observation.
	s.sched.Flush()
	if wasScanning {
		if err := s.gw.CallGroup(ctx, s.scanTargets(), "EndScan", nil); err != nil {
			s.logger.Warn("end-scan during abort failed on some nodes", "error", err)
		}
		s.scanID = 0
	}

	s.setState(model.ObsStateAborted)
	s.logger.Info("observation aborted")
	return nil
}

// ObsReset recovers an aborted subarray back to IDLE: the configuration is
// torn down, receptors stay assigned.
func (s *Subarray) ObsReset(ctx context.Context) (apiErr *model.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.record("ObsReset", apiErr) }()

	if !s.obsState.CanTransitionTo(model.ObsStateResetting) {
		return model.NewStateError("ObsReset", s.obsState)
	}
	s.setState(model.ObsStateResetting)
	s.teardownConfiguration(ctx)
	s.scanID = 0
	s.setState(model.ObsStateIdle)
	s.logger.Info("observation reset")
	return nil
}

// Restart recovers from ABORTED or FAULT all the way back to EMPTY: the
// configuration is torn down and every receptor released.
func (s *Subarray) Restart(ctx context.Context) (apiErr *model.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.record("Restart", apiErr) }()

	if !s.obsState.CanTransitionTo(model.ObsStateRestarting) {
		return model.NewStateError("Restart", s.obsState)
	}
	s.setState(model.ObsStateRestarting)
	s.teardownConfiguration(ctx)
	s.scanID = 0
	s.releaseReceptors(append([]int(nil), s.receptors...))
	s.setState(model.ObsStateEmpty)
	s.logger.Info("subarray restarted")
	return nil
}

// teardownConfiguration flushes pending model updates, idles and releases
// the node groups, and drops their health rows. Idempotent. Caller holds
// the lock.
func (s *Subarray) teardownConfiguration(ctx context.Context) {
	s.sched.Flush()
	for _, node := range s.dist.Deconfigure(ctx) {
		s.health.Untrack(node)
	}
	s.current = nil
}

// releaseReceptors returns receptors to the pool and drops their rows.
// Caller holds the lock.
func (s *Subarray) releaseReceptors(ids []int) {
	released := s.alloc.Release(ids)
	for _, asg := range released {
		s.health.Untrack(asg.Node)
		for i, r := range s.receptors {
			if r == asg.Receptor {
				s.receptors = append(s.receptors[:i], s.receptors[i+1:]...)
				break
			}
		}
	}
}

// scanTargets lists every node a scan-control command addresses: the
// assigned VCCs then the configured node groups. Caller holds the lock.
func (s *Subarray) scanTargets() []model.NodeRef {
	var nodes []model.NodeRef
	for _, status := range s.health.Statuses(model.NodeClassVCC) {
		nodes = append(nodes, status.Node)
	}
	return append(nodes, s.dist.AllNodes()...)
}

// modelTargets resolves a model type's fan-out set at fire time. Delay and
// Jones corrections address both node classes; beam weights only the
// function-mode groups. Called from dispatcher goroutines, so it takes the
// lock itself.
func (s *Subarray) modelTargets(typ model.ModelType) []model.NodeRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if typ == model.ModelTypeBeamWeights {
		return s.dist.AllNodes()
	}
	return s.scanTargets()
}

// setState applies a transition. Caller holds the lock and has checked
// validity; an unchecked jump here is a programming error worth a loud log.
func (s *Subarray) setState(next model.ObsState) {
	if !s.obsState.CanTransitionTo(next) {
		s.logger.Error("invalid state transition forced", "from", string(s.obsState), "to", string(next))
	}
	s.logger.Debug("obs state transition", "from", string(s.obsState), "to", string(next))
	s.obsState = next
	s.metrics.SetObsState(s.id, next)
}

func (s *Subarray) record(command string, apiErr *model.APIError) {
	result := "ok"
	if apiErr != nil {
		result = string(apiErr.Code)
	}
	s.metrics.RecordCommand(command, result)
}
