package subarray

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/me/subarray/internal/allocator"
	"github.com/me/subarray/internal/config"
	"github.com/me/subarray/internal/distributor"
	"github.com/me/subarray/internal/gateway"
	"github.com/me/subarray/pkg/model"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFleet(t *testing.T) (*gateway.MemFleet, *config.Topology) {
	t.Helper()
	fleet := gateway.NewMemFleet(discard())
	topo := config.DefaultTopology()
	for _, m := range topo.Receptors {
		fleet.AddNode(model.VCCRef(m.VCCID))
	}
	for _, id := range topo.FSPs {
		fleet.AddNode(model.FSPRef(id))
	}
	return fleet, topo
}

func testSubarray(t *testing.T) (*Subarray, *gateway.MemFleet) {
	t.Helper()
	fleet, topo := testFleet(t)
	s := New(1, allocator.NewReceptorTable(topo.ReceptorToVCC()),
		distributor.NewFSPTable(topo.FSPs), fleet, discard(), nil)
	return s, fleet
}

func testPair(t *testing.T) (*Subarray, *Subarray, *gateway.MemFleet) {
	t.Helper()
	fleet, topo := testFleet(t)
	receptorTable := allocator.NewReceptorTable(topo.ReceptorToVCC())
	fspTable := distributor.NewFSPTable(topo.FSPs)
	first := New(1, receptorTable, fspTable, fleet, discard(), nil)
	second := New(2, receptorTable, fspTable, fleet, discard(), nil)
	return first, second, fleet
}

func configDoc(t *testing.T, configID string, fspIDs ...int) []byte {
	t.Helper()
	var entries []map[string]any
	for _, id := range fspIDs {
		entries = append(entries, map[string]any{
			"fsp_id":             id,
			"function_mode":      "CORR",
			"frequency_slice_id": 1,
			"zoom_factor":        0,
			"integration_time":   1400,
		})
	}
	raw, err := json.Marshal(map[string]any{
		"config_id":      configID,
		"frequency_band": "1",
		"fsp":            entries,
	})
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return raw
}

func mustOK(t *testing.T, apiErr *model.APIError) {
	t.Helper()
	if apiErr != nil {
		t.Fatalf("command failed: %v", apiErr)
	}
}

func wantState(t *testing.T, s *Subarray, want model.ObsState) {
	t.Helper()
	if got := s.ObsState(); got != want {
		t.Fatalf("obsState = %s, want %s", got, want)
	}
}

func TestFullObservationLifecycle(t *testing.T) {
	s, fleet := testSubarray(t)
	ctx := context.Background()
	wantState(t, s, model.ObsStateEmpty)

	mustOK(t, s.AddReceptors([]int{1, 2}))
	wantState(t, s, model.ObsStateIdle)

	mustOK(t, s.ConfigureScan(ctx, configDoc(t, "cfg-001", 1)))
	wantState(t, s, model.ObsStateReady)
	if got := len(fleet.CommandsNamed("ConfigureScan")); got != 1 {
		t.Fatalf("ConfigureScan commands = %d, want 1", got)
	}

	mustOK(t, s.Scan(ctx, 7))
	wantState(t, s, model.ObsStateScanning)
	if attrs := s.Attributes(); attrs.ScanID != 7 {
		t.Errorf("scan id = %d, want 7", attrs.ScanID)
	}
	// Scan addresses both assigned VCCs and the configured node group.
	if got := len(fleet.CommandsNamed("Scan")); got != 3 {
		t.Errorf("Scan commands = %d, want 3", got)
	}

	mustOK(t, s.EndScan(ctx))
	wantState(t, s, model.ObsStateReady)
	if attrs := s.Attributes(); attrs.ScanID != 0 {
		t.Errorf("scan id after EndScan = %d, want 0", attrs.ScanID)
	}

	mustOK(t, s.GoToIdle(ctx))
	wantState(t, s, model.ObsStateIdle)
	if got := len(fleet.CommandsNamed("GoToIdle")); got != 1 {
		t.Errorf("GoToIdle commands = %d, want 1", got)
	}

	mustOK(t, s.RemoveAllReceptors())
	wantState(t, s, model.ObsStateEmpty)
	if got := fleet.SubscriptionCount(); got != 0 {
		t.Errorf("subscriptions after full teardown = %d, want 0", got)
	}
}

func TestCommandsRejectedByState(t *testing.T) {
	s, _ := testSubarray(t)
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() *model.APIError
	}{
		{"ConfigureScan in EMPTY", func() *model.APIError { return s.ConfigureScan(ctx, configDoc(t, "c", 1)) }},
		{"Scan in EMPTY", func() *model.APIError { return s.Scan(ctx, 1) }},
		{"EndScan in EMPTY", func() *model.APIError { return s.EndScan(ctx) }},
		{"GoToIdle in EMPTY", func() *model.APIError { return s.GoToIdle(ctx) }},
		{"ObsReset in EMPTY", func() *model.APIError { return s.ObsReset(ctx) }},
		{"Restart in EMPTY", func() *model.APIError { return s.Restart(ctx) }},
		{"RemoveReceptors in EMPTY", func() *model.APIError { return s.RemoveReceptors([]int{1}) }},
	}
	for _, tc := range cases {
		apiErr := tc.run()
		if apiErr == nil || apiErr.Code != model.ErrRejectedByState {
			t.Errorf("%s: error = %v, want %s", tc.name, apiErr, model.ErrRejectedByState)
		}
	}
	wantState(t, s, model.ObsStateEmpty)

	mustOK(t, s.AddReceptors([]int{1}))
	if apiErr := s.EndScan(ctx); apiErr == nil || apiErr.Code != model.ErrRejectedByState {
		t.Errorf("EndScan in IDLE: error = %v", apiErr)
	}
}

func TestAllocationConflictIsPartial(t *testing.T) {
	first, second, _ := testPair(t)

	mustOK(t, first.AddReceptors([]int{1}))

	apiErr := second.AddReceptors([]int{1, 2})
	if apiErr == nil || apiErr.Code != model.ErrResourceConflict {
		t.Fatalf("error = %v, want %s", apiErr, model.ErrResourceConflict)
	}
	// The free receptor was still assigned; the conflict is reported per id.
	wantState(t, second, model.ObsStateIdle)
	attrs := second.Attributes()
	if len(attrs.Receptors) != 1 || attrs.Receptors[0] != 2 {
		t.Errorf("receptors = %v, want [2]", attrs.Receptors)
	}
	if len(apiErr.Details) != 1 {
		t.Errorf("details = %v, want one conflict entry", apiErr.Details)
	}
}

func TestAllocationAllConflictsStaysEmpty(t *testing.T) {
	first, second, _ := testPair(t)

	mustOK(t, first.AddReceptors([]int{1, 2}))
	if apiErr := second.AddReceptors([]int{1, 2}); apiErr == nil {
		t.Fatal("expected conflict error")
	}
	wantState(t, second, model.ObsStateEmpty)
}

func TestValidationFailureLandsIdle(t *testing.T) {
	s, fleet := testSubarray(t)
	ctx := context.Background()
	mustOK(t, s.AddReceptors([]int{1, 2}))

	bad := []byte(`{"config_id":"c","frequency_band":"6","fsp":[{"fsp_id":1,"function_mode":"CORR","frequency_slice_id":1,"integration_time":1400}]}`)
	apiErr := s.ConfigureScan(ctx, bad)
	if apiErr == nil || apiErr.Code != model.ErrValidationFailed {
		t.Fatalf("error = %v, want %s", apiErr, model.ErrValidationFailed)
	}
	wantState(t, s, model.ObsStateIdle)
	if got := len(fleet.CommandsNamed("ConfigureScan")); got != 0 {
		t.Errorf("rejected config reached the fleet: %d commands", got)
	}
	if attrs := s.Attributes(); attrs.ConfigID != "" {
		t.Errorf("config id = %q after rejection, want empty", attrs.ConfigID)
	}
}

func TestDistributionFailureRollsBackToIdle(t *testing.T) {
	s, fleet := testSubarray(t)
	ctx := context.Background()
	mustOK(t, s.AddReceptors([]int{1}))
	fleet.SetFailing(model.FSPRef(2), true)

	apiErr := s.ConfigureScan(ctx, configDoc(t, "cfg-002", 1, 2))
	if apiErr == nil || apiErr.Code != model.ErrRemoteCallFailed {
		t.Fatalf("error = %v, want %s", apiErr, model.ErrRemoteCallFailed)
	}
	wantState(t, s, model.ObsStateIdle)
	// The partial distribution was torn down and its rows dropped.
	if attrs := s.Attributes(); len(attrs.FSPStates) != 0 {
		t.Errorf("fsp rows after rollback = %v, want none", attrs.FSPStates)
	}

	// The subarray recovers without operator intervention.
	mustOK(t, s.ConfigureScan(ctx, configDoc(t, "cfg-003", 1)))
	wantState(t, s, model.ObsStateReady)
}

func TestReconfigureSupersedesWholesale(t *testing.T) {
	s, fleet := testSubarray(t)
	ctx := context.Background()
	mustOK(t, s.AddReceptors([]int{1}))
	mustOK(t, s.ConfigureScan(ctx, configDoc(t, "cfg-old", 1)))

	mustOK(t, s.ConfigureScan(ctx, configDoc(t, "cfg-new", 2)))
	wantState(t, s, model.ObsStateReady)

	attrs := s.Attributes()
	if attrs.ConfigID != "cfg-new" {
		t.Errorf("config id = %q, want cfg-new", attrs.ConfigID)
	}
	if len(attrs.FSPStates) != 1 || attrs.FSPStates[0].Node != model.FSPRef(2) {
		t.Errorf("fsp rows = %v, want only fsp-002", attrs.FSPStates)
	}
	// The old group was idled before the new configuration dispatched.
	if got := len(fleet.CommandsFor(model.FSPRef(1))); got != 2 {
		t.Errorf("fsp-001 saw %d commands, want ConfigureScan then GoToIdle", got)
	}
}

func TestAbortObsResetRecoversToIdle(t *testing.T) {
	s, fleet := testSubarray(t)
	ctx := context.Background()
	mustOK(t, s.AddReceptors([]int{1, 2}))
	mustOK(t, s.ConfigureScan(ctx, configDoc(t, "cfg-004", 1)))
	mustOK(t, s.Scan(ctx, 42))

	mustOK(t, s.Abort(ctx))
	wantState(t, s, model.ObsStateAborted)
	attrs := s.Attributes()
	if attrs.ScanID != 0 {
		t.Errorf("scan id after abort = %d, want 0", attrs.ScanID)
	}
	if got := len(fleet.CommandsNamed("EndScan")); got == 0 {
		t.Error("abort of a running scan issued no EndScan")
	}

	mustOK(t, s.ObsReset(ctx))
	wantState(t, s, model.ObsStateIdle)
	attrs = s.Attributes()
	if len(attrs.Receptors) != 2 {
		t.Errorf("receptors after reset = %v, want kept", attrs.Receptors)
	}
	if attrs.ConfigID != "" {
		t.Errorf("config id after reset = %q, want empty", attrs.ConfigID)
	}
}

func TestRestartReleasesEverything(t *testing.T) {
	first, second, _ := testPair(t)
	ctx := context.Background()
	mustOK(t, first.AddReceptors([]int{1, 2}))
	mustOK(t, first.ConfigureScan(ctx, configDoc(t, "cfg-005", 1)))
	mustOK(t, first.Abort(ctx))

	mustOK(t, first.Restart(ctx))
	wantState(t, first, model.ObsStateEmpty)
	if attrs := first.Attributes(); len(attrs.Receptors) != 0 || len(attrs.VCCStates) != 0 {
		t.Errorf("attributes after restart = %+v, want empty", attrs)
	}

	// The released receptors are claimable again.
	mustOK(t, second.AddReceptors([]int{1, 2}))
	wantState(t, second, model.ObsStateIdle)
}

func TestHealthRowsFollowFleetEvents(t *testing.T) {
	s, fleet := testSubarray(t)
	mustOK(t, s.AddReceptors([]int{1}))

	attrs := s.Attributes()
	if len(attrs.VCCStates) != 1 {
		t.Fatalf("vcc rows = %v, want one", attrs.VCCStates)
	}
	// The subscription's initial event filled the row in.
	if attrs.VCCStates[0].Liveness != model.LivenessOn || attrs.VCCStates[0].Health != model.HealthOK {
		t.Errorf("initial row = %+v, want ON/OK", attrs.VCCStates[0])
	}

	fleet.SetHealth(model.VCCRef(1), model.HealthDegraded)
	fleet.SetLiveness(model.VCCRef(1), model.LivenessFault)
	attrs = s.Attributes()
	if attrs.VCCStates[0].Health != model.HealthDegraded || attrs.VCCStates[0].Liveness != model.LivenessFault {
		t.Errorf("row after events = %+v", attrs.VCCStates[0])
	}
}

func TestOfflineVCCBlocksConfiguration(t *testing.T) {
	s, fleet := testSubarray(t)
	ctx := context.Background()
	mustOK(t, s.AddReceptors([]int{1, 2}))
	fleet.SetLiveness(model.VCCRef(2), model.LivenessOff)

	apiErr := s.ConfigureScan(ctx, configDoc(t, "cfg-006", 1))
	if apiErr == nil || apiErr.Code != model.ErrValidationFailed {
		t.Fatalf("error = %v, want %s", apiErr, model.ErrValidationFailed)
	}
	wantState(t, s, model.ObsStateIdle)
}

func TestScanRequiresPositiveID(t *testing.T) {
	s, _ := testSubarray(t)
	ctx := context.Background()
	mustOK(t, s.AddReceptors([]int{1}))
	mustOK(t, s.ConfigureScan(ctx, configDoc(t, "cfg-007", 1)))

	if apiErr := s.Scan(ctx, 0); apiErr == nil || apiErr.Code != model.ErrValidationFailed {
		t.Errorf("Scan(0) error = %v, want %s", apiErr, model.ErrValidationFailed)
	}
	wantState(t, s, model.ObsStateReady)
}

func TestModelSubmissionGatedByState(t *testing.T) {
	s, fleet := testSubarray(t)
	ctx, cancel := context.WithCancel(context.Background())
	s.StartScheduler(ctx)
	t.Cleanup(func() {
		cancel()
		s.StopScheduler()
	})

	doc := []byte(`{"entries":[{"epoch":1,"payload":{"delay":[0.1]}}]}`)
	if apiErr := s.SubmitModel(model.ModelTypeDelay, doc); apiErr == nil || apiErr.Code != model.ErrRejectedByState {
		t.Fatalf("submission in EMPTY: error = %v", apiErr)
	}

	mustOK(t, s.AddReceptors([]int{1}))
	mustOK(t, s.ConfigureScan(ctx, configDoc(t, "cfg-008", 1)))
	if apiErr := s.SubmitModel(model.ModelTypeDelay, doc); apiErr != nil {
		t.Fatalf("submission in READY: %v", apiErr)
	}

	// Epoch 1 is long past, so the entry fans out as soon as the
	// dispatcher picks it up: one command per target node.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(fleet.CommandsNamed("UpdateDelayModel")) >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("fan-out never reached the fleet: %d commands", len(fleet.CommandsNamed("UpdateDelayModel")))
}

func TestSharedFSPAcrossSubarrays(t *testing.T) {
	first, second, _ := testPair(t)
	ctx := context.Background()
	mustOK(t, first.AddReceptors([]int{1}))
	mustOK(t, second.AddReceptors([]int{2}))

	mustOK(t, first.ConfigureScan(ctx, configDoc(t, "cfg-a", 1)))
	// The same FSP serves the second subarray in the same function mode.
	mustOK(t, second.ConfigureScan(ctx, configDoc(t, "cfg-b", 1)))

	mustOK(t, first.GoToIdle(ctx))
	// The mode binding survives until the last subarray lets go.
	wantState(t, second, model.ObsStateReady)
	mustOK(t, second.Scan(ctx, 9))
	wantState(t, second, model.ObsStateScanning)
}

func TestControllerHostsIndependentSubarrays(t *testing.T) {
	fleet, topo := testFleet(t)
	c := NewController(3, topo, fleet, discard(), nil)

	if got := c.IDs(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("ids = %v, want [1 2 3]", got)
	}
	s1, ok := c.Get(1)
	if !ok {
		t.Fatal("subarray 1 missing")
	}
	if _, ok := c.Get(9); ok {
		t.Fatal("subarray 9 should not exist")
	}

	mustOK(t, s1.AddReceptors([]int{1}))
	all := c.Attributes()
	if len(all) != 3 || all[0].ObsState != model.ObsStateIdle || all[1].ObsState != model.ObsStateEmpty {
		t.Errorf("attributes = %+v", all)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()
	c.Stop()
}
