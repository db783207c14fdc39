package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/me/subarray/pkg/model"
)

func testFleet(t *testing.T) *MemFleet {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := NewMemFleet(logger)
	f.AddNode(model.VCCRef(1))
	f.AddNode(model.FSPRef(1))
	return f
}

func TestCallJournalsInOrder(t *testing.T) {
	f := testFleet(t)
	ctx := context.Background()

	if _, err := f.Call(ctx, model.VCCRef(1), "ConfigureScan", map[string]int{"a": 1}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if _, err := f.Call(ctx, model.FSPRef(1), "Scan", nil); err != nil {
		t.Fatalf("Call: %v", err)
	}

	cmds := f.Commands()
	if len(cmds) != 2 {
		t.Fatalf("journal length = %d, want 2", len(cmds))
	}
	if cmds[0].Command != "ConfigureScan" || cmds[1].Command != "Scan" {
		t.Errorf("journal order = %s, %s", cmds[0].Command, cmds[1].Command)
	}
}

func TestCallUnknownNode(t *testing.T) {
	f := testFleet(t)
	if _, err := f.Call(context.Background(), model.VCCRef(99), "Scan", nil); err == nil {
		t.Fatal("expected error for unknown node")
	}
}

func TestCallGroupContinuesPastFailure(t *testing.T) {
	f := testFleet(t)
	f.AddNode(model.FSPRef(2))
	f.SetFailing(model.FSPRef(1), true)

	nodes := []model.NodeRef{model.FSPRef(1), model.FSPRef(2)}
	err := f.CallGroup(context.Background(), nodes, "GoToIdle", nil)
	if err == nil {
		t.Fatal("expected joined error from failing node")
	}
	if got := len(f.CommandsFor(model.FSPRef(2))); got != 1 {
		t.Errorf("healthy node received %d commands, want 1", got)
	}
}

func TestSubscribeDeliversCurrentValue(t *testing.T) {
	f := testFleet(t)

	var events []model.ChangeEvent
	id, err := f.Subscribe(model.VCCRef(1), model.AttrOpState, func(ev model.ChangeEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(events) != 1 || events[0].Liveness != model.LivenessOn {
		t.Fatalf("initial event = %+v, want ON", events)
	}

	f.SetLiveness(model.VCCRef(1), model.LivenessFault)
	if len(events) != 2 || events[1].Liveness != model.LivenessFault {
		t.Fatalf("change event = %+v, want FAULT", events)
	}
	if events[1].Node.Class != model.NodeClassVCC {
		t.Errorf("event class = %s, want vcc", events[1].Node.Class)
	}

	if err := f.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	f.SetLiveness(model.VCCRef(1), model.LivenessOn)
	if len(events) != 2 {
		t.Errorf("event delivered after unsubscribe")
	}
}

func TestProbe(t *testing.T) {
	f := testFleet(t)
	if err := f.Probe("tm/delay/epoch"); err == nil {
		t.Fatal("expected unreachable probe to fail")
	}
	f.SetProbeTarget("tm/delay/epoch", true)
	if err := f.Probe("tm/delay/epoch"); err != nil {
		t.Fatalf("Probe: %v", err)
	}
}
