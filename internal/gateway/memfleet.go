package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/me/subarray/pkg/model"
)

// CommandRecord is one command delivered to a fleet node, in delivery order.
type CommandRecord struct {
	Node    model.NodeRef
	Command string
	Payload json.RawMessage
	At      time.Time
}

type nodeState struct {
	liveness model.LivenessState
	health   model.HealthState
}

type subscription struct {
	node model.NodeRef
	attr model.ChangeAttr
	cb   Callback
}

// MemFleet is an in-memory fleet implementation. It journals every command,
// tracks per-node liveness/health, and delivers change events synchronously
// on the caller's goroutine. Used by standalone mode and by tests.
type MemFleet struct {
	mu      sync.Mutex
	nodes   map[model.NodeRef]*nodeState
	journal []CommandRecord
	subs    map[string]subscription
	probes  map[string]bool
	failing map[model.NodeRef]bool
	logger  *slog.Logger
}

// NewMemFleet creates an empty in-memory fleet.
func NewMemFleet(logger *slog.Logger) *MemFleet {
	return &MemFleet{
		nodes:   make(map[model.NodeRef]*nodeState),
		subs:    make(map[string]subscription),
		probes:  make(map[string]bool),
		failing: make(map[model.NodeRef]bool),
		logger:  logger.With("component", "memfleet"),
	}
}

// AddNode registers a node, initially ON and OK.
func (f *MemFleet) AddNode(node model.NodeRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[node] = &nodeState{liveness: model.LivenessOn, health: model.HealthOK}
}

// Call implements Gateway.
func (f *MemFleet) Call(ctx context.Context, node model.NodeRef, command string, payload any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[node]; !ok {
		return nil, fmt.Errorf("node %s not in fleet", node)
	}
	if f.failing[node] {
		return nil, fmt.Errorf("node %s unreachable", node)
	}
	f.journal = append(f.journal, CommandRecord{Node: node, Command: command, Payload: raw, At: time.Now().UTC()})
	return json.RawMessage(`{"result":"ok"}`), nil
}

// CallGroup implements Gateway.
func (f *MemFleet) CallGroup(ctx context.Context, nodes []model.NodeRef, command string, payload any) error {
	var errs []error
	for _, node := range nodes {
		if _, err := f.Call(ctx, node, command, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe implements Gateway. The node's current attribute value is
// delivered synchronously as the first event.
func (f *MemFleet) Subscribe(node model.NodeRef, attr model.ChangeAttr, cb Callback) (string, error) {
	f.mu.Lock()
	st, ok := f.nodes[node]
	if !ok {
		f.mu.Unlock()
		return "", fmt.Errorf("node %s not in fleet", node)
	}
	id := uuid.New().String()
	f.subs[id] = subscription{node: node, attr: attr, cb: cb}
	ev := f.eventFor(node, attr, st)
	f.mu.Unlock()

	cb(ev)
	return id, nil
}

// Unsubscribe implements Gateway.
func (f *MemFleet) Unsubscribe(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
	return nil
}

// Probe implements Gateway. Only references registered via SetProbeTarget
// answer.
func (f *MemFleet) Probe(ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probes[ref] {
		return nil
	}
	return fmt.Errorf("reference %q unreachable", ref)
}

// SetProbeTarget registers or deregisters an external probe target.
func (f *MemFleet) SetProbeTarget(ref string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes[ref] = ok
}

// SetFailing makes future calls to a node fail with an unreachable error.
func (f *MemFleet) SetFailing(node model.NodeRef, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[node] = failing
}

// SetLiveness updates a node's liveness and fires matching subscriptions.
func (f *MemFleet) SetLiveness(node model.NodeRef, st model.LivenessState) {
	f.setAttr(node, model.AttrOpState, func(ns *nodeState) { ns.liveness = st })
}

// SetHealth updates a node's health and fires matching subscriptions.
func (f *MemFleet) SetHealth(node model.NodeRef, st model.HealthState) {
	f.setAttr(node, model.AttrHealthState, func(ns *nodeState) { ns.health = st })
}

func (f *MemFleet) setAttr(node model.NodeRef, attr model.ChangeAttr, apply func(*nodeState)) {
	f.mu.Lock()
	st, ok := f.nodes[node]
	if !ok {
		f.mu.Unlock()
		f.logger.Warn("attribute update for unknown node", "node", node.String())
		return
	}
	apply(st)
	ev := f.eventFor(node, attr, st)
	var cbs []Callback
	for _, sub := range f.subs {
		if sub.node == node && sub.attr == attr {
			cbs = append(cbs, sub.cb)
		}
	}
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(ev)
	}
}

func (f *MemFleet) eventFor(node model.NodeRef, attr model.ChangeAttr, st *nodeState) model.ChangeEvent {
	ev := model.ChangeEvent{Node: node, Attr: attr, At: time.Now().UTC()}
	switch attr {
	case model.AttrOpState:
		ev.Liveness = st.liveness
	case model.AttrHealthState:
		ev.Health = st.health
	}
	return ev
}

// Commands returns a copy of the full command journal in delivery order.
func (f *MemFleet) Commands() []CommandRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CommandRecord, len(f.journal))
	copy(out, f.journal)
	return out
}

// CommandsFor returns the journal filtered to one node.
func (f *MemFleet) CommandsFor(node model.NodeRef) []CommandRecord {
	var out []CommandRecord
	for _, rec := range f.Commands() {
		if rec.Node == node {
			out = append(out, rec)
		}
	}
	return out
}

// CommandsNamed returns the journal filtered to one command name.
func (f *MemFleet) CommandsNamed(command string) []CommandRecord {
	var out []CommandRecord
	for _, rec := range f.Commands() {
		if rec.Command == command {
			out = append(out, rec)
		}
	}
	return out
}

// SubscriptionCount returns the number of live subscriptions.
func (f *MemFleet) SubscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return raw, nil
	}
}
