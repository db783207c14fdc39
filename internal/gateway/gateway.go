// Package gateway abstracts the transport to the remote processing fleet.
// The control plane only ever talks to nodes through this interface:
// synchronous calls, group fan-out, change-event subscription, and
// liveness probes of external references.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/me/subarray/pkg/model"
)

// Callback receives typed change events for one subscription.
type Callback func(model.ChangeEvent)

// Gateway is the device-fleet boundary. Implementations live outside the
// core; the in-memory fleet in this package serves standalone mode and tests.
type Gateway interface {
	// Call issues a synchronous command to one node.
	Call(ctx context.Context, node model.NodeRef, command string, payload any) (json.RawMessage, error)

	// CallGroup issues a command to every node of a group. Per-node
	// failures are joined into the returned error; delivery to the
	// remaining nodes is still attempted.
	CallGroup(ctx context.Context, nodes []model.NodeRef, command string, payload any) error

	// Subscribe registers a change-event callback for one node attribute
	// and returns a subscription id. The current attribute value is
	// delivered as the first event.
	Subscribe(node model.NodeRef, attr model.ChangeAttr, cb Callback) (string, error)

	// Unsubscribe cancels a subscription. Unknown ids are a no-op.
	Unsubscribe(id string) error

	// Probe checks that an external reference answers. Single synchronous
	// attempt, no retry.
	Probe(ref string) error
}
