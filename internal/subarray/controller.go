package subarray

import (
	"context"
	"log/slog"
	"sort"

	"github.com/me/subarray/internal/allocator"
	"github.com/me/subarray/internal/config"
	"github.com/me/subarray/internal/distributor"
	"github.com/me/subarray/internal/gateway"
	"github.com/me/subarray/internal/observability"
	"github.com/me/subarray/pkg/model"
)

// Controller hosts the process's subarrays over one shared receptor
// ownership table and one shared function-mode binding table.
type Controller struct {
	subarrays map[int]*Subarray
	ids       []int
	logger    *slog.Logger
}

// NewController builds n subarrays, numbered from 1, over the given fleet
// topology.
func NewController(n int, topo *config.Topology, gw gateway.Gateway, logger *slog.Logger, metrics *observability.Metrics) *Controller {
	receptorTable := allocator.NewReceptorTable(topo.ReceptorToVCC())
	fspTable := distributor.NewFSPTable(topo.FSPs)

	c := &Controller{
		subarrays: make(map[int]*Subarray, n),
		logger:    logger.With("component", "controller"),
	}
	for id := 1; id <= n; id++ {
		c.subarrays[id] = New(id, receptorTable, fspTable, gw, logger, metrics)
		c.ids = append(c.ids, id)
	}
	sort.Ints(c.ids)
	c.logger.Info("controller initialized", "subarrays", n,
		"receptors", len(topo.Receptors), "fsps", len(topo.FSPs))
	return c
}

// Get returns the subarray with the given id.
func (c *Controller) Get(id int) (*Subarray, bool) {
	s, ok := c.subarrays[id]
	return s, ok
}

// IDs lists the hosted subarray ids in ascending order.
func (c *Controller) IDs() []int {
	return append([]int(nil), c.ids...)
}

// Attributes returns the attribute snapshots of every subarray, in id order.
func (c *Controller) Attributes() []model.SubarrayAttributes {
	out := make([]model.SubarrayAttributes, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.subarrays[id].Attributes())
	}
	return out
}

// Start launches every subarray's model-update dispatchers.
func (c *Controller) Start(ctx context.Context) {
	for _, id := range c.ids {
		c.subarrays[id].StartScheduler(ctx)
	}
}

// Stop shuts every subarray's dispatchers down.
func (c *Controller) Stop() {
	for _, id := range c.ids {
		c.subarrays[id].StopScheduler()
	}
	c.logger.Info("controller stopped")
}
