package stats

import (
	"context"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// VolumeEntry is one network's cached protocol-wide volume aggregate.
type VolumeEntry struct {
	VolumeUsd     float64
	LastRefreshed time.Time
}

// VolumeComputer recomputes the aggregate for a network. Expensive: it pages
// the whole all-trader change-log.
type VolumeComputer func(ctx context.Context, network string) (float64, error)

// VolumeCache holds one entry per supported network. Reads are lock-free
// (atomic pointer replace on refresh); refreshes are serialized per network
// through singleflight so concurrent triggers never duplicate the expensive
// recomputation.
type VolumeCache struct {
	entries map[string]*atomic.Pointer[VolumeEntry]
	group   singleflight.Group
	compute VolumeComputer
}

func NewVolumeCache(networks []string, compute VolumeComputer) *VolumeCache {
	entries := make(map[string]*atomic.Pointer[VolumeEntry], len(networks))
	for _, n := range networks {
		entries[n] = &atomic.Pointer[VolumeEntry]{}
	}
	return &VolumeCache{entries: entries, compute: compute}
}

// Get returns the cached entry, stale or not. false when the network is
// unknown or the first refresh has not landed yet.
func (c *VolumeCache) Get(network string) (VolumeEntry, bool) {
	p, ok := c.entries[network]
	if !ok {
		return VolumeEntry{}, false
	}
	entry := p.Load()
	if entry == nil {
		return VolumeEntry{}, false
	}
	return *entry, true
}

// Refresh recomputes one network's aggregate. Concurrent callers for the
// same network share a single in-flight computation.
func (c *VolumeCache) Refresh(ctx context.Context, network string) (VolumeEntry, error) {
	p, ok := c.entries[network]
	if !ok {
		return VolumeEntry{}, nil
	}
	v, err, _ := c.group.Do(network, func() (interface{}, error) {
		volume, err := c.compute(ctx, network)
		if err != nil {
			return nil, err
		}
		entry := &VolumeEntry{VolumeUsd: volume, LastRefreshed: time.Now().UTC()}
		p.Store(entry)
		return *entry, nil
	})
	if err != nil {
		return VolumeEntry{}, err
	}
	return v.(VolumeEntry), nil
}

// Start refreshes every network once, then keeps refreshing on the
// configured interval until the context is cancelled. Serves stale data
// between refreshes rather than blocking requests.
func (c *VolumeCache) Start(ctx context.Context, interval time.Duration) {
	refreshAll := func() {
		for network := range c.entries {
			if _, err := c.Refresh(ctx, network); err != nil {
				logger.WithError(err).WithField("network", network).Warn("volume refresh failed, keeping stale value")
			}
		}
	}
	refreshAll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("volume refresh loop stopped")
			return
		case <-ticker.C:
			refreshAll()
		}
	}
}
