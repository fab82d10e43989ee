package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/five82/alloclog/internal/nomad"
	"github.com/five82/alloclog/internal/state"
	"github.com/five82/alloclog/internal/stats"
)

const (
	defaultPollInterval = 2 * time.Second
	maxBackoff          = 30 * time.Second
)

// poller refreshes one allocation's record and resource usage.
type poller struct {
	store    *state.Store
	api      nomad.API
	registry *stats.Registry
	allocID  string
	log      *log.Entry
}

// StartPoller launches a background goroutine that refreshes the store at a
// fixed cadence, backing off while the agent keeps failing. It returns
// immediately.
func StartPoller(ctx context.Context, store *state.Store, api nomad.API, registry *stats.Registry, allocID string, interval time.Duration, logger *log.Entry) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	p := &poller{
		store:    store,
		api:      api,
		registry: registry,
		allocID:  allocID,
		log:      logger.WithFields(log.Fields{"component": "poller", "alloc": allocID}),
	}
	go func() {
		failures := 0
		for {
			if err := p.refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				p.log.WithError(err).WithField("failures", failures).Warn("allocation poll failed")
			} else {
				failures = 0
			}

			timer := time.NewTimer(calculateBackoff(failures, interval))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// refresh records the allocation and, while it runs, its resource usage.
func (p *poller) refresh(ctx context.Context) error {
	alloc, err := p.api.Allocation(ctx, p.allocID)
	if err != nil {
		err = errors.Wrap(err, "fetch allocation")
		p.store.Update(nil, nil, err)
		return err
	}

	var tracker *stats.Tracker
	if p.registry != nil {
		tracker = p.registry.Tracker(alloc)
	}
	if !alloc.IsRunning() {
		p.store.Update(alloc, nil, nil)
		return nil
	}

	usage, err := p.api.AllocationStats(ctx, alloc.ID)
	if err != nil {
		err = errors.Wrap(err, "fetch allocation stats")
		p.store.Update(alloc, nil, err)
		return err
	}
	if tracker != nil {
		tracker.Append(usage)
	}
	p.store.Update(alloc, usage, nil)
	return nil
}

// calculateBackoff doubles base for every consecutive failure, capped at
// maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	backoff := base
	for i := 0; i < failures; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}
