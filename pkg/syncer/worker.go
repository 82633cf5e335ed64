package syncer

import (
	"context"
	"time"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/pkg/connectivity"
)

// Kick requests a drain as soon as connectivity allows. Kicks coalesce.
func (c *Coordinator) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Start runs the background worker until Stop is called or ctx ends. The
// worker drains on every kick, on every connectivity change that is not
// offline, and every Interval. It enforces the storage budget every
// EvictionInterval. A transition to offline cancels the running drain.
func (c *Coordinator) Start(ctx context.Context) {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.stop != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.done = make(chan struct{})

	events, unsubscribe := c.monitor.Subscribe()
	go func() {
		defer close(c.done)
		defer unsubscribe()
		c.loop(ctx, events)
	}()

	logger.Info("Sync coordinator started",
		"interval", c.cfg.Interval.String(),
		"eviction_interval", c.cfg.EvictionInterval.String(),
		"batch_limit", c.cfg.BatchLimit)
}

// Stop cancels the worker and waits up to timeout for it to exit. An
// interrupted drain reverts its in-flight operation.
func (c *Coordinator) Stop(timeout time.Duration) error {
	c.stopMu.Lock()
	cancel, done := c.stop, c.done
	c.stop = nil
	c.stopMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		logger.Info("Sync coordinator stopped")
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

type drainResult struct {
	report *DrainReport
	err    error
}

func (c *Coordinator) loop(ctx context.Context, events <-chan connectivity.Class) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	evictTicker := time.NewTicker(c.cfg.EvictionInterval)
	defer evictTicker.Stop()

	var (
		running     chan drainResult
		cancelDrain context.CancelFunc
		rerun       bool
	)

	startDrain := func() {
		if running != nil {
			rerun = true
			return
		}
		class := c.monitor.Current()
		if class == connectivity.Offline {
			return
		}
		dctx, cancel := context.WithCancel(ctx)
		cancelDrain = cancel
		ch := make(chan drainResult, 1)
		running = ch
		go func() {
			report, err := c.Drain(dctx, class)
			ch <- drainResult{report: report, err: err}
		}()
	}

	// Drain once at startup so work queued before a restart is picked up.
	startDrain()

	for {
		select {
		case <-ctx.Done():
			if running != nil {
				<-running
				cancelDrain()
			}
			return

		case class := <-events:
			logger.Info("Connectivity changed", logger.KeyConnectivity, string(class))
			if class == connectivity.Offline {
				if cancelDrain != nil {
					cancelDrain()
				}
				continue
			}
			startDrain()

		case <-c.kick:
			startDrain()

		case <-ticker.C:
			startDrain()

		case <-evictTicker.C:
			if _, err := c.evictor.EnforceBudget(ctx); err != nil {
				logger.Warn("Periodic budget enforcement failed", logger.KeyError, err)
			}

		case res := <-running:
			cancelDrain()
			running, cancelDrain = nil, nil
			if res.err != nil {
				logger.Warn("Drain failed", logger.KeyError, res.err)
			}
			// A full batch may leave ready work behind.
			more := res.report != nil && !res.report.Cancelled && res.report.Processed >= c.cfg.BatchLimit
			if rerun || more {
				rerun = false
				startDrain()
			}
		}
	}
}
