package mqtt

import (
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/schedule"
)

// startReconnect begins a backoff loop unless one is already running or the
// client was disconnected on purpose. The first attempt waits Backoff.Initial;
// after failed attempt n the next one waits Backoff.Delay(n).
func (c *Client) startReconnect(reason error) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	if c.manual || c.closed || c.state == StateConnected {
		c.mu.Unlock()
		c.reconnecting.Store(false)
		return
	}
	c.attempts = 0
	prev := c.reconnectGen
	gen := c.sched.NewGeneration()
	c.reconnectGen = gen
	c.state = StateReconnecting
	c.backoff = c.opts.Backoff.Initial
	c.mu.Unlock()

	c.sched.CancelGeneration(prev)
	c.logger.Info("mqtt reconnect scheduled", "delay", c.opts.Backoff.Initial, "reason", reason)
	c.sched.After(gen, c.opts.Backoff.Initial, func() { c.reconnectAttempt(gen) })
}

// reconnectAttempt runs one backoff attempt on the executor and schedules
// the next one on failure. A cancelled generation makes it a no-op.
func (c *Client) reconnectAttempt(gen schedule.Generation) {
	c.enqueue(func() {
		if !c.sched.Alive(gen) {
			return
		}

		c.mu.Lock()
		if c.manual || c.closed || c.state == StateConnected || c.reconnectGen != gen {
			c.mu.Unlock()
			return
		}
		c.attempts++
		n := c.attempts
		c.mu.Unlock()

		c.observer.ReconnectAttempt()
		err := c.connectOnce(false)
		if err == nil {
			return
		}

		delay := c.opts.Backoff.Delay(n)
		c.mu.Lock()
		if c.reconnectGen == gen && !c.manual {
			c.backoff = delay
			c.state = StateReconnecting
		}
		c.mu.Unlock()

		c.logger.Warn("mqtt reconnect attempt failed", "attempt", n, "next_in", delay, "error", err)
		c.sched.After(gen, delay, func() { c.reconnectAttempt(gen) })
	})
}

// ForceReconnect tears down the current connection, clears a manual
// disconnect and any backoff, connects after a short delay and verifies the
// result once. It is a no-op while a reconnect is already in progress.
func (c *Client) ForceReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		c.logger.Debug("mqtt reconnect already in progress")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.reconnecting.Store(false)
		return
	}
	old := c.session
	c.session = nil
	wasConnected := c.state == StateConnected
	c.manual = false
	c.attempts = 0
	c.backoff = 0
	prev := c.reconnectGen
	gen := c.sched.NewGeneration()
	c.reconnectGen = gen
	c.state = StateReconnecting
	c.lastAttempt = c.sched.Now()
	surface := false
	if wasConnected {
		surface = c.markDroppedLocked(ErrForcedReconnect)
	}
	c.ensureHealthLocked()
	c.mu.Unlock()

	c.sched.CancelGeneration(prev)
	c.logger.Info("mqtt forcing reconnect", "was_connected", wasConnected)
	if surface {
		c.dispatch(Event{Kind: EventConnectionFailed, Err: ErrForcedReconnect})
	}
	if old != nil {
		// Events from the old session are stale from here on.
		c.enqueue(old.Disconnect)
	}

	c.sched.After(gen, c.opts.ForceDelay, func() {
		c.enqueue(func() {
			if !c.sched.Alive(gen) {
				return
			}
			if err := c.connectOnce(true); err == nil {
				return
			}
			c.sched.After(gen, c.opts.VerifyDelay, func() { c.verifyForced(gen) })
		})
	})
}

// verifyForced retries the forced connect once and releases the reconnecting flag.
func (c *Client) verifyForced(gen schedule.Generation) {
	c.enqueue(func() {
		if !c.sched.Alive(gen) {
			return
		}
		if !c.IsConnected() {
			if err := c.connectOnce(false); err != nil {
				c.logger.Warn("mqtt forced reconnect failed", "error", err)
			}
		}

		c.mu.Lock()
		current := c.reconnectGen == gen
		if current {
			c.reconnectGen = 0
			if c.state == StateReconnecting {
				c.state = StateDisconnected
			}
		}
		c.mu.Unlock()

		if current {
			c.sched.CancelGeneration(gen)
			c.reconnecting.Store(false)
		}
	})
}

// CheckConnectionAndReconnect probes a live connection, or forces a
// reconnect when disconnected. It does nothing while a reconnect is running
// or after a manual disconnect.
func (c *Client) CheckConnectionAndReconnect() {
	if c.reconnecting.Load() {
		return
	}

	c.mu.Lock()
	manual := c.manual
	connected := c.state == StateConnected
	c.mu.Unlock()

	switch {
	case connected:
		c.enqueue(func() {
			if err := c.publishProbe(true); err != nil {
				c.logger.Warn("mqtt connection check failed", "error", err)
			}
		})
	case !manual:
		c.ForceReconnect()
	}
}

// ensureHealthLocked starts the health task if it is not running.
func (c *Client) ensureHealthLocked() {
	if c.healthGen != 0 && c.sched.Alive(c.healthGen) {
		return
	}
	c.healthGen = c.sched.NewGeneration()
	c.sched.Every(c.healthGen, c.opts.HealthInterval, c.healthTick)
}

// healthTick forces a fresh cycle when nothing has happened on the
// connection for StaleAttemptAfter, whatever the state says; a gap that long
// means the timers did not fire, usually because the host was suspended.
// Otherwise it probes a live connection or restarts a dead backoff loop.
func (c *Client) healthTick() {
	c.mu.Lock()
	if c.manual || c.closed {
		c.mu.Unlock()
		return
	}
	connected := c.state == StateConnected
	last := c.lastAttempt
	if c.lastVerified.After(last) {
		last = c.lastVerified
	}
	sinceActivity := c.sched.Now().Sub(last)
	c.mu.Unlock()

	switch {
	case sinceActivity > c.opts.StaleAttemptAfter:
		c.logger.Warn("mqtt connection stalled, forcing a fresh cycle",
			"since_last_activity", sinceActivity, "connected", connected)
		c.reconnecting.Store(false)
		c.ForceReconnect()
	case connected:
		c.enqueue(func() {
			if err := c.publishProbe(false); err != nil {
				c.logger.Debug("mqtt health probe failed", "error", err)
				return
			}
			c.mu.Lock()
			c.lastVerified = c.sched.Now()
			c.mu.Unlock()
		})
	case !c.reconnecting.Load():
		c.startReconnect(ErrReconnectStalled)
	}
}

// publishProbe sends the liveness message on the current session. Executor only.
func (c *Client) publishProbe(check bool) error {
	probe := c.opts.Probe
	if probe == nil {
		probe = c.defaultProbe
	}
	topic, payload := probe(check)
	return c.publishNow(topic, payload, 0, false)
}
