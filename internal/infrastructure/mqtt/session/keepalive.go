package session

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/schedule"
)

// Keepalive defaults. The ping period is deliberately independent of the
// keepalive interval negotiated in CONNECT.
const (
	DefaultPingInterval     = 15 * time.Second
	DefaultMaxMissedPings   = 3
	DefaultWatchdogInterval = 30 * time.Second
	DefaultStaleAfter       = 60 * time.Second
)

// MonitorConfig tunes the keepalive monitor. Zero fields take the defaults.
type MonitorConfig struct {
	PingInterval     time.Duration
	MaxMissedPings   int
	WatchdogInterval time.Duration
	StaleAfter       time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxMissedPings <= 0 {
		c.MaxMissedPings = DefaultMaxMissedPings
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	return c
}

// Liveness is a snapshot of the monitor state.
type Liveness struct {
	LastResponse time.Time
	MissedPings  int
}

// KeepAlive runs the ping ticker and the staleness watchdog for one session.
//
// Any inbound packet counts as a sign of life, not only PINGRESP.
type KeepAlive struct {
	cfg   MonitorConfig
	clock clock.PassiveClock

	sendPing        func() error
	transportClosed func() bool
	lost            func(error)

	mu           sync.Mutex
	lastResponse time.Time
	missed       int
}

// NewKeepAlive builds a monitor. lost is called at most once per failed check
// and must tolerate repeated calls; the session ignores all but the first.
func NewKeepAlive(cfg MonitorConfig, c clock.PassiveClock, sendPing func() error, transportClosed func() bool, lost func(error)) *KeepAlive {
	return &KeepAlive{
		cfg:             cfg.withDefaults(),
		clock:           c,
		sendPing:        sendPing,
		transportClosed: transportClosed,
		lost:            lost,
		lastResponse:    c.Now(),
	}
}

// Start registers both periodic checks under gen.
func (k *KeepAlive) Start(s *schedule.Scheduler, gen schedule.Generation) {
	s.Every(gen, k.cfg.PingInterval, k.PingTick)
	s.Every(gen, k.cfg.WatchdogInterval, k.WatchdogTick)
}

// Touch records inbound traffic.
func (k *KeepAlive) Touch() {
	k.mu.Lock()
	k.lastResponse = k.clock.Now()
	k.missed = 0
	k.mu.Unlock()
}

// PingTick sends a PINGREQ and declares the connection lost once more than
// MaxMissedPings have gone unanswered.
func (k *KeepAlive) PingTick() {
	if err := k.sendPing(); err != nil {
		// A failed write closes the transport; the read loop reports the loss.
		return
	}

	k.mu.Lock()
	k.missed++
	missed := k.missed
	k.mu.Unlock()

	if missed > k.cfg.MaxMissedPings {
		k.lost(fmt.Errorf("%w: %d consecutive", ErrPingTimeout, missed))
	}
}

// WatchdogTick checks for a silently closed transport or a stale link.
func (k *KeepAlive) WatchdogTick() {
	if k.transportClosed() {
		k.lost(ErrTransportClosed)
		return
	}

	k.mu.Lock()
	idle := k.clock.Since(k.lastResponse)
	k.mu.Unlock()

	if idle > k.cfg.StaleAfter {
		k.lost(fmt.Errorf("%w for %s", ErrStale, idle.Truncate(time.Second)))
	}
}

// Snapshot returns the current liveness state.
func (k *KeepAlive) Snapshot() Liveness {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Liveness{LastResponse: k.lastResponse, MissedPings: k.missed}
}
