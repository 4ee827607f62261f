package lighting

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt"
)

// DefaultHeartbeatInterval is used when no interval is configured.
const DefaultHeartbeatInterval = 15 * time.Second

// Heartbeat publishes the client id on the heartbeat topic at a fixed
// interval while the client is connected.
type Heartbeat struct {
	client   Client
	interval time.Duration
	clock    clock.WithTicker
	logger   Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHeartbeat returns a stopped Heartbeat. Call Start to begin.
func NewHeartbeat(client Client, interval time.Duration, clk clock.WithTicker, logger Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Heartbeat{
		client:   client,
		interval: interval,
		clock:    clk,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins beating until ctx is cancelled or Stop is called.
func (h *Heartbeat) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.loop(ctx)
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
	})
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer h.wg.Done()

	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C():
			h.beat()
		}
	}
}

func (h *Heartbeat) beat() {
	if !h.client.IsConnected() {
		return
	}
	// Not retried: the next beat supersedes a lost one.
	if err := h.client.Publish(mqtt.TopicHeartbeat, []byte(h.client.ClientID()), 0, false); err != nil {
		h.logger.Debug("heartbeat publish failed", "error", err)
	}
}
