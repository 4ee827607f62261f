package lighting

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt"
)

// Client is the subset of the MQTT client the controller uses.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte) error
	IsConnected() bool
	ClientID() string
}

// Recorder is notified of every publish and subscribe the controller makes.
type Recorder interface {
	Published(topic string, payload []byte, qos byte, retained bool)
	Subscribed(topic string, qos byte)
}

// Logger is the logging surface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config configures a Controller. Zero values use the defaults.
type Config struct {
	// QoS is used for subscriptions and the mode query. Default 1.
	QoS *byte

	// Topics are subscribed on every connect. Default: the device topics.
	Topics []string

	Clock    clock.PassiveClock
	Logger   Logger
	Recorder Recorder
}

// maxTimeLength bounds the stored device time string.
const maxTimeLength = 64

// Controller keeps the node snapshot current and sends light commands.
// It implements mqtt.Handler. Safe for concurrent use.
type Controller struct {
	client   Client
	qos      byte
	topics   []string
	clock    clock.PassiveClock
	logger   Logger
	recorder Recorder
	newID    func() string

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewController returns a Controller driving client.
func NewController(client Client, cfg Config) *Controller {
	c := &Controller{
		client:   client,
		qos:      1,
		topics:   cfg.Topics,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
		newID:    uuid.NewString,
		snapshot: Snapshot{Levels: make(map[Channel]int)},
	}
	if cfg.QoS != nil {
		c.qos = *cfg.QoS
	}
	if len(c.topics) == 0 {
		c.topics = mqtt.Topics{}.DeviceSubscriptions()
	}
	if c.clock == nil {
		c.clock = clock.RealClock{}
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	return c
}

// OnConnected subscribes the device topics, requests fresh data and queries
// the mode.
func (c *Controller) OnConnected() {
	c.mu.Lock()
	c.snapshot.Connected = true
	c.mu.Unlock()

	for _, topic := range c.topics {
		if err := c.client.Subscribe(topic, c.qos); err != nil {
			c.logger.Warn("subscribe failed", "topic", topic, "error", err)
			continue
		}
		if c.recorder != nil {
			c.recorder.Subscribed(topic, c.qos)
		}
	}

	if _, err := c.RequestData(); err != nil {
		c.logger.Warn("data request failed", "error", err)
	}
	if err := c.QueryMode(); err != nil {
		c.logger.Warn("mode query failed", "error", err)
	}
}

// OnConnectionFailed marks the snapshot disconnected.
func (c *Controller) OnConnectionFailed(reason error) {
	c.mu.Lock()
	c.snapshot.Connected = false
	c.mu.Unlock()
	c.logger.Info("lighting node unreachable", "reason", reason)
}

// OnMessageReceived folds a device message into the snapshot. Malformed
// payloads are logged and ignored.
func (c *Controller) OnMessageReceived(topic string, payload []byte) {
	if topic == mqtt.TopicTime {
		c.mu.Lock()
		c.snapshot.Time = truncateString(strings.TrimSpace(string(payload)), maxTimeLength)
		c.snapshot.UpdatedAt = c.clock.Now()
		c.mu.Unlock()
		return
	}

	var apply func(*Snapshot, fields) bool
	switch topic {
	case mqtt.TopicAlarm:
		apply = (*Snapshot).applyAlarm
	case mqtt.TopicSensorData:
		apply = (*Snapshot).applySensorData
	case mqtt.TopicControl:
		apply = (*Snapshot).applyControl
	default:
		c.logger.Debug("unhandled topic", "topic", topic)
		return
	}

	f, err := decodeFields(payload)
	if err != nil {
		c.logger.Warn("ignoring malformed message", "topic", topic, "error", err)
		return
	}

	c.mu.Lock()
	if apply(&c.snapshot, f) {
		c.snapshot.UpdatedAt = c.clock.Now()
	}
	c.mu.Unlock()
}

// SetLevel publishes a level command for one channel: {"<key>":level} on
// the control topic at QoS 0. The snapshot is updated once the publish is
// accepted.
func (c *Controller) SetLevel(ch Channel, level int) error {
	key := ch.Key()
	if key == "" {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
	if err := ValidateLevel(level); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]int{key: level})
	if err != nil {
		return fmt.Errorf("encoding level command: %w", err)
	}
	if err := c.publish(mqtt.TopicControl, payload, 0, false); err != nil {
		return err
	}

	c.mu.Lock()
	c.snapshot.Levels[ch] = level
	c.snapshot.UpdatedAt = c.clock.Now()
	c.mu.Unlock()
	return nil
}

// RequestData asks the node to report its readings now. It returns the
// request id carried in the payload.
func (c *Controller) RequestData() (string, error) {
	id := c.newID()
	payload, err := json.Marshal(struct {
		Action    string `json:"action"`
		RequestID string `json:"request_id"`
	}{"getData", id})
	if err != nil {
		return "", fmt.Errorf("encoding data request: %w", err)
	}
	return id, c.publish(mqtt.TopicRequest, payload, 0, false)
}

// QueryMode asks the node to announce its mode on the control topic.
func (c *Controller) QueryMode() error {
	return c.publish(mqtt.TopicControl, []byte(`{"command":"getMode"}`), c.qos, false)
}

// Snapshot returns a copy of the current node state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.clone()
}

func (c *Controller) publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := c.client.Publish(topic, payload, qos, retained); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	if c.recorder != nil {
		c.recorder.Published(topic, payload, qos, retained)
	}
	return nil
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
