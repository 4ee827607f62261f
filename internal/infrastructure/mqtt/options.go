package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/config"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/packet"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/schedule"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/session"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/transport"
)

// Connection constants.
const (
	// defaultHealthInterval is how often the health task runs.
	defaultHealthInterval = 30 * time.Second

	// defaultStaleAttemptAfter forces a fresh cycle when no attempt happened for this long.
	defaultStaleAttemptAfter = 120 * time.Second

	// defaultDampingWindow is how long a drop must persist before it is reported.
	defaultDampingWindow = 10 * time.Second

	// defaultForceDelay is the pause between teardown and connect in ForceReconnect.
	defaultForceDelay = 1 * time.Second

	// defaultVerifyDelay is when ForceReconnect checks its connect and retries once.
	defaultVerifyDelay = 3 * time.Second

	// defaultRetryConnectDelay is the connect delay after an operation hit ErrNotConnected.
	defaultRetryConnectDelay = 3 * time.Second

	// defaultRetryDelay is when the failed operation is retried after that connect.
	defaultRetryDelay = 1 * time.Second

	// defaultCloseTimeout bounds how long Close waits for queued work.
	defaultCloseTimeout = 5 * time.Second

	// maxPayloadSize prevents resource exhaustion and aligns with typical broker limits.
	maxPayloadSize = 1 << 20 // 1MB

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// queueSize is the buffer of the executor channel.
	queueSize = 256
)

// Status describes the retained presence messages published after every
// successful connect and before an orderly disconnect.
type Status struct {
	Topic   string
	QoS     byte
	Retain  bool
	Online  func() []byte
	Offline func() []byte
}

// Probe builds the liveness message published by the health task.
// check is true when the probe comes from CheckConnectionAndReconnect.
type Probe func(check bool) (topic string, payload []byte)

// Observer receives client counters in addition to the per-packet ones.
type Observer interface {
	session.Observer
	ReconnectAttempt()
}

// Logger is the logging surface used by the client.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Client. Build it with FromConfig or fill it directly.
type Options struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	// Credentials, if set, is called before every connection attempt and
	// replaces Username and Password for that attempt.
	Credentials func() (username, password string, err error)

	KeepAlive      time.Duration
	CleanSession   bool
	Will           *packet.Will
	ConnAckTimeout time.Duration

	Monitor   session.MonitorConfig
	Transport transport.Config
	Factory   transport.Factory

	Backoff           Backoff
	HealthInterval    time.Duration
	StaleAttemptAfter time.Duration

	// DampingWindow is how long a drop must last before OnConnectionFailed.
	// Zero reports drops immediately.
	DampingWindow time.Duration

	ForceDelay        time.Duration
	VerifyDelay       time.Duration
	RetryConnectDelay time.Duration
	RetryDelay        time.Duration

	MaxPayloadSize int

	Status *Status
	Probe  Probe

	Clock    schedule.Clock
	Logger   Logger
	Observer Observer
}

// DefaultOptions returns options for clientID at host:port with every
// timing at its default.
func DefaultOptions(host string, port int, clientID string) Options {
	return Options{
		Host:           host,
		Port:           port,
		ClientID:       clientID,
		KeepAlive:      30 * time.Second,
		CleanSession:   true,
		ConnAckTimeout: 10 * time.Second,
		DampingWindow:  defaultDampingWindow,
	}
}

func (o Options) withDefaults() Options {
	if o.Backoff == (Backoff{}) {
		o.Backoff = DefaultBackoff()
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = defaultHealthInterval
	}
	if o.StaleAttemptAfter <= 0 {
		o.StaleAttemptAfter = defaultStaleAttemptAfter
	}
	if o.ForceDelay <= 0 {
		o.ForceDelay = defaultForceDelay
	}
	if o.VerifyDelay <= 0 {
		o.VerifyDelay = defaultVerifyDelay
	}
	if o.RetryConnectDelay <= 0 {
		o.RetryConnectDelay = defaultRetryConnectDelay
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.MaxPayloadSize <= 0 {
		o.MaxPayloadSize = maxPayloadSize
	}
	if o.Factory == nil {
		o.Factory = &transport.TCP{}
	}
	return o
}

func (o Options) validate() error {
	switch {
	case o.ClientID == "":
		return fmt.Errorf("%w: client id is required", ErrInvalidConfig)
	case o.Host == "":
		return fmt.Errorf("%w: broker host is required", ErrInvalidConfig)
	case o.Port < 1 || o.Port > 65535:
		return fmt.Errorf("%w: broker port %d out of range", ErrInvalidConfig, o.Port)
	case o.KeepAlive < 0 || o.KeepAlive > 65535*time.Second:
		return fmt.Errorf("%w: keepalive %v out of range", ErrInvalidConfig, o.KeepAlive)
	case o.Will != nil && o.Will.QoS > maxQoS:
		return fmt.Errorf("%w: will %w", ErrInvalidConfig, ErrInvalidQoS)
	case o.Will != nil && o.Will.Topic == "":
		return fmt.Errorf("%w: will topic is required", ErrInvalidConfig)
	case o.Status != nil && o.Status.Topic == "":
		return fmt.Errorf("%w: status topic is required", ErrInvalidConfig)
	case o.Backoff.Multiplier < 1 || o.Backoff.Initial <= 0 || o.Backoff.Max < o.Backoff.Initial:
		return fmt.Errorf("%w: backoff %+v", ErrInvalidConfig, o.Backoff)
	}
	return nil
}

// FromConfig builds client options, including the transport factory, from
// the mqtt section of the configuration.
func FromConfig(cfg config.MQTTConfig) (Options, error) {
	factory, err := transport.NewFactory(transport.Options{
		Kind:               cfg.Broker.Transport,
		InsecureSkipVerify: cfg.Broker.InsecureSkipVerify,
		CAFile:             cfg.Broker.CAFile,
		ServerName:         cfg.Broker.ServerName,
		WSPath:             cfg.Broker.WSPath,
		ProxyURL:           cfg.Broker.ProxyURL,
		DialTimeout:        cfg.Broker.DialTimeout,
	})
	if err != nil {
		return Options{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	opts := DefaultOptions(cfg.Broker.Host, cfg.Broker.Port, cfg.Broker.ClientID)
	opts.Username = cfg.Auth.Username
	opts.Password = cfg.Auth.Password
	opts.KeepAlive = time.Duration(cfg.Session.KeepAlive) * time.Second
	opts.CleanSession = cfg.Session.CleanSession
	opts.ConnAckTimeout = cfg.Session.ConnAckTimeout
	opts.Factory = factory
	opts.Backoff = Backoff{
		Initial:     cfg.Reconnect.InitialDelay,
		Max:         cfg.Reconnect.MaxDelay,
		Multiplier:  cfg.Reconnect.Multiplier,
		MaxExponent: cfg.Reconnect.MaxExponent,
	}
	opts.HealthInterval = cfg.Health.Interval
	opts.StaleAttemptAfter = cfg.Health.StaleAfter
	opts.DampingWindow = cfg.Damping.Window

	if cfg.Will.Enabled {
		payload := []byte(cfg.Will.Payload)
		if len(payload) == 0 {
			payload = buildOfflinePayload(cfg.Broker.ClientID)
		}
		opts.Will = &packet.Will{
			Topic:   cfg.Will.Topic,
			Payload: payload,
			QoS:     byte(cfg.Will.QoS), //nolint:gosec // validated by config
			Retain:  cfg.Will.Retain,
		}
	}

	return opts, nil
}

// buildOfflinePayload creates the will payload used when none is configured.
// Same shape as the orderly offline status, without the timestamp.
func buildOfflinePayload(clientID string) []byte {
	b, _ := json.Marshal(struct { //nolint:errcheck // static shape
		Status string `json:"status"`
		Client string `json:"client"`
	}{"offline", clientID})
	return b
}
