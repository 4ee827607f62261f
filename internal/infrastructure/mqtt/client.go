package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/packet"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/schedule"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/session"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/transport"
)

// Client owns at most one live session and keeps it connected.
//
// Connect, Disconnect, Publish and Subscribe never block on the network: the
// work runs on a single executor goroutine, in submission order. Callbacks
// are delivered to the Handler by a single dispatcher goroutine.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	opts     Options
	handler  Handler
	sched    *schedule.Scheduler
	logger   Logger
	observer Observer

	ctx       context.Context
	cancel    context.CancelFunc
	ops       chan func()
	events    *eventQueue
	wg        sync.WaitGroup
	closeOnce sync.Once

	// reconnecting is set while a backoff loop or forced reconnect owns
	// the connection. Only the CAS winner may start one.
	reconnecting atomic.Bool

	mu           sync.Mutex
	state        ConnectionState
	session      *session.Session
	manual       bool
	closed       bool
	attempts     int
	lastAttempt  time.Time
	lastVerified time.Time // last health probe sent on a live session
	backoff      time.Duration
	subs         map[string]byte

	reconnectGen schedule.Generation
	healthGen    schedule.Generation
	retryGen     schedule.Generation

	// Damped reporting: reported is what the handler last saw.
	reported    bool
	pendingGen  schedule.Generation
	pendingErr  error
	pendingFrom time.Time

	totalAttempts atomic.Uint64
	connects      atomic.Uint64
	messagesIn    atomic.Uint64
	messagesOut   atomic.Uint64
}

// Stats is a point-in-time view of the client.
type Stats struct {
	State          ConnectionState
	Reconnecting   bool
	Attempts       int
	TotalAttempts  uint64
	Connects       uint64
	LastAttempt    time.Time
	LastVerified   time.Time
	CurrentBackoff time.Duration
	MessagesIn     uint64
	MessagesOut    uint64
	Subscriptions  int
	Liveness       session.Liveness
	Transport      transport.Stats
}

// New validates opts and starts the executor and dispatcher. It does not
// connect; call Connect.
func New(opts Options, handler Handler) (*Client, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:     opts,
		handler:  handler,
		sched:    schedule.New(opts.Clock),
		logger:   opts.Logger,
		observer: opts.Observer,
		ctx:      ctx,
		cancel:   cancel,
		ops:      make(chan func(), queueSize),
		events:   newEventQueue(),
		subs:     make(map[string]byte),
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	c.retryGen = c.sched.NewGeneration()

	c.wg.Add(2) //nolint:mnd // executor and dispatcher
	go c.runExecutor()
	go c.runDispatcher()

	return c, nil
}

// Connect starts connecting in the background and returns immediately.
// It clears a previous manual disconnect and (re)starts the health task.
// A failure of this attempt is reported through OnConnectionFailed when the
// handler currently believes the client is disconnected.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.manual = false
	if c.state == StateManuallyDisconnected {
		c.state = StateDisconnected
	}
	c.ensureHealthLocked()
	c.mu.Unlock()

	c.enqueue(func() {
		if err := c.connectOnce(true); err != nil {
			c.logger.Warn("mqtt connect failed", "broker", c.brokerAddr(), "error", err)
			c.startReconnect(err)
		}
	})
}

// Disconnect stops every background task, publishes the offline status if
// configured, sends DISCONNECT and closes the connection. No automatic
// reconnect follows and no callback is delivered.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.manual = true
	c.state = StateManuallyDisconnected
	s := c.session
	c.session = nil
	dead := []schedule.Generation{c.reconnectGen, c.healthGen, c.retryGen, c.pendingGen}
	c.reconnectGen, c.healthGen, c.pendingGen = 0, 0, 0
	c.retryGen = c.sched.NewGeneration()
	c.reported = false
	c.pendingErr = nil
	c.mu.Unlock()

	c.reconnecting.Store(false)
	for _, g := range dead {
		c.sched.CancelGeneration(g)
	}

	if s == nil {
		return
	}
	if !s.IsConnected() {
		// Aborts an attempt still dialing or waiting for CONNACK.
		s.Disconnect()
		return
	}
	c.enqueue(func() {
		c.publishStatus(s, false)
		s.Disconnect()
		c.logger.Info("mqtt disconnected", "client_id", c.opts.ClientID)
	})
}

// Close disconnects, waits briefly for queued work and releases every
// goroutine and timer. The client cannot be reused.
func (c *Client) Close() error {
	c.Disconnect()
	c.flush(defaultCloseTimeout)

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		c.wg.Wait()
		c.sched.Close()
	})
	return nil
}

// HealthCheck verifies the client currently holds a live connection.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the client is in StateConnected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns counters and the liveness of the current session.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	st := Stats{
		State:          c.state,
		Attempts:       c.attempts,
		LastAttempt:    c.lastAttempt,
		LastVerified:   c.lastVerified,
		CurrentBackoff: c.backoff,
		Subscriptions:  len(c.subs),
	}
	s := c.session
	c.mu.Unlock()

	st.Reconnecting = c.reconnecting.Load()
	st.TotalAttempts = c.totalAttempts.Load()
	st.Connects = c.connects.Load()
	st.MessagesIn = c.messagesIn.Load()
	st.MessagesOut = c.messagesOut.Load()
	if s != nil {
		st.Liveness = s.Liveness()
		st.Transport = s.TransportStats()
	}
	return st
}

// ClientID returns the configured client identifier.
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

// Now returns the time on the client's clock.
func (c *Client) Now() time.Time {
	return c.sched.Now()
}

func (c *Client) brokerAddr() string {
	return fmt.Sprintf("%s:%d", c.opts.Host, c.opts.Port)
}

// connectOnce runs one connection attempt. It must only run on the executor,
// which is what keeps attempts from overlapping.
func (c *Client) connectOnce(explicit bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.manual {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateReconnecting {
		c.state = StateConnecting
	}
	c.lastAttempt = c.sched.Now()
	c.mu.Unlock()
	c.totalAttempts.Add(1)

	cfg, err := c.sessionConfig()
	if err != nil {
		c.attemptFailed(nil, explicit, err)
		return err
	}

	s := session.New(cfg, session.Deps{
		Factory:   c.opts.Factory,
		Scheduler: c.sched,
		Sink:      session.SinkFunc(c.onSessionEvent),
		Logger:    c.logger,
		Observer:  c.observer,
	})

	c.mu.Lock()
	if c.manual || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.session = s
	c.mu.Unlock()

	c.logger.Debug("mqtt connecting", "broker", c.brokerAddr(), "client_id", c.opts.ClientID, "generation", s.Generation())

	if err := s.Connect(c.ctx); err != nil {
		c.attemptFailed(s, explicit, err)
		return fmt.Errorf("connecting to %s: %w", c.brokerAddr(), err)
	}

	c.restoreSubscriptions(s)
	c.publishStatus(s, true)
	return nil
}

func (c *Client) sessionConfig() (session.Config, error) {
	username, password := c.opts.Username, c.opts.Password
	if c.opts.Credentials != nil {
		var err error
		username, password, err = c.opts.Credentials()
		if err != nil {
			return session.Config{}, fmt.Errorf("building credentials: %w", err)
		}
	}
	return session.Config{
		Host:           c.opts.Host,
		Port:           c.opts.Port,
		ClientID:       c.opts.ClientID,
		Username:       username,
		Password:       password,
		KeepAlive:      c.opts.KeepAlive,
		CleanSession:   c.opts.CleanSession,
		Will:           c.opts.Will,
		ConnAckTimeout: c.opts.ConnAckTimeout,
		Monitor:        c.opts.Monitor,
		Transport:      c.opts.Transport,
	}, nil
}

// attemptFailed records a failed attempt. Only explicit attempts made while
// the handler believes the client is disconnected surface a callback.
func (c *Client) attemptFailed(s *session.Session, explicit bool, err error) {
	c.mu.Lock()
	if s != nil && c.session == s {
		c.session = nil
	}
	if c.state == StateConnecting {
		c.state = StateDisconnected
	}
	surface := explicit && !c.reported && !c.manual
	c.mu.Unlock()

	if surface {
		c.dispatch(Event{Kind: EventConnectionFailed, Err: err})
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after connect.
func (c *Client) restoreSubscriptions(s *session.Session) {
	c.mu.Lock()
	subs := make(map[string]byte, len(c.subs))
	for topic, qos := range c.subs {
		subs[topic] = qos
	}
	c.mu.Unlock()

	for topic, qos := range subs {
		if err := s.Subscribe(topic, qos); err != nil {
			c.logger.Warn("restoring subscription failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) publishStatus(s *session.Session, online bool) {
	st := c.opts.Status
	if st == nil {
		return
	}
	build := st.Offline
	if online {
		build = st.Online
	}
	if build == nil {
		return
	}
	if err := s.Publish(st.Topic, build(), st.QoS, st.Retain); err != nil {
		c.logger.Warn("publishing status failed", "online", online, "error", err)
		return
	}
	c.messagesOut.Add(1)
}

// onSessionEvent is the sink of every session. Events from a session that
// is no longer current are dropped.
func (c *Client) onSessionEvent(e session.Event) {
	c.mu.Lock()
	if c.session == nil || c.session.Generation() != e.Generation {
		c.mu.Unlock()
		c.logger.Debug("ignoring stale session event", "event", e.Kind.String(), "generation", e.Generation)
		return
	}

	switch e.Kind {
	case session.EventConnected:
		c.state = StateConnected
		c.attempts = 0
		c.backoff = 0
		reconnectGen, pendingGen := c.reconnectGen, c.pendingGen
		c.reconnectGen, c.pendingGen = 0, 0
		c.pendingErr = nil
		c.reported = true
		c.mu.Unlock()

		c.reconnecting.Store(false)
		c.sched.CancelGeneration(reconnectGen)
		c.sched.CancelGeneration(pendingGen)
		c.connects.Add(1)
		c.logger.Info("mqtt connected", "broker", c.brokerAddr(), "client_id", c.opts.ClientID)
		c.dispatch(Event{Kind: EventConnected})

	case session.EventMessage:
		c.mu.Unlock()
		c.messagesIn.Add(1)
		c.dispatch(Event{
			Kind:     EventMessage,
			Topic:    e.Topic,
			Payload:  e.Payload,
			QoS:      e.QoS,
			Retained: e.Retained,
		})

	case session.EventConnectionLost:
		c.session = nil
		c.state = StateDisconnected
		manual := c.manual
		surface := c.markDroppedLocked(e.Err)
		c.mu.Unlock()

		if surface {
			c.dispatch(Event{Kind: EventConnectionFailed, Err: e.Err})
		}
		if !manual {
			c.startReconnect(e.Err)
		}

	case session.EventDisconnected:
		c.session = nil
		if c.state == StateConnected {
			c.state = StateDisconnected
		}
		c.mu.Unlock()

	default:
		c.mu.Unlock()
	}
}

// markDroppedLocked starts the damping window for a drop of a reported
// connection. It returns true when the drop must be reported right away.
func (c *Client) markDroppedLocked(reason error) bool {
	if !c.reported || c.pendingGen != 0 {
		return false
	}
	if c.opts.DampingWindow <= 0 {
		c.reported = false
		return true
	}

	g := c.sched.NewGeneration()
	c.pendingGen = g
	c.pendingErr = reason
	c.pendingFrom = c.sched.Now()
	c.sched.After(g, c.opts.DampingWindow, func() { c.dampingExpired(g) })
	return false
}

// dampingExpired reports a drop that outlived the damping window.
func (c *Client) dampingExpired(g schedule.Generation) {
	c.mu.Lock()
	if c.pendingGen != g {
		c.mu.Unlock()
		return
	}
	c.pendingGen = 0
	if c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	reason := c.pendingErr
	since := c.pendingFrom
	c.pendingErr = nil
	c.reported = false
	c.mu.Unlock()

	c.sched.CancelGeneration(g)
	c.logger.Warn("mqtt connection down", "since", since, "reason", reason)
	c.dispatch(Event{Kind: EventConnectionFailed, Err: reason})
}

func (c *Client) currentSession() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// enqueue hands op to the executor. It returns false once the client is closed.
func (c *Client) enqueue(op func()) bool {
	select {
	case c.ops <- op:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// flush waits until every op queued before it has run, or d elapses.
func (c *Client) flush(d time.Duration) {
	done := make(chan struct{})
	if !c.enqueue(func() { close(done) }) {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		c.logger.Warn("timed out waiting for queued mqtt operations", "timeout", d)
	}
}

func (c *Client) runExecutor() {
	defer c.wg.Done()
	for {
		select {
		case op := <-c.ops:
			c.safely("executor", op)
		case <-c.ctx.Done():
			return
		}
	}
}

// safely runs fn and logs a panic instead of crashing the goroutine.
func (c *Client) safely(where string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("mqtt panic recovered", "in", where, "panic", r)
		}
	}()
	fn()
}

// defaultProbe is {"client":id,"timestamp":ms} with "action":"check" for explicit checks.
func (c *Client) defaultProbe(check bool) (string, []byte) {
	msg := struct {
		Client    string `json:"client"`
		Timestamp int64  `json:"timestamp"`
		Action    string `json:"action,omitempty"`
	}{Client: c.opts.ClientID, Timestamp: c.sched.Now().UnixMilli()}
	if check {
		msg.Action = "check"
	}
	b, _ := json.Marshal(msg) //nolint:errcheck // static shape
	return TopicPing, b
}

type nopObserver struct{}

func (nopObserver) PacketSent(packet.Type)     {}
func (nopObserver) PacketReceived(packet.Type) {}
func (nopObserver) DecodeError()               {}
func (nopObserver) ReconnectAttempt()          {}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
