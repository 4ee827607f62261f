package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/packet"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/schedule"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/transport"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config describes one connection attempt.
type Config struct {
	Host         string
	Port         int
	ClientID     string
	Username     string
	Password     string
	KeepAlive    time.Duration
	CleanSession bool
	Will         *packet.Will

	// ConnAckTimeout bounds the wait for CONNACK. Zero declares the session
	// connected as soon as CONNECT is written, without waiting for the broker.
	ConnAckTimeout time.Duration

	Monitor   MonitorConfig
	Transport transport.Config
}

// Deps are the collaborators a Session needs. Factory, Scheduler and Sink are required.
type Deps struct {
	Factory   transport.Factory
	Scheduler *schedule.Scheduler
	Sink      Sink
	Logger    Logger
	Observer  Observer
}

// Session is one connection attempt and, if it succeeds, one live connection.
//
// Thread Safety: all methods are safe for concurrent use.
type Session struct {
	cfg      Config
	factory  transport.Factory
	sched    *schedule.Scheduler
	sink     Sink
	logger   Logger
	observer Observer
	gen      schedule.Generation

	mu      sync.Mutex
	state   State
	conn    *transport.Conn
	monitor *KeepAlive

	// Inbound PUBLISHes are held from Connect until EventConnected has been
	// emitted, so messages a broker sends right after CONNACK are kept and
	// delivered in order.
	holding bool
	held    []*packet.Publish

	connack chan *packet.ConnAck
}

// maxHeldPublishes bounds the messages kept between CONNACK and EventConnected.
const maxHeldPublishes = 64

// New creates an Idle session with a fresh scheduler generation.
func New(cfg Config, deps Deps) *Session {
	s := &Session{
		cfg:      cfg,
		factory:  deps.Factory,
		sched:    deps.Scheduler,
		sink:     deps.Sink,
		logger:   deps.Logger,
		observer: deps.Observer,
		connack:  make(chan *packet.ConnAck, 1),
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.observer == nil {
		s.observer = noopObserver{}
	}
	s.gen = s.sched.NewGeneration()
	return s
}

// Generation returns the scheduler generation that tags this session's timers.
func (s *Session) Generation() schedule.Generation {
	return s.gen
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session is in the Connected state.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Liveness returns the keepalive snapshot, or the zero value before Connected.
func (s *Session) Liveness() Liveness {
	s.mu.Lock()
	m := s.monitor
	s.mu.Unlock()
	if m == nil {
		return Liveness{}
	}
	return m.Snapshot()
}

// TransportStats returns the underlying connection counters.
func (s *Session) TransportStats() transport.Stats {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return transport.Stats{}
	}
	return c.Stats()
}

// Connect dials the broker, sends CONNECT and, if configured, waits for
// CONNACK. It blocks until the session is Connected or has failed.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	s.state = StateConnecting
	s.holding = true
	s.mu.Unlock()

	raw, err := s.factory.Dial(ctx, s.cfg.Host, s.cfg.Port)
	if err != nil {
		s.shutdown(err, false)
		return err
	}

	conn := transport.New(raw, s.cfg.Transport)
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.mu.Unlock()

	// The reader runs from the start so a CONNACK can be observed.
	conn.Start(s)

	if err := s.write(conn, s.connectPacket()); err != nil {
		s.shutdown(err, false)
		return fmt.Errorf("sending CONNECT: %w", err)
	}

	if s.cfg.ConnAckTimeout > 0 {
		if err := s.awaitConnAck(ctx, conn); err != nil {
			s.shutdown(err, false)
			return err
		}
	}

	return s.enterConnected(conn)
}

func (s *Session) connectPacket() *packet.Connect {
	return &packet.Connect{
		ClientID:     s.cfg.ClientID,
		Username:     s.cfg.Username,
		Password:     s.cfg.Password,
		KeepAlive:    uint16(s.cfg.KeepAlive / time.Second), //nolint:gosec // validated by config
		CleanSession: s.cfg.CleanSession,
		Will:         s.cfg.Will,
	}
}

func (s *Session) awaitConnAck(ctx context.Context, conn *transport.Conn) error {
	timeout := s.sched.Clock().After(s.cfg.ConnAckTimeout)
	select {
	case ack := <-s.connack:
		if !ack.Accepted() {
			return &RefusedError{Code: ack.ReturnCode}
		}
		return nil
	case <-timeout:
		return ErrConnAckTimeout
	case <-conn.Done():
		return ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) enterConnected(conn *transport.Conn) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateConnected
	s.monitor = NewKeepAlive(s.cfg.Monitor, s.sched.Clock(),
		func() error { return s.write(conn, &packet.PingReq{}) },
		conn.Closed,
		func(err error) { s.shutdown(err, false) },
	)
	s.monitor.Start(s.sched, s.gen)
	s.mu.Unlock()

	s.logger.Info("mqtt session connected", "broker", conn.RemoteAddr(), "client_id", s.cfg.ClientID, "generation", s.gen)
	s.sink.Emit(Event{Kind: EventConnected, Generation: s.gen})
	s.release()
	return nil
}

// hold queues p while the session is still announcing itself. It reports
// whether p was consumed.
func (s *Session) hold(p *packet.Publish) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.holding {
		return false
	}
	switch {
	case s.state != StateConnecting && s.state != StateConnected:
		s.logger.Debug("dropping publish on a closed session", "topic", p.Topic)
	case len(s.held) >= maxHeldPublishes:
		s.logger.Warn("dropping early publish, hold queue full", "topic", p.Topic, "held", len(s.held))
	default:
		s.held = append(s.held, p)
	}
	return true
}

// release emits held messages, then lets the reader emit directly. Messages
// held while release runs are picked up by the next pass.
func (s *Session) release() {
	for {
		s.mu.Lock()
		batch := s.held
		s.held = nil
		if len(batch) == 0 {
			s.holding = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Debug("delivering publishes received before connect completed", "count", len(batch))
		for _, p := range batch {
			s.emitMessage(p)
		}
	}
}

func (s *Session) emitMessage(p *packet.Publish) {
	s.sink.Emit(Event{
		Kind:       EventMessage,
		Generation: s.gen,
		Topic:      p.Topic,
		Payload:    p.Payload,
		QoS:        p.QoS,
		Retained:   p.Retain,
	})
}

// Disconnect sends DISCONNECT (if connected) and tears the session down.
// Only the first caller writes the frame; later calls are no-ops.
func (s *Session) Disconnect() {
	s.shutdown(nil, true)
}

// Publish writes a PUBLISH frame. It fails fast with ErrNotConnected.
func (s *Session) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > 2 { //nolint:mnd // QoS 0-2
		return ErrInvalidQoS
	}
	conn, err := s.liveConn()
	if err != nil {
		return err
	}
	return s.write(conn, &packet.Publish{Topic: topic, Payload: payload, QoS: qos, Retain: retained})
}

// Subscribe writes a SUBSCRIBE frame. It fails fast with ErrNotConnected.
func (s *Session) Subscribe(filter string, qos byte) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if qos > 2 { //nolint:mnd // QoS 0-2
		return ErrInvalidQoS
	}
	conn, err := s.liveConn()
	if err != nil {
		return err
	}
	return s.write(conn, &packet.Subscribe{Filter: filter, QoS: qos})
}

// Unsubscribe writes an UNSUBSCRIBE frame.
func (s *Session) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	conn, err := s.liveConn()
	if err != nil {
		return err
	}
	return s.write(conn, &packet.Unsubscribe{Filter: filter})
}

func (s *Session) liveConn() (*transport.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

func (s *Session) write(conn *transport.Conn, pkt packet.Packet) error {
	if err := conn.WritePacket(pkt); err != nil {
		return err
	}
	s.observer.PacketSent(pkt.Type())
	return nil
}

// shutdown runs the teardown once. orderly sends DISCONNECT first when connected.
func (s *Session) shutdown(cause error, orderly bool) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	wasConnected := s.state == StateConnected
	s.state = StateClosing
	conn := s.conn
	s.mu.Unlock()

	s.sched.CancelGeneration(s.gen)

	if conn != nil {
		if orderly && wasConnected {
			if err := s.write(conn, &packet.Disconnect{}); err != nil {
				s.logger.Debug("writing DISCONNECT failed", "error", err)
			}
		}
		conn.Close()
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	if !wasConnected {
		return
	}
	if orderly {
		s.logger.Info("mqtt session disconnected", "client_id", s.cfg.ClientID, "generation", s.gen)
		s.sink.Emit(Event{Kind: EventDisconnected, Generation: s.gen})
		return
	}
	if cause == nil {
		cause = ErrConnectionLost
	}
	s.logger.Warn("mqtt connection lost", "client_id", s.cfg.ClientID, "generation", s.gen, "error", cause)
	s.sink.Emit(Event{Kind: EventConnectionLost, Generation: s.gen, Err: cause})
}

// HandlePacket implements transport.Handler.
func (s *Session) HandlePacket(pkt packet.Packet) {
	s.observer.PacketReceived(pkt.Type())

	s.mu.Lock()
	m := s.monitor
	state := s.state
	s.mu.Unlock()
	if m != nil {
		m.Touch()
	}

	switch p := pkt.(type) {
	case *packet.ConnAck:
		select {
		case s.connack <- p:
		default:
		}
	case *packet.Publish:
		if s.hold(p) {
			return
		}
		if state != StateConnected {
			s.logger.Debug("dropping publish outside a live session", "topic", p.Topic, "state", state.String())
			return
		}
		s.emitMessage(p)
	case *packet.PingResp:
	default:
		s.logger.Debug("ignoring inbound packet", "type", pkt.Type().String())
	}
}

// HandleDecodeError implements transport.Handler. The frame is dropped and the connection kept.
func (s *Session) HandleDecodeError(err error) {
	s.observer.DecodeError()
	s.logger.Warn("dropping malformed packet", "error", err, "generation", s.gen)
}

// HandleClosed implements transport.Handler.
func (s *Session) HandleClosed(err error) {
	if err == nil || errors.Is(err, transport.ErrClosed) {
		err = ErrConnectionLost
	}
	s.shutdown(err, false)
}
