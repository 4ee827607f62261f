package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/logging"
)

// Event channels a stream can follow.
const (
	ChannelConnection = "connection"
	ChannelMessage    = "message"
)

// Frame kinds.
const (
	FrameEvent  = "event"
	FrameFollow = "follow"
	FrameIgnore = "ignore"
	FramePing   = "ping"
	FramePong   = "pong"
	FrameAck    = "ack"
	FrameError  = "error"
)

const (
	streamQueueSize  = 256
	streamReadLimit  = 4096
	streamPingPeriod = 30 * time.Second
	streamWriteWait  = 10 * time.Second
)

// channelMask is a set of event channels.
type channelMask uint32

const (
	maskConnection channelMask = 1 << iota
	maskMessage

	maskAll = maskConnection | maskMessage
)

var channelBits = map[string]channelMask{
	ChannelConnection: maskConnection,
	ChannelMessage:    maskMessage,
}

// parseChannels maps names to a mask. Unknown names are returned separately.
func parseChannels(names []string) (channelMask, []string) {
	var (
		mask    channelMask
		unknown []string
	)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		bit, ok := channelBits[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		mask |= bit
	}
	return mask, unknown
}

// Frame is one JSON message on the event stream, in either direction.
type Frame struct {
	Kind     string    `json:"kind"`
	ID       string    `json:"id,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	At       time.Time `json:"at,omitzero"`
	Data     any       `json:"data,omitempty"`
	Channels []string  `json:"channels,omitempty"`
}

// ConnectionEvent is published on the connection channel.
type ConnectionEvent struct {
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

// MessageEvent is published on the message channel. A payload that is not
// valid UTF-8 goes in Binary and is encoded as base64.
type MessageEvent struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload,omitempty"`
	Binary  []byte `json:"binary,omitempty"`
}

// Hub fans MQTT client callbacks out to event streams. It implements
// mqtt.Handler.
type Hub struct {
	logger *logging.Logger
	now    func() time.Time

	mu      sync.RWMutex
	streams map[*stream]struct{}
}

// stream is one WebSocket subscriber.
type stream struct {
	conn  *websocket.Conn
	mask  atomic.Uint32
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func newStream(conn *websocket.Conn, mask channelMask) *stream {
	s := &stream{
		conn:  conn,
		queue: make(chan []byte, streamQueueSize),
		done:  make(chan struct{}),
	}
	s.mask.Store(uint32(mask))
	return s
}

func (s *stream) follows(bit channelMask) bool {
	return channelMask(s.mask.Load())&bit != 0
}

func (s *stream) update(fn func(channelMask) channelMask) {
	for {
		old := s.mask.Load()
		if s.mask.CompareAndSwap(old, uint32(fn(channelMask(old)))) {
			return
		}
	}
}

// offer queues data unless the stream is closed or backed up. A slow reader
// loses events rather than stalling the MQTT dispatcher.
func (s *stream) offer(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- data:
		return true
	default:
		return false
	}
}

func (s *stream) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to a local address and authenticates by token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an event hub with no streams.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		now:     time.Now,
		streams: make(map[*stream]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every stream.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	streams := h.streams
	h.streams = make(map[*stream]struct{})
	h.mu.Unlock()
	for s := range streams {
		s.close()
	}
}

// OnConnected publishes a connection event.
func (h *Hub) OnConnected() {
	h.publish(ChannelConnection, ConnectionEvent{Connected: true})
}

// OnConnectionFailed publishes a connection event carrying the reason.
func (h *Hub) OnConnectionFailed(reason error) {
	ev := ConnectionEvent{}
	if reason != nil {
		ev.Reason = reason.Error()
	}
	h.publish(ChannelConnection, ev)
}

// OnMessageReceived publishes an inbound message.
func (h *Hub) OnMessageReceived(topic string, payload []byte) {
	ev := MessageEvent{Topic: topic}
	if utf8.Valid(payload) {
		ev.Payload = string(payload)
	} else {
		ev.Binary = payload
	}
	h.publish(ChannelMessage, ev)
}

// ClientCount returns the number of open streams.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

func (h *Hub) add(s *stream) {
	h.mu.Lock()
	h.streams[s] = struct{}{}
	n := len(h.streams)
	h.mu.Unlock()
	h.logger.Debug("event stream opened", "streams", n)
}

func (h *Hub) remove(s *stream) {
	h.mu.Lock()
	delete(h.streams, s)
	n := len(h.streams)
	h.mu.Unlock()
	s.close()
	h.logger.Debug("event stream closed", "streams", n)
}

func (h *Hub) publish(channel string, data any) {
	bit := channelBits[channel]
	frame, err := json.Marshal(Frame{Kind: FrameEvent, Channel: channel, At: h.now().UTC(), Data: data})
	if err != nil {
		h.logger.Error("encoding event frame", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for s := range h.streams {
		if s.follows(bit) && !s.offer(frame) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Debug("event dropped for slow streams", "channel", channel, "streams", dropped)
	}
}

// handleEvents upgrades to an event stream. ?channels= picks the initial
// channels (comma separated); by default the stream follows all of them.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	mask := maskAll
	if v := r.URL.Query().Get("channels"); v != "" {
		var unknown []string
		mask, unknown = parseChannels(strings.Split(v, ","))
		if len(unknown) > 0 {
			writeValidationError(w, "unknown channels: "+strings.Join(unknown, ", "))
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("event stream upgrade failed", "error", err)
		return
	}

	st := newStream(conn, mask)
	s.hub.add(st)
	go s.hub.readFrames(st)
	go s.hub.writeFrames(st)
}

// readFrames handles follow/ignore/ping requests until the peer goes away.
func (h *Hub) readFrames(s *stream) {
	defer h.remove(s)

	extend := func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(streamPingPeriod + streamWriteWait))
	}
	s.conn.SetReadLimit(streamReadLimit)
	_ = extend("") //nolint:errcheck // a dead conn fails the first read
	s.conn.SetPongHandler(extend)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("event stream read failed", "error", err)
			}
			return
		}
		_ = extend("") //nolint:errcheck // checked by the next read
		h.reply(s, data)
	}
}

// writeFrames is the only writer on the connection.
func (h *Hub) writeFrames(s *stream) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	defer s.close()

	write := func(kind int, data []byte) bool {
		_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait)) //nolint:errcheck // surfaced by WriteMessage
		return s.conn.WriteMessage(kind, data) == nil
	}

	for {
		select {
		case <-s.done:
			return
		case data := <-s.queue:
			if !write(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (h *Hub) reply(s *stream, data []byte) {
	var req Frame
	if err := json.Unmarshal(data, &req); err != nil {
		h.answer(s, Frame{Kind: FrameError, Data: "frame is not JSON"})
		return
	}

	switch req.Kind {
	case FrameFollow, FrameIgnore:
		mask, unknown := parseChannels(req.Channels)
		if len(unknown) > 0 {
			h.answer(s, Frame{Kind: FrameError, ID: req.ID, Data: "unknown channels: " + strings.Join(unknown, ", ")})
			return
		}
		if req.Kind == FrameFollow {
			s.update(func(m channelMask) channelMask { return m | mask })
		} else {
			s.update(func(m channelMask) channelMask { return m &^ mask })
		}
		h.answer(s, Frame{Kind: FrameAck, ID: req.ID, Channels: followed(channelMask(s.mask.Load()))})
	case FramePing:
		h.answer(s, Frame{Kind: FramePong, ID: req.ID})
	default:
		h.answer(s, Frame{Kind: FrameError, ID: req.ID, Data: "unsupported kind " + req.Kind})
	}
}

func (h *Hub) answer(s *stream, f Frame) {
	f.At = h.now().UTC()
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.offer(data)
}

// followed lists the channel names in m in a stable order.
func followed(m channelMask) []string {
	names := make([]string, 0, len(channelBits))
	for _, name := range []string{ChannelConnection, ChannelMessage} {
		if m&channelBits[name] != 0 {
			names = append(names, name)
		}
	}
	return names
}
