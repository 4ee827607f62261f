package mqtt

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/packet"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errDialRefused = errors.New("dial refused")

// fakeBroker is the far end of a net.Pipe. It answers PINGREQ and records
// every other frame.
type fakeBroker struct {
	conn   net.Conn
	frames chan packet.Packet
	eof    chan struct{}
}

func newFakeBroker(conn net.Conn) *fakeBroker {
	b := &fakeBroker{conn: conn, frames: make(chan packet.Packet, 256), eof: make(chan struct{})}
	go b.readLoop()
	return b
}

func (b *fakeBroker) readLoop() {
	defer close(b.eof)
	br := bufio.NewReader(b.conn)
	for {
		header, err := br.ReadByte()
		if err != nil {
			return
		}
		length, err := packet.ReadLength(br)
		if err != nil {
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(br, body); err != nil {
			return
		}
		pkt, err := packet.DecodeBody(header, body)
		if err != nil {
			continue
		}
		if _, ok := pkt.(*packet.PingReq); ok {
			frame, _ := packet.Encode(&packet.PingResp{})
			if _, err := b.conn.Write(frame); err != nil {
				return
			}
			continue
		}
		b.frames <- pkt
	}
}

func (b *fakeBroker) send(t *testing.T, p packet.Packet) {
	t.Helper()
	frame, err := packet.Encode(p)
	require.NoError(t, err)
	_, err = b.conn.Write(frame)
	require.NoError(t, err)
}

func (b *fakeBroker) next(t *testing.T) packet.Packet {
	t.Helper()
	select {
	case p := <-b.frames:
		return p
	case <-time.After(waitFor):
		t.Fatal("broker received no frame")
		return nil
	}
}

// nextPublish skips frames until a PUBLISH arrives.
func (b *fakeBroker) nextPublish(t *testing.T) *packet.Publish {
	t.Helper()
	for {
		if p, ok := b.next(t).(*packet.Publish); ok {
			return p
		}
	}
}

// nextOf skips frames until one of type T arrives.
func nextOf[T packet.Packet](t *testing.T, b *fakeBroker) T {
	t.Helper()
	for {
		if p, ok := b.next(t).(T); ok {
			return p
		}
	}
}

func (b *fakeBroker) kill() {
	b.conn.Close()
}

// brokerFactory hands out pipes to fake brokers and can be told to refuse.
type brokerFactory struct {
	brokers chan *fakeBroker
	dials   atomic.Int32
	refuse  atomic.Bool
}

func newBrokerFactory() *brokerFactory {
	return &brokerFactory{brokers: make(chan *fakeBroker, 16)}
}

func (f *brokerFactory) Dial(_ context.Context, _ string, _ int) (net.Conn, error) {
	f.dials.Add(1)
	if f.refuse.Load() {
		return nil, errDialRefused
	}
	client, server := net.Pipe()
	f.brokers <- newFakeBroker(server)
	return client, nil
}

func (f *brokerFactory) next(t *testing.T) *fakeBroker {
	t.Helper()
	select {
	case b := <-f.brokers:
		return b
	case <-time.After(waitFor):
		t.Fatal("client did not dial")
		return nil
	}
}

// recordingHandler counts callbacks.
type recordingHandler struct {
	mu        sync.Mutex
	connected int
	failures  []error
	messages  []string

	onMessage func(topic string, payload []byte)
}

func (h *recordingHandler) OnConnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected++
}

func (h *recordingHandler) OnConnectionFailed(reason error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, reason)
}

func (h *recordingHandler) OnMessageReceived(topic string, payload []byte) {
	if h.onMessage != nil {
		h.onMessage(topic, payload)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, topic+"="+string(payload))
}

func (h *recordingHandler) connects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *recordingHandler) failureCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.failures)
}

func (h *recordingHandler) received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...)
}

type harness struct {
	client  *Client
	factory *brokerFactory
	handler *recordingHandler
	clock   *testingclock.FakeClock
}

func newFakeClock() *testingclock.FakeClock {
	return testingclock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
}

func testOptions() Options {
	opts := DefaultOptions("broker.local", 1883, "lightlink-test")
	opts.ConnAckTimeout = 0
	return opts
}

// newHarness builds a client on a fake clock. Options are adjusted by mutate.
func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		factory: newBrokerFactory(),
		handler: &recordingHandler{},
		clock:   newFakeClock(),
	}
	opts := testOptions()
	opts.Factory = h.factory
	opts.Clock = h.clock
	if mutate != nil {
		mutate(&opts)
	}

	c, err := New(opts, h.handler)
	require.NoError(t, err)
	h.client = c
	t.Cleanup(func() { _ = c.Close() })
	return h
}

// connect runs Connect and returns the broker end once the client is connected.
func (h *harness) connect(t *testing.T) *fakeBroker {
	t.Helper()
	want := h.handler.connects() + 1
	h.client.Connect()
	b := h.factory.next(t)
	_, ok := b.next(t).(*packet.Connect)
	require.True(t, ok, "first frame must be CONNECT")
	require.Eventually(t, func() bool { return h.handler.connects() == want }, waitFor, tick)
	require.True(t, h.client.IsConnected())
	return b
}

// advanceUntil steps the fake clock in small increments until cond holds.
// It gives up after limit of fake time.
func (h *harness) advanceUntil(t *testing.T, limit time.Duration, cond func() bool) {
	t.Helper()
	const step = 250 * time.Millisecond
	for elapsed := time.Duration(0); ; elapsed += step {
		if waitShort(cond) {
			return
		}
		if elapsed >= limit {
			t.Fatalf("condition not met within %v of fake time", limit)
		}
		h.clock.Step(step)
	}
}

// waitShort polls cond for a few milliseconds of real time.
func waitShort(cond func() bool) bool {
	deadline := time.Now().Add(20 * time.Millisecond)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// dropped kills the broker end and waits for the client to notice.
func (h *harness) dropped(t *testing.T, b *fakeBroker) {
	t.Helper()
	b.kill()
	require.Eventually(t, func() bool { return !h.client.IsConnected() }, waitFor, tick)
}
