package session

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/packet"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/schedule"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeBroker is the far end of a net.Pipe. It decodes every frame the
// client writes and lets the test inject frames.
type fakeBroker struct {
	conn   net.Conn
	frames chan packet.Packet
	eof    chan struct{}
}

func newFakeBroker(conn net.Conn) *fakeBroker {
	b := &fakeBroker{conn: conn, frames: make(chan packet.Packet, 64), eof: make(chan struct{})}
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

func (b *fakeBroker) sendRaw(t *testing.T, frame []byte) {
	t.Helper()
	_, err := b.conn.Write(frame)
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

// drain collects frames until the client closes its end.
func (b *fakeBroker) drain(t *testing.T) []packet.Packet {
	t.Helper()
	select {
	case <-b.eof:
	case <-time.After(waitFor):
		t.Fatal("client did not close the stream")
	}
	var out []packet.Packet
	for {
		select {
		case p := <-b.frames:
			out = append(out, p)
		default:
			return out
		}
	}
}

// pipeFactory hands out the client side of a pipe and keeps the broker side.
func pipeFactory() (transport.Factory, chan *fakeBroker) {
	brokers := make(chan *fakeBroker, 1)
	f := transport.FactoryFunc(func(_ context.Context, _ string, _ int) (net.Conn, error) {
		client, server := net.Pipe()
		brokers <- newFakeBroker(server)
		return client, nil
	})
	return f, brokers
}

type eventRecorder struct {
	events chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan Event, 64)}
}

func (r *eventRecorder) Emit(e Event) { r.events <- e }

func (r *eventRecorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(waitFor):
		t.Fatal("no event emitted")
		return Event{}
	}
}

func (r *eventRecorder) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case e := <-r.events:
		t.Fatalf("unexpected event %s (err=%v)", e.Kind, e.Err)
	case <-time.After(d):
	}
}

type harness struct {
	session *Session
	broker  *fakeBroker
	events  *eventRecorder
	clock   *testingclock.FakeClock
}

func newFakeClock() *testingclock.FakeClock {
	return testingclock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
}

func testConfig() Config {
	return Config{
		Host:         "broker.local",
		Port:         1883,
		ClientID:     "lightlink-test",
		KeepAlive:    30 * time.Second,
		CleanSession: true,
	}
}

// connected returns a session already in the Connected state on a fake clock.
func connected(t *testing.T, cfg Config) *harness {
	t.Helper()
	fc := newFakeClock()
	factory, brokers := pipeFactory()
	rec := newEventRecorder()
	s := New(cfg, Deps{Factory: factory, Scheduler: schedule.New(fc), Sink: rec})

	require.NoError(t, s.Connect(context.Background()))
	b := <-brokers
	_, ok := b.next(t).(*packet.Connect)
	require.True(t, ok, "first frame must be CONNECT")
	require.Equal(t, EventConnected, rec.next(t).Kind)

	t.Cleanup(func() {
		s.Disconnect()
		b.conn.Close()
	})
	return &harness{session: s, broker: b, events: rec, clock: fc}
}
