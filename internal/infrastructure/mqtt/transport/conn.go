package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/packet"
)

// Default limits for a connection.
const (
	// DefaultMaxPacketSize caps inbound frames. Larger frames are skipped.
	DefaultMaxPacketSize = 1 << 20 // 1 MB

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// readBufferSize is the bufio reader size for the read loop.
	readBufferSize = 4096
)

// Handler receives the output of a connection's read loop.
// All methods are called from the read goroutine.
type Handler interface {
	// HandlePacket is called for every decoded inbound packet.
	HandlePacket(pkt packet.Packet)

	// HandleDecodeError is called when a frame is dropped. The connection stays up.
	HandleDecodeError(err error)

	// HandleClosed is called exactly once when the read loop ends.
	// err is nil when the loop ended because Close was called.
	HandleClosed(err error)
}

// Config tunes a Conn.
type Config struct {
	MaxPacketSize int
	WriteTimeout  time.Duration
}

// Stats holds byte and frame counters for one connection.
type Stats struct {
	FramesOut  uint64
	FramesIn   uint64
	BytesOut   uint64
	BytesIn    uint64
	Dropped    uint64
	WriteError uint64
}

// Conn owns one stream. Writes are serialised so frames never interleave.
//
// Thread Safety: WritePacket, Write and Close are safe for concurrent use.
type Conn struct {
	conn net.Conn
	addr string
	cfg  Config

	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	cause     error
	done      chan struct{}
	started   atomic.Bool

	framesOut atomic.Uint64
	framesIn  atomic.Uint64
	bytesOut  atomic.Uint64
	bytesIn   atomic.Uint64
	dropped   atomic.Uint64
	writeErrs atomic.Uint64
}

// New wraps an established stream.
func New(conn net.Conn, cfg Config) *Conn {
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = DefaultMaxPacketSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Conn{
		conn: conn,
		addr: addr,
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// WritePacket encodes pkt and writes it as one frame.
func (c *Conn) WritePacket(pkt packet.Packet) error {
	frame, err := packet.Encode(pkt)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", pkt.Type(), err)
	}
	return c.Write(frame)
}

// Write writes one pre-encoded frame.
func (c *Conn) Write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return c.writeFailed(err)
	}
	n, err := c.conn.Write(frame)
	c.bytesOut.Add(uint64(n)) //nolint:gosec // n is never negative
	if err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return c.writeFailed(err)
	}
	c.framesOut.Add(1)
	return nil
}

// writeFailed closes the stream after a failed write; a partial frame cannot be recovered.
func (c *Conn) writeFailed(err error) error {
	c.writeErrs.Add(1)
	e := &Error{Op: "write", Addr: c.addr, Err: err}
	c.closeWith(e)
	return e
}

// Start runs the read loop on a new goroutine. Calling it twice has no effect.
func (c *Conn) Start(h Handler) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		err := c.readLoop(h)
		c.closeWith(err)
		h.HandleClosed(err)
	}()
}

// readLoop frames and decodes packets until the stream fails or is closed.
func (c *Conn) readLoop(h Handler) error {
	br := bufio.NewReaderSize(c.conn, readBufferSize)

	for {
		header, err := br.ReadByte()
		if err != nil {
			return c.readErr(err)
		}

		length, err := packet.ReadLength(br)
		if err != nil {
			if packet.IsDecodeError(err) {
				c.dropped.Add(1)
				h.HandleDecodeError(err)
				continue
			}
			return c.readErr(err)
		}

		if length > c.cfg.MaxPacketSize {
			if _, err := io.CopyN(io.Discard, br, int64(length)); err != nil {
				return c.readErr(err)
			}
			c.dropped.Add(1)
			h.HandleDecodeError(&packet.DecodeError{
				Type:   packet.Type(header >> 4),
				Reason: fmt.Sprintf("remaining length %d exceeds limit %d", length, c.cfg.MaxPacketSize),
				Err:    ErrPacketTooLarge,
			})
			continue
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(br, body); err != nil {
			return c.readErr(err)
		}
		c.bytesIn.Add(uint64(1 + lengthSize(length) + length)) //nolint:gosec // non-negative
		c.framesIn.Add(1)

		pkt, err := packet.DecodeBody(header, body)
		if err != nil {
			c.dropped.Add(1)
			h.HandleDecodeError(err)
			continue
		}
		h.HandlePacket(pkt)
	}
}

func (c *Conn) readErr(err error) error {
	if c.closed.Load() {
		return c.cause
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &Error{Op: "read", Addr: c.addr, Err: err}
}

func lengthSize(n int) int {
	switch {
	case n < 128: //nolint:mnd // varint thresholds
		return 1
	case n < 16384: //nolint:mnd // varint thresholds
		return 2
	case n < 2097152: //nolint:mnd // varint thresholds
		return 3
	default:
		return 4 //nolint:mnd // varint thresholds
	}
}

// Close closes the stream, unblocking the read loop. Safe to call repeatedly.
func (c *Conn) Close() error {
	return c.closeWith(nil)
}

// closeWith closes the stream once, recording cause for the read loop to report.
func (c *Conn) closeWith(cause error) error {
	c.closeOnce.Do(func() {
		c.cause = cause
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
		close(c.done)
	})
	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// RemoteAddr returns the broker address as a string.
func (c *Conn) RemoteAddr() string {
	return c.addr
}

// Stats returns a snapshot of the connection counters.
func (c *Conn) Stats() Stats {
	return Stats{
		FramesOut:  c.framesOut.Load(),
		FramesIn:   c.framesIn.Load(),
		BytesOut:   c.bytesOut.Load(),
		BytesIn:    c.bytesIn.Load(),
		Dropped:    c.dropped.Load(),
		WriteError: c.writeErrs.Load(),
	}
}
