package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// defaultDialTimeout bounds connection establishment when none is configured.
const defaultDialTimeout = 10 * time.Second

// Transport kinds accepted by NewFactory.
const (
	KindTCP = "tcp"
	KindTLS = "tls"
	KindWS  = "ws"
	KindWSS = "wss"
)

// Factory produces a connected byte stream to host:port.
type Factory interface {
	Dial(ctx context.Context, host string, port int) (net.Conn, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, host string, port int) (net.Conn, error)

// Dial calls f.
func (f FactoryFunc) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	return f(ctx, host, port)
}

// Options selects and configures a Factory.
type Options struct {
	Kind string

	// InsecureSkipVerify selects InsecureTLS for tls/wss. See package docs.
	InsecureSkipVerify bool

	CAFile      string
	ServerName  string
	WSPath      string
	ProxyURL    string
	DialTimeout time.Duration
}

// NewFactory builds the factory described by opts.
func NewFactory(opts Options) (Factory, error) {
	base := &TCP{Timeout: opts.DialTimeout}
	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url: %w", err)
		}
		base.Proxy = u
	}

	switch opts.Kind {
	case "", KindTCP:
		return base, nil
	case KindTLS, KindWSS:
		tlsCfg, err := tlsConfig(opts)
		if err != nil {
			return nil, err
		}
		if opts.Kind == KindWSS {
			return &WebSocket{Path: opts.WSPath, TLSConfig: tlsCfg, Timeout: opts.DialTimeout}, nil
		}
		return &TLS{TCP: base, Config: tlsCfg}, nil
	case KindWS:
		return &WebSocket{Path: opts.WSPath, Timeout: opts.DialTimeout}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}
}

func tlsConfig(opts Options) (*tls.Config, error) {
	if opts.InsecureSkipVerify {
		return InsecureTLSConfig(opts.ServerName), nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: opts.ServerName}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// InsecureTLSConfig returns a TLS configuration that accepts any server
// certificate. The connection is encrypted but the broker is not authenticated.
func InsecureTLSConfig(serverName string) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         serverName,
		InsecureSkipVerify: true, //nolint:gosec // explicit opt-in, see package docs
	}
}

// InsecureTLS returns a TLS factory that skips certificate verification.
func InsecureTLS() *TLS {
	return &TLS{TCP: &TCP{}, Config: InsecureTLSConfig("")}
}

// TCP dials a plain TCP stream, optionally through a SOCKS5 proxy.
type TCP struct {
	Timeout time.Duration
	Proxy   *url.URL
}

// Dial opens the stream.
func (t *TCP) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	d := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second} //nolint:mnd // TCP keepalive probe period

	if t.Proxy == nil {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &Error{Op: "dial", Addr: addr, Err: err}
		}
		return conn, nil
	}

	pd, err := proxy.FromURL(t.Proxy, d)
	if err != nil {
		return nil, &Error{Op: "proxy", Addr: t.Proxy.Host, Err: err}
	}
	var conn net.Conn
	if cd, ok := pd.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = pd.Dial("tcp", addr)
	}
	if err != nil {
		return nil, &Error{Op: "dial", Addr: addr, Err: err}
	}
	return conn, nil
}

// TLS wraps TCP with a TLS client handshake.
type TLS struct {
	*TCP
	Config *tls.Config
}

// Dial opens the stream and completes the handshake before returning.
func (t *TLS) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	raw, err := t.TCP.Dial(ctx, host, port)
	if err != nil {
		return nil, err
	}
	cfg := t.Config.Clone()
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, &Error{Op: "tls handshake", Addr: raw.RemoteAddr().String(), Err: err}
	}
	return conn, nil
}
