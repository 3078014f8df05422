// Package pgconn wraps a net.Conn with PostgreSQL wire framing and the
// startup/TLS negotiation dance, so callers work in terms of typed
// messages rather than raw bytes.
package pgconn

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/anonproxy/pganonproxy/internal/pgerror"
	"github.com/anonproxy/pganonproxy/internal/wire"
)

// Connection owns either a plain TCP stream or one upgraded to TLS after an
// SslRequest, plus the peer's startup parameters.
type Connection struct {
	conn       net.Conn
	reader     *wire.Reader
	writer     *wire.Writer
	Parameters map[string]string
}

// NewConnection wraps an already-established net.Conn.
func NewConnection(c net.Conn) *Connection {
	return &Connection{
		conn:   c,
		reader: wire.NewReader(c),
		writer: wire.NewWriter(c),
	}
}

// Raw returns the underlying net.Conn, e.g. for deadlines or address info.
func (c *Connection) Raw() net.Conn { return c.conn }

// Reader exposes the underlying wire.Reader for callers that need to batch
// several ReadFrontend/ReadBackend calls between flushes.
func (c *Connection) Reader() *wire.Reader { return c.reader }

// Writer exposes the underlying wire.Writer for callers that need to batch
// several WriteFrontend/WriteBackend calls before a single Flush.
func (c *Connection) Writer() *wire.Writer { return c.writer }

func (c *Connection) Close() error { return c.conn.Close() }

// ReadFrontend decodes one frontend message (used on the client-facing side).
func (c *Connection) ReadFrontend() (wire.FrontendMessage, error) {
	return wire.ReadFrontend(c.reader)
}

// WriteFrontend encodes and flushes one frontend message (used when this
// connection represents the proxy acting as a client toward the upstream).
func (c *Connection) WriteFrontend(msg wire.FrontendMessage) error {
	if err := wire.WriteFrontend(c.writer, msg); err != nil {
		return err
	}
	return c.writer.Flush()
}

// ReadBackend decodes one backend message (used on the upstream-facing side).
func (c *Connection) ReadBackend() (wire.BackendMessage, error) {
	return wire.ReadBackend(c.reader)
}

// WriteBackend encodes and flushes one backend message (used when this
// connection represents the proxy acting as a server toward the client).
func (c *Connection) WriteBackend(msg wire.BackendMessage) error {
	if err := wire.WriteBackend(c.writer, msg); err != nil {
		return err
	}
	return c.writer.Flush()
}

// ReadStartup reads the first packet of a new client connection, which may
// be a real Startup, an SslRequest, or a CancelRequest.
func (c *Connection) ReadStartup() (wire.FrontendMessage, error) {
	return wire.ReadStartup(c.reader)
}

// NegotiateServerTLS implements the server side of spec.md §4.2: on
// SslRequest, reply 'S' if tlsConfig is non-nil, upgrade, and read a fresh
// Startup on the encrypted stream; otherwise reply 'N' and error out. This
// diverges from the teacher's readStartupMessage loop, which replies 'N'
// and retries on the assumption the client falls back to plaintext — per
// spec.md §4.2 ("otherwise N and closes the connection after erroring"),
// TLS-not-configured is fatal to the connection, not a retry signal.
func (c *Connection) NegotiateServerTLS(tlsConfig *tls.Config) (wire.FrontendMessage, error) {
	msg, err := c.ReadStartup()
	if err != nil {
		return nil, err
	}
	if _, isSSL := msg.(wire.SSLRequest); !isSSL {
		return msg, nil
	}
	if tlsConfig == nil {
		if _, err := c.conn.Write([]byte{'N'}); err != nil {
			return nil, fmt.Errorf("writing ssl-unsupported reply: %w", err)
		}
		return nil, pgerror.ErrFrontendRequestedTLS
	}
	if _, err := c.conn.Write([]byte{'S'}); err != nil {
		return nil, fmt.Errorf("writing ssl-supported reply: %w", err)
	}
	tlsConn := tls.Server(c.conn, tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("TLS handshake: %w", err)
	}
	c.conn = tlsConn
	c.reader = wire.NewReader(tlsConn)
	c.writer = wire.NewWriter(tlsConn)

	return c.ReadStartup()
}

// DialUpstream opens a plain TCP connection to the configured upstream. TLS
// toward the upstream is not part of SPEC_FULL.md's scope (the spec's TLS
// section covers only the client-facing listener); the backend pool dials
// plaintext exactly as the teacher's pool.dial does.
func DialUpstream(network, addr string) (*Connection, error) {
	c, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial upstream: %w", err)
	}
	return NewConnection(c), nil
}
