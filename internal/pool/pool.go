// Package pool implements the bounded connection pool to the single
// configured PostgreSQL upstream (spec.md §4.3), grounded on the teacher's
// internal/pool.TenantPool — idle slice, active set, sync.Cond-based
// blocking Acquire, periodic idle reaper — collapsed from a tenant map down
// to one pool instance, since SPEC_FULL.md names exactly one connection_uri.
package pool

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/anonproxy/pganonproxy/internal/config"
	"github.com/anonproxy/pganonproxy/internal/wire"
)

// Stats holds connection pool statistics.
type Stats struct {
	Active    int
	Idle      int
	Total     int
	Waiting   int
	MaxConns  int
	Exhausted int64
}

// OnPoolExhausted is called when the pool reaches max connections and a
// goroutine must wait.
type OnPoolExhausted func()

// Pool manages connections to the single configured upstream.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond // broadcast when a connection is returned

	host           string
	port           int
	dbname         string
	username       string
	password       string
	maxConns       int
	idleTimeout    time.Duration
	maxLifetime    time.Duration
	acquireTimeout time.Duration
	dialTimeout    time.Duration

	idle      []*PooledConn
	active    map[*PooledConn]struct{}
	total     int
	waiting   int
	exhausted int64

	closed          bool
	stopCh          chan struct{}
	onPoolExhausted OnPoolExhausted
}

// Defaults applied for pool timers not named in config.Config.
const (
	defaultIdleTimeout    = 10 * time.Minute
	defaultMaxLifetime    = time.Hour
	defaultAcquireTimeout = 10 * time.Second
	defaultDialTimeout    = 5 * time.Second
)

// New creates a new backend pool for the upstream named by cfg.Upstream.
func New(cfg *config.Config) (*Pool, error) {
	host, port, dbname, user, password, err := cfg.UpstreamAddr()
	if err != nil {
		return nil, fmt.Errorf("resolving upstream: %w", err)
	}

	p := &Pool{
		host:           host,
		port:           port,
		dbname:         dbname,
		username:       user,
		password:       password,
		maxConns:       cfg.MaxPoolSize,
		idleTimeout:    defaultIdleTimeout,
		maxLifetime:    defaultMaxLifetime,
		acquireTimeout: defaultAcquireTimeout,
		dialTimeout:    defaultDialTimeout,
		idle:           make([]*PooledConn, 0),
		active:         make(map[*PooledConn]struct{}),
		stopCh:         make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	go p.reapLoop()

	return p, nil
}

// SetOnPoolExhausted sets the callback invoked whenever Acquire must block.
func (p *Pool) SetOnPoolExhausted(cb OnPoolExhausted) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPoolExhausted = cb
}

// Acquire gets a connection from the pool, dialing and authenticating a new
// one if the pool is under its max and no idle connection is available.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	deadlineAt := time.Now().Add(p.acquireTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadlineAt) {
		deadlineAt = ctxDeadline
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool closed")
		}

		for len(p.idle) > 0 {
			pc := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if pc.IsExpired(p.maxLifetime) {
				pc.Close()
				p.total--
				continue
			}
			if err := pc.Ping(); err != nil {
				pc.Close()
				p.total--
				continue
			}

			pc.MarkActive()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		if p.total < p.maxConns {
			p.total++
			p.mu.Unlock()

			pc, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, fmt.Errorf("connecting to %s:%d: %w", p.host, p.port, err)
			}

			pc.MarkActive()
			p.mu.Lock()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		p.waiting++
		p.exhausted++
		cb := p.onPoolExhausted
		p.mu.Unlock()

		if cb != nil {
			cb()
		}

		p.mu.Lock()
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, fmt.Errorf("acquire timeout (%s): pool exhausted", p.acquireTimeout)
		}

		timer := time.AfterFunc(remaining, func() {
			p.cond.Broadcast()
		})
		p.cond.Wait()
		timer.Stop()

		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool closing")
		}
		if time.Now().After(deadlineAt) {
			p.mu.Unlock()
			return nil, fmt.Errorf("acquire timeout (%s): pool exhausted", p.acquireTimeout)
		}
	}
}

// InjectTestConn adds a pre-built PooledConn directly into the pool's idle
// list. Only intended for testing: it bypasses dial() and authentication.
func (p *Pool) InjectTestConn(pc *PooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc.pool = p
	pc.MarkIdle()
	p.idle = append(p.idle, pc)
	p.total++
	p.cond.Signal()
}

// Return releases a connection back to the pool. recycle is a no-op per
// spec.md §4.3/§5: callers that observed pending resolver state on this
// connection must call Discard instead, never Return.
func (p *Pool) Return(pc *PooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, pc)

	if p.closed || pc.IsExpired(p.maxLifetime) {
		pc.Close()
		p.total--
		p.cond.Signal()
		return
	}

	pc.MarkIdle()
	p.idle = append(p.idle, pc)
	p.cond.Signal()
}

// discard closes a connection and removes it from the pool's bookkeeping
// without returning it to the idle list.
func (p *Pool) discard(pc *PooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, pc)
	pc.Close()
	p.total--
	p.cond.Signal()
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:    len(p.active),
		Idle:      len(p.idle),
		Total:     p.total,
		Waiting:   p.waiting,
		MaxConns:  p.maxConns,
		Exhausted: p.exhausted,
	}
}

// Close shuts down the pool: closes idle connections and waits briefly for
// active ones to be returned before force-closing them.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.cond.Broadcast()

	for _, pc := range p.idle {
		pc.Close()
		p.total--
	}
	p.idle = p.idle[:0]
	activeCount := len(p.active)
	p.mu.Unlock()

	if activeCount == 0 {
		return
	}

	log.Printf("[pool] draining %d active connections", activeCount)
	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.active) == 0 {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		case <-timeout:
			p.mu.Lock()
			for pc := range p.active {
				pc.Close()
			}
			p.active = make(map[*PooledConn]struct{})
			p.mu.Unlock()
			log.Printf("[pool] force-closed active connections after drain timeout")
			return
		}
	}
}

func (p *Pool) dial(ctx context.Context) (*PooledConn, error) {
	addr := net.JoinHostPort(p.host, fmt.Sprintf("%d", p.port))
	dialer := net.Dialer{
		Timeout:   p.dialTimeout,
		KeepAlive: 30 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	pc := NewPooledConn(conn, p)

	if err := p.authenticate(pc); err != nil {
		pc.Close()
		return nil, fmt.Errorf("authenticating to upstream: %w", err)
	}

	return pc, nil
}

// authenticate performs the PostgreSQL startup and authentication handshake
// on a raw connection, producing a ready-to-query connection. It sends the
// startup message, handles MD5 or SCRAM-SHA-256 challenges, and collects
// ParameterStatus and BackendKeyData.
func (p *Pool) authenticate(pc *PooledConn) error {
	conn := pc.Conn()

	// spec.md §4.4: Startup{user, client_encoding=UTF8}, the latter required
	// by internal/batch/codec.go's text-format column parsing.
	w := wire.NewWriter(conn)
	if err := wire.WriteStartup(w, wire.StartupMessage{Parameters: map[string]string{
		"user":            p.username,
		"database":        p.dbname,
		"client_encoding": "UTF8",
	}}); err != nil {
		return fmt.Errorf("sending startup message: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("sending startup message: %w", err)
	}

	params := make(map[string]string)
	var backendPID, backendKey uint32

	for {
		typeBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, typeBuf); err != nil {
			return fmt.Errorf("reading message type: %w", err)
		}
		msgType := typeBuf[0]

		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return fmt.Errorf("reading message length: %w", err)
		}
		payloadLen := int(getUint32BE(lenBuf)) - 4
		if payloadLen < 0 || payloadLen > 1<<24 {
			return fmt.Errorf("invalid message length: %d", payloadLen)
		}

		payload := make([]byte, payloadLen)
		if payloadLen > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}
		}

		switch msgType {
		case 'R': // Authentication
			if len(payload) < 4 {
				return fmt.Errorf("authentication message too short")
			}
			authType := getUint32BE(payload[:4])
			switch authType {
			case 0: // AuthenticationOk
				continue
			case 3: // AuthenticationCleartextPassword
				if err := p.sendPasswordMessage(conn, p.password); err != nil {
					return err
				}
			case 5: // AuthenticationMD5Password
				if len(payload) < 8 {
					return fmt.Errorf("MD5 auth message too short")
				}
				salt := payload[4:8]
				md5Pass := computeMD5Password(p.username, p.password, salt)
				if err := p.sendPasswordMessage(conn, md5Pass); err != nil {
					return err
				}
			case 10: // AuthenticationSASL (SCRAM-SHA-256) — spec.md supplement
				if err := scramSHA256Auth(conn, p.username, p.password, payload); err != nil {
					return fmt.Errorf("SCRAM-SHA-256 auth: %w", err)
				}
			default:
				return fmt.Errorf("unsupported auth type: %d", authType)
			}

		case 'S': // ParameterStatus
			key, val := parseNullTerminatedPair(payload)
			if key != "" {
				params[key] = val
			}

		case 'K': // BackendKeyData
			if len(payload) >= 8 {
				backendPID = getUint32BE(payload[:4])
				backendKey = getUint32BE(payload[4:8])
			}

		case 'Z': // ReadyForQuery
			if len(payload) >= 1 && payload[0] == 'I' {
				pc.SetAuthenticated(params, backendPID, backendKey)
				return nil
			}
			return fmt.Errorf("unexpected transaction status after auth: %c", payload[0])

		case 'E': // ErrorResponse
			return fmt.Errorf("backend error during auth: %s", parseErrorMessage(payload))

		default:
			continue
		}
	}
}

func (p *Pool) sendPasswordMessage(conn net.Conn, password string) error {
	payload := append([]byte(password), 0)
	msgLen := len(payload) + 4
	buf := make([]byte, 1+4+len(payload))
	buf[0] = 'p'
	putUint32BE(buf[1:5], uint32(msgLen))
	copy(buf[5:], payload)
	_, err := conn.Write(buf)
	return err
}

func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// parseNullTerminatedPair parses a "key\0value\0" buffer.
func parseNullTerminatedPair(data []byte) (string, string) {
	for i := 0; i < len(data); i++ {
		if data[i] == 0 {
			key := string(data[:i])
			rest := data[i+1:]
			for j := 0; j < len(rest); j++ {
				if rest[j] == 0 {
					return key, string(rest[:j])
				}
			}
			return key, string(rest)
		}
	}
	return "", ""
}

// parseErrorMessage extracts the message ('M') field from a PG ErrorResponse payload.
func parseErrorMessage(payload []byte) string {
	for i := 0; i < len(payload); i++ {
		fieldType := payload[i]
		if fieldType == 0 {
			break
		}
		i++
		end := i
		for end < len(payload) && payload[end] != 0 {
			end++
		}
		if fieldType == 'M' {
			return string(payload[i:end])
		}
		i = end
	}
	return "unknown error"
}

// computeMD5Password computes the PostgreSQL MD5 password hash.
// Formula: "md5" + md5(md5(password + user) + salt)
func computeMD5Password(user, password string, salt []byte) string {
	h1 := md5.Sum([]byte(password + user))
	hex1 := hex.EncodeToString(h1[:])
	h2 := md5.Sum(append([]byte(hex1), salt...))
	return "md5" + hex.EncodeToString(h2[:])
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := make([]*PooledConn, 0, len(p.idle))
	for _, pc := range p.idle {
		if pc.IsIdle(p.idleTimeout) || pc.IsExpired(p.maxLifetime) {
			pc.Close()
			p.total--
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
}
