// Package session implements the client-facing proxy server of spec.md
// §4.8: TCP/TLS accept loop, PostgreSQL handshake and MD5 authentication,
// and the per-connection message dispatch loop that routes queries through
// the resolver and transformer pipeline.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/anonproxy/pganonproxy/internal/anonymize"
	"github.com/anonproxy/pganonproxy/internal/config"
	"github.com/anonproxy/pganonproxy/internal/metrics"
	"github.com/anonproxy/pganonproxy/internal/resolver"
	"github.com/anonproxy/pganonproxy/internal/transform"
)

// Server is the client-facing PostgreSQL proxy listener.
type Server struct {
	cfg       *config.Config
	resolver  *resolver.Resolver
	pipeline  *transform.Pipeline
	metrics   *metrics.Collector
	tlsConfig *tls.Config

	listener net.Listener

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer wires a resolver (itself backed by a pool.Pool) and the
// anonymization engine into a client-facing Server.
func NewServer(cfg *config.Config, r *resolver.Resolver, m *metrics.Collector) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		resolver: r,
		pipeline: transform.NewPipeline(anonymize.New(cfg)),
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}

	if cfg.TLSEnabled() {
		cert, err := cfg.LoadTLSCertificate()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("loading TLS identity: %w", err)
		}
		s.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		log.Printf("[session] TLS enabled (pkcs12: %s)", cfg.TLS.PKCS12Path)
	}

	return s, nil
}

// Listen starts accepting client connections.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Listen.Host, s.cfg.Listen.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	log.Printf("[session] listening on %s", addr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Printf("[session] accept error: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	cs := newClientSession(s, conn)
	if err := cs.run(s.ctx); err != nil {
		log.Printf("[session] client %s: %v", cs.clientID, err)
	}
}

// Stop gracefully shuts down the listener and waits for in-flight sessions.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	log.Printf("[session] server stopped")
}
