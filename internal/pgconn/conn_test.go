package pgconn

import (
	"errors"
	"net"
	"testing"

	"github.com/anonproxy/pganonproxy/internal/pgerror"
	"github.com/anonproxy/pganonproxy/internal/wire"
)

// TestNegotiateServerTLSNoConfigErrors exercises spec.md §4.2's redesigned
// behavior: on an SslRequest with no tls.Config, the server side replies 'N'
// and treats the connection as failed rather than looping for a plaintext
// retry.
func TestNegotiateServerTLSNoConfigErrors(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		_, err := NewConnection(server).NegotiateServerTLS(nil)
		done <- err
	}()

	w := wire.NewWriter(client)
	if err := wire.WriteSSLRequest(w); err != nil {
		t.Fatalf("write ssl request: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush ssl request: %v", err)
	}

	reply := make([]byte, 1)
	if _, err := client.Read(reply); err != nil {
		t.Fatalf("read ssl reply: %v", err)
	}
	if reply[0] != 'N' {
		t.Fatalf("expected 'N' reply, got %q", reply[0])
	}

	err := <-done
	if !errors.Is(err, pgerror.ErrFrontendRequestedTLS) {
		t.Fatalf("expected ErrFrontendRequestedTLS, got %v", err)
	}
}

// TestNegotiateServerTLSPassesThroughPlainStartup confirms a plain (non-SSL)
// StartupMessage is returned unchanged without attempting any handshake.
func TestNegotiateServerTLSPassesThroughPlainStartup(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	type result struct {
		msg wire.FrontendMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := NewConnection(server).NegotiateServerTLS(nil)
		done <- result{msg, err}
	}()

	w := wire.NewWriter(client)
	start := wire.StartupMessage{Parameters: map[string]string{"user": "alice"}}
	if err := wire.WriteStartup(w, start); err != nil {
		t.Fatalf("write startup: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush startup: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	got, ok := res.msg.(wire.StartupMessage)
	if !ok {
		t.Fatalf("expected StartupMessage, got %T", res.msg)
	}
	if got.Parameters["user"] != "alice" {
		t.Fatalf("expected user=alice, got %q", got.Parameters["user"])
	}
}
