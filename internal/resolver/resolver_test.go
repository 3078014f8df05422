package resolver

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/google/uuid"

	"github.com/anonproxy/pganonproxy/internal/pool"
	"github.com/anonproxy/pganonproxy/internal/wire"
)

// testConnection builds an ActiveConnection wired directly to one end of a
// net.Pipe, with the other end available to play a scripted backend. A
// net.Pipe write blocks until the peer reads it, so everything the client
// sends to the backend end is drained and discarded.
func testConnection(t *testing.T) (*ActiveConnection, net.Conn) {
	t.Helper()
	client, backend := net.Pipe()
	t.Cleanup(func() { client.Close(); backend.Close() })
	go io.Copy(io.Discard, backend)
	pc := pool.NewPooledConn(client, nil)
	ac := &ActiveConnection{conn: pc, reader: wire.NewReader(client), writer: wire.NewWriter(client)}
	return ac, backend
}

func newTestResolver(t *testing.T) (*Resolver, uuid.UUID, net.Conn) {
	t.Helper()
	r := New(nil)
	id := uuid.New()
	ac, backend := testConnection(t)
	r.connections[id] = ac
	return r, id, backend
}

func writeBackend(t *testing.T, conn net.Conn, msgs ...wire.BackendMessage) {
	t.Helper()
	w := wire.NewWriter(conn)
	for _, m := range msgs {
		if err := wire.WriteBackend(w, m); err != nil {
			t.Fatalf("write backend message: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush backend writer: %v", err)
	}
}

func TestQueryBuildsRecordBatch(t *testing.T) {
	r, id, backend := newTestResolver(t)

	go writeBackend(t, backend,
		wire.RowDescription{Fields: []wire.Field{{Name: "id", TypeOID: 23}}},
		wire.DataRow{Columns: [][]byte{[]byte("1")}},
		wire.DataRow{Columns: [][]byte{[]byte("2")}},
		wire.CommandComplete{Tag: "SELECT 2"},
		wire.ReadyForQuery{Status: wire.TxIdle},
	)

	b, tag, err := r.Query(context.Background(), id, "select id from users")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if tag != "SELECT 2" {
		t.Fatalf("got tag %q", tag)
	}
	if b.NumRows != 2 {
		t.Fatalf("expected 2 rows, got %d", b.NumRows)
	}
	if b.Columns[0].Ints[0] != 1 || b.Columns[0].Ints[1] != 2 {
		t.Fatalf("unexpected column values: %+v", b.Columns[0].Ints)
	}
}

func TestQueryPropagatesErrorResponse(t *testing.T) {
	r, id, backend := newTestResolver(t)

	go writeBackend(t, backend,
		wire.ErrorResponse{Fields: map[byte]string{'M': "relation does not exist"}},
		wire.ReadyForQuery{Status: wire.TxIdle},
	)

	_, _, err := r.Query(context.Background(), id, "select * from missing")
	if err == nil {
		t.Fatal("expected error from ErrorResponse")
	}
}

func TestSyncDrainsParseDescribeBindExecuteInOrder(t *testing.T) {
	r, id, backend := newTestResolver(t)
	ctx := context.Background()

	if err := r.Parse(ctx, id, wire.Parse{Statement: "s1", SQL: "select age from users"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := r.Describe(ctx, id, wire.Describe{Kind: wire.DescribeStatement, Name: "s1"}); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if err := r.Bind(ctx, id, wire.Bind{Portal: "p1", Statement: "s1"}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := r.Execute(ctx, id, wire.Execute{Portal: "p1"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	go writeBackend(t, backend,
		wire.ParseComplete{},
		wire.ParameterDescription{OIDs: nil},
		wire.RowDescription{Fields: []wire.Field{{Name: "age", TypeOID: 23}}},
		wire.BindComplete{},
		wire.DataRow{Columns: [][]byte{[]byte("30")}},
		wire.CommandComplete{Tag: "SELECT 1"},
		wire.ReadyForQuery{Status: wire.TxIdle},
	)

	responses, err := r.Sync(ctx, id)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	var sawSchema, sawRecords bool
	for _, resp := range responses {
		switch v := resp.(type) {
		case SchemaResponse:
			sawSchema = true
			if len(v.Schema) != 1 || v.Schema[0].Name != "age" {
				t.Fatalf("unexpected schema: %+v", v.Schema)
			}
		case RecordsResponse:
			sawRecords = true
			if v.Batch.NumRows != 1 || v.Batch.Columns[0].Ints[0] != 30 {
				t.Fatalf("unexpected records: %+v", v.Batch)
			}
			if v.Tag != "SELECT 1" {
				t.Fatalf("unexpected tag %q", v.Tag)
			}
		}
	}
	if !sawSchema {
		t.Fatal("expected a SchemaResponse in the drained responses")
	}
	if !sawRecords {
		t.Fatal("expected a RecordsResponse in the drained responses")
	}

	ac := r.connections[id]
	if len(ac.pending) != 0 {
		t.Fatalf("expected pending queue cleared after sync, got %d entries", len(ac.pending))
	}
}

func TestExecuteWithoutCachedSchemaRejectsRows(t *testing.T) {
	r, id, backend := newTestResolver(t)
	ctx := context.Background()

	if err := r.Execute(ctx, id, wire.Execute{Portal: "p1"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	go writeBackend(t, backend,
		wire.DataRow{Columns: [][]byte{[]byte("unexpected")}},
		wire.CommandComplete{Tag: "SELECT 1"},
		wire.ReadyForQuery{Status: wire.TxIdle},
	)

	_, err := r.Sync(ctx, id)
	if err == nil {
		t.Fatal("expected error: rows produced with no cached schema")
	}
}
