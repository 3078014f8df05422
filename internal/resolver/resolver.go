// Package resolver implements the per-client resolver of spec.md §4.7: it
// owns one upstream connection handle per client, the ordered queue of
// pending extended-query operations, and the schema cache that lets Execute
// know whether its result rows need a RecordBatch built.
package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/anonproxy/pganonproxy/internal/batch"
	"github.com/anonproxy/pganonproxy/internal/pgerror"
	"github.com/anonproxy/pganonproxy/internal/pool"
	"github.com/anonproxy/pganonproxy/internal/wire"
)

type opKind int

const (
	opParse opKind = iota
	opDescribe
	opBind
	opExecute
)

type pendingOp struct {
	kind opKind
}

// SchemaResponse carries a RowDescription observed while draining a Describe
// at Sync, traced back into a RecordBatch schema.
type SchemaResponse struct {
	Schema batch.Schema
}

// RecordsResponse carries the rows produced by an Execute drained at Sync.
type RecordsResponse struct {
	Batch *batch.RecordBatch
	Tag   string
}

// Response is one item emitted while draining Sync: a SchemaResponse,
// RecordsResponse, or a raw passthrough wire.BackendMessage (ParseComplete,
// BindComplete, ParameterDescription, NoData, CommandComplete with no rows,
// PortalSuspended, ReadyForQuery, ...).
type Response interface{}

// ActiveConnection is the per-client state of spec.md §4.7: a lazily
// acquired backend handle, the FIFO queue of not-yet-drained extended-query
// operations, and the schema cache populated by Describe and drained by
// Execute.
type ActiveConnection struct {
	mu      sync.Mutex
	conn    *pool.PooledConn
	reader  *wire.Reader
	writer  *wire.Writer
	pending []pendingOp
	schemas []batch.Schema
}

// Resolver multiplexes many ActiveConnections over one backend Pool.
type Resolver struct {
	pool *pool.Pool

	mu          sync.Mutex
	connections map[uuid.UUID]*ActiveConnection
}

// New returns a Resolver drawing backend connections from p.
func New(p *pool.Pool) *Resolver {
	return &Resolver{pool: p, connections: make(map[uuid.UUID]*ActiveConnection)}
}

// Initialize registers clientID with no backend handle yet acquired.
func (r *Resolver) Initialize(clientID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[clientID]; !ok {
		r.connections[clientID] = &ActiveConnection{}
	}
}

func (r *Resolver) get(clientID uuid.UUID) (*ActiveConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ac, ok := r.connections[clientID]
	if !ok {
		return nil, fmt.Errorf("resolver: unknown client %s", clientID)
	}
	return ac, nil
}

// ensure acquires a backend connection for ac on first use, per spec.md
// §4.7's "connection (acquired lazily on first op)".
func (r *Resolver) ensure(ctx context.Context, ac *ActiveConnection) error {
	if ac.conn != nil {
		return nil
	}
	pc, err := r.pool.Acquire(ctx)
	if err != nil {
		return pgerror.ResolveIO(err)
	}
	ac.conn = pc
	ac.reader = wire.NewReader(pc.Conn())
	ac.writer = wire.NewWriter(pc.Conn())
	return nil
}

// Query implements the simple-query path: forward SimpleQuery, then read
// backend messages until ReadyForQuery, accumulating RowDescription fields
// and DataRows into a RecordBatch.
func (r *Resolver) Query(ctx context.Context, clientID uuid.UUID, sql string) (*batch.RecordBatch, string, error) {
	ac, err := r.get(clientID)
	if err != nil {
		return nil, "", err
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if err := r.ensure(ctx, ac); err != nil {
		return nil, "", err
	}
	if err := wire.WriteFrontend(ac.writer, wire.SimpleQuery{SQL: sql}); err != nil {
		return nil, "", pgerror.ResolveIO(err)
	}
	if err := ac.writer.Flush(); err != nil {
		return nil, "", pgerror.ResolveIO(err)
	}

	var fields []wire.Field
	var rows []wire.DataRow
	var tag string
	var queryErr error

	for {
		msg, err := wire.ReadBackend(ac.reader)
		if err != nil {
			return nil, "", pgerror.ResolveIO(err)
		}
		switch m := msg.(type) {
		case wire.RowDescription:
			fields = m.Fields
		case wire.DataRow:
			rows = append(rows, m)
		case wire.CommandComplete:
			tag = m.Tag
		case wire.EmptyQueryResponse:
		case wire.ErrorResponse:
			queryErr = fmt.Errorf("upstream error: %s", m.Message())
		case wire.ReadyForQuery:
			if queryErr != nil {
				return nil, "", pgerror.ResolveIO(queryErr)
			}
			b, err := batch.FromWire(fields, rows)
			if err != nil {
				return nil, "", err
			}
			return b, tag, nil
		}
	}
}

// Parse forwards a Parse message and enqueues the matching pending op. It
// MUST NOT read from the backend: the backend defers its response to Sync.
func (r *Resolver) Parse(ctx context.Context, clientID uuid.UUID, msg wire.Parse) error {
	return r.forwardAndEnqueue(ctx, clientID, msg, opParse)
}

// Describe forwards a Describe message and enqueues the matching pending op.
func (r *Resolver) Describe(ctx context.Context, clientID uuid.UUID, msg wire.Describe) error {
	return r.forwardAndEnqueue(ctx, clientID, msg, opDescribe)
}

// Bind forwards a Bind message and enqueues the matching pending op.
func (r *Resolver) Bind(ctx context.Context, clientID uuid.UUID, msg wire.Bind) error {
	return r.forwardAndEnqueue(ctx, clientID, msg, opBind)
}

// Execute forwards an Execute message and enqueues the matching pending op.
func (r *Resolver) Execute(ctx context.Context, clientID uuid.UUID, msg wire.Execute) error {
	return r.forwardAndEnqueue(ctx, clientID, msg, opExecute)
}

func (r *Resolver) forwardAndEnqueue(ctx context.Context, clientID uuid.UUID, msg wire.FrontendMessage, kind opKind) error {
	ac, err := r.get(clientID)
	if err != nil {
		return err
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if err := r.ensure(ctx, ac); err != nil {
		return err
	}
	if err := wire.WriteFrontend(ac.writer, msg); err != nil {
		return pgerror.ResolveIO(err)
	}
	if err := ac.writer.Flush(); err != nil {
		return pgerror.ResolveIO(err)
	}
	ac.pending = append(ac.pending, pendingOp{kind: kind})
	return nil
}

// Close forwards a Close message and reads exactly one backend response
// (CloseComplete).
func (r *Resolver) Close(ctx context.Context, clientID uuid.UUID, msg wire.Close) error {
	ac, err := r.get(clientID)
	if err != nil {
		return err
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if err := r.ensure(ctx, ac); err != nil {
		return err
	}
	if err := wire.WriteFrontend(ac.writer, msg); err != nil {
		return pgerror.ResolveIO(err)
	}
	if err := ac.writer.Flush(); err != nil {
		return pgerror.ResolveIO(err)
	}
	if _, err := wire.ReadBackend(ac.reader); err != nil {
		return pgerror.ResolveIO(err)
	}
	return nil
}

// Sync forwards a Sync message, then drains the backend's response to every
// queued operation strictly in submission order, finally consuming the
// terminal ReadyForQuery and clearing the pending queue.
func (r *Resolver) Sync(ctx context.Context, clientID uuid.UUID) ([]Response, error) {
	ac, err := r.get(clientID)
	if err != nil {
		return nil, err
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if err := r.ensure(ctx, ac); err != nil {
		return nil, err
	}
	if err := wire.WriteFrontend(ac.writer, wire.SyncMessage{}); err != nil {
		return nil, pgerror.ResolveIO(err)
	}
	if err := ac.writer.Flush(); err != nil {
		return nil, pgerror.ResolveIO(err)
	}

	var out []Response
	for _, op := range ac.pending {
		switch op.kind {
		case opParse:
			msg, err := wire.ReadBackend(ac.reader)
			if err != nil {
				return nil, pgerror.ResolveIO(err)
			}
			out = append(out, msg)
		case opBind:
			msg, err := wire.ReadBackend(ac.reader)
			if err != nil {
				return nil, pgerror.ResolveIO(err)
			}
			out = append(out, msg)
		case opDescribe:
			resp, err := r.drainDescribe(ac)
			if err != nil {
				return nil, err
			}
			out = append(out, resp...)
		case opExecute:
			resp, err := r.drainExecute(ac)
			if err != nil {
				return nil, err
			}
			out = append(out, resp...)
		}
	}

	rfq, err := wire.ReadBackend(ac.reader)
	if err != nil {
		return nil, pgerror.ResolveIO(err)
	}
	out = append(out, rfq)
	ac.pending = nil
	return out, nil
}

// drainDescribe consumes zero or more ParameterDescription messages
// (emitted as-is), then either a RowDescription (pushing its schema onto
// the cache and emitting a SchemaResponse) or a NoData.
func (r *Resolver) drainDescribe(ac *ActiveConnection) ([]Response, error) {
	var out []Response
	for {
		msg, err := wire.ReadBackend(ac.reader)
		if err != nil {
			return nil, pgerror.ResolveIO(err)
		}
		switch m := msg.(type) {
		case wire.ParameterDescription:
			out = append(out, m)
			continue
		case wire.RowDescription:
			schema := make(batch.Schema, len(m.Fields))
			copy(schema, m.Fields)
			ac.schemas = append(ac.schemas, schema)
			out = append(out, SchemaResponse{Schema: schema})
			return out, nil
		case wire.NoData:
			out = append(out, m)
			return out, nil
		default:
			return nil, fmt.Errorf("resolver: unexpected message %T while draining describe", m)
		}
	}
}

// drainExecute consumes zero or more DataRow messages terminated by
// CommandComplete or PortalSuspended. If a schema was cached by an earlier
// Describe, it is popped and a RecordsResponse is emitted instead of raw
// DataRows.
func (r *Resolver) drainExecute(ac *ActiveConnection) ([]Response, error) {
	var rows []wire.DataRow
	for {
		msg, err := wire.ReadBackend(ac.reader)
		if err != nil {
			return nil, pgerror.ResolveIO(err)
		}
		switch m := msg.(type) {
		case wire.DataRow:
			rows = append(rows, m)
			continue
		case wire.CommandComplete:
			return r.finishExecute(ac, rows, &m, nil)
		case wire.PortalSuspended:
			return r.finishExecute(ac, rows, nil, &m)
		default:
			return nil, fmt.Errorf("resolver: unexpected message %T while draining execute", m)
		}
	}
}

func (r *Resolver) finishExecute(ac *ActiveConnection, rows []wire.DataRow, complete *wire.CommandComplete, suspended *wire.PortalSuspended) ([]Response, error) {
	var out []Response
	if len(ac.schemas) > 0 {
		schema := ac.schemas[0]
		ac.schemas = ac.schemas[1:]
		b, err := batch.FromWire(schema, rows)
		if err != nil {
			return nil, err
		}
		tag := ""
		if complete != nil {
			tag = complete.Tag
		}
		out = append(out, RecordsResponse{Batch: b, Tag: tag})
	} else if len(rows) > 0 {
		return nil, fmt.Errorf("resolver: execute produced rows with no cached schema")
	}
	if complete != nil {
		out = append(out, *complete)
	}
	if suspended != nil {
		out = append(out, *suspended)
	}
	return out, nil
}

// Terminate drops the client's backend handle, returning it to the pool.
func (r *Resolver) Terminate(clientID uuid.UUID) {
	r.mu.Lock()
	ac, ok := r.connections[clientID]
	delete(r.connections, clientID)
	r.mu.Unlock()
	if !ok {
		return
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.conn == nil {
		return
	}
	if len(ac.pending) > 0 {
		// Mid-Sync handle: state is indeterminate, must not be recycled
		// (spec.md §5's cancellation rule).
		ac.conn.Discard()
		return
	}
	ac.conn.Return()
}
