package session

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/anonproxy/pganonproxy/internal/batch"
	"github.com/anonproxy/pganonproxy/internal/pgconn"
	"github.com/anonproxy/pganonproxy/internal/pgerror"
	"github.com/anonproxy/pganonproxy/internal/projection"
	"github.com/anonproxy/pganonproxy/internal/resolver"
	"github.com/anonproxy/pganonproxy/internal/wire"
)

// clientSession is one accepted client connection's protocol state: its
// wire codec (via pgconn.Connection), its statement/portal bookkeeping for
// origin tracing, and the ClientId under which the resolver tracks its
// pending operations.
type clientSession struct {
	server   *Server
	clientID uuid.UUID
	pgconn   *pgconn.Connection
	username string

	statementSQL    map[string]string // statement name -> SQL text
	portalStatement map[string]string // portal name -> statement name

	describeQueue []string // SQL text per pending Describe, FIFO with resolver's pending queue
	executeQueue  []string // SQL text per pending Execute, FIFO with resolver's pending queue
}

func newClientSession(s *Server, conn net.Conn) *clientSession {
	return &clientSession{
		server:          s,
		clientID:        uuid.New(),
		pgconn:          pgconn.NewConnection(conn),
		statementSQL:    make(map[string]string),
		portalStatement: make(map[string]string),
	}
}

// run drives one client connection end to end: startup/TLS negotiation,
// MD5 authentication, then the message dispatch loop.
func (cs *clientSession) run(ctx context.Context) error {
	params, err := cs.negotiateStartup()
	if err != nil {
		return err
	}
	user := params["user"]
	if user == "" {
		return pgerror.ErrMissingUserParameter
	}
	cs.username = user

	if err := cs.authenticate(user); err != nil {
		if cs.server.metrics != nil {
			cs.server.metrics.AuthFailure()
		}
		return err
	}

	cs.server.resolver.Initialize(cs.clientID)
	if err := wire.WriteBackend(cs.pgconn.Writer(), wire.ReadyForQuery{Status: wire.TxIdle}); err != nil {
		return err
	}
	if err := cs.pgconn.Writer().Flush(); err != nil {
		return err
	}

	return cs.dispatchLoop(ctx)
}

// negotiateStartup reads the first startup-phase message, delegating the
// TLS upgrade handshake (spec.md §4.2) to pgconn.Connection, and returns
// the eventual Startup's parameters.
func (cs *clientSession) negotiateStartup() (map[string]string, error) {
	msg, err := cs.pgconn.NegotiateServerTLS(cs.server.tlsConfig)
	if err != nil {
		return nil, err
	}
	start, ok := msg.(wire.StartupMessage)
	if !ok {
		return nil, fmt.Errorf("expected StartupMessage, got %T", msg)
	}
	return start.Parameters, nil
}

// authenticate runs the MD5 challenge-response described in spec.md §4.8
// against the configured credential for user.
func (cs *clientSession) authenticate(user string) error {
	cred, ok := cs.server.cfg.FindCredential(user)
	if !ok {
		return pgerror.IncorrectPassword()
	}

	var salt [4]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fmt.Errorf("generating auth salt: %w", err)
	}
	if err := wire.WriteBackend(cs.pgconn.Writer(), wire.AuthMD5{Salt: salt}); err != nil {
		return err
	}
	if err := cs.pgconn.Writer().Flush(); err != nil {
		return err
	}

	msg, err := wire.ReadFrontend(cs.pgconn.Reader())
	if err != nil {
		return fmt.Errorf("reading password message: %w", err)
	}
	pw, ok := msg.(wire.PasswordMessage)
	if !ok {
		return fmt.Errorf("expected PasswordMessage, got %T", msg)
	}

	want := clientMD5Digest(user, cred.Password, salt[:])
	if strings.TrimRight(string(pw.Payload), "\x00") != want {
		return pgerror.IncorrectPassword()
	}
	return wire.WriteBackend(cs.pgconn.Writer(), wire.AuthOk{})
}

// clientMD5Digest computes "md5"+md5(md5(password+user)+salt), the same
// formula the pool uses to authenticate to the upstream, applied here in
// the opposite direction (proxy authenticating a client).
func clientMD5Digest(user, password string, salt []byte) string {
	h1 := md5.Sum([]byte(password + user))
	hex1 := hex.EncodeToString(h1[:])
	h2 := md5.Sum(append([]byte(hex1), salt...))
	return "md5" + hex.EncodeToString(h2[:])
}

// dispatchLoop implements spec.md §4.8 step 3: the per-message switch that
// routes SimpleQuery through the resolver's query path, extended-query
// messages through the resolver's pending-op path, and Sync through the
// resolver's ordered drain, applying the transformer pipeline to every
// Schema/Records response before re-encoding to the client.
func (cs *clientSession) dispatchLoop(ctx context.Context) error {
	for {
		msg, err := wire.ReadFrontend(cs.pgconn.Reader())
		if err != nil {
			return fmt.Errorf("reading frontend message: %w", err)
		}

		switch m := msg.(type) {
		case wire.Terminate:
			cs.server.resolver.Terminate(cs.clientID)
			return nil

		case wire.SimpleQuery:
			if err := cs.handleSimpleQuery(ctx, m.SQL); err != nil {
				return err
			}

		case wire.Parse:
			cs.statementSQL[m.Statement] = m.SQL
			if err := cs.server.resolver.Parse(ctx, cs.clientID, m); err != nil {
				return err
			}

		case wire.Describe:
			cs.describeQueue = append(cs.describeQueue, cs.sqlFor(m.Kind, m.Name))
			if err := cs.server.resolver.Describe(ctx, cs.clientID, m); err != nil {
				return err
			}

		case wire.Bind:
			cs.portalStatement[m.Portal] = m.Statement
			if err := cs.server.resolver.Bind(ctx, cs.clientID, m); err != nil {
				return err
			}

		case wire.Execute:
			cs.executeQueue = append(cs.executeQueue, cs.sqlFor(wire.DescribePortal, m.Portal))
			if err := cs.server.resolver.Execute(ctx, cs.clientID, m); err != nil {
				return err
			}

		case wire.Close:
			if err := cs.server.resolver.Close(ctx, cs.clientID, m); err != nil {
				return err
			}
			if m.Kind == wire.DescribeStatement {
				delete(cs.statementSQL, m.Name)
			} else {
				delete(cs.portalStatement, m.Name)
			}
			if err := wire.WriteBackend(cs.pgconn.Writer(), wire.CloseComplete{}); err != nil {
				return err
			}
			if err := cs.pgconn.Writer().Flush(); err != nil {
				return err
			}

		case wire.SyncMessage:
			if err := cs.handleSync(ctx); err != nil {
				return err
			}

		case wire.FlushMessage:
			// No buffered responses to flush early; nothing to do.

		default:
			return fmt.Errorf("unsupported frontend message %T in dispatch loop", m)
		}
	}
}

// sqlFor resolves the SQL text behind a statement or portal name, used to
// compute projection origins for Describe/Execute.
func (cs *clientSession) sqlFor(kind wire.DescribeKind, name string) string {
	if kind == wire.DescribeStatement {
		return cs.statementSQL[name]
	}
	return cs.statementSQL[cs.portalStatement[name]]
}

func (cs *clientSession) handleSimpleQuery(ctx context.Context, sql string) error {
	b, tag, err := cs.server.resolver.Query(ctx, cs.clientID, sql)
	if err != nil {
		return err
	}

	origins := cs.traceOrPassthrough(sql, b.Schema)
	out, _, err := cs.server.pipeline.ApplyRecords(b, origins)
	if err != nil {
		return err
	}

	rd, rows := batch.ToWire(out)
	if err := wire.WriteBackend(cs.pgconn.Writer(), rd); err != nil {
		return err
	}
	for _, row := range rows {
		if err := wire.WriteBackend(cs.pgconn.Writer(), row); err != nil {
			return err
		}
	}
	if err := wire.WriteBackend(cs.pgconn.Writer(), wire.CommandComplete{Tag: tag}); err != nil {
		return err
	}
	if err := wire.WriteBackend(cs.pgconn.Writer(), wire.ReadyForQuery{Status: wire.TxIdle}); err != nil {
		return err
	}
	return cs.pgconn.Writer().Flush()
}

func (cs *clientSession) handleSync(ctx context.Context) error {
	responses, err := cs.server.resolver.Sync(ctx, cs.clientID)
	if err != nil {
		return err
	}

	for _, resp := range responses {
		switch r := resp.(type) {
		case resolver.SchemaResponse:
			sql := cs.popDescribeSQL()
			origins := cs.traceOrPassthrough(sql, r.Schema)
			outSchema, err := cs.server.pipeline.ApplySchema(r.Schema, origins)
			if err != nil {
				return err
			}
			if err := wire.WriteBackend(cs.pgconn.Writer(), wire.RowDescription{Fields: outSchema}); err != nil {
				return err
			}

		case resolver.RecordsResponse:
			sql := cs.popExecuteSQL()
			origins := cs.traceOrPassthrough(sql, r.Batch.Schema)
			out, _, err := cs.server.pipeline.ApplyRecords(r.Batch, origins)
			if err != nil {
				return err
			}
			_, rows := batch.ToWire(out)
			for _, row := range rows {
				if err := wire.WriteBackend(cs.pgconn.Writer(), row); err != nil {
					return err
				}
			}

		case wire.BackendMessage:
			if err := wire.WriteBackend(cs.pgconn.Writer(), r); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unexpected resolver response %T", r)
		}
	}
	return cs.pgconn.Writer().Flush()
}

func (cs *clientSession) popDescribeSQL() string {
	if len(cs.describeQueue) == 0 {
		return ""
	}
	sql := cs.describeQueue[0]
	cs.describeQueue = cs.describeQueue[1:]
	return sql
}

func (cs *clientSession) popExecuteSQL() string {
	if len(cs.executeQueue) == 0 {
		return ""
	}
	sql := cs.executeQueue[0]
	cs.executeQueue = cs.executeQueue[1:]
	return sql
}

// traceOrPassthrough traces sql's projection origins against fields,
// falling back to passthrough origins (spec.md §4.8: "if the SQL cannot be
// parsed or origins cannot be traced, the transformer falls back to
// passthrough with a warning") whenever tracing returns an error; the error
// is logged.
func (cs *clientSession) traceOrPassthrough(sql string, fields []wire.Field) []projection.Origin {
	origins, err := projection.Trace(sql, fields)
	if err != nil {
		log.Printf("[session] projection trace failed, passing columns through: %v", err)
		return passthroughOrigins(len(fields))
	}
	return origins
}

func passthroughOrigins(n int) []projection.Origin {
	origins := make([]projection.Origin, n)
	for i := range origins {
		origins[i] = projection.Origin{Kind: projection.KindValue}
	}
	return origins
}
