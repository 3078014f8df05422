package wire

// Field describes one column of a RowDescription, carrying the seven values
// that must round-trip through every transformation unchanged unless a
// transformer explicitly rewrites them.
type Field struct {
	Name         string
	TableOID     int32
	ColumnNumber int16
	TypeOID      int32
	TypeLength   int16
	TypeModifier int32
	Format       FieldFormat
}

// FrontendMessage is the tagged sum of client-to-server messages.
type FrontendMessage interface{ isFrontend() }

type StartupMessage struct {
	Parameters map[string]string
}

type SSLRequest struct{}

type CancelRequest struct {
	ProcessID uint32
	SecretKey uint32
}

type PasswordMessage struct {
	// Payload holds the raw password-message body: an md5 hex string for
	// MD5 auth, or a SASL response payload during SCRAM.
	Payload []byte
}

type SimpleQuery struct {
	SQL string
}

type Parse struct {
	Statement string
	SQL       string
	ParamOIDs []int32
}

type Bind struct {
	Portal        string
	Statement     string
	ParamFormats  []FieldFormat
	Params        [][]byte
	ResultFormats []FieldFormat
}

type Describe struct {
	Kind DescribeKind
	Name string
}

type Execute struct {
	Portal   string
	RowLimit int32
}

type SyncMessage struct{}

type Close struct {
	Kind DescribeKind
	Name string
}

type FlushMessage struct{}

type Terminate struct{}

func (StartupMessage) isFrontend() {}
func (SSLRequest) isFrontend()     {}
func (CancelRequest) isFrontend()  {}
func (PasswordMessage) isFrontend() {}
func (SimpleQuery) isFrontend()    {}
func (Parse) isFrontend()          {}
func (Bind) isFrontend()           {}
func (Describe) isFrontend()       {}
func (Execute) isFrontend()        {}
func (SyncMessage) isFrontend()    {}
func (Close) isFrontend()          {}
func (FlushMessage) isFrontend()   {}
func (Terminate) isFrontend()      {}

// BackendMessage is the tagged sum of server-to-client messages.
type BackendMessage interface{ isBackend() }

type AuthOk struct{}

type AuthMD5 struct {
	Salt [4]byte
}

type AuthSASL struct {
	Mechanisms []string
}

type AuthSASLContinue struct {
	Data []byte
}

type AuthSASLFinal struct {
	Data []byte
}

type ParameterStatus struct {
	Name  string
	Value string
}

type BackendKeyData struct {
	ProcessID uint32
	SecretKey uint32
}

type RowDescription struct {
	Fields []Field
}

type DataRow struct {
	// Columns holds one entry per field; nil means SQL NULL.
	Columns [][]byte
}

type CommandComplete struct {
	Tag string
}

type ParseComplete struct{}
type BindComplete struct{}
type CloseComplete struct{}
type NoData struct{}
type EmptyQueryResponse struct{}
type PortalSuspended struct{}

type ParameterDescription struct {
	OIDs []int32
}

type ReadyForQuery struct {
	Status TransactionStatus
}

// ErrorResponse/NoticeResponse carry the raw field-code -> value map, e.g.
// 'S' (severity), 'C' (sqlstate code), 'M' (message).
type ErrorResponse struct {
	Fields map[byte]string
}

type NoticeResponse struct {
	Fields map[byte]string
}

func (AuthOk) isBackend()               {}
func (AuthMD5) isBackend()              {}
func (AuthSASL) isBackend()             {}
func (AuthSASLContinue) isBackend()     {}
func (AuthSASLFinal) isBackend()        {}
func (ParameterStatus) isBackend()      {}
func (BackendKeyData) isBackend()       {}
func (RowDescription) isBackend()       {}
func (DataRow) isBackend()              {}
func (CommandComplete) isBackend()      {}
func (ParseComplete) isBackend()        {}
func (BindComplete) isBackend()         {}
func (CloseComplete) isBackend()        {}
func (NoData) isBackend()               {}
func (EmptyQueryResponse) isBackend()   {}
func (PortalSuspended) isBackend()      {}
func (ParameterDescription) isBackend() {}
func (ReadyForQuery) isBackend()        {}
func (ErrorResponse) isBackend()        {}
func (NoticeResponse) isBackend()       {}

// Get returns the value of field code c, or "" if absent.
func (e ErrorResponse) Get(c byte) string { return e.Fields[c] }

// Message returns the human-readable 'M' field, the conventional summary.
func (e ErrorResponse) Message() string { return e.Fields['M'] }
