// Package wire implements byte-exact encoding and decoding of the
// PostgreSQL v3 frontend/backend wire protocol.
package wire

// StartupCode identifies the first int32 of a startup packet.
type StartupCode uint32

const (
	StartupVersion30  StartupCode = 196608    // 0x00030000
	StartupCancel     StartupCode = 80877102
	StartupSSLRequest StartupCode = 80877103
	StartupGSSEnc     StartupCode = 80877104
)

// FrontendTag is the leading byte of a regular (post-startup) frontend message.
type FrontendTag byte

const (
	FrontendPassword    FrontendTag = 'p'
	FrontendSimpleQuery FrontendTag = 'Q'
	FrontendParse       FrontendTag = 'P'
	FrontendBind        FrontendTag = 'B'
	FrontendDescribe    FrontendTag = 'D'
	FrontendExecute     FrontendTag = 'E'
	FrontendSync        FrontendTag = 'S'
	FrontendClose       FrontendTag = 'C'
	FrontendFlush       FrontendTag = 'H'
	FrontendTerminate   FrontendTag = 'X'
)

// BackendTag is the leading byte of a backend message.
type BackendTag byte

const (
	BackendAuth                 BackendTag = 'R'
	BackendParameterStatus      BackendTag = 'S'
	BackendBackendKeyData       BackendTag = 'K'
	BackendReadyForQuery        BackendTag = 'Z'
	BackendRowDescription       BackendTag = 'T'
	BackendDataRow              BackendTag = 'D'
	BackendCommandComplete      BackendTag = 'C'
	BackendEmptyQueryResponse   BackendTag = 'I'
	BackendParseComplete        BackendTag = '1'
	BackendBindComplete         BackendTag = '2'
	BackendCloseComplete        BackendTag = '3'
	BackendNoData               BackendTag = 'n'
	BackendPortalSuspended      BackendTag = 's'
	BackendParameterDescription BackendTag = 't'
	BackendErrorResponse        BackendTag = 'E'
	BackendNoticeResponse       BackendTag = 'N'
)

// DescribeKind distinguishes a prepared statement from a portal.
type DescribeKind byte

const (
	DescribeStatement DescribeKind = 'S'
	DescribePortal    DescribeKind = 'P'
)

// TransactionStatus is the single byte carried by ReadyForQuery.
type TransactionStatus byte

const (
	TxIdle       TransactionStatus = 'I'
	TxInProgress TransactionStatus = 'T'
	TxFailed     TransactionStatus = 'E'
)

// FieldFormat is the per-column wire format.
type FieldFormat int16

const (
	FormatText   FieldFormat = 0
	FormatBinary FieldFormat = 1
)

// Subtype codes carried in the first uint32 of an Authentication ('R')
// backend message body. The SASL codes carry a Code suffix because
// AuthSASL, AuthSASLContinue and AuthSASLFinal name the message types.
const (
	AuthOK                uint32 = 0
	AuthCleartextPassword uint32 = 3
	AuthMD5Password       uint32 = 5
	AuthSASLCode          uint32 = 10
	AuthSASLContinueCode  uint32 = 11
	AuthSASLFinalCode     uint32 = 12
)
