package wire

import (
	"bytes"
	"reflect"
	"testing"
)

func roundTripBackend(t *testing.T, msg BackendMessage) BackendMessage {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := WriteBackend(w, msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	written := buf.Len()

	r := NewReader(bytes.NewReader(buf.Bytes()))
	got, err := ReadBackend(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Confirm the declared length prefix matches the bytes actually written.
	declared := int(uint32(buf.Bytes()[1])<<24 | uint32(buf.Bytes()[2])<<16 | uint32(buf.Bytes()[3])<<8 | uint32(buf.Bytes()[4]))
	if declared+1 != written {
		t.Errorf("length prefix %d does not match written bytes %d", declared+1, written)
	}
	return got
}

func roundTripFrontend(t *testing.T, msg FrontendMessage) FrontendMessage {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := WriteFrontend(w, msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	r := NewReader(bytes.NewReader(buf.Bytes()))
	got, err := ReadFrontend(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

// Scenario 1: round-trip RowDescription with a single field.
func TestRowDescriptionRoundTrip(t *testing.T) {
	msg := RowDescription{Fields: []Field{
		{Name: "test", TableOID: -1, ColumnNumber: 1, TypeOID: -1, TypeLength: -1, TypeModifier: -1, Format: -1},
	}}
	got := roundTripBackend(t, msg)
	rd, ok := got.(RowDescription)
	if !ok {
		t.Fatalf("expected RowDescription, got %T", got)
	}
	if len(rd.Fields) != 1 || rd.Fields[0] != msg.Fields[0] {
		t.Errorf("got %+v, want %+v", rd.Fields, msg.Fields)
	}
}

// Scenario 2: startup round-trip with parameters.
func TestStartupRoundTrip(t *testing.T) {
	msg := StartupMessage{Parameters: map[string]string{"user": "admin", "client_encoding": "UTF8"}}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := WriteStartup(w, msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	r := NewReader(bytes.NewReader(buf.Bytes()))
	got, err := ReadStartup(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sm, ok := got.(StartupMessage)
	if !ok {
		t.Fatalf("expected StartupMessage, got %T", got)
	}
	for k, v := range msg.Parameters {
		if sm.Parameters[k] != v {
			t.Errorf("param %s = %q, want %q", k, sm.Parameters[k], v)
		}
	}
}

// Scenario 3: Bind with one binary parameter.
func TestBindRoundTrip(t *testing.T) {
	msg := Bind{
		Portal:        "test",
		Statement:     "test",
		ParamFormats:  []FieldFormat{FormatBinary},
		Params:        [][]byte{{0x00, 0x00, 0x03, 0xEB}},
		ResultFormats: nil,
	}
	got := roundTripFrontend(t, msg)
	b, ok := got.(Bind)
	if !ok {
		t.Fatalf("expected Bind, got %T", got)
	}
	if b.Portal != msg.Portal || b.Statement != msg.Statement {
		t.Errorf("got %+v, want %+v", b, msg)
	}
	if len(b.Params) != 1 || !bytes.Equal(b.Params[0], msg.Params[0]) {
		t.Errorf("params mismatch: got %v want %v", b.Params, msg.Params)
	}
	if len(b.ParamFormats) != 1 || b.ParamFormats[0] != FormatBinary {
		t.Errorf("param formats mismatch: %v", b.ParamFormats)
	}
}

func TestDataRowWithNulls(t *testing.T) {
	msg := DataRow{Columns: [][]byte{[]byte("hello"), nil, []byte{}}}
	got := roundTripBackend(t, msg)
	dr := got.(DataRow)
	if len(dr.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(dr.Columns))
	}
	if !bytes.Equal(dr.Columns[0], []byte("hello")) {
		t.Errorf("column 0 = %v", dr.Columns[0])
	}
	if dr.Columns[1] != nil {
		t.Errorf("column 1 should be nil (NULL), got %v", dr.Columns[1])
	}
	if dr.Columns[2] == nil || len(dr.Columns[2]) != 0 {
		t.Errorf("column 2 should be empty non-null, got %v", dr.Columns[2])
	}
}

func TestReadyForQueryRoundTrip(t *testing.T) {
	for _, status := range []TransactionStatus{TxIdle, TxInProgress, TxFailed} {
		got := roundTripBackend(t, ReadyForQuery{Status: status})
		rfq := got.(ReadyForQuery)
		if rfq.Status != status {
			t.Errorf("status = %c, want %c", rfq.Status, status)
		}
	}
}

func TestErrorResponseRoundTrip(t *testing.T) {
	msg := ErrorResponse{Fields: map[byte]string{'S': "ERROR", 'C': "28P01", 'M': "password authentication failed"}}
	got := roundTripBackend(t, msg)
	er := got.(ErrorResponse)
	if er.Message() != "password authentication failed" {
		t.Errorf("message = %q", er.Message())
	}
	if er.Get('C') != "28P01" {
		t.Errorf("code = %q", er.Get('C'))
	}
}

func TestUnknownTagIsRecoverable(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte('?')
	buf.Write([]byte{0, 0, 0, 4})
	r := NewReader(&buf)
	_, err := ReadBackend(r)
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestSimpleQueryRoundTrip(t *testing.T) {
	got := roundTripFrontend(t, SimpleQuery{SQL: "SELECT 1"})
	sq := got.(SimpleQuery)
	if sq.SQL != "SELECT 1" {
		t.Errorf("sql = %q", sq.SQL)
	}
}

func TestParseDescribeExecuteCloseSyncRoundTrip(t *testing.T) {
	cases := []FrontendMessage{
		Parse{Statement: "s1", SQL: "SELECT $1", ParamOIDs: []int32{23}},
		Describe{Kind: DescribeStatement, Name: "s1"},
		Execute{Portal: "p1", RowLimit: 0},
		Close{Kind: DescribePortal, Name: "p1"},
		SyncMessage{},
		Terminate{},
	}
	for _, c := range cases {
		got := roundTripFrontend(t, c)
		if !reflect.DeepEqual(got, c) {
			t.Errorf("got %+v, want %+v", got, c)
		}
	}
}
