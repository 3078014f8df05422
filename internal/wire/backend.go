package wire

import (
	"fmt"
)

// ReadBackend decodes a single backend message.
func ReadBackend(r *Reader) (BackendMessage, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	raw, err := r.ReadBody()
	if err != nil {
		return nil, err
	}
	d := newBody(raw)
	switch BackendTag(tag) {
	case BackendAuth:
		sub, err := d.uint32()
		if err != nil {
			return nil, err
		}
		switch sub {
		case AuthOK:
			return AuthOk{}, nil
		case AuthMD5Password:
			b, err := d.bytes(4)
			if err != nil {
				return nil, err
			}
			var salt [4]byte
			copy(salt[:], b)
			return AuthMD5{Salt: salt}, nil
		case AuthSASLCode:
			mechs := splitNulTerminated(d.remaining())
			return AuthSASL{Mechanisms: mechs}, nil
		case AuthSASLContinueCode:
			return AuthSASLContinue{Data: append([]byte(nil), d.remaining()...)}, nil
		case AuthSASLFinalCode:
			return AuthSASLFinal{Data: append([]byte(nil), d.remaining()...)}, nil
		default:
			return nil, fmt.Errorf("unsupported authentication subtype %d", sub)
		}
	case BackendParameterStatus:
		name, err := d.cstring()
		if err != nil {
			return nil, err
		}
		val, err := d.cstring()
		if err != nil {
			return nil, err
		}
		return ParameterStatus{Name: name, Value: val}, nil
	case BackendBackendKeyData:
		pid, err := d.uint32()
		if err != nil {
			return nil, err
		}
		key, err := d.uint32()
		if err != nil {
			return nil, err
		}
		return BackendKeyData{ProcessID: pid, SecretKey: key}, nil
	case BackendRowDescription:
		n, err := d.int16()
		if err != nil {
			return nil, err
		}
		fields := make([]Field, n)
		for i := range fields {
			name, err := d.cstring()
			if err != nil {
				return nil, err
			}
			tableOID, err := d.int32()
			if err != nil {
				return nil, err
			}
			colNum, err := d.int16()
			if err != nil {
				return nil, err
			}
			typeOID, err := d.int32()
			if err != nil {
				return nil, err
			}
			typLen, err := d.int16()
			if err != nil {
				return nil, err
			}
			typMod, err := d.int32()
			if err != nil {
				return nil, err
			}
			format, err := d.int16()
			if err != nil {
				return nil, err
			}
			fields[i] = Field{
				Name: name, TableOID: tableOID, ColumnNumber: colNum,
				TypeOID: typeOID, TypeLength: typLen, TypeModifier: typMod,
				Format: FieldFormat(format),
			}
		}
		return RowDescription{Fields: fields}, nil
	case BackendDataRow:
		n, err := d.int16()
		if err != nil {
			return nil, err
		}
		cols := make([][]byte, n)
		for i := range cols {
			l, err := d.int32()
			if err != nil {
				return nil, err
			}
			b, err := d.bytes(int(l))
			if err != nil {
				return nil, err
			}
			cols[i] = b
		}
		return DataRow{Columns: cols}, nil
	case BackendCommandComplete:
		tagStr, err := d.cstring()
		if err != nil {
			return nil, err
		}
		return CommandComplete{Tag: tagStr}, nil
	case BackendParseComplete:
		return ParseComplete{}, nil
	case BackendBindComplete:
		return BindComplete{}, nil
	case BackendCloseComplete:
		return CloseComplete{}, nil
	case BackendNoData:
		return NoData{}, nil
	case BackendEmptyQueryResponse:
		return EmptyQueryResponse{}, nil
	case BackendPortalSuspended:
		return PortalSuspended{}, nil
	case BackendParameterDescription:
		n, err := d.int16()
		if err != nil {
			return nil, err
		}
		oids := make([]int32, n)
		for i := range oids {
			v, err := d.int32()
			if err != nil {
				return nil, err
			}
			oids[i] = v
		}
		return ParameterDescription{OIDs: oids}, nil
	case BackendReadyForQuery:
		status, err := d.byte()
		if err != nil {
			return nil, err
		}
		return ReadyForQuery{Status: TransactionStatus(status)}, nil
	case BackendErrorResponse:
		return ErrorResponse{Fields: parseFieldMap(raw)}, nil
	case BackendNoticeResponse:
		return NoticeResponse{Fields: parseFieldMap(raw)}, nil
	default:
		return nil, fmt.Errorf("%w: %c", ErrUnknownTag, tag)
	}
}

// WriteBackend encodes a backend message for transmission to the client.
func WriteBackend(w *Writer, msg BackendMessage) error {
	switch m := msg.(type) {
	case AuthOk:
		w.frame(byte(BackendAuth))
		w.addUint32(AuthOK)
		return w.end()
	case AuthMD5:
		w.frame(byte(BackendAuth))
		w.addUint32(AuthMD5Password)
		w.addBytes(m.Salt[:])
		return w.end()
	case AuthSASL:
		w.frame(byte(BackendAuth))
		w.addUint32(AuthSASLCode)
		for _, mech := range m.Mechanisms {
			w.addCString(mech)
		}
		w.addByte(0)
		return w.end()
	case AuthSASLContinue:
		w.frame(byte(BackendAuth))
		w.addUint32(AuthSASLContinueCode)
		w.addBytes(m.Data)
		return w.end()
	case AuthSASLFinal:
		w.frame(byte(BackendAuth))
		w.addUint32(AuthSASLFinalCode)
		w.addBytes(m.Data)
		return w.end()
	case ParameterStatus:
		w.frame(byte(BackendParameterStatus))
		w.addCString(m.Name)
		w.addCString(m.Value)
		return w.end()
	case BackendKeyData:
		w.frame(byte(BackendBackendKeyData))
		w.addUint32(m.ProcessID)
		w.addUint32(m.SecretKey)
		return w.end()
	case RowDescription:
		w.frame(byte(BackendRowDescription))
		w.addInt16(int16(len(m.Fields)))
		for _, f := range m.Fields {
			w.addCString(f.Name)
			w.addInt32(f.TableOID)
			w.addInt16(f.ColumnNumber)
			w.addInt32(f.TypeOID)
			w.addInt16(f.TypeLength)
			w.addInt32(f.TypeModifier)
			w.addInt16(int16(f.Format))
		}
		return w.end()
	case DataRow:
		w.frame(byte(BackendDataRow))
		w.addInt16(int16(len(m.Columns)))
		for _, c := range m.Columns {
			w.addLenPrefixedBytes(c)
		}
		return w.end()
	case CommandComplete:
		w.frame(byte(BackendCommandComplete))
		w.addCString(m.Tag)
		return w.end()
	case ParseComplete:
		w.frame(byte(BackendParseComplete))
		return w.end()
	case BindComplete:
		w.frame(byte(BackendBindComplete))
		return w.end()
	case CloseComplete:
		w.frame(byte(BackendCloseComplete))
		return w.end()
	case NoData:
		w.frame(byte(BackendNoData))
		return w.end()
	case EmptyQueryResponse:
		w.frame(byte(BackendEmptyQueryResponse))
		return w.end()
	case PortalSuspended:
		w.frame(byte(BackendPortalSuspended))
		return w.end()
	case ParameterDescription:
		w.frame(byte(BackendParameterDescription))
		w.addInt16(int16(len(m.OIDs)))
		for _, o := range m.OIDs {
			w.addInt32(o)
		}
		return w.end()
	case ReadyForQuery:
		w.frame(byte(BackendReadyForQuery))
		w.addByte(byte(m.Status))
		return w.end()
	case ErrorResponse:
		w.frame(byte(BackendErrorResponse))
		writeFieldMap(w, m.Fields)
		return w.end()
	case NoticeResponse:
		w.frame(byte(BackendNoticeResponse))
		writeFieldMap(w, m.Fields)
		return w.end()
	default:
		return fmt.Errorf("unsupported backend message type %T", msg)
	}
}

func splitNulTerminated(data []byte) []string {
	var out []string
	start := 0
	for i, b := range data {
		if b == 0 {
			if i > start {
				out = append(out, string(data[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

// parseFieldMap decodes an Error/NoticeResponse body: a sequence of
// {code byte, c-string value} pairs terminated by a zero byte.
func parseFieldMap(raw []byte) map[byte]string {
	fields := map[byte]string{}
	d := newBody(raw)
	for {
		code, err := d.byte()
		if err != nil || code == 0 {
			break
		}
		val, err := d.cstring()
		if err != nil {
			break
		}
		fields[code] = val
	}
	return fields
}

func writeFieldMap(w *Writer, fields map[byte]string) {
	for code, val := range fields {
		w.addByte(code)
		w.addCString(val)
	}
	w.addByte(0)
}

// EncodeMD5Password formats the NUL-terminated ASCII "md5<32hex>" wire payload.
func EncodeMD5Password(hexDigest string) PasswordMessage {
	return PasswordMessage{Payload: append([]byte("md5"+hexDigest), 0)}
}
