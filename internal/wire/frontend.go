package wire

import "fmt"

// ReadFrontend decodes a single regular (post-startup) frontend message.
func ReadFrontend(r *Reader) (FrontendMessage, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	raw, err := r.ReadBody()
	if err != nil {
		return nil, err
	}
	d := newBody(raw)
	switch FrontendTag(tag) {
	case FrontendPassword:
		return PasswordMessage{Payload: append([]byte(nil), raw...)}, nil
	case FrontendSimpleQuery:
		s, err := d.cstring()
		if err != nil {
			return nil, err
		}
		return SimpleQuery{SQL: s}, nil
	case FrontendParse:
		stmt, err := d.cstring()
		if err != nil {
			return nil, err
		}
		sql, err := d.cstring()
		if err != nil {
			return nil, err
		}
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
		return Parse{Statement: stmt, SQL: sql, ParamOIDs: oids}, nil
	case FrontendBind:
		portal, err := d.cstring()
		if err != nil {
			return nil, err
		}
		stmt, err := d.cstring()
		if err != nil {
			return nil, err
		}
		nf, err := d.int16()
		if err != nil {
			return nil, err
		}
		formats := make([]FieldFormat, nf)
		for i := range formats {
			v, err := d.int16()
			if err != nil {
				return nil, err
			}
			formats[i] = FieldFormat(v)
		}
		np, err := d.int16()
		if err != nil {
			return nil, err
		}
		params := make([][]byte, np)
		for i := range params {
			l, err := d.int32()
			if err != nil {
				return nil, err
			}
			b, err := d.bytes(int(l))
			if err != nil {
				return nil, err
			}
			params[i] = b
		}
		nr, err := d.int16()
		if err != nil {
			return nil, err
		}
		results := make([]FieldFormat, nr)
		for i := range results {
			v, err := d.int16()
			if err != nil {
				return nil, err
			}
			results[i] = FieldFormat(v)
		}
		return Bind{
			Portal: portal, Statement: stmt,
			ParamFormats: formats, Params: params, ResultFormats: results,
		}, nil
	case FrontendDescribe:
		kind, err := d.byte()
		if err != nil {
			return nil, err
		}
		if DescribeKind(kind) != DescribeStatement && DescribeKind(kind) != DescribePortal {
			return nil, fmt.Errorf("%w: %c", ErrInvalidDescribeKind, kind)
		}
		name, err := d.cstring()
		if err != nil {
			return nil, err
		}
		return Describe{Kind: DescribeKind(kind), Name: name}, nil
	case FrontendExecute:
		portal, err := d.cstring()
		if err != nil {
			return nil, err
		}
		limit, err := d.int32()
		if err != nil {
			return nil, err
		}
		return Execute{Portal: portal, RowLimit: limit}, nil
	case FrontendSync:
		return SyncMessage{}, nil
	case FrontendClose:
		kind, err := d.byte()
		if err != nil {
			return nil, err
		}
		if DescribeKind(kind) != DescribeStatement && DescribeKind(kind) != DescribePortal {
			return nil, fmt.Errorf("%w: %c", ErrInvalidCloseKind, kind)
		}
		name, err := d.cstring()
		if err != nil {
			return nil, err
		}
		return Close{Kind: DescribeKind(kind), Name: name}, nil
	case FrontendFlush:
		return FlushMessage{}, nil
	case FrontendTerminate:
		return Terminate{}, nil
	default:
		return nil, fmt.Errorf("%w: %c", ErrUnknownTag, tag)
	}
}

// WriteFrontend encodes a frontend message for transmission to the upstream
// backend.
func WriteFrontend(w *Writer, msg FrontendMessage) error {
	switch m := msg.(type) {
	case StartupMessage:
		return WriteStartup(w, m)
	case PasswordMessage:
		w.frame(byte(FrontendPassword))
		w.addBytes(m.Payload)
		return w.end()
	case SimpleQuery:
		w.frame(byte(FrontendSimpleQuery))
		w.addCString(m.SQL)
		return w.end()
	case Parse:
		w.frame(byte(FrontendParse))
		w.addCString(m.Statement)
		w.addCString(m.SQL)
		w.addInt16(int16(len(m.ParamOIDs)))
		for _, o := range m.ParamOIDs {
			w.addInt32(o)
		}
		return w.end()
	case Bind:
		w.frame(byte(FrontendBind))
		w.addCString(m.Portal)
		w.addCString(m.Statement)
		w.addInt16(int16(len(m.ParamFormats)))
		for _, f := range m.ParamFormats {
			w.addInt16(int16(f))
		}
		w.addInt16(int16(len(m.Params)))
		for _, p := range m.Params {
			w.addLenPrefixedBytes(p)
		}
		w.addInt16(int16(len(m.ResultFormats)))
		for _, f := range m.ResultFormats {
			w.addInt16(int16(f))
		}
		return w.end()
	case Describe:
		w.frame(byte(FrontendDescribe))
		w.addByte(byte(m.Kind))
		w.addCString(m.Name)
		return w.end()
	case Execute:
		w.frame(byte(FrontendExecute))
		w.addCString(m.Portal)
		w.addInt32(m.RowLimit)
		return w.end()
	case SyncMessage:
		w.frame(byte(FrontendSync))
		return w.end()
	case Close:
		w.frame(byte(FrontendClose))
		w.addByte(byte(m.Kind))
		w.addCString(m.Name)
		return w.end()
	case FlushMessage:
		w.frame(byte(FrontendFlush))
		return w.end()
	case Terminate:
		w.frame(byte(FrontendTerminate))
		return w.end()
	case SSLRequest:
		return WriteSSLRequest(w)
	default:
		return fmt.Errorf("unsupported frontend message type %T", msg)
	}
}
