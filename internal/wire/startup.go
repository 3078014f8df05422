package wire

import (
	"encoding/binary"
	"fmt"
)

// ReadStartup reads a startup-phase packet and classifies it as a
// StartupMessage, SSLRequest, or CancelRequest per spec.md §4.1's protocol
// codes.
func ReadStartup(r *Reader) (FrontendMessage, error) {
	raw, err := r.ReadStartupBody()
	if err != nil {
		return nil, err
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("startup body too short")
	}
	code := StartupCode(binary.BigEndian.Uint32(raw[:4]))
	switch code {
	case StartupSSLRequest:
		return SSLRequest{}, nil
	case StartupGSSEnc:
		return SSLRequest{}, nil // treated identically: proxy always declines GSS
	case StartupCancel:
		if len(raw) < 12 {
			return nil, fmt.Errorf("cancel request body too short")
		}
		return CancelRequest{
			ProcessID: binary.BigEndian.Uint32(raw[4:8]),
			SecretKey: binary.BigEndian.Uint32(raw[8:12]),
		}, nil
	case StartupVersion30:
		d := newBody(raw[4:])
		params := map[string]string{}
		for {
			key, err := d.cstring()
			if err != nil {
				return nil, fmt.Errorf("decode startup params: %w", err)
			}
			if key == "" {
				break
			}
			val, err := d.cstring()
			if err != nil {
				return nil, fmt.Errorf("decode startup param value: %w", err)
			}
			params[key] = val
		}
		return StartupMessage{Parameters: params}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported startup code %d", ErrUnknownTag, code)
	}
}

// WriteStartup encodes a StartupMessage for transmission to an upstream.
func WriteStartup(w *Writer, msg StartupMessage) error {
	w.startupFrame()
	w.addUint32(uint32(StartupVersion30))
	for k, v := range msg.Parameters {
		w.addCString(k)
		w.addCString(v)
	}
	w.addByte(0)
	return w.end()
}

// WriteSSLRequest writes the special 8-byte SslRequest packet.
func WriteSSLRequest(w *Writer) error {
	w.startupFrame()
	w.addUint32(uint32(StartupSSLRequest))
	return w.end()
}
