// SPDX-License-Identifier: MIT

// Package chunked converts unbounded logical messages into fragments that
// fit the negotiated unit size of a peer link, and reassembles the inbound
// direction. Message boundaries use an escaped end marker so any byte
// sequence is a legal payload.
package chunked

import (
	"bytes"
	"fmt"
)

const (
	endMarker = 0xC0
	escByte   = 0xDB
	escEnd    = 0xDC
	escEsc    = 0xDD
)

// FramingError reports a violation of the chunked message protocol. It
// aborts the current message or prepared-write set, never the connection.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "chunked: " + e.Reason
}

func framingErrorf(format string, args ...any) *FramingError {
	return &FramingError{Reason: fmt.Sprintf(format, args...)}
}

// Frame applies the reversible end-marker transform: in-band marker and
// escape bytes are escaped, then the marker is appended. An empty payload
// frames to just the marker.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	for _, b := range payload {
		switch b {
		case endMarker:
			out = append(out, escByte, escEnd)
		case escByte:
			out = append(out, escByte, escEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, endMarker)
}

// Unframe reverses Frame for exactly one framed message.
func Unframe(framed []byte) ([]byte, error) {
	if len(framed) == 0 || framed[len(framed)-1] != endMarker {
		return nil, framingErrorf("message lacks end marker")
	}
	return unescape(framed[:len(framed)-1])
}

func unescape(body []byte) ([]byte, error) {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case endMarker:
			return nil, framingErrorf("unescaped end marker inside message")
		case escByte:
			i++
			if i >= len(body) {
				return nil, framingErrorf("truncated escape sequence")
			}
			switch body[i] {
			case escEnd:
				out = append(out, endMarker)
			case escEsc:
				out = append(out, escByte)
			default:
				return nil, framingErrorf("invalid escape 0x%02x", body[i])
			}
		default:
			out = append(out, body[i])
		}
	}
	return out, nil
}

// extractMessage returns the first complete unframed message in buf and the
// bytes following it. found is false while the accumulator holds only a
// partial message. A decode error consumes the malformed message so the
// stream can resynchronise at the next marker.
func extractMessage(buf []byte) (msg, rest []byte, found bool, err error) {
	idx := bytes.IndexByte(buf, endMarker)
	if idx < 0 {
		return nil, buf, false, nil
	}
	rest = buf[idx+1:]
	msg, err = unescape(buf[:idx])
	if err != nil {
		return nil, rest, false, err
	}
	return msg, rest, true, nil
}
