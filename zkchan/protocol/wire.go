// Package protocol implements the protocol driver (C8): the pair of
// state machines that drive a net.Conn through the Establish, Activate,
// Unlink, Pay, and Close wire frames against a customer.Core or
// merchant.Core, mirroring peer.go's read/dispatch-loop shape one
// sub-protocol at a time instead of lnwire's always-on message loop.
package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

// maxFrameBytes bounds a single frame's JSON payload so a misbehaving or
// confused peer can't make RecvFrame allocate without limit.
const maxFrameBytes = 1 << 20

// FrameConn implements the wire layer every Establish/Activate/Pay message
// uses: a 4-byte big-endian length prefix followed by a JSON array of
// hex-encoded byte strings, one element per logical field of the frame.
// Struct-valued fields (a ChannelToken, a State) are JSON-marshaled first
// and the resulting bytes hex-encoded like any other field; FrameConn
// itself never interprets a field's contents.
type FrameConn struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewFrameConn wraps an already-dialed or already-accepted connection.
func NewFrameConn(conn net.Conn) *FrameConn {
	return &FrameConn{conn: conn, r: bufio.NewReader(conn)}
}

// SendFrame writes one frame with fields in order.
func (f *FrameConn) SendFrame(fields ...[]byte) error {
	hexFields := make([]string, len(fields))
	for i, b := range fields {
		hexFields[i] = hex.EncodeToString(b)
	}
	payload, err := json.Marshal(hexFields)
	if err != nil {
		return fmt.Errorf("protocol: marshal frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := f.conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("protocol: write frame length: %w", err)
	}
	if _, err := f.conn.Write(payload); err != nil {
		return fmt.Errorf("protocol: write frame payload: %w", err)
	}
	return nil
}

// RecvFrame blocks for the next frame and returns its fields in order.
func (f *FrameConn) RecvFrame() ([][]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(f.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("protocol: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("protocol: frame of %d bytes exceeds %d byte limit", n, maxFrameBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return nil, fmt.Errorf("protocol: read frame payload: %w", err)
	}
	var hexFields []string
	if err := json.Unmarshal(payload, &hexFields); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal frame: %w", err)
	}
	out := make([][]byte, len(hexFields))
	for i, h := range hexFields {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("protocol: decode frame field %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// Close closes the underlying connection.
func (f *FrameConn) Close() error { return f.conn.Close() }

// marshalJSONField is SendFrame's helper for struct-valued fields (a
// ChannelToken, a State) that need JSON encoding before hex encoding.
func marshalJSONField(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// unmarshalJSONField is RecvFrame's counterpart to marshalJSONField.
func unmarshalJSONField(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}

// wantFields errors if got != want, the shared guard every driver step
// runs before indexing into a received frame's fields.
func wantFields(frameName string, got, want int) error {
	if got != want {
		return fmt.Errorf("protocol: %s frame carried %d fields, want %d", frameName, got, want)
	}
	return nil
}
