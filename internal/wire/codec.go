package wire

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/mitchellh/mapstructure"
	"github.com/ugorji/go/codec"
)

// DefaultMaxMessageSize is the sanity ceiling on a single framed message:
// connections that exceed it are dropped.
const DefaultMaxMessageSize = 1 << 20 // 1 MiB

// jsonHandle is shared, read-only after init, and safe for concurrent use
// by multiple encoders/decoders (ugorji's own guidance for JsonHandle).
var jsonHandle = func() *codec.JsonHandle {
	h := new(codec.JsonHandle)
	h.Canonical = true
	return h
}()

// ErrLineTooLong is surfaced when an incoming frame exceeds the configured
// ceiling; the caller must close the connection.
var ErrLineTooLong = bufio.ErrTooLong

// Decoder splits an incoming byte stream into newline-terminated frames,
// retaining a per-connection buffer across partial reads. This is the wire
// codec: framing only, no interpretation of message content.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r with a line-oriented frame splitter. maxSize bounds a
// single frame; DefaultMaxMessageSize is used when maxSize <= 0.
func NewDecoder(r io.Reader, maxSize int) *Decoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxSize)
	scanner.Split(bufio.ScanLines)
	return &Decoder{scanner: scanner}
}

// Next returns the next complete frame (without its trailing newline). It
// returns ok=false at EOF or on a fatal framing error (check Err()).
func (d *Decoder) Next() (frame []byte, ok bool) {
	if !d.scanner.Scan() {
		return nil, false
	}
	return d.scanner.Bytes(), true
}

// Err reports the terminal error, if any, after Next returns false. A nil
// Err with ok=false means a clean EOF.
func (d *Decoder) Err() error {
	return d.scanner.Err()
}

// Encoder writes one framed JSON message per Encode call.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w. Callers typically pass a *bufio.Writer and Flush it
// themselves after a batch of Encode calls, or a plain net.Conn for one-off
// sends.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v (which must carry its own "type" field, e.g. the map
// WithType returns) as canonical JSON followed by '\n'.
func (e *Encoder) Encode(v interface{}) error {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, jsonHandle)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := e.w.Write(buf.Bytes())
	return err
}

// envelope is decoded first, generically, to discover a frame's type before
// dispatching to a typed struct.
type envelope struct {
	Type string `json:"type"`
}

// Decoded is a frame that has been identified by type, with its full field
// set still available for typed extraction via Into.
type Decoded struct {
	Type   string
	fields map[string]interface{}
}

// DecodeFrame parses a single frame into its generic field map and reads
// out the "type" discriminator. Malformed JSON is reported as an error; the
// caller logs and skips the line without closing the connection.
func DecodeFrame(frame []byte) (Decoded, error) {
	var env envelope
	dec := codec.NewDecoderBytes(frame, jsonHandle)
	if err := dec.Decode(&env); err != nil {
		return Decoded{}, err
	}
	if env.Type == "" {
		return Decoded{}, errors.New("wire: message missing \"type\" field")
	}

	fields := map[string]interface{}{}
	dec2 := codec.NewDecoderBytes(frame, jsonHandle)
	if err := dec2.Decode(&fields); err != nil {
		return Decoded{}, err
	}

	return Decoded{Type: env.Type, fields: fields}, nil
}

// Into decodes the frame's fields into dst, a pointer to one of the typed
// structs in messages.go.
func (d Decoded) Into(dst interface{}) error {
	return mapstructure.Decode(d.fields, dst)
}

// WithType tags a payload struct with its wire type for encoding. Payload
// structs don't carry a "type" field themselves (it would collide with the
// mapstructure decode path on the way in), so encoding merges it in.
func WithType(msg Message) map[string]interface{} {
	fields, err := encodeToMap(msg)
	if err != nil {
		fields = map[string]interface{}{}
	}
	fields["type"] = msg.Type()
	return fields
}

// encodeToMap marshals v with the shared JSON handle and unmarshals it back
// into a generic map, giving us the same field names/omitempty behavior the
// wire uses for decoding.
func encodeToMap(v interface{}) (map[string]interface{}, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, jsonHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	dec := codec.NewDecoderBytes(buf.Bytes(), jsonHandle)
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
