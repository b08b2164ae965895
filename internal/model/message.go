package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Message types
const (
	Notify        = 'N'
	Register      = 'R'
	Unregister    = 'U'
	NotSet        = '~'
	Command       = 'C'
	Anonymous     = 'A'
	Null          = '.'
	Data          = 'i'
	Poison        = 'K'
	Welcome       = 'W'
	ServerRequest = 'Q'
)

// Data types
const (
	Double = 'D'
	String = 'S'
	Binary = 'B'
)

// ServerRequestID is the msgID carried by server requests and their replies.
const ServerRequestID = -2

// SkewTolerance in seconds between a message time stamp and local time.
const SkewTolerance = 5

const (
	intSize    = 4
	doubleSize = 8
)

var (
	// ErrProtocol is returned for any frame that does not decode cleanly.
	ErrProtocol = errors.New("protocol error")

	// ErrUnsupportedCompression is returned for packets with the compressed flag set.
	ErrUnsupportedCompression = errors.Wrap(ErrProtocol, "compressed packets are not supported")
)

// Message is one timestamped variable update, or a control message, exchanged with the broker.
type Message struct {
	MsgType  byte
	DataType byte
	Var      string
	ID       int32

	// Seconds since the Unix epoch.
	Time float64

	Double  float64
	Double2 float64 // always on the wire, no defined meaning

	// String or binary payload, depending on DataType.
	Payload []byte

	Source    string
	SourceAux string
	Community string

	// Set by Decode.
	Length int32

	// Playback messages are never considered skewed.
	Playback bool
}

// Now returns the current time as protocol seconds.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func stamp(t float64) float64 {
	if t == -1 {
		return Now()
	}
	return t
}

// NewNull returns an empty heartbeat message.
func NewNull() *Message {
	return &Message{
		MsgType:  Null,
		DataType: Double,
		Time:     -1,
		Double:   -1,
		Double2:  -1,
		ID:       -1,
	}
}

// NewDouble returns a numeric message. A time of -1 is replaced by the current time.
func NewDouble(msgType byte, name string, v, t float64) *Message {
	return &Message{
		MsgType:  msgType,
		DataType: Double,
		Var:      name,
		ID:       -1,
		Time:     stamp(t),
		Double:   v,
		Double2:  -1,
	}
}

// NewString returns a string message. A time of -1 is replaced by the current time.
func NewString(msgType byte, name, s string, t float64) *Message {
	return &Message{
		MsgType:  msgType,
		DataType: String,
		Var:      name,
		ID:       -1,
		Time:     stamp(t),
		Double:   -1,
		Double2:  -1,
		Payload:  []byte(s),
	}
}

// NewBinary returns a binary message. A time of -1 is replaced by the current time.
func NewBinary(msgType byte, name string, b []byte, t float64) *Message {
	return &Message{
		MsgType:  msgType,
		DataType: Binary,
		Var:      name,
		ID:       -1,
		Time:     stamp(t),
		Double:   -1,
		Double2:  -1,
		Payload:  b,
	}
}

func (m *Message) IsType(t byte) bool { return m.MsgType == t }
func (m *Message) IsDouble() bool     { return m.DataType == Double }
func (m *Message) IsString() bool     { return m.DataType == String }
func (m *Message) IsBinary() bool     { return m.DataType == Binary }

// StringData returns the payload as a string, whatever the data type.
func (m *Message) StringData() string {
	return string(m.Payload)
}

// BinaryData returns the raw payload bytes, whatever the data type.
func (m *Message) BinaryData() []byte {
	return m.Payload
}

// IsYoungerThan reports whether the message was stamped at or after t.
func (m *Message) IsYoungerThan(t float64) bool {
	return m.Time >= t
}

// IsSkewed reports whether the message time is more than SkewTolerance seconds away from now,
// along with the absolute skew.
func (m *Message) IsSkewed(now float64) (bool, float64) {
	if m.Playback {
		return false, 0
	}
	skew := math.Abs(now - m.Time)
	return skew > SkewTolerance, skew
}

func (m *Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Type=%c DataType=%c Key=%s ", m.MsgType, m.DataType, m.Var)
	switch m.DataType {
	case Double:
		fmt.Fprintf(&sb, "Data=%f ", m.Double)
	case String:
		fmt.Fprintf(&sb, "Data=%s ", m.Payload)
	case Binary:
		fmt.Fprintf(&sb, "Data=<%d bytes> ", len(m.Payload))
	}
	fmt.Fprintf(&sb, "Source=%s Time=%10.3f", m.Source, m.Time)
	return sb.String()
}

// SizeInBytes is the exact encoded size of m, including its own length prefix.
// The source aux field is only counted when aux is set.
func (m *Message) SizeInBytes(aux bool) int {
	n := 2*intSize + 2 + // msgLen, msgID, msgType, dataType
		intSize + len(m.Source) +
		intSize + len(m.Community) +
		intSize + len(m.Var) +
		3*doubleSize +
		intSize + len(m.Payload)
	if aux {
		n += intSize + len(m.SourceAux)
	}
	return n
}

// AppendMessage appends the encoded form of m to b.
func AppendMessage(b []byte, m *Message, aux bool) []byte {
	b = appendInt32(b, int32(m.SizeInBytes(aux)))
	b = appendInt32(b, m.ID)
	b = append(b, m.MsgType, m.DataType)

	b = appendString(b, m.Source)
	if aux {
		b = appendString(b, m.SourceAux)
	}
	b = appendString(b, m.Community)
	b = appendString(b, m.Var)

	b = appendFloat64(b, m.Time)
	b = appendFloat64(b, m.Double)
	b = appendFloat64(b, m.Double2)

	// string and binary payloads share the same layout
	b = appendInt32(b, int32(len(m.Payload)))
	return append(b, m.Payload...)
}

// Encode returns the encoded form of m.
func (m *Message) Encode(aux bool) []byte {
	return AppendMessage(make([]byte, 0, m.SizeInBytes(aux)), m, aux)
}

// DecodeMessage decodes one message from the start of b, returning it with the number of bytes used.
func DecodeMessage(b []byte, aux bool) (*Message, int, error) {
	d := decoder{b: b}
	m := &Message{}

	m.Length = d.int32()
	m.ID = d.int32()
	m.MsgType = d.byte()
	m.DataType = d.byte()

	m.Source = d.string()
	if aux {
		m.SourceAux = d.string()
	}
	m.Community = d.string()
	m.Var = d.string()

	m.Time = d.float64()
	m.Double = d.float64()
	m.Double2 = d.float64()

	m.Payload = d.bytes()

	if d.err != nil {
		return nil, 0, d.err
	}
	if int(m.Length) != d.off {
		return nil, 0, errors.Wrapf(ErrProtocol, "message declares %d bytes but used %d", m.Length, d.off)
	}

	return m, d.off, nil
}

// Decode is the inverse of Encode.
func Decode(b []byte, aux bool) (*Message, error) {
	m, n, err := DecodeMessage(b, aux)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, errors.Wrapf(ErrProtocol, "%d trailing bytes after message", len(b)-n)
	}
	return m, nil
}

func appendInt32(b []byte, v int32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendFloat64(b []byte, v float64) []byte {
	u := math.Float64bits(v)
	return append(b, byte(u), byte(u>>8), byte(u>>16), byte(u>>24),
		byte(u>>32), byte(u>>40), byte(u>>48), byte(u>>56))
}

func appendString(b []byte, s string) []byte {
	b = appendInt32(b, int32(len(s)))
	return append(b, s...)
}

// decoder reads little endian fields in order, keeping the first overrun.
type decoder struct {
	b   []byte
	off int
	err error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if n < 0 || len(d.b)-d.off < n {
		d.err = errors.Wrapf(ErrProtocol, "truncated message: need %d bytes at offset %d, have %d", n, d.off, len(d.b)-d.off)
		return false
	}
	return true
}

func (d *decoder) int32() int32 {
	if !d.need(intSize) {
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(d.b[d.off:]))
	d.off += intSize
	return v
}

func (d *decoder) byte() byte {
	if !d.need(1) {
		return 0
	}
	v := d.b[d.off]
	d.off++
	return v
}

func (d *decoder) float64() float64 {
	if !d.need(doubleSize) {
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(d.b[d.off:]))
	d.off += doubleSize
	return v
}

// bytes reads a length prefixed byte string. Zero length gives nil.
func (d *decoder) bytes() []byte {
	l := int(d.int32())
	if !d.need(l) || l == 0 {
		return nil
	}
	v := make([]byte, l)
	copy(v, d.b[d.off:])
	d.off += l
	return v
}

func (d *decoder) string() string {
	l := int(d.int32())
	if !d.need(l) || l == 0 {
		return ""
	}
	v := string(d.b[d.off : d.off+l])
	d.off += l
	return v
}
