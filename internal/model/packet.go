package model

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Packet header: int32 length (including header), int32 message count, byte compressed flag.
const HeaderSize = 2*intSize + 1

// ProtocolString opens every connection, zero padded to PreambleSize.
const (
	ProtocolString = "ELKS CAN'T DANCE 2/8/10"
	PreambleSize   = 32
)

// MaxPacketSize is the largest packet a Reassembler accepts.
const MaxPacketSize = 10000000

// Preamble returns the protocol announcement sent before the handshake.
func Preamble() []byte {
	p := make([]byte, PreambleSize)
	copy(p, ProtocolString)
	return p
}

// PacketSize is the encoded size of a packet holding msgs.
func PacketSize(msgs []*Message, aux bool) int {
	n := HeaderSize
	for _, m := range msgs {
		n += m.SizeInBytes(aux)
	}
	return n
}

// AppendPacket appends one packet containing msgs, in order, to b.
func AppendPacket(b []byte, msgs []*Message, aux bool) []byte {
	b = appendInt32(b, int32(PacketSize(msgs, aux)))
	b = appendInt32(b, int32(len(msgs)))
	b = append(b, 0) // never compressed
	for _, m := range msgs {
		b = AppendMessage(b, m, aux)
	}
	return b
}

// BuildPacket returns a packet containing msgs.
func BuildPacket(msgs []*Message, aux bool) []byte {
	return AppendPacket(make([]byte, 0, PacketSize(msgs, aux)), msgs, aux)
}

// DecodePacket returns the messages of one complete packet in wire order.
func DecodePacket(p []byte, aux bool) ([]*Message, error) {
	if len(p) < HeaderSize {
		return nil, errors.Wrapf(ErrProtocol, "packet of %d bytes is shorter than its header", len(p))
	}
	l := int(int32(binary.LittleEndian.Uint32(p)))
	count := int(int32(binary.LittleEndian.Uint32(p[intSize:])))
	if l != len(p) {
		return nil, errors.Wrapf(ErrProtocol, "packet declares %d bytes, got %d", l, len(p))
	}
	if p[2*intSize] != 0 {
		return nil, ErrUnsupportedCompression
	}
	if count < 0 {
		return nil, errors.Wrapf(ErrProtocol, "negative message count %d", count)
	}

	msgs := make([]*Message, 0, count)
	off := HeaderSize
	for i := 0; i < count; i++ {
		m, n, err := DecodeMessage(p[off:], aux)
		if err != nil {
			return nil, errors.WithMessagef(err, "message %d of %d", i+1, count)
		}
		off += n
		msgs = append(msgs, m)
	}
	if off != len(p) {
		return nil, errors.Wrapf(ErrProtocol, "%d trailing bytes after %d messages", len(p)-off, count)
	}

	return msgs, nil
}

// Reassembler collects packet bytes arriving in arbitrary chunks.
// It first gathers the length prefix, then the rest of the packet.
type Reassembler struct {
	buf  []byte
	need int
	body bool
}

// Reset discards any partial packet.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.need = intSize
	r.body = false
}

// Started reports whether any bytes of the next packet have arrived.
func (r *Reassembler) Started() bool {
	return len(r.buf) > 0
}

// Remaining is the number of bytes still needed for the current stage.
func (r *Reassembler) Remaining() int {
	if r.need == 0 && !r.body {
		return intSize
	}
	return r.need - len(r.buf)
}

// Want returns the slice the next read should fill. Its length is exactly Remaining.
func (r *Reassembler) Want() []byte {
	if r.need == 0 && !r.body {
		r.need = intSize
	}
	if cap(r.buf) < r.need {
		nb := make([]byte, len(r.buf), r.need)
		copy(nb, r.buf)
		r.buf = nb
	}
	return r.buf[len(r.buf):r.need]
}

// Commit accepts n bytes written into the slice from Want and returns how many more are needed.
// Zero means a whole packet is available from Packet.
func (r *Reassembler) Commit(n int) (int, error) {
	if n > r.Remaining() {
		return 0, errors.Errorf("commit of %d bytes exceeds %d remaining", n, r.Remaining())
	}
	r.buf = r.buf[:len(r.buf)+n]
	if len(r.buf) < r.need {
		return r.need - len(r.buf), nil
	}
	if r.body {
		return 0, nil
	}

	l := int(int32(binary.LittleEndian.Uint32(r.buf)))
	if l < HeaderSize {
		return 0, errors.Wrapf(ErrProtocol, "packet length %d is shorter than its header", l)
	}
	if l > MaxPacketSize {
		return 0, errors.Wrapf(ErrProtocol, "packet length %d exceeds maximum of %d", l, MaxPacketSize)
	}
	r.need = l
	r.body = true
	return r.need - len(r.buf), nil
}

// Feed copies as much of p as the current packet needs. It returns the number of bytes
// consumed and the number still needed.
func (r *Reassembler) Feed(p []byte) (int, int, error) {
	consumed := 0
	for len(p) > 0 {
		w := r.Want()
		if len(w) == 0 {
			break
		}
		n := copy(w, p)
		rem, err := r.Commit(n)
		if err != nil {
			return consumed, 0, err
		}
		consumed += n
		p = p[n:]
		if rem == 0 {
			break
		}
	}
	return consumed, r.Remaining(), nil
}

// Packet returns the completed packet. It is valid until the next Reset.
func (r *Reassembler) Packet() []byte {
	if !r.body || len(r.buf) != r.need {
		return nil
	}
	return r.buf
}
