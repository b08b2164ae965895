package model

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

func testMessages() []*Message {
	return []*Message{
		NewDouble(Notify, "DEPTH", 12.5, 1000),
		NewString(Notify, "MODE", "SURVEY", 1001),
		NewBinary(Notify, "BLOB", []byte{9, 8, 7}, 1002),
		NewNull(),
	}
}

func TestPacketRoundTrip(t *testing.T) {
	t.Parallel()

	msgs := testMessages()
	p := BuildPacket(msgs, true)
	if len(p) != PacketSize(msgs, true) {
		t.Fatalf("packet size %d, expected %d", len(p), PacketSize(msgs, true))
	}

	got, err := DecodePacket(p, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(got))
	}
	for i := range msgs {
		if !sameMessage(msgs[i], got[i]) {
			t.Fatalf("message %d:\n%s\n%s", i, msgs[i], got[i])
		}
	}

	empty, err := DecodePacket(BuildPacket(nil, true), true)
	if err != nil || len(empty) != 0 {
		t.Fatal(empty, err)
	}
}

func TestPacketCompressed(t *testing.T) {
	t.Parallel()

	p := BuildPacket(testMessages(), true)
	p[8] = 1
	_, err := DecodePacket(p, true)
	if err != ErrUnsupportedCompression || !errors.Is(err, ErrProtocol) {
		t.Fatal(err)
	}
}

func TestPacketValidation(t *testing.T) {
	t.Parallel()

	p := BuildPacket(testMessages(), true)

	// count larger than content
	bad := append([]byte(nil), p...)
	bad[4]++
	if _, err := DecodePacket(bad, true); !errors.Is(err, ErrProtocol) {
		t.Fatal(err)
	}

	// count smaller than content
	bad = append([]byte(nil), p...)
	bad[4]--
	if _, err := DecodePacket(bad, true); !errors.Is(err, ErrProtocol) {
		t.Fatal(err)
	}

	if _, err := DecodePacket(p[:len(p)-1], true); !errors.Is(err, ErrProtocol) {
		t.Fatal(err)
	}
	if _, err := DecodePacket(p[:5], true); !errors.Is(err, ErrProtocol) {
		t.Fatal(err)
	}

	// aux mismatch must not decode silently
	if _, err := DecodePacket(p, false); !errors.Is(err, ErrProtocol) {
		t.Fatal(err)
	}
}

func feedAll(t *testing.T, stream []byte, chunk func() int) [][]*Message {
	t.Helper()

	var r Reassembler
	r.Reset()
	var out [][]*Message
	for len(stream) > 0 {
		n := chunk()
		if n > len(stream) {
			n = len(stream)
		}
		c := stream[:n]
		stream = stream[n:]
		for len(c) > 0 {
			used, rem, err := r.Feed(c)
			if err != nil {
				t.Fatal(err)
			}
			c = c[used:]
			if rem == 0 && r.Packet() != nil {
				msgs, err := DecodePacket(r.Packet(), true)
				if err != nil {
					t.Fatal(err)
				}
				out = append(out, msgs)
				r.Reset()
			}
		}
	}
	if r.Started() {
		t.Fatal("partial packet left over")
	}
	return out
}

func TestReassemblerChunks(t *testing.T) {
	t.Parallel()

	var stream []byte
	for i := 0; i < 5; i++ {
		stream = AppendPacket(stream, testMessages()[:i], true)
	}

	whole := feedAll(t, stream, func() int { return len(stream) })
	one := feedAll(t, stream, func() int { return 1 })
	rnd := rand.New(rand.NewSource(1))
	random := feedAll(t, stream, func() int { return 1 + rnd.Intn(40) })

	for _, got := range [][][]*Message{one, random} {
		if len(got) != len(whole) {
			t.Fatalf("expected %d packets, got %d", len(whole), len(got))
		}
		for i := range whole {
			if len(got[i]) != len(whole[i]) {
				t.Fatalf("packet %d: expected %d messages, got %d", i, len(whole[i]), len(got[i]))
			}
			for j := range whole[i] {
				if !sameMessage(whole[i][j], got[i][j]) {
					t.Fatalf("packet %d message %d differs", i, j)
				}
			}
		}
	}
}

func TestReassemblerWant(t *testing.T) {
	t.Parallel()

	p := BuildPacket(testMessages(), false)

	var r Reassembler
	r.Reset()
	if r.Started() || r.Remaining() != 4 {
		t.Fatal(r.Remaining())
	}

	w := r.Want()
	if len(w) != 4 {
		t.Fatal(len(w))
	}
	copy(w, p[:2])
	if rem, err := r.Commit(2); err != nil || rem != 2 || !r.Started() {
		t.Fatal(rem, err)
	}
	copy(r.Want(), p[2:4])
	rem, err := r.Commit(2)
	if err != nil || rem != len(p)-4 {
		t.Fatal(rem, err)
	}
	if r.Packet() != nil {
		t.Fatal("packet available early")
	}

	copy(r.Want(), p[4:])
	if rem, err = r.Commit(len(p) - 4); err != nil || rem != 0 {
		t.Fatal(rem, err)
	}
	if _, err = DecodePacket(r.Packet(), false); err != nil {
		t.Fatal(err)
	}
}

func TestReassemblerBadLength(t *testing.T) {
	t.Parallel()

	var r Reassembler
	r.Reset()
	if _, _, err := r.Feed([]byte{4, 0, 0, 0}); !errors.Is(err, ErrProtocol) {
		t.Fatal(err)
	}

	r.Reset()
	if _, _, err := r.Feed([]byte{0xFF, 0xFF, 0xFF, 0x7F}); !errors.Is(err, ErrProtocol) {
		t.Fatal(err)
	}
}

func TestPreamble(t *testing.T) {
	t.Parallel()

	p := Preamble()
	if len(p) != PreambleSize || string(p[:len(ProtocolString)]) != ProtocolString {
		t.Fatal(p)
	}
	for _, b := range p[len(ProtocolString):] {
		if b != 0 {
			t.Fatal("preamble not zero padded")
		}
	}
}
