package gomoos

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/RoanBrand/gomoos/internal/model"
	"github.com/pkg/errors"
)

// fakeBroker accepts clients on a loopback socket and speaks just enough of the broker side
// of the protocol: it checks the preamble, answers the hello packet and records the rest.
type fakeBroker struct {
	l       net.Listener
	respond func(hello *model.Message) []*model.Message

	sessions chan *brokerSession
	errs     chan error

	lock  sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

type brokerSession struct {
	conn  net.Conn
	hello *model.Message
	rx    chan *model.Message
}

func welcome(skew float64) func(*model.Message) []*model.Message {
	return func(*model.Message) []*model.Message {
		w := model.NewDouble(model.Welcome, "", skew, -1)
		w.Community = "testcommunity"
		return []*model.Message{w}
	}
}

// newFakeBroker listens on loopback. A nil respond welcomes every client with a skew of 0.02.
func newFakeBroker(t *testing.T, respond func(hello *model.Message) []*model.Message) *fakeBroker {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if respond == nil {
		respond = welcome(0.02)
	}

	b := &fakeBroker{
		l:        l,
		respond:  respond,
		sessions: make(chan *brokerSession, 16),
		errs:     make(chan error, 16),
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			b.serve(conn)
		}
	}()

	t.Cleanup(b.close)
	return b
}

func (b *fakeBroker) addr() (string, int) {
	host, port, _ := net.SplitHostPort(b.l.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

func (b *fakeBroker) close() {
	b.l.Close()
	b.lock.Lock()
	for _, c := range b.conns {
		c.Close()
	}
	b.lock.Unlock()
	b.wg.Wait()
}

// serve runs the broker side of one connection in the background.
func (b *fakeBroker) serve(conn net.Conn) {
	b.lock.Lock()
	b.conns = append(b.conns, conn)
	b.lock.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer conn.Close()

		s := &brokerSession{conn: conn, rx: make(chan *model.Message, 1024)}

		pre := make([]byte, model.PreambleSize)
		if _, err := io.ReadFull(conn, pre); err != nil {
			b.errs <- err
			return
		}
		if !bytes.Equal(pre, model.Preamble()) {
			b.errs <- errors.Errorf("bad preamble % x", pre)
			return
		}

		hello, err := s.readPacket()
		if err != nil {
			b.errs <- err
			return
		}
		if len(hello) != 1 {
			b.errs <- errors.Errorf("hello packet with %d messages", len(hello))
			return
		}
		s.hello = hello[0]
		b.sessions <- s

		if reply := b.respond(s.hello); len(reply) > 0 {
			if err = s.send(reply...); err != nil {
				return
			}
		}

		for {
			msgs, err := s.readPacket()
			if err != nil {
				close(s.rx)
				return
			}
			for _, m := range msgs {
				s.rx <- m
			}
		}
	}()
}

func (b *fakeBroker) nextSession(t *testing.T) *brokerSession {
	t.Helper()
	select {
	case s := <-b.sessions:
		return s
	case err := <-b.errs:
		t.Fatal(err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client to connect")
	}
	return nil
}

func (s *brokerSession) readPacket() ([]*model.Message, error) {
	var r model.Reassembler
	r.Reset()
	for {
		w := r.Want()
		if _, err := io.ReadFull(s.conn, w); err != nil {
			return nil, err
		}
		rem, err := r.Commit(len(w))
		if err != nil {
			return nil, err
		}
		if rem == 0 {
			return model.DecodePacket(r.Packet(), true)
		}
	}
}

func (s *brokerSession) send(msgs ...*model.Message) error {
	_, err := s.conn.Write(model.BuildPacket(msgs, true))
	return err
}

// next returns the next message that is not a heartbeat.
func (s *brokerSession) next(t *testing.T) *model.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m, ok := <-s.rx:
			if !ok {
				t.Fatal("client connection closed")
			}
			if m.MsgType != model.Null {
				return m
			}
		case <-timeout:
			t.Fatal("timed out waiting for message from client")
		}
	}
}

// collect gathers all non heartbeat messages arriving within d.
func (s *brokerSession) collect(d time.Duration) []*model.Message {
	var msgs []*model.Message
	timeout := time.After(d)
	for {
		select {
		case m, ok := <-s.rx:
			if !ok {
				return msgs
			}
			if m.MsgType != model.Null {
				msgs = append(msgs, m)
			}
		case <-timeout:
			return msgs
		}
	}
}
