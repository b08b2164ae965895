package gomoos

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/RoanBrand/gomoos/internal/model"
	"github.com/pkg/errors"
)

const readChunk = 32 * 1024

// link is a broker connection that the I/O loop can poll without blocking.
// A pump goroutine performs the blocking reads and hands chunks over.
type link struct {
	conn net.Conn

	rx      chan []byte
	rxErr   chan error
	done    chan struct{}
	pending []byte
	err     error

	closeOnce sync.Once
	pumped    sync.WaitGroup
}

func newLink(conn net.Conn) *link {
	l := &link{
		conn:  conn,
		rx:    make(chan []byte, 16),
		rxErr: make(chan error, 1),
		done:  make(chan struct{}),
	}
	l.pumped.Add(1)
	go l.pump()
	return l
}

func (l *link) pump() {
	defer l.pumped.Done()
	for {
		b := make([]byte, readChunk)
		n, err := l.conn.Read(b)
		if n > 0 {
			select {
			case l.rx <- b[:n]:
			case <-l.done:
				return
			}
		}
		if err != nil {
			l.rxErr <- err
			return
		}
	}
}

// tryRead copies already received bytes into p. It returns 0 and no error when nothing is available.
func (l *link) tryRead(p []byte) (int, error) {
	if len(l.pending) == 0 {
		select {
		case b := <-l.rx:
			l.pending = b
		default:
			if l.err == nil {
				select {
				case l.err = <-l.rxErr:
				default:
				}
			}
			if l.err != nil {
				// data received before the failure is delivered first
				select {
				case b := <-l.rx:
					l.pending = b
				default:
					return 0, l.err
				}
			}
			if len(l.pending) == 0 {
				return 0, nil
			}
		}
	}

	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

func (l *link) close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
		l.pumped.Wait()
	})
	return err
}

// writeAll writes b in full, within timeout.
func (l *link) writeAll(b []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := l.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return connError("set write deadline", err)
		}
	}
	for len(b) > 0 {
		n, err := l.conn.Write(b)
		if err != nil {
			return connError("write", err)
		}
		b = b[n:]
	}
	return nil
}

// readPacket drains available bytes into r until a packet completes.
// It returns false when no packet is available yet. A partial packet that stalls for
// longer than stall is left in r, to be continued on the next call.
func (l *link) readPacket(r *model.Reassembler, stall time.Duration) (bool, error) {
	var waited time.Duration
	for {
		n, err := l.tryRead(r.Want())
		if err != nil {
			if err == io.EOF {
				return false, errors.Wrap(ErrConnection, "connection closed by broker")
			}
			return false, connError("read", err)
		}

		if n == 0 {
			if !r.Started() || waited >= stall {
				return false, nil
			}
			time.Sleep(time.Millisecond)
			waited += time.Millisecond
			continue
		}

		rem, err := r.Commit(n)
		if err != nil {
			return false, err
		}
		if rem == 0 {
			return true, nil
		}
	}
}
