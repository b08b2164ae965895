// Package websocket carries the broker byte stream over binary websocket messages.
package websocket

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Subprotocol is offered by Dial and required by Upgrade.
const Subprotocol = "moos"

var dialer = websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 10 * time.Second,
	Subprotocols:     []string{Subprotocol},
	ReadBufferSize:   64 * 1024,
	WriteBufferSize:  64 * 1024,
}

var upgrader = websocket.Upgrader{
	Subprotocols: []string{Subprotocol},
	CheckOrigin:  func(*http.Request) bool { return true },
}

// Dial opens a websocket to url, e.g. "ws://localhost:9000/", and returns it as a net.Conn.
func Dial(ctx context.Context, url string) (net.Conn, error) {
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket dial %s: %s", url, resp.Status)
		}
		return nil, errors.Wrapf(err, "websocket dial %s", url)
	}

	return &wsConn{Conn: conn}, nil
}

// Upgrade accepts a websocket connection on the server side.
func Upgrade(w http.ResponseWriter, r *http.Request) (net.Conn, error) {
	if protos := websocket.Subprotocols(r); len(protos) == 0 || protos[0] != Subprotocol {
		errMsg := "websocket client not supported. Must offer subprotocol " + Subprotocol
		log.Debug(errMsg, " Client sub protocols:", protos)
		http.Error(w, errMsg, http.StatusNotAcceptable)
		return nil, errors.New(errMsg)
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unsuccessful websocket negotiation")
	}

	return &wsConn{Conn: conn}, nil
}

type wsConn struct {
	*websocket.Conn
	r io.Reader
}

func (c *wsConn) Write(p []byte) (int, error) {
	err := c.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read returns bytes of consecutive binary messages as one stream.
func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			var err error
			var mt int
			if mt, c.r, err = c.NextReader(); err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				c.r = nil
				return 0, errors.New("not binary message")
			}
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetWriteDeadline(t); err != nil {
		return err
	}
	return c.SetReadDeadline(t)
}
