package websocket

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDialUpgrade(t *testing.T) {
	t.Parallel()

	accepted := make(chan net.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var s net.Conn
	select {
	case s = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not accept")
	}
	defer s.Close()

	// two writes read back as one stream
	if _, err = c.Write([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if _, err = c.Write([]byte("broker")); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 12)
	if _, err = io.ReadFull(s, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello broker" {
		t.Fatal(string(buf))
	}

	if _, err = s.Write([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	small := make([]byte, 2)
	if n, err := c.Read(small); err != nil || n != 2 {
		t.Fatal(n, err)
	}
	if n, err := c.Read(small); err != nil || n != 1 || small[0] != 3 {
		t.Fatal(n, err)
	}
}

func TestUpgradeRejectsOtherProtocols(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Upgrade(w, r)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotAcceptable {
		t.Fatal(resp.Status)
	}
}
