package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	c := Default()
	if c.Server.Host != DefaultHost || c.Server.Port != DefaultPort || c.Server.Transport != TCP {
		t.Fatal(c.Server)
	}
	if c.Name != DefaultName || c.Frequency != DefaultFrequency || c.KeepAliveMS != 1000 {
		t.Fatal(c.Name, c.Frequency, c.KeepAliveMS)
	}
	if c.Queue.OutboxMax != DefaultOutboxMax || c.Queue.InboxMax != DefaultInboxMax || c.Queue.Evict != "newest" {
		t.Fatal(c.Queue)
	}
	if c.Handshake.TimeoutMS != 15000 || c.Handshake.PollMS != 300 || c.ReconnectPauseMS != 200 {
		t.Fatal(c.Handshake, c.ReconnectPauseMS)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	var c Config
	err := c.LoadFromFile(writeConfig(t, `{
		"server": {"host": "10.0.0.2", "port": 9001, "transport": "ws"},
		"name": "pLogger",
		"frequency": 250,
		"queue": {"outbox_max": 20, "evict": "Oldest"},
		"no_reconnect": true,
		"log": {"level": "debug"}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if c.Server.Host != "10.0.0.2" || c.Server.Port != 9001 || c.Server.Transport != Websocket || c.Server.WSPath != "/" {
		t.Fatal(c.Server)
	}
	if c.Name != "pLogger" || c.Frequency != MaxFrequency || c.KeepAliveMS != 1000 {
		t.Fatal(c.Name, c.Frequency, c.KeepAliveMS)
	}
	if c.Queue.OutboxMax != 20 || c.Queue.InboxMax != DefaultInboxMax || c.Queue.Evict != "oldest" {
		t.Fatal(c.Queue)
	}
	if !c.NoReconnect || c.Log.Level != "debug" {
		t.Fatal(c.NoReconnect, c.Log)
	}
}

func TestInvalid(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		`{"name": "has space"}`,
		`{"server": {"host": "bad host"}}`,
		`{"server": {"port": 70000}}`,
		`{"server": {"transport": "udp"}}`,
		`{"queue": {"evict": "random"}}`,
		`{"log": {"level": "loud"}}`,
		`{"name": `,
	} {
		var c Config
		if err := c.LoadFromFile(writeConfig(t, body)); err == nil {
			t.Fatal("accepted", body)
		}
	}

	var c Config
	if err := c.LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("loaded missing file")
	}
}

func TestClampFrequency(t *testing.T) {
	t.Parallel()

	for in, exp := range map[float64]float64{-3: 1, 0: 1, 0.05: 0.05, 0.5: 0.5, 1: 1, 20: 20, 100: 100, 1000: 100} {
		if got := ClampFrequency(in); got != exp {
			t.Fatal(in, got)
		}
	}
}
