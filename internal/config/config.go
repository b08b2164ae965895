package config

import (
	"encoding/json"
	"os"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Defaults
const (
	DefaultHost             = "localhost"
	DefaultPort             = 9000
	DefaultName             = "GoMOOSConnector"
	DefaultFrequency        = 5
	DefaultOutboxMax        = 500
	DefaultInboxMax         = 1000
	DefaultHandshakeTimeout = 15000
	DefaultHandshakePoll    = 300
	DefaultReconnectPause   = 200
	DefaultReadStall        = 1000
	DefaultWriteTimeout     = 5000
	DefaultStatusPeriod     = 2000

	MaxFrequency = 100
)

// Transports
const (
	TCP       = "tcp"
	Websocket = "ws"
)

type Config struct {
	// Server is the broker to connect to.
	// Transport is "tcp" (default) or "ws", in which case packets travel as binary websocket
	// messages to ws://host:port/WSPath.
	Server struct {
		Host      string `json:"host"`
		Port      int    `json:"port"`
		Transport string `json:"transport"`
		WSPath    string `json:"ws_path"`
	} `json:"server"`

	// Name identifies this client to the broker and is the source of everything it posts.
	// Must not contain whitespace. Default "GoMOOSConnector".
	Name string `json:"name"`

	// Fundamental frequency of the I/O loop in Hz, within (0, 100]. Default 5.
	Frequency float64 `json:"frequency"`

	// If nothing was sent for this long, a NULL heartbeat is sent. Default 1000ms.
	KeepAliveMS int64 `json:"keep_alive_ms"`

	// Queue bounds. When the outbox overflows, Evict decides whether the "newest" (default)
	// or "oldest" message is dropped. An inbox that exceeds its bound is emptied.
	Queue struct {
		OutboxMax int    `json:"outbox_max"`
		InboxMax  int    `json:"inbox_max"`
		Evict     string `json:"evict"`
	} `json:"queue"`

	// Handshake waits TimeoutMS for the broker's welcome, checking every PollMS.
	// Defaults 15000 and 300.
	Handshake struct {
		TimeoutMS int64 `json:"timeout_ms"`
		PollMS    int64 `json:"poll_ms"`
	} `json:"handshake"`

	// Pause between a lost connection and the next attempt. Default 200ms.
	ReconnectPauseMS int64 `json:"reconnect_pause_ms"`

	// Stop the client after the first lost connection instead of reconnecting.
	NoReconnect bool `json:"no_reconnect"`

	// Keep the source of posted NOTIFY messages instead of replacing it with Name.
	PreserveSource bool `json:"preserve_source"`

	// Leave out the source aux field on the wire, for brokers that predate it.
	NoAuxSource bool `json:"no_aux_source"`

	// How long a partially received packet may stall before the loop gives up until the next tick.
	// Default 1000ms.
	ReadStallMS int64 `json:"read_stall_ms"`

	// Write deadline for each packet sent. Default 5000ms.
	WriteTimeoutMS int64 `json:"write_timeout_ms"`

	// Period of the <NAME>_STATUS publication of an event server. Default 2000ms.
	StatusPeriodMS int64 `json:"status_period_ms"`

	// Time stamps are playback time, so messages are never considered skewed.
	Playback bool `json:"playback"`

	// Store optionally persists subscriptions and published variable names in Dir across restarts.
	Store struct {
		Dir string `json:"dir"`
	} `json:"store"`

	// Metrics optionally serves Prometheus metrics and client status on Address, in the form "host:port".
	Metrics struct {
		Address string `json:"address"`
	} `json:"metrics"`

	// Log configures optional log output file as well as the log level setting.
	Log struct {
		File  string `json:"file"`
		Level string `json:"level"`
	} `json:"log"`
}

// Default returns a Config with every default filled in.
func Default() Config {
	var c Config
	c.Validate()
	return c
}

func (c *Config) LoadFromFile(fPath string) error {
	f, err := os.Open(fPath)
	if err != nil {
		return errors.New("error opening config file: " + err.Error())
	}

	defer f.Close()

	if err = json.NewDecoder(f).Decode(&c); err != nil {
		return errors.New("error reading config file: " + err.Error())
	}

	return c.Validate()
}

// Validate fills in defaults and rejects invalid settings.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if HasSpace(c.Server.Host) {
		return errors.Errorf("invalid server host %q", c.Server.Host)
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Server.Transport {
	case "":
		c.Server.Transport = TCP
	case TCP, Websocket:
	default:
		return errors.Errorf("unknown transport %q", c.Server.Transport)
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/"
	}

	if c.Name == "" {
		c.Name = DefaultName
	}
	if HasSpace(c.Name) {
		return errors.Errorf("invalid name %q: must not contain whitespace", c.Name)
	}

	if c.Frequency == 0 {
		c.Frequency = DefaultFrequency
	}
	c.Frequency = ClampFrequency(c.Frequency)
	if c.KeepAliveMS <= 0 {
		c.KeepAliveMS = 1000
	}

	if c.Queue.OutboxMax <= 0 {
		c.Queue.OutboxMax = DefaultOutboxMax
	}
	if c.Queue.InboxMax <= 0 {
		c.Queue.InboxMax = DefaultInboxMax
	}
	switch strings.ToLower(c.Queue.Evict) {
	case "":
		c.Queue.Evict = "newest"
	case "newest", "oldest":
		c.Queue.Evict = strings.ToLower(c.Queue.Evict)
	default:
		return errors.Errorf("unknown outbox eviction policy %q", c.Queue.Evict)
	}

	if c.Handshake.TimeoutMS <= 0 {
		c.Handshake.TimeoutMS = DefaultHandshakeTimeout
	}
	if c.Handshake.PollMS <= 0 {
		c.Handshake.PollMS = DefaultHandshakePoll
	}
	if c.ReconnectPauseMS <= 0 {
		c.ReconnectPauseMS = DefaultReconnectPause
	}
	if c.ReadStallMS <= 0 {
		c.ReadStallMS = DefaultReadStall
	}
	if c.WriteTimeoutMS <= 0 {
		c.WriteTimeoutMS = DefaultWriteTimeout
	}
	if c.StatusPeriodMS <= 0 {
		c.StatusPeriodMS = DefaultStatusPeriod
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "error", "warn", "info", "debug":
	default:
		return errors.New("unknown log level: " + c.Log.Level)
	}

	return nil
}

// ClampFrequency limits f to (0, 100] Hz. Zero and negative values give 1.
func ClampFrequency(f float64) float64 {
	if f <= 0 {
		return 1
	}
	if f > MaxFrequency {
		return MaxFrequency
	}
	return f
}

// HasSpace reports whether s contains any whitespace.
func HasSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}
