package gomoos

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RoanBrand/gomoos/internal/config"
	"github.com/RoanBrand/gomoos/internal/model"
	"github.com/RoanBrand/gomoos/internal/queue"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// State of the connection to the broker.
type State int32

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// Client keeps a connection to a MOOS broker, publishing and subscribing to variables.
// A background loop owns the socket: it connects, handshakes, sends queued messages,
// collects received ones and reconnects after failures.
// Config must not be modified once the client is running; use the setters instead.
type Client struct {
	config.Config

	// OnProblem is called from the I/O loop with every error that ends a connection cycle.
	OnProblem func(err error)
	// OnInfo is called from the I/O loop on connection state changes.
	OnInfo func(msg string)

	// Metrics is optional.
	Metrics *Metrics

	lock      sync.Mutex
	link      *link
	state     State
	outbox    queue.Outbox
	inbox     queue.Inbox
	subs      map[string]float64
	pubs      map[string]struct{}
	pubOrder  []string
	nextID    int32
	lastSent  time.Time
	skew      float64
	community string
	started   time.Time

	enabled   bool
	manual    bool // connected by Connect; the loop skips its first connect
	autoRecon bool
	cancel    context.CancelFunc
	done      chan struct{}

	store        registryStore
	afterIterate func()

	rx model.Reassembler // loop only
}

// NewClient returns a client with default settings.
func NewClient() *Client {
	c := &Client{
		Config: config.Default(),
		subs:   make(map[string]float64),
		pubs:   make(map[string]struct{}),
	}
	c.autoRecon = !c.NoReconnect
	c.outbox.Init(c.Queue.OutboxMax, queue.EvictNewest)
	c.inbox.Init(c.Queue.InboxMax)
	c.rx.Reset()
	return c
}

// NewClientFromFile returns a client configured from a JSON config file.
func NewClientFromFile(path string) (*Client, error) {
	c := NewClient()
	if err := c.LoadFromFile(path); err != nil {
		return nil, errors.Wrap(ErrConfiguration, err.Error())
	}
	c.autoRecon = !c.NoReconnect
	return c, nil
}

// SetName sets the name announced to the broker. Names with whitespace are rejected.
func (c *Client) SetName(name string) error {
	if name == "" || config.HasSpace(name) {
		return errors.Wrapf(ErrConfiguration, "invalid name %q", name)
	}
	c.lock.Lock()
	c.Config.Name = name
	c.lock.Unlock()
	return nil
}

func (c *Client) Name() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.Config.Name
}

// SetFundamentalFrequency sets the I/O loop rate in Hz, clamped to (0, 100].
// The heartbeat interval becomes one loop period.
func (c *Client) SetFundamentalFrequency(hz float64) {
	hz = config.ClampFrequency(hz)
	c.lock.Lock()
	c.Frequency = hz
	c.KeepAliveMS = int64(1000 / hz)
	c.lock.Unlock()
}

func (c *Client) FundamentalFrequency() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.Frequency
}

// SetAutoReconnect controls whether the loop reconnects after losing the broker.
func (c *Client) SetAutoReconnect(on bool) {
	c.lock.Lock()
	c.autoRecon = on
	c.lock.Unlock()
}

func (c *Client) period() time.Duration {
	c.lock.Lock()
	defer c.lock.Unlock()
	return time.Duration(float64(time.Second) / c.Frequency)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// IsConnected reports whether the handshake completed and the connection is up.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// IsEnabled reports whether the background loop is running or about to.
func (c *Client) IsEnabled() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.enabled
}

// Skew is the clock offset reported by the broker at the last handshake, in seconds.
func (c *Client) Skew() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.skew
}

// Community is the broker's community name from the last handshake.
func (c *Client) Community() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.community
}

func (c *Client) OutboxEmpty() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.outbox.Len() == 0
}

func (c *Client) IsRegisteredFor(name string) bool {
	c.lock.Lock()
	_, ok := c.subs[name]
	c.lock.Unlock()
	return ok
}

// Subscriptions returns the registered variable names, sorted.
func (c *Client) Subscriptions() []string {
	c.lock.Lock()
	names := make([]string, 0, len(c.subs))
	for n := range c.subs {
		names = append(names, n)
	}
	c.lock.Unlock()
	sort.Strings(names)
	return names
}

// Publications returns every variable name notified so far, in first notify order.
func (c *Client) Publications() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string(nil), c.pubOrder...)
}

// Post queues m for the next send. The source is replaced with the client name, unless
// PreserveSource is set and m is a NOTIFY. Returns false if there is no connection.
func (c *Client) Post(m *Message) bool {
	c.lock.Lock()
	ok := c.post(m)
	c.lock.Unlock()
	return ok
}

func (c *Client) post(m *Message) bool {
	if c.link == nil {
		return false
	}

	if !c.PreserveSource || m.MsgType != model.Notify {
		m.Source = c.Config.Name
	}
	if m.MsgType == model.ServerRequest {
		m.ID = model.ServerRequestID
	} else {
		m.ID = c.nextID
		c.nextID++
	}

	if evicted := c.outbox.Add(m); evicted != nil {
		log.WithFields(log.Fields{
			"Name": c.Config.Name,
			"Var":  evicted.Var,
			"err":  ErrQueueOverflow,
		}).Warn("Outbox full, dropped message")
		c.Metrics.evicted("outbox", 1)
	}
	c.Metrics.outboxDepth(c.outbox.Len())
	return true
}

// Notify publishes a numeric value. A time of -1 means now.
func (c *Client) Notify(name string, v, t float64) bool {
	return c.NotifyMessage(model.NewDouble(model.Notify, name, v, t))
}

// NotifyString publishes a string value. A time of -1 means now.
func (c *Client) NotifyString(name, s string, t float64) bool {
	return c.NotifyMessage(model.NewString(model.Notify, name, s, t))
}

// NotifyBinary publishes a binary value. A time of -1 means now.
func (c *Client) NotifyBinary(name string, b []byte, t float64) bool {
	return c.NotifyMessage(model.NewBinary(model.Notify, name, b, t))
}

// NotifyAux publishes a numeric value with an auxiliary source.
func (c *Client) NotifyAux(name string, v float64, aux string, t float64) bool {
	m := model.NewDouble(model.Notify, name, v, t)
	m.SourceAux = aux
	return c.NotifyMessage(m)
}

// NotifyStringAux publishes a string value with an auxiliary source.
func (c *Client) NotifyStringAux(name, s, aux string, t float64) bool {
	m := model.NewString(model.Notify, name, s, t)
	m.SourceAux = aux
	return c.NotifyMessage(m)
}

// NotifyBinaryAux publishes a binary value with an auxiliary source.
func (c *Client) NotifyBinaryAux(name string, b []byte, aux string, t float64) bool {
	m := model.NewBinary(model.Notify, name, b, t)
	m.SourceAux = aux
	return c.NotifyMessage(m)
}

// NotifyMessage publishes m, recording its variable as published.
func (c *Client) NotifyMessage(m *Message) bool {
	c.lock.Lock()
	_, known := c.pubs[m.Var]
	if !known {
		c.pubs[m.Var] = struct{}{}
		c.pubOrder = append(c.pubOrder, m.Var)
	}
	ok := c.post(m)
	st := c.store
	c.lock.Unlock()

	if !known && st != nil {
		if err := st.AddPub(m.Var); err != nil {
			log.WithFields(log.Fields{"Var": m.Var, "err": err}).Error("Unable to store publication")
		}
	}
	return ok
}

// Register subscribes to name, asking the broker for updates no more often than every
// interval seconds (0 for every update). The subscription is kept and sent again after
// every reconnect. Returns false if it could not be sent now.
func (c *Client) Register(name string, interval float64) bool {
	m := model.NewDouble(model.Register, name, interval, 1.0)

	c.lock.Lock()
	ok := c.post(m)
	stored := ok || c.link == nil
	if stored {
		c.subs[name] = interval
	}
	st := c.store
	c.lock.Unlock()

	if stored && st != nil {
		if err := st.AddSub(name, interval); err != nil {
			log.WithFields(log.Fields{"Var": name, "err": err}).Error("Unable to store subscription")
		}
	}
	return ok
}

// Unregister cancels a subscription. Names that were never registered are ignored.
func (c *Client) Unregister(name string) bool {
	c.lock.Lock()
	if _, ok := c.subs[name]; !ok {
		c.lock.Unlock()
		return true
	}

	ok := c.post(model.NewDouble(model.Unregister, name, 0, 0))
	removed := ok || c.link == nil
	if removed {
		delete(c.subs, name)
	}
	st := c.store
	c.lock.Unlock()

	if removed && st != nil {
		if err := st.RemoveSub(name); err != nil {
			log.WithFields(log.Fields{"Var": name, "err": err}).Error("Unable to remove stored subscription")
		}
	}
	return ok
}

// GetNewMessages removes and returns everything received since the last call,
// newest packet first. Messages within a packet keep their wire order.
func (c *Client) GetNewMessages() []*Message {
	c.lock.Lock()
	msgs := c.inbox.TakeAll()
	c.lock.Unlock()
	c.Metrics.inboxDepth(0)
	return msgs
}

// Peek removes and returns received messages with the given id, skipping NULL messages.
// With clear set everything else received is discarded too.
func (c *Client) Peek(id int32, clear bool) []*Message {
	c.lock.Lock()
	defer c.lock.Unlock()

	found := c.inbox.Extract(func(m *Message) bool {
		return m.ID == id && m.MsgType != model.Null
	})
	if clear {
		c.inbox.Reset()
	}
	return found
}

// ServerRequest asks the broker for what (e.g. "ALL", "VAR_SUMMARY") and waits up to
// timeout for the reply messages.
func (c *Client) ServerRequest(ctx context.Context, what string, timeout time.Duration) ([]*Message, error) {
	if !c.Post(model.NewString(model.ServerRequest, what, "", -1)) {
		return nil, ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "server request %q", what)
		case <-t.C:
			if msgs := c.Peek(model.ServerRequestID, false); len(msgs) > 0 {
				return msgs, nil
			}
		}
	}
}

func (c *Client) problem(err error) {
	if c.OnProblem != nil {
		c.OnProblem(err)
	}
}

func (c *Client) info(msg string) {
	if c.OnInfo != nil {
		c.OnInfo(msg)
	}
}
