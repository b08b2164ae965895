package gomoos

import (
	"context"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/RoanBrand/gomoos/internal/config"
	"github.com/RoanBrand/gomoos/internal/model"
	"github.com/RoanBrand/gomoos/internal/queue"
	"github.com/RoanBrand/gomoos/internal/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	dialTimeout = 5 * time.Second
	sockBufSize = 4000000
)

var tracer = otel.Tracer("github.com/RoanBrand/gomoos")

// Connect dials the broker and completes the handshake before returning, then starts the
// background loop. Subscriptions made beforehand are sent once the loop runs.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	if c.IsEnabled() {
		return ErrRunning
	}
	if host == "" || config.HasSpace(host) {
		return errors.Wrapf(ErrConfiguration, "invalid server host %q", host)
	}
	if port < 1 || port > 65535 {
		return errors.Wrapf(ErrConfiguration, "invalid server port %d", port)
	}

	c.lock.Lock()
	c.Server.Host, c.Server.Port = host, port
	c.lock.Unlock()
	if err := c.setup(); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "moos.connect", trace.WithAttributes(c.spanAttributes()...))
	defer span.End()

	if err := c.connect(ctx); err != nil {
		return spanError(span, err)
	}
	if err := c.handshake(ctx); err != nil {
		c.closeLink()
		return spanError(span, err)
	}

	c.lock.Lock()
	c.manual = true
	c.lock.Unlock()

	return c.Enable()
}

// Enable starts the background loop, which connects and keeps reconnecting until disabled.
func (c *Client) Enable() error {
	if err := c.setup(); err != nil {
		return err
	}

	c.lock.Lock()
	if c.enabled {
		c.lock.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.enabled = true
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.lock.Unlock()

	go c.run(ctx, done)
	return nil
}

// Disable asks the background loop to stop. It does not wait; see Close.
func (c *Client) Disable() {
	c.lock.Lock()
	c.enabled = false
	if c.cancel != nil {
		c.cancel()
	}
	c.lock.Unlock()
}

// Close stops the background loop, waits for it to exit and drops the connection
// together with everything queued.
func (c *Client) Close() error {
	c.Disable()

	c.lock.Lock()
	done := c.done
	c.lock.Unlock()
	if done != nil {
		<-done
	}

	c.disconnect()
	return c.closeStore()
}

func (c *Client) setup() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.Config.Validate(); err != nil {
		return errors.Wrap(ErrConfiguration, err.Error())
	}
	evict, _ := queue.ParseEviction(c.Queue.Evict)
	c.outbox.Init(c.Queue.OutboxMax, evict)
	c.inbox.Init(c.Queue.InboxMax)
	if c.NoReconnect {
		c.autoRecon = false
	}
	if c.started.IsZero() {
		if err := c.setupLogging(); err != nil {
			return errors.Wrap(ErrConfiguration, err.Error())
		}
		c.started = time.Now()
	}

	return c.openStore()
}

func (c *Client) setupLogging() error {
	if c.Log.File != "" {
		f, err := os.OpenFile(c.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	if c.Log.Level != "" {
		switch strings.ToLower(c.Log.Level) {
		case "error":
			log.SetLevel(log.ErrorLevel)
		case "warn":
			log.SetLevel(log.WarnLevel)
		case "info":
			log.SetLevel(log.InfoLevel)
		case "debug":
			log.SetLevel(log.DebugLevel)
		default:
			return errors.New("unknown log level: " + c.Log.Level)
		}
	}

	return nil
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.disconnect()

	for c.IsEnabled() {
		if err := c.cycle(ctx); err != nil {
			log.WithFields(log.Fields{
				"Name": c.Name(),
				"err":  err,
			}).Error("Connection to broker lost")
			c.problem(err)
		}
		c.closeLink()

		if !sleep(ctx, c.ms(c.ReconnectPauseMS)) {
			return
		}

		c.lock.Lock()
		c.manual = false
		if !c.autoRecon {
			c.enabled = false
			c.lock.Unlock()
			return
		}
		c.lock.Unlock()
		c.Metrics.reconnect()
	}
}

// cycle runs one connection from connect to failure or disable.
func (c *Client) cycle(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "moos.session", trace.WithAttributes(c.spanAttributes()...))
	defer span.End()

	c.lock.Lock()
	manual := c.manual
	c.lock.Unlock()

	if !manual {
		if err := c.connect(ctx); err != nil {
			return spanError(span, err)
		}
		if err := c.handshake(ctx); err != nil {
			return spanError(span, err)
		}
	}
	c.sendRegistrations()

	for {
		if !sleep(ctx, c.period()) {
			return nil
		}

		c.lock.Lock()
		ok := c.enabled && c.link != nil
		c.lock.Unlock()
		if !ok {
			return nil
		}

		if err := c.iterate(); err != nil {
			return spanError(span, err)
		}
		if c.afterIterate != nil {
			c.afterIterate()
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	c.setState(Connecting)

	c.lock.Lock()
	srv := c.Server
	c.lock.Unlock()
	addr := net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port))

	var conn net.Conn
	var err error
	if srv.Transport == config.Websocket {
		conn, err = websocket.Dial(ctx, "ws://"+addr+srv.WSPath)
	} else {
		d := net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
		conn, err = d.DialContext(ctx, "tcp", addr)
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
			tcp.SetReadBuffer(sockBufSize)
			tcp.SetWriteBuffer(sockBufSize)
		}
	}
	if err != nil {
		c.setState(Disconnected)
		return connError("dial "+addr, err)
	}
	if conn.LocalAddr() == nil || conn.RemoteAddr() == nil {
		conn.Close()
		c.setState(Disconnected)
		return errors.Wrapf(ErrConnection, "socket to %s is not bound", addr)
	}

	c.lock.Lock()
	c.link = newLink(conn)
	c.lastSent = time.Now()
	c.lock.Unlock()
	c.rx.Reset()

	log.WithFields(log.Fields{
		"Name":      c.Name(),
		"Server":    addr,
		"Transport": srv.Transport,
	}).Info("Connected to broker")
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	c.setState(Handshaking)

	c.lock.Lock()
	l := c.link
	name := c.Config.Name
	aux := !c.NoAuxSource
	wTO := c.ms(c.WriteTimeoutMS)
	poll := c.ms(c.Handshake.PollMS)
	attempts := int(c.Handshake.TimeoutMS / c.Handshake.PollMS)
	c.lock.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	if attempts < 1 {
		attempts = 1
	}

	if err := l.writeAll(model.Preamble(), wTO); err != nil {
		return err
	}
	hello := model.NewString(model.Data, "", name, -1)
	if err := l.writeAll(model.BuildPacket([]*model.Message{hello}, aux), wTO); err != nil {
		return err
	}

	for i := 0; i < attempts; i++ {
		if !sleep(ctx, poll) {
			return errors.Wrap(ErrHandshake, ctx.Err().Error())
		}

		packets, err := c.readPackets(l)
		if err != nil {
			return err
		}

		var welcome *Message
		for _, msgs := range packets {
			keep := msgs[:0]
			for _, m := range msgs {
				switch m.MsgType {
				case model.Welcome:
					welcome = m
					continue
				case model.Poison:
					c.Metrics.handshakeFailed()
					log.WithFields(log.Fields{
						"Name":   name,
						"Reason": m.StringData(),
					}).Error("Broker refused handshake")
					return &PoisonError{Reason: m.StringData()}
				default:
					log.WithFields(log.Fields{
						"Name": name,
						"Msg":  m.String(),
					}).Warn("Unexpected message during handshake")
				}
				keep = append(keep, m)
			}
			if len(keep) > 0 {
				c.lock.Lock()
				c.inbox.AddPacket(keep)
				c.lock.Unlock()
			}
		}

		if welcome != nil {
			c.lock.Lock()
			c.skew = welcome.Double
			c.community = welcome.Community
			c.lock.Unlock()
			c.setState(Connected)

			log.WithFields(log.Fields{
				"Name":      name,
				"Community": welcome.Community,
				"Skew":      welcome.Double,
			}).Info("Handshake complete")
			return nil
		}
	}

	c.Metrics.handshakeFailed()
	return errors.Wrapf(ErrHandshake, "no welcome from broker after %d polls", attempts)
}

// sendRegistrations posts a REGISTER for every subscription held.
func (c *Client) sendRegistrations() {
	c.lock.Lock()
	names := make([]string, 0, len(c.subs))
	for n := range c.subs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c.post(model.NewDouble(model.Register, n, c.subs[n], 1.0))
	}
	c.lock.Unlock()

	if len(names) > 0 {
		log.WithFields(log.Fields{
			"Name": c.Name(),
			"Vars": names,
		}).Debug("Sent registrations")
	}
}

// iterate sends everything queued as one packet, then collects what has arrived.
func (c *Client) iterate() error {
	now := time.Now()

	c.lock.Lock()
	l := c.link
	if l == nil {
		c.lock.Unlock()
		return ErrNotConnected
	}
	if c.outbox.Len() == 0 {
		if now.Sub(c.lastSent) > c.ms(c.KeepAliveMS) {
			c.post(model.NewNull())
			c.lastSent = now
		}
	} else {
		c.lastSent = now
	}
	msgs := c.outbox.Drain()
	aux := !c.NoAuxSource
	wTO := c.ms(c.WriteTimeoutMS)
	c.lock.Unlock()
	c.Metrics.outboxDepth(0)

	if len(msgs) > 0 {
		if err := l.writeAll(model.BuildPacket(msgs, aux), wTO); err != nil {
			return err
		}
		c.Metrics.sent(len(msgs))
		if log.IsLevelEnabled(log.DebugLevel) {
			log.WithFields(log.Fields{
				"Name":     c.Name(),
				"Messages": len(msgs),
			}).Debug("Sent packet")
		}
	}

	return c.readNewMessages(l)
}

// readPackets decodes every packet available on l.
func (c *Client) readPackets(l *link) ([][]*Message, error) {
	c.lock.Lock()
	aux := !c.NoAuxSource
	stall := c.ms(c.ReadStallMS)
	c.lock.Unlock()

	var packets [][]*Message
	for {
		ok, err := l.readPacket(&c.rx, stall)
		if err != nil {
			return nil, err
		}
		if !ok {
			return packets, nil
		}

		msgs, err := model.DecodePacket(c.rx.Packet(), aux)
		c.rx.Reset()
		if err != nil {
			return nil, err
		}
		c.Metrics.received(len(msgs))
		packets = append(packets, msgs)
	}
}

func (c *Client) readNewMessages(l *link) error {
	packets, err := c.readPackets(l)
	if err != nil {
		return err
	}
	if len(packets) == 0 {
		return nil
	}

	c.lock.Lock()
	for _, msgs := range packets {
		if dropped := c.inbox.AddPacket(msgs); dropped > 0 {
			log.WithFields(log.Fields{
				"Name":    c.Config.Name,
				"Dropped": dropped,
				"err":     ErrQueueOverflow,
			}).Warn("Inbox full, dropped unread messages")
			c.Metrics.evicted("inbox", dropped)
		}
	}
	n := c.inbox.Len()
	c.lock.Unlock()

	c.Metrics.inboxDepth(n)
	return nil
}

func (c *Client) closeLink() {
	c.lock.Lock()
	l := c.link
	c.link = nil
	c.lock.Unlock()

	if l != nil {
		l.close()
		c.setState(Disconnected)
	}
}

// disconnect closes the connection and drops everything queued.
func (c *Client) disconnect() {
	c.closeLink()

	c.lock.Lock()
	c.outbox.Reset()
	c.inbox.Reset()
	c.lock.Unlock()

	c.Metrics.outboxDepth(0)
	c.Metrics.inboxDepth(0)
}

func (c *Client) setState(s State) {
	c.lock.Lock()
	changed := c.state != s
	c.state = s
	c.lock.Unlock()

	if changed {
		c.Metrics.state(s)
		c.info(s.String())
	}
}

func (c *Client) spanAttributes() []attribute.KeyValue {
	c.lock.Lock()
	defer c.lock.Unlock()
	return []attribute.KeyValue{
		attribute.String("moos.name", c.Config.Name),
		attribute.String("net.peer.name", c.Server.Host),
		attribute.Int("net.peer.port", c.Server.Port),
		attribute.String("moos.transport", c.Server.Transport),
	}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (c *Client) ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// sleep waits for d, returning false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
