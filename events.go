package gomoos

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Subscription is a variable a Listener wants, with the minimum interval between
// updates in seconds (0 for every update).
type Subscription struct {
	Name     string
	Interval float64
}

// Listener receives the messages of the variables it subscribes to.
type Listener interface {
	Subscriptions() []Subscription
	// ProcessMessages is called from the client's I/O loop with every new message for one
	// variable, newest packet first. It should return quickly.
	ProcessMessages(msgs []*Message) error
}

// FuncListener adapts a function to a Listener. Use a pointer so it can be unregistered.
type FuncListener struct {
	Subs []Subscription
	F    func(msgs []*Message) error
}

func (l *FuncListener) Subscriptions() []Subscription         { return l.Subs }
func (l *FuncListener) ProcessMessages(msgs []*Message) error { return l.F(msgs) }

// EventServer delivers a client's incoming messages to listeners grouped by variable,
// and periodically publishes a <NAME>_STATUS variable.
type EventServer struct {
	client *Client

	lock      sync.Mutex
	listeners map[string][]Listener

	lastStatus time.Time
	status     *statusProbe
}

// NewEventServer attaches an event server to c. It must be created before c is enabled.
// From then on the event server consumes c's received messages.
func NewEventServer(c *Client) *EventServer {
	s := &EventServer{
		client:    c,
		listeners: make(map[string][]Listener),
		status:    newStatusProbe(),
	}
	c.afterIterate = s.iterate
	return s
}

// Client returns the underlying client.
func (s *EventServer) Client() *Client {
	return s.client
}

// Register adds l for each of its subscriptions and registers each variable with the broker.
// Adding the same listener twice has no further effect.
func (s *EventServer) Register(l Listener) error {
	subs := l.Subscriptions()
	for _, sub := range subs {
		if sub.Name == "" {
			return errors.Wrap(ErrConfiguration, "subscription without variable name")
		}
	}

	s.lock.Lock()
	for _, sub := range subs {
		if !contains(s.listeners[sub.Name], l) {
			s.listeners[sub.Name] = append(s.listeners[sub.Name], l)
		}
	}
	s.lock.Unlock()

	for _, sub := range subs {
		s.client.Register(sub.Name, sub.Interval)
	}
	return nil
}

// Unregister removes l from every variable. Variables left without listeners are
// unregistered from the broker.
func (s *EventServer) Unregister(l Listener) {
	var orphaned []string

	s.lock.Lock()
	for name, ls := range s.listeners {
		for i := range ls {
			if ls[i] != l {
				continue
			}
			ls = append(ls[:i:i], ls[i+1:]...)
			if len(ls) == 0 {
				delete(s.listeners, name)
				orphaned = append(orphaned, name)
			} else {
				s.listeners[name] = ls
			}
			break
		}
	}
	s.lock.Unlock()

	sort.Strings(orphaned)
	for _, name := range orphaned {
		s.client.Unregister(name)
	}
}

// Listening reports whether any listener wants name.
func (s *EventServer) Listening(name string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.listeners[name]) > 0
}

func contains(ls []Listener, l Listener) bool {
	for _, x := range ls {
		if x == l {
			return true
		}
	}
	return false
}

// iterate runs on the I/O loop after every client iteration.
func (s *EventServer) iterate() {
	s.dispatch(s.client.GetNewMessages())

	if now := time.Now(); now.Sub(s.lastStatus) > s.client.ms(s.client.StatusPeriodMS) {
		s.lastStatus = now
		s.publishStatus()
	}
}

func (s *EventServer) dispatch(mail []*Message) {
	if len(mail) == 0 {
		return
	}

	_, span := tracer.Start(context.Background(), "moos.dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int("moos.messages", len(mail)))

	byVar := make(map[string][]*Message)
	for _, m := range mail {
		byVar[m.Var] = append(byVar[m.Var], m)
	}
	names := make([]string, 0, len(byVar))
	for n := range byVar {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		s.lock.Lock()
		ls := append([]Listener(nil), s.listeners[name]...)
		s.lock.Unlock()

		for _, l := range ls {
			if err := deliver(l, byVar[name]); err != nil {
				s.client.Metrics.listenerFailed()
				span.RecordError(err)
				log.WithFields(log.Fields{
					"Name": s.client.Name(),
					"Var":  name,
					"err":  err,
				}).Error("Listener failed")
			}
		}
	}
}

func deliver(l Listener, msgs []*Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("listener panic: %v", r)
		}
	}()
	return l.ProcessMessages(msgs)
}

func (s *EventServer) publishStatus() {
	c := s.client
	c.lock.Lock()
	name := c.Config.Name
	uptime := time.Since(c.started).Seconds()
	c.lock.Unlock()

	cpu, memKB := s.status.sample()
	st := statusString(name, uptime, cpu, memKB, c.Publications(), c.Subscriptions())
	c.NotifyString(StatusVar(name), st, -1)
}

// StatusVar is the variable an event server publishes its status on.
func StatusVar(name string) string {
	return strings.ToUpper(name) + "_STATUS"
}

func statusString(name string, uptime, cpu float64, memKB uint64, pubs, subs []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "AppErrorFlag=false,Uptime=%.2f,CPULoad=%.2f,MemKB=%d,MOOSName=%s,Publishing=\"",
		uptime, cpu, memKB, name)
	for _, p := range pubs {
		sb.WriteString(p)
		sb.WriteByte(',')
	}
	sb.WriteString("\",Subscribing=\"")
	for _, v := range subs {
		sb.WriteString(v)
		sb.WriteByte(',')
	}
	sb.WriteByte('"')
	return sb.String()
}
