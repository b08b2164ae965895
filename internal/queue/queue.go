// Package queue holds the bounded outbound and inbound message queues of a client connection.
// Queues are not safe for concurrent use; the owner serialises access.
package queue

import (
	"github.com/RoanBrand/gomoos/internal/model"
)

// Eviction selects which outbox entry is dropped when the bound is exceeded.
type Eviction int

const (
	// EvictNewest drops the message that overflowed the outbox.
	EvictNewest Eviction = iota
	// EvictOldest drops the longest waiting message.
	EvictOldest
)

// ParseEviction maps a config value to an Eviction. Unknown values give false.
func ParseEviction(s string) (Eviction, bool) {
	switch s {
	case "", "newest":
		return EvictNewest, true
	case "oldest":
		return EvictOldest, true
	}
	return EvictNewest, false
}

// Base message queue.
type queue struct {
	h, t *Item
	n    int
}

func (q *queue) add(i *Item) {
	if q.h == nil {
		q.h = i
		q.t = i
	} else {
		q.t.next = i
		i.prev = q.t
		q.t = i
	}
	q.n++
}

func (q *queue) push(i *Item) {
	if q.h == nil {
		q.h = i
		q.t = i
	} else {
		i.next = q.h
		q.h.prev = i
		q.h = i
	}
	q.n++
}

func (q *queue) remove(i *Item) {
	if i.prev == nil { // is h
		q.h = i.next
	} else {
		i.prev.next = i.next
	}

	if i.next == nil { // is t
		q.t = i.prev
	} else {
		i.next.prev = i.prev
	}

	i.prev, i.next = nil, nil // avoid memory leaks
	q.n--
}

// drain empties the queue, returning messages from head to tail.
func (q *queue) drain() []*model.Message {
	if q.n == 0 {
		return nil
	}
	msgs := make([]*model.Message, 0, q.n)
	for i := q.h; i != nil; {
		next := i.next
		msgs = append(msgs, i.M)
		i.next, i.prev = nil, nil
		returnItem(i)
		i = next
	}
	q.h, q.t, q.n = nil, nil, 0
	return msgs
}

// Len is the number of queued messages.
func (q *queue) Len() int {
	return q.n
}

// Reset discards everything queued.
func (q *queue) Reset() {
	q.drain()
}

// Outbox holds messages posted since the last send, oldest first.
type Outbox struct {
	queue
	max   int
	evict Eviction
}

// Init sets the bound and the eviction policy.
func (q *Outbox) Init(max int, evict Eviction) {
	q.max, q.evict = max, evict
	for q.max > 0 && q.n > q.max {
		q.evictOne()
	}
}

// Add queues m. When that takes the outbox over its bound one entry is evicted and returned.
func (q *Outbox) Add(m *model.Message) (evicted *model.Message) {
	q.add(getItem(m))
	if q.max > 0 && q.n > q.max {
		return q.evictOne()
	}
	return nil
}

func (q *Outbox) evictOne() *model.Message {
	i := q.t
	if q.evict == EvictOldest {
		i = q.h
	}
	q.remove(i)
	m := i.M
	returnItem(i)
	return m
}

// Drain removes and returns all queued messages in the order they were added.
func (q *Outbox) Drain() []*model.Message {
	return q.drain()
}

// Inbox holds received messages. Each packet's messages are placed in front of
// everything received earlier, keeping their wire order.
type Inbox struct {
	queue
	max int
}

// Init sets the bound.
func (q *Inbox) Init(max int) {
	q.max = max
}

// Overflowing reports whether the inbox holds more than its bound.
func (q *Inbox) Overflowing() bool {
	return q.max > 0 && q.n > q.max
}

// AddPacket places the messages of one packet at the front. If the inbox was already over
// its bound, everything held is dropped first and the number dropped is returned.
func (q *Inbox) AddPacket(msgs []*model.Message) (dropped int) {
	if q.Overflowing() {
		dropped = q.n
		q.drain()
	}
	for j := len(msgs) - 1; j >= 0; j-- {
		q.push(getItem(msgs[j]))
	}
	return
}

// TakeAll removes and returns everything held, newest packet first.
func (q *Inbox) TakeAll() []*model.Message {
	return q.drain()
}

// Extract removes and returns the messages for which match returns true, keeping their order.
func (q *Inbox) Extract(match func(*model.Message) bool) []*model.Message {
	var out []*model.Message
	for i := q.h; i != nil; {
		next := i.next
		if match(i.M) {
			out = append(out, i.M)
			q.remove(i)
			returnItem(i)
		}
		i = next
	}
	return out
}

// Find returns, without removing, the messages for which match returns true.
func (q *Inbox) Find(match func(*model.Message) bool) []*model.Message {
	var out []*model.Message
	for i := q.h; i != nil; i = i.next {
		if match(i.M) {
			out = append(out, i.M)
		}
	}
	return out
}
