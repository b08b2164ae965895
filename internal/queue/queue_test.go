package queue

import (
	"testing"

	"github.com/RoanBrand/gomoos/internal/model"
)

func msg(name string) *model.Message {
	return model.NewDouble(model.Notify, name, 0, 1)
}

func names(msgs []*model.Message) string {
	s := ""
	for _, m := range msgs {
		s += m.Var
	}
	return s
}

func TestOutboxOrder(t *testing.T) {
	t.Parallel()

	var q Outbox
	q.Init(10, EvictNewest)
	for _, n := range []string{"a", "b", "c"} {
		if e := q.Add(msg(n)); e != nil {
			t.Fatal(e)
		}
	}
	if q.Len() != 3 {
		t.Fatal(q.Len())
	}
	if got := names(q.Drain()); got != "abc" {
		t.Fatal(got)
	}
	if q.Len() != 0 || q.Drain() != nil {
		t.Fatal("not empty after drain")
	}
}

func TestOutboxEviction(t *testing.T) {
	t.Parallel()

	var q Outbox
	q.Init(3, EvictNewest)
	for _, n := range []string{"a", "b", "c"} {
		q.Add(msg(n))
	}
	if e := q.Add(msg("d")); e == nil || e.Var != "d" {
		t.Fatal(e)
	}
	if q.Len() != 3 {
		t.Fatal(q.Len())
	}
	if got := names(q.Drain()); got != "abc" {
		t.Fatal(got)
	}

	q.Init(3, EvictOldest)
	for _, n := range []string{"a", "b", "c"} {
		q.Add(msg(n))
	}
	for i, n := range []string{"d", "e"} {
		e := q.Add(msg(n))
		if e == nil || e.Var != string(rune('a'+i)) {
			t.Fatal(e)
		}
		if q.Len() != 3 {
			t.Fatal(q.Len())
		}
	}
	if got := names(q.Drain()); got != "cde" {
		t.Fatal(got)
	}
}

func TestOutboxShrink(t *testing.T) {
	t.Parallel()

	var q Outbox
	q.Init(0, EvictNewest)
	for _, n := range []string{"a", "b", "c", "d"} {
		q.Add(msg(n))
	}
	q.Init(2, EvictOldest)
	if got := names(q.Drain()); got != "cd" {
		t.Fatal(got)
	}
}

func TestInboxPacketOrder(t *testing.T) {
	t.Parallel()

	var q Inbox
	q.Init(100)
	q.AddPacket([]*model.Message{msg("a"), msg("b")})
	q.AddPacket([]*model.Message{msg("c"), msg("d")})

	if got := names(q.TakeAll()); got != "cdab" {
		t.Fatal(got)
	}
	if q.TakeAll() != nil {
		t.Fatal("second take returned messages")
	}
}

func TestInboxDropAll(t *testing.T) {
	t.Parallel()

	var q Inbox
	q.Init(2)
	q.AddPacket([]*model.Message{msg("a"), msg("b")})
	if d := q.AddPacket([]*model.Message{msg("c")}); d != 0 {
		t.Fatal(d) // at the bound, not over it
	}
	if !q.Overflowing() {
		t.Fatal("expected overflow")
	}
	if d := q.AddPacket([]*model.Message{msg("d"), msg("e")}); d != 3 {
		t.Fatal(d)
	}
	if got := names(q.TakeAll()); got != "de" {
		t.Fatal(got)
	}
}

func TestInboxExtract(t *testing.T) {
	t.Parallel()

	var q Inbox
	q.Init(100)
	q.AddPacket([]*model.Message{msg("a"), msg("b"), msg("a"), msg("c")})

	found := q.Find(func(m *model.Message) bool { return m.Var == "a" })
	if len(found) != 2 || q.Len() != 4 {
		t.Fatal(len(found), q.Len())
	}

	got := q.Extract(func(m *model.Message) bool { return m.Var == "a" })
	if names(got) != "aa" || q.Len() != 2 {
		t.Fatal(names(got), q.Len())
	}
	if rest := names(q.TakeAll()); rest != "bc" {
		t.Fatal(rest)
	}
}

func TestParseEviction(t *testing.T) {
	t.Parallel()

	for s, exp := range map[string]Eviction{"": EvictNewest, "newest": EvictNewest, "oldest": EvictOldest} {
		if e, ok := ParseEviction(s); !ok || e != exp {
			t.Fatal(s)
		}
	}
	if _, ok := ParseEviction("random"); ok {
		t.Fatal("accepted unknown policy")
	}
}
