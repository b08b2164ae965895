package queue

import (
	"sync"

	"github.com/RoanBrand/gomoos/internal/model"
)

// Item links a message into a queue.
type Item struct {
	M *model.Message

	next, prev *Item
}

var pool = sync.Pool{}

func getItem(m *model.Message) (i *Item) {
	if pi := pool.Get(); pi == nil {
		i = new(Item)
	} else {
		i = pi.(*Item)
	}

	i.M = m
	return i
}

func returnItem(i *Item) {
	i.M = nil
	pool.Put(i)
}
