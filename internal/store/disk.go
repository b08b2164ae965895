// Package store persists a client's subscriptions and published variable names across restarts.
package store

import (
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/dgraph-io/badger"
)

var (
	subsPrefix = []byte("subs")
	pubsPrefix = []byte("pubs")
)

type DiskStore struct {
	db *badger.DB
}

func NewDiskStore(dir string) (*DiskStore, error) {
	opts := badger.DefaultOptions
	opts.Dir, opts.ValueDir = dir, dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &DiskStore{db: db}, nil
}

func (s *DiskStore) Close() error {
	return s.db.Close()
}

func key(prefix []byte, name string) []byte {
	k := make([]byte, 0, len(prefix)+len(name))
	k = append(k, prefix...)
	return append(k, name...)
}

// LoadSubs calls iter for every stored subscription.
func (s *DiskStore) LoadSubs(iter func(name string, interval float64)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(subsPrefix); it.ValidForPrefix(subsPrefix); it.Next() {
			item := it.Item()
			k := item.Key()
			val, err := item.Value()
			if err != nil {
				return err
			}
			if len(val) != 8 {
				continue
			}

			iter(string(k[len(subsPrefix):]), math.Float64frombits(binary.BigEndian.Uint64(val)))
		}
		return nil
	})
}

// AddSub stores or updates a subscription.
func (s *DiskStore) AddSub(name string, interval float64) error {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, math.Float64bits(interval))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(subsPrefix, name), val)
	})
}

func (s *DiskStore) RemoveSub(name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(subsPrefix, name))
	})
}

// LoadPubs calls iter for every stored published variable, in the order they were first added.
func (s *DiskStore) LoadPubs(iter func(name string)) error {
	type pub struct {
		name  string
		added uint64
	}
	var pubs []pub

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(pubsPrefix); it.ValidForPrefix(pubsPrefix); it.Next() {
			item := it.Item()
			val, err := item.Value()
			if err != nil {
				return err
			}
			p := pub{name: string(item.Key()[len(pubsPrefix):])}
			if len(val) == 8 {
				p.added = binary.BigEndian.Uint64(val)
			}
			pubs = append(pubs, p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sort.SliceStable(pubs, func(i, j int) bool { return pubs[i].added < pubs[j].added })
	for _, p := range pubs {
		iter(p.name)
	}
	return nil
}

// AddPub stores a published variable name. Names already stored keep their position.
func (s *DiskStore) AddPub(name string) error {
	k := key(pubsPrefix, name)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, uint64(time.Now().UnixNano()))
		return txn.Set(k, val)
	})
}
