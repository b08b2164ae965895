package gomoos

import (
	"github.com/RoanBrand/gomoos/internal/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// registryStore keeps subscriptions and published names across restarts.
type registryStore interface {
	LoadSubs(iter func(name string, interval float64)) error
	AddSub(name string, interval float64) error
	RemoveSub(name string) error
	LoadPubs(iter func(name string)) error
	AddPub(name string) error
	Close() error
}

// openStore opens the configured store once and merges its contents. Called with c.lock held.
func (c *Client) openStore() error {
	if c.Store.Dir == "" || c.store != nil {
		return nil
	}

	s, err := store.NewDiskStore(c.Store.Dir)
	if err != nil {
		return errors.Wrapf(ErrConfiguration, "opening store %s: %v", c.Store.Dir, err)
	}

	return c.loadStore(s)
}

func (c *Client) loadStore(s registryStore) error {
	subs := 0
	if err := s.LoadSubs(func(name string, interval float64) {
		if _, ok := c.subs[name]; !ok {
			c.subs[name] = interval
			subs++
		}
	}); err != nil {
		s.Close()
		return errors.Wrap(err, "loading stored subscriptions")
	}

	pubs := 0
	if err := s.LoadPubs(func(name string) {
		if _, ok := c.pubs[name]; !ok {
			c.pubs[name] = struct{}{}
			c.pubOrder = append(c.pubOrder, name)
			pubs++
		}
	}); err != nil {
		s.Close()
		return errors.Wrap(err, "loading stored publications")
	}

	c.store = s
	log.WithFields(log.Fields{
		"Name":          c.Config.Name,
		"Dir":           c.Store.Dir,
		"Subscriptions": subs,
		"Publications":  pubs,
	}).Info("Loaded registry from store")
	return nil
}

func (c *Client) closeStore() error {
	c.lock.Lock()
	s := c.store
	c.store = nil
	c.lock.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}
