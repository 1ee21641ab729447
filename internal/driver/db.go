package driver

import (
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
)

// Entry is the last message of one kind seen on a port.
type Entry struct {
	Kind     string
	Value    []byte
	Received time.Time
}

// DB keeps the most recent response and URC per port so that readings can
// be served without consuming the live queues: port → kind → Entry.
type DB struct {
	mu    sync.RWMutex
	store map[string]map[string]Entry
}

// NewDB returns an empty DB.
func NewDB() *DB {
	return &DB{store: make(map[string]map[string]Entry)}
}

// Put records value under port and kind, replacing the previous entry.
func (d *DB) Put(port, kind string, value []byte, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.store[port]; !ok {
		d.store[port] = make(map[string]Entry)
	}
	d.store[port][kind] = Entry{
		Kind:     kind,
		Value:    append([]byte(nil), value...),
		Received: at,
	}
}

// Get returns a copy of the entry for port and kind.
func (d *DB) Get(port, kind string) (Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	kinds, ok := d.store[port]
	if !ok {
		return Entry{}, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, "nothing received on port "+port, nil)
	}
	e, ok := kinds[kind]
	if !ok {
		return Entry{}, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, "no "+kind+" received on port "+port, nil)
	}
	e.Value = append([]byte(nil), e.Value...)
	return e, nil
}

// Forget drops everything recorded for port.
func (d *DB) Forget(port string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.store, port)
}
