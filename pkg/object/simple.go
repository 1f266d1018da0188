package object

import (
	"context"
	"sync"

	"github.com/filterstack/engine/pkg/digest"
)

// Loader populates a Simple object's attributes from an external source.
// It is the in-process stand-in for the scope/object-source collaborator
// described by the engine's external interfaces.
type Loader func(ctx context.Context, o *Simple) error

// Simple is a goroutine-safe, in-memory Object. Production deployments back
// Object with whatever the scope iterator actually returns; Simple is the
// reference implementation used by tests and by small standalone tools.
type Simple struct {
	id     []byte
	loader Loader

	mu    sync.RWMutex
	attrs map[string][]byte
}

// New creates a Simple object with the given ID. loader may be nil, in which
// case Load is a no-op (useful when attributes are pre-populated by tests).
func New(id []byte, loader Loader) *Simple {
	return &Simple{
		id:     id,
		loader: loader,
		attrs:  make(map[string][]byte),
	}
}

func (o *Simple) ID() []byte { return o.id }

func (o *Simple) Load(ctx context.Context) error {
	if o.loader == nil {
		return nil
	}
	return o.loader(ctx, o)
}

func (o *Simple) Contains(key string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.attrs[key]
	return ok
}

func (o *Simple) Get(key string) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.attrs[key]
	return v, ok
}

func (o *Simple) Set(key string, value []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attrs[key] = value
}

func (o *Simple) Omit(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.attrs[key]; !ok {
		return false
	}
	delete(o.attrs, key)
	return true
}

func (o *Simple) Keys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.attrs))
	for k := range o.attrs {
		keys = append(keys, k)
	}
	return keys
}

func (o *Simple) Signature(key string) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return digest.Sum(o.attrs[key])
}
