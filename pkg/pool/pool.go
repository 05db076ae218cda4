// Package pool wraps sync.Pool with a concrete element type so callers
// never touch interface assertions. Types implementing Resettable are
// zeroed on Put.
package pool

import (
	"fmt"
	"reflect"
	"sync"
)

type Resettable interface {
	Reset()
}

type Pool[T any] struct {
	pool sync.Pool
}

func New[T any](newFn func() T) (*Pool[T], error) {
	if newFn == nil {
		return nil, fmt.Errorf("pool: constructor must not be nil")
	}
	// A typed nil boxed into any compares non-nil, so probe with reflect.
	if v := reflect.ValueOf(newFn()); !v.IsValid() || (v.Kind() == reflect.Ptr && v.IsNil()) {
		return nil, fmt.Errorf("pool: constructor returned nil")
	}
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any { return newFn() },
		},
	}, nil
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(v T) {
	if r, ok := any(v).(Resettable); ok {
		r.Reset()
	}
	p.pool.Put(v)
}
