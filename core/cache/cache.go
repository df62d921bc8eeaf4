package cache

import "time"

type (
	PutOptions struct {
		TTL time.Duration
	}

	PutOption func(*PutOptions)
)

// WithTTL expires the entry after ttl.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) { o.TTL = ttl }
}

type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
}

type TypedCache[T any] interface {
	Get(key string) (T, bool)
	Put(key string, val T, opts ...PutOption)
	Delete(key string)
}

type typedCache[T any] struct{ c Cache }

// NewTyped wraps c. Entries of another type read as missing.
func NewTyped[T any](c Cache) TypedCache[T] {
	if c == nil {
		c = NewNop()
	}
	return &typedCache[T]{c: c}
}

func (t *typedCache[T]) Get(key string) (out T, ok bool) {
	v, ok := t.c.Get(key)
	if !ok {
		return out, false
	}
	out, ok = v.(T)
	return out, ok
}

func (t *typedCache[T]) Put(key string, val T, opts ...PutOption) { t.c.Put(key, val, opts...) }
func (t *typedCache[T]) Delete(key string)                        { t.c.Delete(key) }

var _ TypedCache[any] = (*typedCache[any])(nil)
