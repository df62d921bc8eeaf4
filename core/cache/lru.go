package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	// Size bounds the number of entries, 128 when unset.
	Size int
	// TTL applies to entries put without WithTTL. Zero means no expiry.
	TTL time.Duration
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

type entry struct {
	key     string
	val     any
	expires time.Time
}

// LRU is a size-bounded cache evicting the least recently used entry. It is safe for
// concurrent use.
type LRU struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	now   func() time.Time
	ll    *list.List
	items map[string]*list.Element
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LRU{
		size:  opts.Size,
		ttl:   opts.TTL,
		now:   opts.Now,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (l *LRU) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ele, ok := l.items[key]
	if !ok {
		return nil, false
	}
	e := ele.Value.(*entry)
	if !e.expires.IsZero() && !l.now().Before(e.expires) {
		l.removeLocked(ele)
		return nil, false
	}
	l.ll.MoveToFront(ele)
	return e.val, true
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	o := PutOptions{TTL: l.ttl}
	for _, opt := range opts {
		opt(&o)
	}
	var expires time.Time
	if o.TTL > 0 {
		expires = l.now().Add(o.TTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ele, ok := l.items[key]; ok {
		e := ele.Value.(*entry)
		e.val = val
		e.expires = expires
		l.ll.MoveToFront(ele)
		return
	}
	l.items[key] = l.ll.PushFront(&entry{key: key, val: val, expires: expires})
	if l.ll.Len() > l.size {
		l.removeLocked(l.ll.Back())
	}
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.removeLocked(ele)
	}
}

// Len returns the number of entries, expired ones included until they are touched.
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *LRU) removeLocked(ele *list.Element) {
	l.ll.Remove(ele)
	delete(l.items, ele.Value.(*entry).key)
}

var _ Cache = (*LRU)(nil)
