// Package cache provides a small key-value cache interface with LRU eviction and TTL
// support.
//
//   - [Cache]: untyped, values are stored as any
//   - [TypedCache]: generic wrapper, see [NewTyped]
//
// [LRU] is an in-memory implementation that is safe for concurrent use, [Nop] caches
// nothing.
//
//	c := cache.NewTyped[*Account](cache.NewLRU(cache.LRUOpts{Size: 1000}))
//	c.Put("account/acc-1", acc, cache.WithTTL(5*time.Minute))
//	if acc, ok := c.Get("account/acc-1"); ok {
//	    // acc is *Account
//	}
//
// Expired entries are evicted lazily on access.
package cache
