// Package ttlcache provides a mutex-guarded key/value cache with a fixed
// per-entry time-to-live.
//
// It backs the connect-time grant cache, the per-command permission cache,
// and the device certificate bookkeeping. A single locking mechanism is used
// so the same instance can be shared between plain HTTP handlers (login,
// logout) and the WebSocket relay goroutines without two incompatible
// synchronization schemes guarding one logical cache.
//
// Entries expire after the cache TTL; Get removes expired entries on read,
// and a background goroutine sweeps the rest. Pop supports explicit
// revocation (logout evicting a credential). When the cache is full the
// oldest entry is evicted in O(1) via an insertion-order list.
package ttlcache
