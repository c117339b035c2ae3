// Package ttlcache provides a small thread-safe cache whose entries expire
// after a fixed TTL and are evicted oldest-first once a size cap is reached.
//
// The Matrix bridge uses it twice: as a seen-set for event IDs, so a
// redelivered event is handled once, and as the registry of format menus
// waiting for a reaction or numbered reply.
package ttlcache
