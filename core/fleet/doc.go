// Package fleet coordinates vehicle writes across the slot ledger, the risk
// scorer and the store.
//
// Lock order: a vehicle key is always taken first, alone, then yard and
// client keys in one sorted Locker call. Yard-only operations take just the
// yard key. No path takes a vehicle key while holding a yard key.
package fleet
