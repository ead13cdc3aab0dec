// Package events defines the fleet events emitted on the event bus.
//
// Available event types:
//   - VehicleEvent: outcome of a vehicle operation (create, update, delete, score)
//   - OccupancyEvent: a yard's counters after they changed
package events
