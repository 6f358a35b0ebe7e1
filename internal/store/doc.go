// Package store keeps the latest state of every polling task in memory and
// fans updates out to live subscribers.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [TaskRecord]: JSON representation of one task's state
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers miss updates rather than block the polling engine).
package store
