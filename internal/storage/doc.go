// Package storage persists the two durable collections of pagewatch:
//
//   - page snapshots (last observed content per URL)
//   - the subscriber set
//
// Two drivers are available, "file" (JSON documents replaced atomically) and
// "sqlite". Both load whatever state they can at open time; an unreadable
// collection starts empty instead of failing startup.
package storage
