// Package notify defines the event-listener contract the store façade
// invokes on block state transitions, and the sinks that implement it.
package notify

import "github.com/kestrelfs/blockstored/internal/meta"

// Listener receives block lifecycle events. Every method is called
// synchronously, after the transition has fully landed in
// BlockMetadataManager, while the façade still holds its exclusive
// metadataLock. Implementations must not call back into the store from
// within these methods and should keep them fast; anything that blocks on
// I/O should hand off to a queue internally (NATSListener relies on
// nats.Conn.Publish's internal buffering for this) rather than block the
// caller.
type Listener interface {
	OnCommitBlock(sessionID, blockID uint64, location meta.Location)
	OnAbortBlock(sessionID, blockID uint64)
	OnMoveBlock(blockID uint64, oldLocation, newLocation meta.Location)
	OnRemoveBlock(sessionID, blockID uint64)
}

// Multi fans out every event to a fixed set of listeners, in order. A
// panic in one listener is not recovered; register only trusted,
// well-behaved listeners.
type Multi []Listener

func (m Multi) OnCommitBlock(sessionID, blockID uint64, location meta.Location) {
	for _, l := range m {
		l.OnCommitBlock(sessionID, blockID, location)
	}
}

func (m Multi) OnAbortBlock(sessionID, blockID uint64) {
	for _, l := range m {
		l.OnAbortBlock(sessionID, blockID)
	}
}

func (m Multi) OnMoveBlock(blockID uint64, oldLocation, newLocation meta.Location) {
	for _, l := range m {
		l.OnMoveBlock(blockID, oldLocation, newLocation)
	}
}

func (m Multi) OnRemoveBlock(sessionID, blockID uint64) {
	for _, l := range m {
		l.OnRemoveBlock(sessionID, blockID)
	}
}
