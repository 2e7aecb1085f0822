package notify

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kestrelfs/blockstored/internal/meta"
)

// Event is the wire payload published for every block lifecycle
// transition. Kind distinguishes the four event types a single subject
// carries; consumers that care about only one kind filter client-side.
type Event struct {
	Kind        string `json:"kind"`
	SessionID   uint64 `json:"sessionId,omitempty"`
	BlockID     uint64 `json:"blockId"`
	Location    string `json:"location,omitempty"`
	OldLocation string `json:"oldLocation,omitempty"`
	NewLocation string `json:"newLocation,omitempty"`
}

const (
	KindCommit = "commit"
	KindAbort  = "abort"
	KindMove   = "move"
	KindRemove = "remove"
)

// NATSListener publishes every event to a NATS subject under prefix.
// Publish is fire-and-forget (nats.Conn.Publish is non-blocking and
// buffers internally), so it cannot introduce backpressure into the
// façade's metadataLock-held dispatch path.
type NATSListener struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
}

// NewNATSListener constructs a listener publishing under subjectPrefix.
func NewNATSListener(nc *nats.Conn, subjectPrefix string, log *zap.Logger) *NATSListener {
	return &NATSListener{nc: nc, prefix: subjectPrefix, log: log}
}

func (l *NATSListener) publish(subject string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		l.log.Warn("failed to marshal block event", zap.Error(err))
		return
	}
	if err := l.nc.Publish(l.prefix+"."+subject, data); err != nil {
		l.log.Warn("failed to publish block event", zap.String("subject", subject), zap.Error(err))
	}
}

func (l *NATSListener) OnCommitBlock(sessionID, blockID uint64, location meta.Location) {
	l.publish(KindCommit, Event{Kind: KindCommit, SessionID: sessionID, BlockID: blockID, Location: location.String()})
}

func (l *NATSListener) OnAbortBlock(sessionID, blockID uint64) {
	l.publish(KindAbort, Event{Kind: KindAbort, SessionID: sessionID, BlockID: blockID})
}

func (l *NATSListener) OnMoveBlock(blockID uint64, oldLocation, newLocation meta.Location) {
	l.publish(KindMove, Event{Kind: KindMove, BlockID: blockID, OldLocation: oldLocation.String(), NewLocation: newLocation.String()})
}

func (l *NATSListener) OnRemoveBlock(sessionID, blockID uint64) {
	l.publish(KindRemove, Event{Kind: KindRemove, SessionID: sessionID, BlockID: blockID})
}
