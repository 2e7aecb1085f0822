package notify

import (
	"go.uber.org/zap"

	"github.com/kestrelfs/blockstored/internal/meta"
)

// LogListener records every event as a structured log line. Cheap enough
// to always register; useful on its own in deployments with no NATS sink
// configured.
type LogListener struct {
	log *zap.Logger
}

// NewLogListener constructs a LogListener writing through log.
func NewLogListener(log *zap.Logger) *LogListener {
	return &LogListener{log: log}
}

func (l *LogListener) OnCommitBlock(sessionID, blockID uint64, location meta.Location) {
	l.log.Info("block committed",
		zap.Uint64("sessionId", sessionID), zap.Uint64("blockId", blockID), zap.Stringer("location", location))
}

func (l *LogListener) OnAbortBlock(sessionID, blockID uint64) {
	l.log.Info("block aborted", zap.Uint64("sessionId", sessionID), zap.Uint64("blockId", blockID))
}

func (l *LogListener) OnMoveBlock(blockID uint64, oldLocation, newLocation meta.Location) {
	l.log.Info("block moved",
		zap.Uint64("blockId", blockID), zap.Stringer("from", oldLocation), zap.Stringer("to", newLocation))
}

func (l *LogListener) OnRemoveBlock(sessionID, blockID uint64) {
	l.log.Info("block removed", zap.Uint64("sessionId", sessionID), zap.Uint64("blockId", blockID))
}
