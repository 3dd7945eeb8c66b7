// Package tutor generates AI tutor replies for a session snapshot.
package tutor

import (
	"context"

	"github.com/blocklab/blocklab/internal/session"
)

// Reply is the structured answer produced for a user's dialogue entry.
type Reply struct {
	Response  string `json:"response"`
	BlockID   string `json:"blockId,omitempty"`
	BlockName string `json:"blockName,omitempty"`
	Progress  int    `json:"progress"`
}

// Collaborator produces a tutor reply from the full incoming session
// record. Implementations must treat the record as read-only.
type Collaborator interface {
	Reply(ctx context.Context, rec *session.Record) (*Reply, error)
}
