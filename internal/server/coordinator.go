package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/blocklab/blocklab/internal/i18n"
	"github.com/blocklab/blocklab/internal/session"
	"github.com/blocklab/blocklab/internal/store"
	"github.com/blocklab/blocklab/internal/tutor"
	"github.com/blocklab/blocklab/internal/vm"
)

// errInvalidOwner signals an owner mismatch on an inbound message; the
// websocket handler closes the connection when it sees it.
var errInvalidOwner = errors.New("invalid uuid")

// coordinator reconciles inbound session messages with the persisted record,
// drives the execution manager and tutor collaborator, and fans results out
// through the registry. It holds no per-session state of its own: the
// persisted record is the single source of truth, written last-writer-wins.
type coordinator struct {
	store    store.Store
	registry *Registry
	vms      *vm.Manager
	tutor    tutor.Collaborator // nil when no provider is configured
	i18n     *i18n.Translator
}

// update persists a record and broadcasts it in full to all attached
// clients. It is also handed to the execution manager as the sink for log
// buffer flushes.
func (c *coordinator) update(ctx context.Context, rec *session.Record) error {
	if err := c.store.Put(ctx, rec); err != nil {
		return err
	}
	c.registry.Broadcast(rec, nil)
	return nil
}

// handleMessage processes one inbound message for a connection. Messages on
// a single connection arrive here one at a time in order; there is no
// cross-connection serialization.
func (c *coordinator) handleMessage(ctx context.Context, code, ownerID string, raw []byte) error {
	current, err := c.store.Get(ctx, code)
	if err != nil {
		return fmt.Errorf("reading session %s: %w", code, err)
	}

	var probe struct {
		Workspace json.RawMessage `json:"workspace"`
		Request   string          `json:"request"`
		Value     string          `json:"value"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("parsing message: %w", err)
	}

	if len(probe.Workspace) > 0 && string(probe.Workspace) != "null" {
		return c.handleWorkspaceUpdate(ctx, current, raw)
	}

	switch probe.Request {
	case "open":
		return c.handleRun(ctx, current, ownerID, probe.Value)
	case "stop":
		return c.handleStop(ctx, current, ownerID)
	}
	return nil
}

// handleWorkspaceUpdate merges a user edit into the persisted record,
// invoking the tutor only when the incoming dialogue gained a
// fresh user-authored entry. Replies produced by the tutor round-trip back
// as workspace updates, so that guard is what prevents an infinite loop.
func (c *coordinator) handleWorkspaceUpdate(ctx context.Context, current *session.Record, raw []byte) error {
	var incoming session.Record
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return fmt.Errorf("parsing workspace update: %w", err)
	}
	if incoming.UUID != current.UUID {
		return errInvalidOwner
	}

	progress := incoming.Tutorial.Progress
	if last, ok := incoming.Last(); ok && last.IsUser && len(incoming.Dialogue) > len(current.Dialogue) && c.tutor != nil {
		reply, err := c.tutor.Reply(ctx, &incoming)
		if err != nil {
			// Degrade to persisting the edit without a reply so every
			// client still converges on the same record.
			log.Printf("coordinator: tutor reply for %s: %v", current.SessionCode, err)
		} else {
			incoming.Append(session.ContentAI, false, reply.Response)
			if reply.BlockID != "" {
				incoming.Append(session.ContentBlockID, false, reply.BlockID)
			}
			if reply.BlockName != "" {
				incoming.Append(session.ContentBlockName, false, reply.BlockName)
			}
			progress = reply.Progress
		}
	}

	merged := &session.Record{
		SessionCode:  current.SessionCode,
		UUID:         current.UUID,
		Workspace:    incoming.Workspace,
		Dialogue:     incoming.Dialogue,
		IsReplying:   false,
		IsRunning:    current.IsRunning,
		Clients:      current.Clients,
		Language:     current.Language,
		Tutorial:     incoming.Tutorial,
		TutorContext: incoming.TutorContext,
		CreatedAt:    current.CreatedAt,
	}
	merged.Tutorial.Progress = progress

	return c.update(ctx, merged)
}

// handleRun covers transitions 2 and 3: an empty program resets the running
// flag with a localized log entry, a non-empty one is handed to the
// execution manager.
func (c *coordinator) handleRun(ctx context.Context, current *session.Record, ownerID, script string) error {
	if script == "" {
		current.IsRunning = false
		current.AppendLog(c.i18n.T(current.Language, "error.empty_code"))
		if err := c.update(ctx, current); err != nil {
			return err
		}
		c.broadcastRunning(current)
		return nil
	}

	outcome, err := c.vms.StartExecution(ctx, current.SessionCode, ownerID, script, c.update)
	if err != nil {
		return fmt.Errorf("starting execution: %w", err)
	}
	if outcome != vm.OutcomeValid {
		log.Printf("coordinator: start rejected for %s: %s", current.SessionCode, outcome)
	}

	// Superseding a previous sandbox flushes its pending log lines into the
	// record, so re-read before persisting the running flag. Writing the
	// stale read would clobber those entries.
	rec, err := c.store.Get(ctx, current.SessionCode)
	if err != nil {
		return fmt.Errorf("re-reading session %s: %w", current.SessionCode, err)
	}
	rec.IsRunning = outcome == vm.OutcomeValid
	if err := c.update(ctx, rec); err != nil {
		return err
	}
	c.broadcastRunning(rec)
	return nil
}

// handleStop covers transition 4: the running flag drops unconditionally,
// whether or not a sandbox was live.
func (c *coordinator) handleStop(ctx context.Context, current *session.Record, ownerID string) error {
	result, err := c.vms.StopExecution(ctx, current.SessionCode, ownerID)
	if err != nil {
		return fmt.Errorf("stopping execution: %w", err)
	}
	log.Printf("coordinator: %s", result.Message)

	// The stop flushed any still-buffered log lines into the record; re-read
	// so those entries survive the final write.
	rec, err := c.store.Get(ctx, current.SessionCode)
	if err != nil {
		return fmt.Errorf("re-reading session %s: %w", current.SessionCode, err)
	}
	rec.IsRunning = false
	if err := c.update(ctx, rec); err != nil {
		return err
	}
	c.broadcastRunning(rec)
	return nil
}

func (c *coordinator) broadcastRunning(rec *session.Record) {
	msg := session.RunningState(rec.IsRunning)
	c.registry.Broadcast(rec, &msg)
}

// attach records a freshly opened connection on the session. Owner
// validation already happened at the websocket boundary.
func (c *coordinator) attach(ctx context.Context, code, clientID string) error {
	rec, err := c.store.Get(ctx, code)
	if err != nil {
		return err
	}
	if !rec.HasClient(clientID) {
		rec.AddClient(clientID)
		if err := c.store.Put(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// detach removes a departed connection from the record. Other viewers are
// not notified.
func (c *coordinator) detach(ctx context.Context, code, clientID string) {
	c.registry.Unregister(clientID)

	rec, err := c.store.Get(ctx, code)
	if err != nil {
		log.Printf("coordinator: detach %s: %v", clientID, err)
		return
	}
	rec.RemoveClient(clientID)
	if err := c.store.Put(ctx, rec); err != nil {
		log.Printf("coordinator: detach %s: %v", clientID, err)
	}
}
