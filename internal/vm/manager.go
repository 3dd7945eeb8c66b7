package vm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/blocklab/blocklab/internal/logbuf"
	"github.com/blocklab/blocklab/internal/store"
)

// Manager owns the mapping from session owner to live sandbox instance and
// guarantees at most one instance per owner.
type Manager struct {
	store  store.Store
	limits Limits

	mu        sync.Mutex
	instances map[string]*instance
}

// NewManager creates a Manager backed by the given session store.
func NewManager(st store.Store, limits Limits) *Manager {
	return &Manager{
		store:     st,
		limits:    limits,
		instances: make(map[string]*instance),
	}
}

// StartExecution validates the session, allocates a sandbox for the owner
// and runs the program in it. A sandbox already running for the owner is
// torn down first. Compile and runtime failures append an error dialogue
// entry through the log buffer and stop the sandbox, but the returned
// outcome is still OutcomeValid: the session itself checked out.
//
// The program runs on its own goroutine, so an infinite loop never blocks
// the caller; stopping the sandbox interrupts it preemptively.
func (m *Manager) StartExecution(ctx context.Context, code, ownerID, script string, update UpdateFunc) (Outcome, error) {
	rec, err := m.store.Get(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeInvalidSession, nil
	}
	if err != nil {
		return "", fmt.Errorf("validating session %s: %w", code, err)
	}
	if rec.UUID != ownerID {
		return OutcomeInvalidOwner, nil
	}

	// One sandbox per owner: a previous run is stopped before the new one
	// is registered.
	if _, err := m.StopExecution(ctx, code, ownerID); err != nil {
		return "", fmt.Errorf("stopping previous sandbox: %w", err)
	}

	interval := m.limits.FlushInterval
	if interval <= 0 {
		interval = logbuf.DefaultInterval
	}
	buffer := logbuf.NewWithInterval(code, m.flushFunc(update), interval)

	inst := newInstance(code, ownerID, buffer, m.limits)

	// A concurrent start for the same owner can slip in between the
	// teardown above and this registration, so the swap happens under the
	// lock and any instance found there is torn down like a superseded one.
	// The buffer starts before registration; an instance visible in the map
	// always has a live buffer for the displacing starter to stop.
	buffer.Start()
	m.mu.Lock()
	prev := m.instances[ownerID]
	m.instances[ownerID] = inst
	m.mu.Unlock()
	if prev != nil {
		prev.halt()
		prev.buffer.Flush(ctx)
		prev.buffer.Stop()
	}

	prog, err := goja.Compile("workspace", script, false)
	if err != nil {
		buffer.Add("VM error: " + err.Error())
		if _, stopErr := m.StopExecution(ctx, code, ownerID); stopErr != nil {
			log.Printf("vm: stopping sandbox after compile error: %v", stopErr)
		}
		return OutcomeValid, nil
	}

	go m.run(inst, prog, code, ownerID)

	return OutcomeValid, nil
}

func (m *Manager) run(inst *instance, prog *goja.Program, code, ownerID string) {
	var timeout *time.Timer
	if m.limits.ExecTimeout > 0 {
		timeout = time.AfterFunc(m.limits.ExecTimeout, func() {
			inst.buffer.Add("VM error: execution timed out")
			if _, err := m.StopExecution(context.Background(), code, ownerID); err != nil {
				log.Printf("vm: stopping timed-out sandbox for %s: %v", ownerID, err)
			}
		})
	}

	_, err := inst.runtime.RunProgram(prog)
	if timeout != nil {
		timeout.Stop()
	}
	if err == nil {
		// A completed program keeps its sandbox alive: timers and host
		// message handlers may still be registered. Teardown happens on an
		// explicit stop or a superseding run.
		return
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return // stopped by the host, already torn down
	}

	inst.buffer.Add("VM error: " + err.Error())
	if _, stopErr := m.StopExecution(context.Background(), code, ownerID); stopErr != nil {
		log.Printf("vm: stopping failed sandbox for %s: %v", ownerID, stopErr)
	}
}

// StopExecution halts and removes the owner's sandbox. Pending log lines
// are flushed before the buffer stops. Stopping an owner with no running
// sandbox is not an error; the result says so and nothing changes, making
// the call idempotent.
func (m *Manager) StopExecution(ctx context.Context, code, ownerID string) (StopResult, error) {
	m.mu.Lock()
	inst, ok := m.instances[ownerID]
	if ok {
		delete(m.instances, ownerID)
	}
	m.mu.Unlock()

	if !ok || !inst.isRunning() {
		return StopResult{Message: notRunningMessage}, nil
	}

	inst.halt()
	inst.buffer.Flush(ctx)
	inst.buffer.Stop()

	return StopResult{Message: "Script execution stopped successfully.", Stopped: true}, nil
}

// Running reports whether a sandbox is registered for the owner.
func (m *Manager) Running(ownerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[ownerID]
	return ok && inst.isRunning()
}

// StopAll tears down every live sandbox. Used on server shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	instances := m.instances
	m.instances = make(map[string]*instance)
	m.mu.Unlock()

	for ownerID, inst := range instances {
		inst.halt()
		inst.buffer.Flush(ctx)
		inst.buffer.Stop()
		log.Printf("vm: stopped sandbox for %s", ownerID)
	}
}

// flushFunc builds the log buffer callback: read the current record, append
// each line as a log dialogue entry and hand the result to the coordinator's
// update function for persistence and broadcast.
func (m *Manager) flushFunc(update UpdateFunc) logbuf.FlushFunc {
	return func(ctx context.Context, code string, lines []string) error {
		rec, err := m.store.Get(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return nil // session deleted mid-run; nothing to append to
		}
		if err != nil {
			return err
		}
		for _, line := range lines {
			rec.AppendLog(line)
		}
		return update(ctx, rec)
	}
}
