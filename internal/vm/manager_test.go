package vm

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blocklab/blocklab/internal/session"
	"github.com/blocklab/blocklab/internal/store"
	"github.com/blocklab/blocklab/internal/store/sqlite"
)

func testManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	rec := session.New("ABC123", "u1", "en")
	if err := st.Put(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	limits := DefaultLimits()
	limits.FlushInterval = 20 * time.Millisecond
	m := NewManager(st, limits)
	t.Cleanup(func() { m.StopAll(context.Background()) })
	return m, st
}

func persistUpdate(st store.Store) UpdateFunc {
	return func(ctx context.Context, rec *session.Record) error {
		return st.Put(ctx, rec)
	}
}

func waitForLogEntry(t *testing.T, st store.Store, code, substr string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := st.Get(context.Background(), code)
		if err != nil {
			t.Fatal(err)
		}
		for _, d := range rec.Dialogue {
			if d.ContentType == session.ContentLog && strings.Contains(d.Content, substr) {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no log entry containing %q appeared", substr)
}

func TestStartThenStopLeavesNoSandbox(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	outcome, err := m.StartExecution(ctx, "ABC123", "u1", "log('hi')", persistUpdate(st))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeValid {
		t.Fatalf("outcome = %s, want valid", outcome)
	}
	if !m.Running("u1") {
		t.Fatal("sandbox not registered after start")
	}

	result, err := m.StopExecution(ctx, "ABC123", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Stopped {
		t.Errorf("stop result = %+v, want Stopped", result)
	}
	if m.Running("u1") {
		t.Error("sandbox still registered after stop")
	}
}

func TestStopTwiceIsIdempotent(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	if _, err := m.StartExecution(ctx, "ABC123", "u1", "log('x')", persistUpdate(st)); err != nil {
		t.Fatal(err)
	}

	if _, err := m.StopExecution(ctx, "ABC123", "u1"); err != nil {
		t.Fatal(err)
	}

	result, err := m.StopExecution(ctx, "ABC123", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Stopped || result.Message != notRunningMessage {
		t.Errorf("second stop = %+v, want not-running result", result)
	}
}

func TestStopWithoutStartIsNotAnError(t *testing.T) {
	m, _ := testManager(t)

	result, err := m.StopExecution(context.Background(), "ABC123", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Stopped {
		t.Errorf("result = %+v, want not-running", result)
	}
}

func TestStartTwiceSupersedesFirstSandbox(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	// An infinite loop proves teardown interrupts a busy program.
	if _, err := m.StartExecution(ctx, "ABC123", "u1", "while(true){}", persistUpdate(st)); err != nil {
		t.Fatal(err)
	}

	outcome, err := m.StartExecution(ctx, "ABC123", "u1", "log('second')", persistUpdate(st))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeValid {
		t.Fatalf("outcome = %s", outcome)
	}
	if !m.Running("u1") {
		t.Fatal("no sandbox after second start")
	}

	waitForLogEntry(t, st, "ABC123", "second")

	if _, err := m.StopExecution(ctx, "ABC123", "u1"); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentStartsLeaveSingleSandbox(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	// Two browser tabs share one owner id, so simultaneous run requests are
	// a realistic interleaving. Whichever registration loses must still get
	// interrupted; a spinning loop makes a leaked one obvious.
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.StartExecution(ctx, "ABC123", "u1", "while(true){}", persistUpdate(st)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	m.mu.Lock()
	registered := len(m.instances)
	m.mu.Unlock()
	if registered != 1 {
		t.Fatalf("instances registered = %d, want 1", registered)
	}

	result, err := m.StopExecution(ctx, "ABC123", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Stopped {
		t.Errorf("stop result = %+v, want Stopped", result)
	}
	if m.Running("u1") {
		t.Error("sandbox still registered after stop")
	}
}

func TestStartUnknownSession(t *testing.T) {
	m, st := testManager(t)

	outcome, err := m.StartExecution(context.Background(), "NOPE", "u1", "log('x')", persistUpdate(st))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeInvalidSession {
		t.Errorf("outcome = %s, want invalid session", outcome)
	}
	if m.Running("u1") {
		t.Error("sandbox allocated for unknown session")
	}
}

func TestStartOwnerMismatch(t *testing.T) {
	m, st := testManager(t)

	outcome, err := m.StartExecution(context.Background(), "ABC123", "intruder", "log('x')", persistUpdate(st))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeInvalidOwner {
		t.Errorf("outcome = %s, want invalid owner", outcome)
	}
	if m.Running("intruder") {
		t.Error("sandbox allocated for mismatched owner")
	}
}

func TestLogOutputBecomesDialogueEntry(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	if _, err := m.StartExecution(ctx, "ABC123", "u1", "log('hi')", persistUpdate(st)); err != nil {
		t.Fatal(err)
	}

	waitForLogEntry(t, st, "ABC123", "hi")

	rec, err := st.Get(ctx, "ABC123")
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, d := range rec.Dialogue {
		if d.Content == "hi" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("log line persisted %d times, want once", count)
	}
}

func TestCompileErrorLogsAndStops(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	outcome, err := m.StartExecution(ctx, "ABC123", "u1", "this is not javascript((", persistUpdate(st))
	if err != nil {
		t.Fatal(err)
	}
	// Session validity is unaffected by a broken program.
	if outcome != OutcomeValid {
		t.Fatalf("outcome = %s, want valid", outcome)
	}
	if m.Running("u1") {
		t.Error("sandbox left registered after compile failure")
	}

	rec, err := st.Get(ctx, "ABC123")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, d := range rec.Dialogue {
		if d.ContentType == session.ContentLog && strings.Contains(d.Content, "VM error") {
			found = true
		}
	}
	if !found {
		t.Error("compile error did not produce a log dialogue entry")
	}
}

func TestRuntimeErrorLogsAndStops(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	outcome, err := m.StartExecution(ctx, "ABC123", "u1", "throw new Error('boom')", persistUpdate(st))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeValid {
		t.Fatalf("outcome = %s, want valid", outcome)
	}

	waitForLogEntry(t, st, "ABC123", "boom")

	deadline := time.Now().Add(2 * time.Second)
	for m.Running("u1") {
		if time.Now().After(deadline) {
			t.Fatal("sandbox still running after runtime error")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStopInterruptsSleep(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	if _, err := m.StartExecution(ctx, "ABC123", "u1", "sleep(60000); log('never')", persistUpdate(st)); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		m.StopExecution(ctx, "ABC123", "u1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not interrupt a sleeping program")
	}
	if m.Running("u1") {
		t.Error("sandbox still registered")
	}
}

func TestExecTimeoutStopsSandbox(t *testing.T) {
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if err := st.Put(context.Background(), session.New("ABC123", "u1", "en")); err != nil {
		t.Fatal(err)
	}

	limits := DefaultLimits()
	limits.ExecTimeout = 50 * time.Millisecond
	limits.FlushInterval = 20 * time.Millisecond
	m := NewManager(st, limits)
	defer m.StopAll(context.Background())

	if _, err := m.StartExecution(context.Background(), "ABC123", "u1", "while(true){}", persistUpdate(st)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for m.Running("u1") {
		if time.Now().After(deadline) {
			t.Fatal("timed-out sandbox never stopped")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
