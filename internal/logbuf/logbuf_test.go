package logbuf

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

type recordingFlush struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (r *recordingFlush) fn(ctx context.Context, code string, lines []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	batch := make([]string, len(lines))
	copy(batch, lines)
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingFlush) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestFlushDeliversBatchInOrder(t *testing.T) {
	rec := &recordingFlush{}
	b := New("ABC123", rec.fn)

	for i := 0; i < 5; i++ {
		b.Add(fmt.Sprintf("line-%d", i))
	}

	b.Flush(context.Background())

	if rec.count() != 1 {
		t.Fatalf("expected 1 callback invocation, got %d", rec.count())
	}
	want := []string{"line-0", "line-1", "line-2", "line-3", "line-4"}
	if !reflect.DeepEqual(rec.batches[0], want) {
		t.Errorf("batch = %v, want %v", rec.batches[0], want)
	}

	// A second flush with nothing buffered must not invoke the callback.
	b.Flush(context.Background())
	if rec.count() != 1 {
		t.Errorf("empty flush invoked callback, count = %d", rec.count())
	}
}

func TestPeriodicFlush(t *testing.T) {
	rec := &recordingFlush{}
	b := NewWithInterval("ABC123", rec.fn, 10*time.Millisecond)

	b.Start()
	defer b.Stop()

	b.Add("hi")

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ticker never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := rec.batches[0]; len(got) != 1 || got[0] != "hi" {
		t.Errorf("batch = %v, want [hi]", got)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	rec := &recordingFlush{}
	b := NewWithInterval("ABC123", rec.fn, time.Hour)

	b.Start()
	b.Start()
	b.Stop()
	b.Stop()

	// Restart after stop must work too.
	b.Start()
	b.Stop()
}

func TestFailedFlushDropsBatch(t *testing.T) {
	rec := &recordingFlush{err: errors.New("store down")}
	b := New("ABC123", rec.fn)

	b.Add("lost")
	b.Flush(context.Background())

	if b.Len() != 0 {
		t.Errorf("failed batch was re-buffered, len = %d", b.Len())
	}

	// Recovery: new lines after the failure still flush.
	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()

	b.Add("kept")
	b.Flush(context.Background())

	if rec.count() != 1 || rec.batches[0][0] != "kept" {
		t.Errorf("batches = %v, want [[kept]]", rec.batches)
	}
}

func TestConcurrentAddDuringFlush(t *testing.T) {
	rec := &recordingFlush{}
	b := NewWithInterval("ABC123", rec.fn, time.Millisecond)

	b.Start()

	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Add(fmt.Sprintf("p%d-%d", p, i))
			}
		}(p)
	}
	wg.Wait()

	b.Stop()
	b.Flush(context.Background())

	total := 0
	seen := make(map[string]bool)
	rec.mu.Lock()
	for _, batch := range rec.batches {
		for _, line := range batch {
			if seen[line] {
				t.Fatalf("line %q delivered twice", line)
			}
			seen[line] = true
			total++
		}
	}
	rec.mu.Unlock()

	if total != producers*perProducer {
		t.Errorf("delivered %d lines, want %d", total, producers*perProducer)
	}
}
