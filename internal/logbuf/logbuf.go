// Package logbuf batches log lines emitted by a running sandbox and
// periodically hands them to a persistence callback, decoupling high-volume
// log emission from store writes.
package logbuf

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultInterval is the flush period used by New.
const DefaultInterval = time.Second

// FlushFunc receives a drained batch of lines for a session code. A failed
// flush drops the batch; the buffer never retries or re-buffers it. That is
// the documented trade: bounded memory over guaranteed delivery.
type FlushFunc func(ctx context.Context, code string, lines []string) error

// Buffer accumulates lines and flushes them on a fixed interval.
type Buffer struct {
	code     string
	flush    FlushFunc
	interval time.Duration

	mu    sync.Mutex
	lines []string
	stop  chan struct{}
	done  sync.WaitGroup
}

// New creates a buffer for a session code with the default flush interval.
func New(code string, flush FlushFunc) *Buffer {
	return NewWithInterval(code, flush, DefaultInterval)
}

// NewWithInterval creates a buffer with a custom flush interval.
func NewWithInterval(code string, flush FlushFunc, interval time.Duration) *Buffer {
	return &Buffer{code: code, flush: flush, interval: interval}
}

// Add appends a line. Safe to call from any goroutine; never blocks on the
// persistence callback.
func (b *Buffer) Add(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

// Start begins periodic flushing. Idempotent.
func (b *Buffer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		return
	}
	b.stop = make(chan struct{})
	b.done.Add(1)

	stop := b.stop
	go func() {
		defer b.done.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Flush(context.Background())
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts periodic flushing. Idempotent. Lines added after Stop stay
// buffered until Flush is called directly or Start runs again.
func (b *Buffer) Stop() {
	b.mu.Lock()
	stop := b.stop
	b.stop = nil
	b.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	b.done.Wait()
}

// Flush drains the buffer and invokes the callback with the batch. The
// drain is atomic with respect to concurrent Add calls, so no line is lost
// or delivered twice. An empty buffer is a no-op.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.lines) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.lines
	b.lines = nil
	b.mu.Unlock()

	if err := b.flush(ctx, b.code, batch); err != nil {
		log.Printf("logbuf: dropping %d lines for session %s: %v", len(batch), b.code, err)
	}
}

// Len reports the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
