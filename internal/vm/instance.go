package vm

import (
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/blocklab/blocklab/internal/logbuf"
)

// instance is one live sandbox. The runtime is driven by a single worker
// goroutine; Interrupt is the only cross-goroutine call made against it.
type instance struct {
	runtime *goja.Runtime
	buffer  *logbuf.Buffer

	mu      sync.Mutex
	running bool
	halted  chan struct{}

	// Guest-registered handler for host messages. Held on the instance so
	// teardown drops it atomically with the sandbox itself.
	onHostMessage goja.Callable
}

func newInstance(code, ownerID string, buffer *logbuf.Buffer, limits Limits) *instance {
	rt := goja.New()
	if limits.MaxCallStackSize > 0 {
		rt.SetMaxCallStackSize(limits.MaxCallStackSize)
	}

	inst := &instance{
		runtime: rt,
		buffer:  buffer,
		running: true,
		halted:  make(chan struct{}),
	}
	inst.installGlobals(code, ownerID)
	return inst
}

// installGlobals exposes the restricted host environment: identifiers, a
// logging pair, a sleep primitive, and the host message-passing pair.
// Nothing else from the host is reachable.
func (i *instance) installGlobals(code, ownerID string) {
	rt := i.runtime

	rt.Set("code", code)
	rt.Set("uuid", ownerID)

	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for n, arg := range call.Arguments {
			parts[n] = arg.String()
		}
		i.buffer.Add(strings.Join(parts, " "))
		return goja.Undefined()
	}
	rt.Set("log", logFn)
	rt.Set("error", logFn)

	rt.Set("sleep", func(ms int64) {
		if ms < 0 {
			ms = 0
		}
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-i.halted:
			// The interrupt flag is already set; returning lets the
			// interpreter observe it on the next statement.
		}
	})

	rt.Set("sendMessageToHost", func(call goja.FunctionCall) goja.Value {
		i.mu.Lock()
		handler := i.onHostMessage
		i.mu.Unlock()
		if handler != nil {
			var arg goja.Value = goja.Undefined()
			if len(call.Arguments) > 0 {
				arg = call.Arguments[0]
			}
			handler(goja.Undefined(), arg)
		}
		return goja.Undefined()
	})
	rt.Set("onHostMessage", func(handler goja.Callable) {
		i.mu.Lock()
		i.onHostMessage = handler
		i.mu.Unlock()
	})
}

// halt forcibly interrupts the running program. Safe to call more than
// once and from any goroutine; effective even inside an infinite loop.
func (i *instance) halt() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.running {
		return
	}
	i.running = false
	i.onHostMessage = nil
	i.runtime.Interrupt("execution stopped")
	close(i.halted)
}

func (i *instance) isRunning() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}
