package engine

import (
	"sync"

	"github.com/roach88/featuretables/internal/descriptor"
)

// CommandType distinguishes queued commands.
type CommandType int

const (
	// CommandRegister makes a feature known, preloading its descriptor
	// when preloading is enabled.
	CommandRegister CommandType = iota + 1
	// CommandActivate starts activating a feature.
	CommandActivate
	// CommandDeactivate reverts an active feature or cancels a pending load.
	CommandDeactivate
	// CommandCancel abandons a pending load.
	CommandCancel
	// CommandReset clears a failed activation.
	CommandReset
	// CommandUnregister deactivates and forgets a feature.
	CommandUnregister
	// commandCallback resumes a Feature Action after an async load.
	commandCallback
)

var commandNames = map[CommandType]string{
	CommandRegister:   "register",
	CommandActivate:   "activate",
	CommandDeactivate: "deactivate",
	CommandCancel:     "cancel",
	CommandReset:      "reset",
	CommandUnregister: "unregister",
	commandCallback:   "callback",
}

func (t CommandType) String() string {
	if name, ok := commandNames[t]; ok {
		return name
	}
	return "unknown"
}

// Command is one queued lifecycle request.
type Command struct {
	Type      CommandType
	FeatureID string
	Ref       descriptor.Ref

	fn func()
}

// commandQueue is a thread-safe FIFO queue for commands.
//
// The queue is unbounded so that load callbacks never block the goroutine
// that finished loading.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the owner loop.
type commandQueue struct {
	mu       sync.Mutex
	commands []Command
	closed   bool
	signal   chan struct{} // Signals command availability (buffered, size 1)
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		commands: make([]Command, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a command to the back of the queue.
// Returns false if the queue is closed.
func (q *commandQueue) Enqueue(c Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.commands = append(q.commands, c)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front command without blocking.
func (q *commandQueue) TryDequeue() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.commands) == 0 {
		return Command{}, false
	}

	c := q.commands[0]
	q.commands[0] = Command{}
	if len(q.commands) == 1 {
		q.commands = q.commands[:0]
	} else {
		q.commands = q.commands[1:]
	}
	return c, true
}

// Wait returns a channel that signals when commands may be available.
// The channel is closed when the queue is closed.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Closed reports whether Close has been called.
func (q *commandQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting commands and wakes any waiter.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
