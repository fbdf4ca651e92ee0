package engine

// loadSlot holds one activation's place in the completion order. A load
// that finishes early waits in its slot until every slot reserved before
// it has run or been released, so equal-priority ties follow submission
// order rather than load timing.
type loadSlot struct {
	engine   *Engine
	fn       func()
	ready    bool
	released bool
	done     bool
}

// Post implements action.Slot. Safe from any goroutine.
func (s *loadSlot) Post(fn func()) bool {
	return s.engine.queue.Enqueue(Command{Type: commandCallback, fn: func() { s.deliver(fn) }})
}

// Release implements action.Slot. Owner goroutine only.
func (s *loadSlot) Release() {
	if s.released || s.done {
		return
	}
	s.released = true
	if !s.ready {
		s.engine.inflight--
	}
	s.engine.flush()
}

// deliver runs on the owner when the load's callback is dequeued.
func (s *loadSlot) deliver(fn func()) {
	if s.released || s.ready {
		return
	}
	s.engine.inflight--
	s.fn, s.ready = fn, true
	s.engine.flush()
}

// flush runs ready completions from the head of the order and skips
// released slots, stopping at the first slot still waiting on its load.
func (e *Engine) flush() {
	for len(e.pending) > 0 {
		head := e.pending[0]
		if !head.ready && !head.released {
			return
		}
		e.pending = e.pending[1:]
		if head.released {
			continue
		}
		head.done = true
		head.fn()
	}
}
