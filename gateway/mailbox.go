package gateway

import "sync/atomic"

// Mailbox hands tick requests from timer callbacks to the worker goroutine.
// It is deliberately lossy: a tick posted while the worker is busy or a tick
// is already pending is dropped, so a slow pass sheds load instead of
// building a backlog.
type Mailbox struct {
	slot chan struct{}
	busy atomic.Bool
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{slot: make(chan struct{}, 1)}
}

// Post requests a pass. It never blocks; false means the request was shed.
func (m *Mailbox) Post() bool {
	if m.busy.Load() {
		return false
	}
	select {
	case m.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Wait blocks until a pass is requested and marks the worker busy.
func (m *Mailbox) Wait() {
	<-m.slot
	m.busy.Store(true)
}

// Done marks the pass finished, re-opening the mailbox.
func (m *Mailbox) Done() {
	m.busy.Store(false)
}
