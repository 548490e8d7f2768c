// Package interrupt implements human-in-the-loop suspension: a node signals
// it needs external input by returning an Interrupt value instead of an
// error, the scheduler parks the run, and a later Resume call re-runs the
// interrupted node with the provided value visible in its view under the
// "__resume__" key.
//
// Interrupts are data, not control flow. A node that wants to pause returns
// pregel.Update{Interrupt: &interrupt.Interrupt{...}} rather than
// panicking or returning a sentinel error — mirroring the teacher's
// checkpoint/resume split (graph/checkpoint.go) but without the exception
// shape the teacher never actually used for this case.
package interrupt

import (
	"errors"
	"sync"
)

// ErrAlreadyResumed is returned by Controller.Resume when the thread's
// interrupt has already been resumed.
var ErrAlreadyResumed = errors.New("interrupt: already resumed")

// ErrNoPendingInterrupt is returned by Controller.Resume when the thread has
// no outstanding interrupt to resume.
var ErrNoPendingInterrupt = errors.New("interrupt: no pending interrupt for thread")

// Interrupt is the payload a node hands back to request a pause. Value is
// surfaced to the caller of Runtime.Stream/Invoke so a human (or upstream
// system) can decide what to feed back via Resume.
type Interrupt struct {
	// ID distinguishes interrupts raised within the same superstep, e.g.
	// when a node raises more than one before the barrier.
	ID string `json:"id"`
	// NodeID is the node that raised the interrupt.
	NodeID string `json:"node_id"`
	// Value is arbitrary, JSON-serializable context for the interrupt,
	// e.g. a prompt to show a human reviewer.
	Value any `json:"value"`
}

// pending tracks one outstanding interrupt for a thread, plus whether it has
// already been resumed — resuming twice is a programming error the
// controller catches rather than silently re-delivering stale input.
type pending struct {
	interrupt Interrupt
	resumed   bool
	resumeVal any
}

// Controller tracks pending interrupts per thread. It holds no reference to
// a Saver: the scheduler is responsible for persisting the paused state as a
// checkpoint and consulting the Controller only for in-memory resume
// signaling within a process's lifetime.
type Controller struct {
	mu      sync.Mutex
	byThread map[string]*pending
}

// NewController returns an empty interrupt controller.
func NewController() *Controller {
	return &Controller{byThread: make(map[string]*pending)}
}

// Raise records that threadID is now paused on in, replacing any prior
// (already-resumed) interrupt for that thread. Raise is called by the
// scheduler when a node's Update carries a non-nil Interrupt.
func (c *Controller) Raise(threadID string, in Interrupt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byThread[threadID] = &pending{interrupt: in}
}

// Pending returns the outstanding interrupt for threadID, if any, and
// whether one exists.
func (c *Controller) Pending(threadID string) (Interrupt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byThread[threadID]
	if !ok || p.resumed {
		return Interrupt{}, false
	}
	return p.interrupt, true
}

// Resume supplies value for threadID's pending interrupt. It fails with
// ErrNoPendingInterrupt if nothing is pending, or ErrAlreadyResumed if this
// interrupt has already been resumed once — resume is at-most-once per
// raised interrupt, matching the checkpoint model's single linear
// continuation from a paused state.
func (c *Controller) Resume(threadID string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byThread[threadID]
	if !ok {
		return ErrNoPendingInterrupt
	}
	if p.resumed {
		return ErrAlreadyResumed
	}
	p.resumed = true
	p.resumeVal = value
	return nil
}

// ResumeValue returns the value supplied to Resume for threadID's most
// recently raised interrupt, and whether it has in fact been resumed. The
// scheduler does not read it: pregel.Scheduler.Resume passes its resume
// value to the node directly.
func (c *Controller) ResumeValue(threadID string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byThread[threadID]
	if !ok || !p.resumed {
		return nil, false
	}
	return p.resumeVal, true
}

// Clear drops all interrupt bookkeeping for threadID. The scheduler does not
// call it; a resumed interrupt stays recorded until the next Raise or Clear.
func (c *Controller) Clear(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byThread, threadID)
}
