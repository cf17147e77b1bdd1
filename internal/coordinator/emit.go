package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"connection_coordinator/internal/domain"
	apperrors "connection_coordinator/pkg/errors"
)

// ReplyStatus is the terminal state of a reply-wait. Timeout is a valid
// outcome, not an error.
type ReplyStatus string

const (
	ReplyReplied  ReplyStatus = "replied"
	ReplyTimedOut ReplyStatus = "timeout"
	ReplyPending  ReplyStatus = "pending"
)

// EmitOptions shape one outgoing emission.
type EmitOptions struct {
	// Rooms to deliver to; empty means broadcast to all connections.
	Rooms []string
	// WaitFor parks the emission until every named event has fired at
	// least once in this process.
	WaitFor []string
	// ExpectReply blocks the caller until a correlated reply arrives or
	// Timeout elapses. Timeout is mandatory with ExpectReply.
	ExpectReply bool
	Timeout     time.Duration
}

// Emit sends an event through the dependency queue and, when a reply is
// expected, blocks until it is acknowledged or the timeout fires. The
// correlation id is returned whenever one was assigned; the status tells
// replied from timed out.
func (c *Coordinator) Emit(name string, data domain.Payload, opts EmitOptions) (string, ReplyStatus, error) {
	if opts.ExpectReply && opts.Timeout <= 0 {
		return "", "", apperrors.ErrMissingTimeout
	}
	if data == nil {
		data = domain.Payload{}
	}

	if !c.queue.satisfied(opts.WaitFor) {
		if opts.ExpectReply {
			// A parked emission returns immediately, so there is no
			// caller left to block for the reply.
			c.log.Warn("Parked emission cannot wait for a reply", "event", name)
		}
		c.queue.park(emission{name: name, data: data, rooms: opts.Rooms}, opts.WaitFor)
		return "", "", nil
	}

	var correlationID string
	if opts.ExpectReply {
		correlationID = uuid.New().String()
		data[domain.CorrelationField] = correlationID
		c.replies.create(correlationID, opts.Timeout)
	}

	c.queue.fire(emission{name: name, data: data, rooms: opts.Rooms})

	if !opts.ExpectReply {
		return "", "", nil
	}

	status := c.replies.wait(correlationID)
	return correlationID, status, nil
}

// ReceiveReply resolves the pending wait for the given correlation id.
// Returns false when the id is unknown or already resolved.
func (c *Coordinator) ReceiveReply(correlationID string) bool {
	return c.replies.resolve(correlationID, ReplyReplied)
}

// ReplyState reports the stored status for a correlation id before eviction.
func (c *Coordinator) ReplyState(correlationID string) (ReplyStatus, bool) {
	return c.replies.status(correlationID)
}

func (c *Coordinator) deliver(e emission) {
	if len(e.rooms) == 0 {
		c.broadcaster.ToAll(e.name, e.data)
		return
	}
	for _, roomID := range e.rooms {
		c.broadcaster.ToRoom(roomID, e.name, e.data)
	}
}

// --- reply tracking ---

type replyState struct {
	resolved  bool
	status    ReplyStatus
	timer     *time.Timer
	createdAt time.Time
}

// replyTracker implements the reply-wait protocol. The invariant is
// mark-then-broadcast under the same lock the waiter checks, so a wakeup can
// never be lost, and exactly one of the reply/timer paths resolves an id.
type replyTracker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[string]*replyState
}

func newReplyTracker() *replyTracker {
	t := &replyTracker{
		pending: make(map[string]*replyState),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *replyTracker) create(id string, timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := &replyState{
		status:    ReplyPending,
		createdAt: time.Now(),
	}
	state.timer = time.AfterFunc(timeout, func() {
		t.resolve(id, ReplyTimedOut)
	})
	t.pending[id] = state
}

func (t *replyTracker) resolve(id string, status ReplyStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.pending[id]
	if !ok || state.resolved {
		return false
	}
	state.resolved = true
	state.status = status
	if status == ReplyReplied && state.timer != nil {
		state.timer.Stop()
	}
	t.cond.Broadcast()
	return true
}

// wait blocks until the id resolves, then evicts it and returns the status.
func (t *replyTracker) wait(id string) ReplyStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.pending[id]
	if !ok {
		return ReplyTimedOut
	}
	for !state.resolved {
		t.cond.Wait()
	}

	delete(t.pending, id)
	return state.status
}

func (t *replyTracker) status(id string) (ReplyStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.pending[id]
	if !ok {
		return "", false
	}
	return state.status, true
}

// --- dependency queue ---

type emission struct {
	name  string
	data  domain.Payload
	rooms []string
}

type parkedEmission struct {
	emission
	waitFor []string
}

// dependencyQueue holds back emissions whose prerequisite events have not
// fired yet in this process. Firing an event flushes every newly satisfied
// entry, recursively, since one flush can satisfy another's prerequisites.
type dependencyQueue struct {
	mu      sync.Mutex
	fired   map[string]bool
	parked  []parkedEmission
	deliver func(emission)
}

func newDependencyQueue(deliver func(emission)) *dependencyQueue {
	return &dependencyQueue{
		fired:   make(map[string]bool),
		deliver: deliver,
	}
}

func (q *dependencyQueue) satisfied(waitFor []string) bool {
	if len(waitFor) == 0 {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.satisfiedLocked(waitFor)
}

func (q *dependencyQueue) satisfiedLocked(waitFor []string) bool {
	for _, name := range waitFor {
		if !q.fired[name] {
			return false
		}
	}
	return true
}

func (q *dependencyQueue) park(e emission, waitFor []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.parked = append(q.parked, parkedEmission{emission: e, waitFor: waitFor})
}

// fire marks the event as fired, then drains every parked entry whose
// prerequisites are now met. Delivery happens outside the lock, in the order
// entries became ready.
func (q *dependencyQueue) fire(e emission) {
	q.mu.Lock()

	ready := []emission{e}
	q.fired[e.name] = true

	for changed := true; changed; {
		changed = false
		remaining := q.parked[:0]
		for _, p := range q.parked {
			if q.satisfiedLocked(p.waitFor) {
				q.fired[p.name] = true
				ready = append(ready, p.emission)
				changed = true
			} else {
				remaining = append(remaining, p)
			}
		}
		q.parked = remaining
	}

	q.mu.Unlock()

	for _, e := range ready {
		q.deliver(e)
	}
}
