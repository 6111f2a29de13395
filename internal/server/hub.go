// Package server coordinates identity registration, per-identity event queues
// and fair fan-out delivery for the group chat via the Hub type.
package server

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// outboundEvent is one owned payload waiting in a recipient's queue.
type outboundEvent struct {
	payload []byte
	seq     uint64
}

// slot is the registry entry for one identity. The queue outlives any single
// connection; epoch changes whenever the queue is discarded.
type slot struct {
	queue   []outboundEvent
	owner   Transport // the session bound to this identity
	live    Transport // owner, until a write to it fails
	member  bool
	invited bool
	writing bool // an event popped from queue is being written
	epoch   uint64
}

// Hub is the dispatch engine. It keeps one FIFO queue per identity, the live
// connection registry and the group membership behind a single mutex, and a
// single worker (Run) drains the queues round-robin, one event per identity
// per pass. Each popped event is written by its own goroutine outside the
// mutex, and an identity with a write in flight is skipped until it finishes,
// so a stalled recipient holds back only its own queue.
type Hub struct {
	mu      sync.Mutex
	wake    *sync.Cond
	slots   []slot
	seq     uint64
	closed  bool
	running atomic.Bool
	writers sync.WaitGroup

	logger  *slog.Logger
	metrics *Metrics
	done    chan struct{}
}

// NewHub creates a hub with one registry slot per identity in [0, capacity).
// Logger and metrics may be nil.
func NewHub(capacity int, logger *slog.Logger, metrics *Metrics) *Hub {
	if capacity < 0 {
		capacity = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		slots:   make([]slot, capacity),
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	h.wake = sync.NewCond(&h.mu)
	return h
}

// Capacity is the number of identities the hub routes for.
func (h *Hub) Capacity() int {
	return len(h.slots)
}

func (h *Hub) valid(id int) bool {
	return id >= 0 && id < len(h.slots)
}

// enqueueLocked appends an owned copy of payload to id's queue.
func (h *Hub) enqueueLocked(id int, payload []byte) {
	h.seq++
	h.slots[id].queue = append(h.slots[id].queue, outboundEvent{
		payload: bytes.Clone(payload),
		seq:     h.seq,
	})
}

// DirectedSend appends payload to the recipient's queue whether or not the
// recipient is live or a group member.
func (h *Hub) DirectedSend(id int, payload []byte) error {
	if !h.valid(id) {
		return fmt.Errorf("%w: %d", ErrUnknownIdentity, id)
	}

	h.mu.Lock()
	h.enqueueLocked(id, payload)
	h.wake.Signal()
	h.mu.Unlock()

	h.metrics.enqueued(1)
	return nil
}

// Broadcast appends an independent copy of payload to the queue of every
// current group member and returns how many members it reached.
func (h *Hub) Broadcast(payload []byte) int {
	return h.BroadcastExcept(payload, -1)
}

// BroadcastExcept is Broadcast that leaves out the member skip.
func (h *Hub) BroadcastExcept(payload []byte, skip int) int {
	h.mu.Lock()
	recipients := 0
	for id := range h.slots {
		if h.slots[id].member && id != skip {
			h.enqueueLocked(id, payload)
			recipients++
		}
	}
	if recipients > 0 {
		h.wake.Signal()
	}
	h.mu.Unlock()

	h.metrics.enqueued(recipients)
	return recipients
}

// Attach makes t the live connection for id. It returns the transport of a
// previous session bound to the same identity, which the caller must
// invalidate, or nil.
func (h *Hub) Attach(id int, t Transport) (Transport, error) {
	if !h.valid(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIdentity, id)
	}

	h.mu.Lock()
	s := &h.slots[id]
	prev := s.owner
	if prev == t {
		prev = nil
	}
	s.owner = t
	s.live = t
	if len(s.queue) > 0 {
		h.wake.Signal()
	}
	live := h.liveCountLocked()
	h.mu.Unlock()

	h.metrics.setLive(live)
	return prev, nil
}

// Detach removes t as id's connection. It reports whether t was still the
// session bound to id; false means another login has replaced it.
func (h *Hub) Detach(id int, t Transport) bool {
	if !h.valid(id) {
		return false
	}

	h.mu.Lock()
	s := &h.slots[id]
	owned := s.owner == t
	if owned {
		s.owner = nil
	}
	if s.live == t {
		s.live = nil
	}
	live := h.liveCountLocked()
	h.mu.Unlock()

	h.metrics.setLive(live)
	return owned
}

// Join adds id to the group. It reports false if id was already a member.
func (h *Hub) Join(id int) bool {
	if !h.valid(id) {
		return false
	}

	h.mu.Lock()
	added := !h.slots[id].member
	h.slots[id].member = true
	h.slots[id].invited = false
	members := h.memberCountLocked()
	h.mu.Unlock()

	h.metrics.setMembers(members)
	return added
}

// Invite queues notice for id and, unless id is already a member, records a
// pending invitation in the same critical section. It reports whether an
// invitation is pending afterwards.
func (h *Hub) Invite(id int, notice []byte) (bool, error) {
	if !h.valid(id) {
		return false, fmt.Errorf("%w: %d", ErrUnknownIdentity, id)
	}

	h.mu.Lock()
	s := &h.slots[id]
	if !s.member {
		s.invited = true
	}
	pending := s.invited
	h.enqueueLocked(id, notice)
	h.wake.Signal()
	h.mu.Unlock()

	h.metrics.enqueued(1)
	return pending, nil
}

// Accept consumes id's pending invitation and adds id to the group. It
// returns ErrNotInvited if no invitation is pending.
func (h *Hub) Accept(id int) error {
	if !h.valid(id) {
		return fmt.Errorf("%w: %d", ErrUnknownIdentity, id)
	}

	h.mu.Lock()
	s := &h.slots[id]
	if !s.invited {
		h.mu.Unlock()
		return ErrNotInvited
	}
	s.invited = false
	s.member = true
	members := h.memberCountLocked()
	h.mu.Unlock()

	h.metrics.setMembers(members)
	return nil
}

// Decline drops id's pending invitation. It reports whether one was pending.
func (h *Hub) Decline(id int) bool {
	if !h.valid(id) {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	pending := h.slots[id].invited
	h.slots[id].invited = false
	return pending
}

// IsInvited reports whether id holds an invitation it has not answered.
func (h *Hub) IsInvited(id int) bool {
	if !h.valid(id) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slots[id].invited
}

// Leave removes id from the group and discards every event still queued for
// it. It returns the number of discarded events.
func (h *Hub) Leave(id int) int {
	if !h.valid(id) {
		return 0
	}

	h.mu.Lock()
	s := &h.slots[id]
	s.member = false
	discarded := len(s.queue)
	s.queue = nil
	s.epoch++
	members := h.memberCountLocked()
	h.mu.Unlock()

	h.metrics.setMembers(members)
	h.metrics.discarded(discarded)
	return discarded
}

// IsMember reports whether id is currently in the group.
func (h *Hub) IsMember(id int) bool {
	if !h.valid(id) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slots[id].member
}

// Members returns the ids of the current group members in ascending order.
func (h *Hub) Members() []int {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := make([]int, 0, len(h.slots))
	for id := range h.slots {
		if h.slots[id].member {
			members = append(members, id)
		}
	}
	return members
}

// QueueLen returns the number of events waiting for id.
func (h *Hub) QueueLen(id int) int {
	if !h.valid(id) {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.slots[id].queue)
}

// IsLive reports whether id currently has a connection events are written to.
func (h *Hub) IsLive(id int) bool {
	if !h.valid(id) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slots[id].live != nil
}

func (h *Hub) liveCountLocked() int {
	n := 0
	for id := range h.slots {
		if h.slots[id].live != nil {
			n++
		}
	}
	return n
}

func (h *Hub) memberCountLocked() int {
	n := 0
	for id := range h.slots {
		if h.slots[id].member {
			n++
		}
	}
	return n
}

func (h *Hub) deliverableLocked() bool {
	for id := range h.slots {
		s := &h.slots[id]
		if s.live != nil && !s.writing && len(s.queue) > 0 {
			return true
		}
	}
	return false
}

// Run is the dispatch worker. It repeatedly makes a pass over every identity
// in id order, writing at most one event per identity per pass, and sleeps
// when a pass would find nothing deliverable. It returns after Shutdown.
func (h *Hub) Run() {
	if !h.running.CompareAndSwap(false, true) {
		h.logger.Warn("Hub.Run called twice; ignoring")
		return
	}
	defer close(h.done)

	for h.waitForWork() {
		h.dispatchPass()
	}
	h.waitWrites()
}

// waitWrites blocks until every write started by dispatchPass has finished.
func (h *Hub) waitWrites() {
	h.writers.Wait()
}

// waitForWork blocks until some live identity has a queued event. It returns
// false once the hub is shut down.
func (h *Hub) waitForWork() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for !h.closed && !h.deliverableLocked() {
		h.wake.Wait()
	}
	return !h.closed
}

// dispatchPass visits each identity once, hands at most one event per
// identity to a writer goroutine and returns how many writes it started.
// Only the dispatch worker calls it.
func (h *Hub) dispatchPass() int {
	started := 0
	for id := range h.slots {
		ev, t, epoch, ok := h.pop(id)
		if !ok {
			continue
		}
		started++
		h.writers.Add(1)
		go h.write(id, t, ev, epoch)
	}
	return started
}

func (h *Hub) write(id int, t Transport, ev outboundEvent, epoch uint64) {
	defer h.writers.Done()

	if err := t.WriteFrame(ev.payload); err != nil {
		h.deliveryFailed(id, t, ev, epoch, err)
		return
	}
	h.metrics.delivered()

	h.mu.Lock()
	h.slots[id].writing = false
	h.wake.Signal()
	h.mu.Unlock()
}

// pop removes the head of id's queue if id is live and has no write in flight.
func (h *Hub) pop(id int) (outboundEvent, Transport, uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &h.slots[id]
	if h.closed || s.live == nil || s.writing || len(s.queue) == 0 {
		return outboundEvent{}, nil, 0, false
	}

	s.writing = true
	ev := s.queue[0]
	s.queue[0] = outboundEvent{}
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.queue = nil
	}
	return ev, s.live, s.epoch, true
}

// deliveryFailed marks t not live for id and puts the undelivered event back
// at the head of the queue, unless the queue was discarded in the meantime.
func (h *Hub) deliveryFailed(id int, t Transport, ev outboundEvent, epoch uint64, err error) {
	h.mu.Lock()
	s := &h.slots[id]
	s.writing = false
	if s.live == t {
		s.live = nil
	}
	if s.epoch == epoch {
		s.queue = append([]outboundEvent{ev}, s.queue...)
	}
	h.wake.Signal()
	live := h.liveCountLocked()
	h.mu.Unlock()

	h.metrics.deliveryFailed()
	h.metrics.setLive(live)
	if isExpectedCloseError(err) {
		h.logger.Info("Delivery stopped; connection closed", "identity", id, "addr", t.RemoteAddr(), "seq", ev.seq)
	} else {
		h.logger.Warn("Delivery failed; marking connection not live", "identity", id, "addr", t.RemoteAddr(), "seq", ev.seq, "err", err)
	}
	_ = t.Close()
}

// shutdownClients closes every live connection so blocked reads and writes return.
func (h *Hub) shutdownClients() int {
	h.mu.Lock()
	transports := make([]Transport, 0, len(h.slots))
	for id := range h.slots {
		if t := h.slots[id].owner; t != nil {
			transports = append(transports, t)
		}
	}
	h.mu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("Error closing client connection", "addr", t.RemoteAddr(), "err", err)
		}
	}
	return len(transports)
}

// Shutdown stops the dispatch worker and closes all bound connections. It
// returns context.DeadlineExceeded if the worker does not stop within timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown...")

	h.mu.Lock()
	h.closed = true
	h.wake.Broadcast()
	h.mu.Unlock()

	closed := h.shutdownClients()
	h.logger.Info("Closed client connections", "count", closed)

	if !h.running.Load() {
		return nil
	}

	select {
	case <-h.done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached, dispatch worker may still be running")
		return context.DeadlineExceeded
	}
}
