// Package ring implements the bounded frame queue that decouples the vendor
// acquisition thread from the callback consumer.
//
// Producer side (Push) never blocks: it copies the frame into a free slot or
// drops it when all slots are queued. Consumer side (Pop) blocks on a
// sync.Cond until a slot is queued or the ring is closed. Slots are recycled,
// so steady-state operation does not allocate.
package ring

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAllocation reports that a slot buffer could not be allocated.
var ErrAllocation = errors.New("ring: slot allocation failed")

// Slot is one queued frame. Data is owned by the ring and valid until the
// slot is handed back with Recycle.
type Slot struct {
	Data       []byte
	SequenceNo uint16
	Arrived    time.Time

	buf []byte
}

// Ring is a FIFO of at most Cap() queued slots.
type Ring struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Slot // circular, len == capacity
	head   int
	count  int
	free   []*Slot
	closed bool

	capacity int
	slotSize int

	pushed uint64 // atomic
	drops  uint64 // atomic
}

// New creates a ring with capacity queued slots. slotSize is the initial
// buffer size of each slot; slots grow if a larger frame arrives.
func New(capacity, slotSize int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring: capacity must be > 0, got %d", capacity)
	}
	if slotSize < 0 {
		return nil, fmt.Errorf("ring: slot size must be >= 0, got %d", slotSize)
	}
	r := &Ring{
		queue:    make([]*Slot, capacity),
		capacity: capacity,
		slotSize: slotSize,
	}
	r.cond = sync.NewCond(&r.mu)
	return r, nil
}

// Push copies data into a slot and queues it. It returns false when the ring
// is full or closed; the frame is dropped and counted. An error means the slot
// buffer could not be allocated; the frame is dropped as well.
func (r *Ring) Push(data []byte, seq uint16, arrived time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.count == r.capacity {
		atomic.AddUint64(&r.drops, 1)
		return false, nil
	}

	slot, err := r.takeFree(len(data))
	if err != nil {
		atomic.AddUint64(&r.drops, 1)
		return false, err
	}
	slot.Data = append(slot.buf[:0], data...)
	slot.buf = slot.Data
	slot.SequenceNo = seq
	slot.Arrived = arrived

	r.queue[(r.head+r.count)%r.capacity] = slot
	r.count++
	atomic.AddUint64(&r.pushed, 1)

	r.cond.Signal()
	return true, nil
}

// Pop blocks until a slot is queued and returns it in arrival order. It
// returns false once the ring is closed.
func (r *Ring) Pop() (*Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return nil, false
	}

	slot := r.queue[r.head]
	r.queue[r.head] = nil
	r.head = (r.head + 1) % r.capacity
	r.count--
	return slot, true
}

// Recycle returns a popped slot to the free list.
func (r *Ring) Recycle(slot *Slot) {
	if slot == nil {
		return
	}
	r.mu.Lock()
	slot.Data = nil
	r.free = append(r.free, slot)
	r.mu.Unlock()
}

// Close wakes every Pop caller and discards queued slots. Discarded frames
// are counted as drops and their number is returned. Close is idempotent.
func (r *Ring) Close() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}
	r.closed = true

	discarded := r.count
	for ; r.count > 0; r.count-- {
		slot := r.queue[r.head]
		r.queue[r.head] = nil
		r.head = (r.head + 1) % r.capacity
		slot.Data = nil
		r.free = append(r.free, slot)
	}
	atomic.AddUint64(&r.drops, uint64(discarded))

	r.cond.Broadcast()
	return discarded
}

// Len returns the number of queued slots.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the maximum number of queued slots.
func (r *Ring) Cap() int { return r.capacity }

// Pushed returns how many frames were queued since creation.
func (r *Ring) Pushed() uint64 { return atomic.LoadUint64(&r.pushed) }

// Drops returns how many frames were dropped, either at Push or by Close.
func (r *Ring) Drops() uint64 { return atomic.LoadUint64(&r.drops) }

// takeFree must be called with r.mu held.
func (r *Ring) takeFree(size int) (slot *Slot, err error) {
	if n := len(r.free); n > 0 {
		slot = r.free[n-1]
		r.free = r.free[:n-1]
		return slot, nil
	}

	if size < r.slotSize {
		size = r.slotSize
	}
	buf, err := alloc(size)
	if err != nil {
		return nil, err
	}
	return &Slot{buf: buf[:0]}, nil
}

// alloc turns a failed make into an error instead of a panic.
func alloc(size int) (buf []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			buf, err = nil, fmt.Errorf("%w: %d bytes: %v", ErrAllocation, size, rec)
		}
	}()
	return make([]byte, size), nil
}
