package capture

import (
	"fmt"
	"strings"
	"sync"
)

// OverflowPolicy decides what a bounded queue does when a push finds it full.
type OverflowPolicy int

const (
	// OverflowBlock makes Push wait until the consumer frees a slot.
	OverflowBlock OverflowPolicy = iota
	// OverflowDropOldest evicts the oldest queued datagram to admit the new one.
	OverflowDropOldest
	// OverflowDropNewest discards the incoming datagram.
	OverflowDropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowBlock:
		return "block"
	case OverflowDropOldest:
		return "drop-oldest"
	case OverflowDropNewest:
		return "drop-newest"
	default:
		return fmt.Sprintf("overflow(%d)", int(p))
	}
}

// ParseOverflowPolicy maps a flag value to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(s) {
	case "block":
		return OverflowBlock, nil
	case "drop-oldest":
		return OverflowDropOldest, nil
	case "drop-newest":
		return OverflowDropNewest, nil
	default:
		return 0, fmt.Errorf("invalid overflow policy %q (want block, drop-oldest or drop-newest)", s)
	}
}

// QueueConfig sizes the transfer queue. The zero value selects the reference
// behaviour: unbounded, so the receiver never blocks on disk I/O. The
// trade-off is that memory grows without bound if disk write throughput falls
// behind the arrival rate for a sustained period; set Capacity to cap it.
type QueueConfig struct {
	Capacity int // 0 = unbounded
	Policy   OverflowPolicy
}

// Queue is the ordered hand-off buffer between exactly one producer (the
// receiver) and one consumer (the writer). Items are popped in the exact
// order they were pushed, and nothing is dropped while the queue is open
// unless a bounded overflow policy says so.
type Queue struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	notFull  *sync.Cond

	items    []*Datagram
	head     int
	capacity int
	policy   OverflowPolicy
	closed   bool
	dropped  uint64
}

// NewQueue creates a Queue with the given bounds.
func NewQueue(cfg QueueConfig) *Queue {
	q := &Queue{
		capacity: cfg.Capacity,
		policy:   cfg.Policy,
	}
	q.nonEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) size() int { return len(q.items) - q.head }

// Push appends a datagram. On a full bounded queue it applies the overflow
// policy; on a closed queue it is a no-op. Only the producer may call Push.
func (q *Queue) Push(d *Datagram) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if q.capacity > 0 && q.size() >= q.capacity {
		switch q.policy {
		case OverflowBlock:
			for q.size() >= q.capacity && !q.closed {
				q.notFull.Wait()
			}
			if q.closed {
				return
			}
		case OverflowDropOldest:
			q.items[q.head] = nil
			q.head++
			q.dropped++
			q.compact()
		case OverflowDropNewest:
			q.dropped++
			return
		}
	}

	q.items = append(q.items, d)
	q.nonEmpty.Signal()
}

// Pop removes and returns the oldest datagram, blocking while the queue is
// empty and still open. It returns ok=false only when the queue is closed and
// fully drained, so a consumer loop terminates exactly when no more data can
// ever arrive.
func (q *Queue) Pop() (*Datagram, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size() == 0 {
		if q.closed {
			return nil, false
		}
		q.nonEmpty.Wait()
	}

	d := q.items[q.head]
	q.items[q.head] = nil // release for GC
	q.head++
	q.compact()
	q.notFull.Signal()
	return d, true
}

// compact reclaims the consumed prefix of the backing slice. Called with the
// lock held.
func (q *Queue) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head >= 1024 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = nil
		}
		q.items = q.items[:n]
		q.head = 0
	}
}

// Close marks the producer as done. Queued items remain poppable; a blocked
// Pop wakes once the queue drains, and a blocked Push gives up.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.nonEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len returns the number of queued datagrams.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size()
}

// Dropped returns how many datagrams the overflow policy discarded.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
