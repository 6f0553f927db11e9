package signaling

import (
	"sync"

	"github.com/meshrelay/signaling/internal/v1/metrics"
	"github.com/meshrelay/signaling/internal/v1/protocol"
)

// DefaultIngressCapacity is used when the configuration does not override it.
const DefaultIngressCapacity = 1024

type entryKind uint8

const (
	entryFrame entryKind = iota
	entryAccept
	entryClose
)

// ingressEntry is one unit of work produced by the transport layer. Frames
// arrive pre-parsed; the envelope is moved through the queue by reference and
// never retained after pop.
type ingressEntry struct {
	kind       entryKind
	conn       Conn
	env        *protocol.Envelope
	enqueuedMs int64
}

// ingressQueue is a mutex-guarded ring buffer. It is the only object shared
// between the transport goroutines (producers) and the dispatcher (sole
// consumer); the lock is held for O(1) work only.
type ingressQueue struct {
	mu      sync.Mutex
	entries []ingressEntry
	head    int
	tail    int
	count   int
}

func newIngressQueue(capacity int) *ingressQueue {
	if capacity <= 0 {
		capacity = DefaultIngressCapacity
	}
	return &ingressQueue{entries: make([]ingressEntry, capacity)}
}

// push appends an entry. Returns false when the ring is full; the caller
// decides whether dropping is acceptable.
func (q *ingressQueue) push(e ingressEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count >= len(q.entries) {
		return false
	}
	q.entries[q.tail] = e
	q.tail = (q.tail + 1) % len(q.entries)
	q.count++
	metrics.IngressDepth.Set(float64(q.count))
	return true
}

// pop removes the oldest entry. Non-blocking; ok is false when empty.
func (q *ingressQueue) pop() (ingressEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return ingressEntry{}, false
	}
	e := q.entries[q.head]
	q.entries[q.head] = ingressEntry{}
	q.head = (q.head + 1) % len(q.entries)
	q.count--
	metrics.IngressDepth.Set(float64(q.count))
	return e, true
}

func (q *ingressQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
