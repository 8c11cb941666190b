// Package dedupe defines the interface for submission idempotency tracking.
// Submissions are keyed by content, so resubmitting the same sequence with
// the same options maps back to the original job.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/okian/protofold/internal/domain/model"
)

// Deduper maps submission content keys to the job that first claimed them.
type Deduper interface {
	// Recall returns the job ID previously recorded for key, if any.
	Recall(ctx context.Context, key string) (string, bool)

	// RecallOrRecord atomically checks whether key was seen and records the
	// jobID if not. Returns the existing job ID and true when key was
	// already claimed, or jobID and false when it was newly recorded.
	RecallOrRecord(ctx context.Context, key, jobID string) (string, bool)

	// Forget removes a key, allowing the same content to be resubmitted.
	// Used when a recorded submission failed to enqueue.
	Forget(ctx context.Context, key string)

	Size() int64
}

// Key derives the content key for a submission: the sequence plus every
// option that changes the result. Job IDs are never part of the key.
func Key(q model.Query, o model.Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%d|%d|%d|%.4f",
		q.Sequence, o.MaxHits, o.Sensitivity, o.EnsembleSize, o.TopK, o.RelaxMaxIterations, o.GPUMemoryFraction)
	return hex.EncodeToString(h.Sum(nil))
}

// node represents a single entry in the linked list
type node struct {
	key   string
	jobID string
	next  *node
}

// reset clears the node state for reuse
func (n *node) reset() {
	n.key = ""
	n.jobID = ""
	n.next = nil
}

// inMemoryDeduper implements Deduper using an in-memory linked list with LIFO eviction.
// For bounded mode (maxSize > 0): uses linked list with LIFO eviction and sync.Pool for nodes
// For unbounded mode (maxSize <= 0): uses simple map (no eviction, no size limit)
type inMemoryDeduper struct {
	mu       sync.RWMutex
	seen     map[string]*node  // key -> node pointer for bounded mode
	plain    map[string]string // key -> jobID for unbounded mode
	head     *node             // head of linked list (most recently added)
	maxSize  int               // maximum number of keys to keep in memory (0 or negative = UNBOUNDED)
	size     atomic.Int64      // current number of entries (atomic)
	nodePool sync.Pool         // pool for reusing node objects
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000, // default max size
	}

	// Apply all options
	for _, opt := range opts {
		opt(d)
	}

	if d.maxSize > 0 {
		d.seen = make(map[string]*node)
		d.nodePool = sync.Pool{
			New: func() interface{} {
				return &node{}
			},
		}
	} else {
		d.plain = make(map[string]string)
	}

	return d
}

// Recall returns the job ID previously recorded for key.
func (d *inMemoryDeduper) Recall(ctx context.Context, key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.maxSize > 0 {
		if n, exists := d.seen[key]; exists {
			return n.jobID, true
		}
		return "", false
	}
	jobID, exists := d.plain[key]
	return jobID, exists
}

// RecallOrRecord atomically checks whether key was seen and records jobID if not.
func (d *inMemoryDeduper) RecallOrRecord(ctx context.Context, key, jobID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.maxSize > 0 {
		// BOUNDED MODE: Use linked list with LIFO eviction
		if n, exists := d.seen[key]; exists {
			return n.jobID, true
		}

		// Check if we need to evict before adding the new entry
		if len(d.seen) >= d.maxSize {
			d.evictLIFO()
		}

		// Create new node from pool
		n := d.nodePool.Get().(*node)
		n.key = key
		n.jobID = jobID
		n.next = d.head

		// Update head and map
		d.head = n
		d.seen[key] = n
	} else {
		// UNBOUNDED MODE: Just use map
		if existing, exists := d.plain[key]; exists {
			return existing, true
		}
		d.plain[key] = jobID
	}
	d.size.Add(1)
	return jobID, false // Newly recorded
}

// Forget removes a key, allowing the same content to be resubmitted.
func (d *inMemoryDeduper) Forget(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.maxSize > 0 {
		// BOUNDED MODE: Remove from linked list and map
		if node, exists := d.seen[key]; exists {
			// Remove from map
			delete(d.seen, key)

			// Remove from linked list
			if d.head == node {
				// Node is at head
				d.head = node.next
			} else {
				// Find and remove node from middle/tail
				current := d.head
				for current != nil && current.next != node {
					current = current.next
				}
				if current != nil {
					current.next = node.next
				}
			}

			// Return node to pool
			node.reset()
			d.nodePool.Put(node)

			d.size.Add(-1)
		}
	} else {
		// UNBOUNDED MODE: Just remove from map
		if _, exists := d.plain[key]; exists {
			delete(d.plain, key)
			d.size.Add(-1)
		}
	}
}

// evictLIFO removes the least recently added entry (tail of list) from the map.
// Must be called with d.mu.Lock() held.
func (d *inMemoryDeduper) evictLIFO() {
	if len(d.seen) == 0 || d.head == nil {
		return
	}

	// Find the second-to-last node
	var prev *node
	current := d.head

	// If there's only one node, remove it
	if current.next == nil {
		delete(d.seen, current.key)
		current.reset()
		d.nodePool.Put(current)
		d.head = nil
		d.size.Add(-1)
		return
	}

	// Find the second-to-last node
	for current.next != nil {
		prev = current
		current = current.next
	}

	// Remove the last node (tail)
	if prev != nil {
		prev.next = nil
		delete(d.seen, current.key)
		current.reset()
		d.nodePool.Put(current)
		d.size.Add(-1)
	}
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
