package flowcache

// creationQueue holds entries in creation order for the active-timeout sweep.
// Entries that leave the cache through another path stay in the queue and are
// skipped lazily; compact drops them once they dominate the backing slice.
type creationQueue struct {
	items []*entry
	head  int
}

func (q *creationQueue) push(e *entry) {
	q.items = append(q.items, e)
}

// front returns the oldest live entry, discarding stale ones on the way.
func (q *creationQueue) front() *entry {
	for q.head < len(q.items) {
		e := q.items[q.head]
		if !e.evicted {
			return e
		}
		q.pop()
	}
	return nil
}

func (q *creationQueue) pop() {
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
}

func (q *creationQueue) len() int {
	return len(q.items) - q.head
}

// compact rewrites the queue without stale entries when it holds more than
// limit items. The cost is linear in the queue length but only paid after at
// least limit/2 stale pushes, so it amortizes to O(1) per insertion.
func (q *creationQueue) compact(limit int) {
	if q.len() <= limit {
		return
	}
	live := make([]*entry, 0, limit/2+1)
	for _, e := range q.items[q.head:] {
		if !e.evicted {
			live = append(live, e)
		}
	}
	q.items = live
	q.head = 0
}

func (q *creationQueue) reset() {
	q.items = nil
	q.head = 0
}
