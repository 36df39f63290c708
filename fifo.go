package fdio

// fifo is an intrusive singly-linked queue of *Completion, threaded through
// Completion.next. It performs no allocation: every node is storage the
// caller already owns. next is nil iff a completion is the tail of its
// queue or is not queued at all, so a completion can never silently be a
// member of two queues.
type fifo struct {
	head *Completion
	tail *Completion
}

func (q *fifo) empty() bool {
	return q.head == nil
}

func (q *fifo) pushTail(c *Completion) {
	c.next = nil
	if q.tail == nil {
		q.head = c
		q.tail = c
		return
	}
	q.tail.next = c
	q.tail = c
}

func (q *fifo) popHead() *Completion {
	c := q.head
	if c == nil {
		return nil
	}
	q.head = c.next
	if q.head == nil {
		q.tail = nil
	}
	c.next = nil
	return c
}

func (q *fifo) peekHead() *Completion {
	return q.head
}

// remove walks from head and unlinks target, if present. It is O(length);
// the spec calls for no more, since queues only ever hold in-flight
// operations local to one engine.
func (q *fifo) remove(target *Completion) bool {
	if q.head == nil {
		return false
	}
	if q.head == target {
		q.head = target.next
		if q.head == nil {
			q.tail = nil
		}
		target.next = nil
		return true
	}
	prev := q.head
	for cur := prev.next; cur != nil; prev, cur = cur, cur.next {
		if cur == target {
			prev.next = cur.next
			if q.tail == cur {
				q.tail = prev
			}
			cur.next = nil
			return true
		}
	}
	return false
}

// drain detaches the entire list and returns its head, resetting q to
// empty. Used to take a dispatch snapshot before running callbacks, so
// that submissions made from inside a callback land on a fresh list and
// are processed on the following Tick rather than the current sweep.
func (q *fifo) drain() *Completion {
	head := q.head
	q.head = nil
	q.tail = nil
	return head
}

// drainList walks a detached chain (as returned by drain) without
// touching any queue fields besides next, which it resets to nil on each
// node before visiting it.
func drainList(head *Completion, visit func(*Completion)) {
	for c := head; c != nil; {
		next := c.next
		c.next = nil
		visit(c)
		c = next
	}
}
