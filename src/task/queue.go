package task

// Queue is a FIFO list of control blocks linked through Next.
// The zero value is an empty queue. Queues are not safe for concurrent use;
// the kernel guards them with its own lock.
type Queue struct {
	head, tail *ControlBlock
	n          int
}

// Push a task onto the back of the queue.
func (q *Queue) Push(t *ControlBlock) {
	if q.tail != nil {
		q.tail.Next = t
	}
	q.tail = t
	t.Next = nil
	if q.head == nil {
		q.head = t
	}
	q.n++
}

// Pop a task off the front of the queue, or nil if it is empty.
func (q *Queue) Pop() *ControlBlock {
	t := q.head
	if t == nil {
		return nil
	}
	q.head = t.Next
	if q.tail == t {
		q.tail = nil
	}
	t.Next = nil
	q.n--
	return t
}

// Remove unlinks t from the queue. It reports whether t was found.
func (q *Queue) Remove(t *ControlBlock) bool {
	var prev *ControlBlock
	for cur := q.head; cur != nil; prev, cur = cur, cur.Next {
		if cur != t {
			continue
		}
		if prev == nil {
			q.head = cur.Next
		} else {
			prev.Next = cur.Next
		}
		if q.tail == cur {
			q.tail = prev
		}
		cur.Next = nil
		q.n--
		return true
	}
	return false
}

// Empty checks if the queue is empty.
func (q *Queue) Empty() bool {
	return q.head == nil
}

func (q *Queue) Len() int {
	return q.n
}

// Each calls fn for every task, front to back.
func (q *Queue) Each(fn func(*ControlBlock)) {
	for t := q.head; t != nil; t = t.Next {
		fn(t)
	}
}
