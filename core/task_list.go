package core

// TaskList is an intrusive doubly linked list of tasks. The links live in the
// Task itself, so linking never allocates. A TaskList is not safe for
// concurrent use; owners guard it with their own lock.
type TaskList struct {
	head, tail *Task
	n          int
}

func (l *TaskList) Len() int      { return l.n }
func (l *TaskList) IsEmpty() bool { return l.n == 0 }

// Front returns the first task without unlinking it.
func (l *TaskList) Front() *Task { return l.head }

// PushBack appends t. A task that is already linked into a list is a contract
// violation.
func (l *TaskList) PushBack(t *Task) {
	if t.list != nil {
		contractViolation("TaskList.PushBack", t, ErrTaskLinked)
		return
	}
	t.list = l
	t.prev = l.tail
	t.next = nil
	if l.tail != nil {
		l.tail.next = t
	} else {
		l.head = t
	}
	l.tail = t
	l.n++
}

// PopFront unlinks and returns the first task, or nil when empty.
func (l *TaskList) PopFront() *Task {
	t := l.head
	if t == nil {
		return nil
	}
	l.unlink(t)
	return t
}

// Remove unlinks t if it belongs to l and reports whether it did.
func (l *TaskList) Remove(t *Task) bool {
	if t.list != l {
		return false
	}
	l.unlink(t)
	return true
}

// contains walks the list looking for t. Unlike Remove it never reads t's own
// link fields, which may be owned by another list's lock.
func (l *TaskList) contains(t *Task) bool {
	for cur := l.head; cur != nil; cur = cur.next {
		if cur == t {
			return true
		}
	}
	return false
}

// SpliceTo moves every task onto the back of dst, preserving order. l is
// empty afterwards.
func (l *TaskList) SpliceTo(dst *TaskList) {
	if l.n == 0 {
		return
	}
	for t := l.head; t != nil; t = t.next {
		t.list = dst
	}
	if dst.tail != nil {
		dst.tail.next = l.head
		l.head.prev = dst.tail
	} else {
		dst.head = l.head
	}
	dst.tail = l.tail
	dst.n += l.n

	l.head, l.tail, l.n = nil, nil, 0
}

func (l *TaskList) unlink(t *Task) {
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		l.tail = t.prev
	}
	t.next, t.prev, t.list = nil, nil, nil
	l.n--
}
