package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// List is a doubly linked list of copies, oldest first.
//
// Links are atomic so the worker can walk the list without holding the
// lock. Structural changes are serialized by mu. A removed node keeps its
// forward link, which lets an iterator parked on it move on to the rest of
// the list.
type List[T any] struct {
	mu   sync.Mutex
	head atomic.Pointer[ListNode[T]]
	tail atomic.Pointer[ListNode[T]]
	size atomic.Int64
}

// ListNode is a single entry of a List.
type ListNode[T any] struct {
	value   T
	list    atomic.Pointer[List[T]]
	prev    atomic.Pointer[ListNode[T]]
	next    atomic.Pointer[ListNode[T]]
	removed atomic.Bool
}

// NewListNode creates a detached node holding value.
func NewListNode[T any](value T) *ListNode[T] {
	return &ListNode[T]{value: value}
}

// Value returns the value held by the node.
func (n *ListNode[T]) Value() T {
	return n.value
}

// Next returns the next node, or nil at the end of the list.
func (n *ListNode[T]) Next() *ListNode[T] {
	return n.next.Load()
}

// Prev returns the previous node, or nil if n is the head or was removed.
func (n *ListNode[T]) Prev() *ListNode[T] {
	return n.prev.Load()
}

// Removed reports whether the node was unlinked from its list.
func (n *ListNode[T]) Removed() bool {
	return n.removed.Load()
}

// String returns the node value in parentheses.
func (n *ListNode[T]) String() string {
	return fmt.Sprintf("(%v)", n.value)
}

// AddNext links next directly after n. It is only legal when n is the last
// node of its list and next has never been linked into a list.
func (n *ListNode[T]) AddNext(next *ListNode[T]) error {
	l := n.list.Load()
	if l == nil {
		return fmt.Errorf("%w: node %s does not belong to a list", ErrInvalidState, n)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n.removed.Load() {
		return fmt.Errorf("%w: node %s was removed", ErrInvalidState, n)
	}
	if l.tail.Load() != n {
		return fmt.Errorf("%w: node %s is not the last node", ErrInvalidState, n)
	}
	if next.list.Load() != nil || next.prev.Load() != nil {
		return fmt.Errorf("%w: node %s is already linked", ErrInvalidState, next)
	}

	l.appendLocked(next)
	return nil
}

// Add appends value to the end of the list and returns its node.
func (l *List[T]) Add(value T) *ListNode[T] {
	n := NewListNode(value)

	l.mu.Lock()
	l.appendLocked(n)
	l.mu.Unlock()

	return n
}

func (l *List[T]) appendLocked(n *ListNode[T]) {
	n.list.Store(l)
	if tail := l.tail.Load(); tail != nil {
		n.prev.Store(tail)
		tail.next.Store(n)
	} else {
		l.head.Store(n)
	}
	l.tail.Store(n)
	l.size.Add(1)
}

// Remove unlinks n from the list. It returns false if n is not a live node
// of this list.
func (l *List[T]) Remove(n *ListNode[T]) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n.list.Load() != l || n.removed.Load() {
		return false
	}

	prev, next := n.prev.Load(), n.next.Load()
	if prev != nil {
		prev.next.Store(next)
	} else {
		l.head.Store(next)
	}
	if next != nil {
		next.prev.Store(prev)
	} else {
		l.tail.Store(prev)
	}

	n.prev.Store(nil)
	n.removed.Store(true)
	l.size.Add(-1)
	return true
}

// First returns the oldest node, or nil if the list is empty.
func (l *List[T]) First() *ListNode[T] {
	return l.head.Load()
}

// Last returns the newest node, or nil if the list is empty.
func (l *List[T]) Last() *ListNode[T] {
	return l.tail.Load()
}

// Size returns the number of live nodes.
func (l *List[T]) Size() int {
	return int(l.size.Load())
}

// TestAll reports whether pred holds for every live value, oldest first.
// It stops at the first value for which pred returns false.
func (l *List[T]) TestAll(pred func(T) bool) bool {
	for n := l.First(); n != nil; n = n.Next() {
		if n.Removed() {
			continue
		}
		if !pred(n.value) {
			return false
		}
	}
	return true
}

// Values returns the live values, oldest first.
func (l *List[T]) Values() []T {
	values := make([]T, 0, l.Size())
	for n := l.First(); n != nil; n = n.Next() {
		if !n.Removed() {
			values = append(values, n.value)
		}
	}
	return values
}
