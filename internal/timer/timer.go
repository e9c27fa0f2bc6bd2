/*
 * uqmid - Event scheduler
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package timer implements a delta-time wheel for FSM retry and timeout
// callbacks, owned by the daemon's single event loop. No goroutine or
// lock is involved: Advance is only ever called from the loop that also
// reads the QMI device, so a fired callback can safely requeue a new
// timer or cancel a sibling one.
package timer

// Callback fires when a timer's delay has elapsed. arg is whatever the
// caller of Add passed through, typically a retry count or a owned
// entity's generation number used to detect staleness.
type Callback func(arg int)

// timer is one entry in the delta-ordered list: time is relative to the
// entry before it, not absolute, so Advance only ever touches the head.
type timer struct {
	time  int
	owner any // modem or sim FSM this timer belongs to, for Cancel matching
	cb    Callback
	arg   int
	prev  *timer
	next  *timer
}

// Scheduler is a delta-time ordered list of pending timers. Zero value
// is ready to use.
type Scheduler struct {
	head *timer
	tail *timer
}

// Add schedules cb to fire after delay ticks. A delay of 0 runs cb
// synchronously and reports no timer was queued. owner identifies the
// FSM or component that owns this timer, used later by Cancel.
func (s *Scheduler) Add(owner any, cb Callback, delay int, arg int) bool {
	if delay == 0 {
		cb(arg)
		return false
	}

	ev := &timer{owner: owner, cb: cb, time: delay, arg: arg}

	cur := s.head
	if cur == nil {
		s.head = ev
		s.tail = ev
		return true
	}

	for cur != nil {
		if ev.time <= cur.time {
			cur.time -= ev.time
			ev.prev = cur.prev
			ev.next = cur
			cur.prev = ev
			if ev.prev != nil {
				ev.prev.next = ev
			} else {
				s.head = ev
			}
			return true
		}
		ev.time -= cur.time
		cur = cur.next
	}

	ev.prev = s.tail
	s.tail.next = ev
	s.tail = ev
	return true
}

// Cancel removes every pending timer belonging to owner with the given
// arg. Used when an FSM transitions away from the state that armed the
// timer before it fires.
func (s *Scheduler) Cancel(owner any, arg int) {
	cur := s.head
	for cur != nil {
		next := cur.next
		if cur.owner == owner && cur.arg == arg {
			if next != nil {
				next.time += cur.time
				next.prev = cur.prev
			} else {
				s.tail = cur.prev
			}
			if cur.prev != nil {
				cur.prev.next = cur.next
			} else {
				s.head = cur.next
			}
		}
		cur = next
	}
}

// CancelOwner removes every pending timer belonging to owner, regardless
// of arg. Used when an FSM is destroyed outright.
func (s *Scheduler) CancelOwner(owner any) {
	cur := s.head
	for cur != nil {
		next := cur.next
		if cur.owner == owner {
			if next != nil {
				next.time += cur.time
				next.prev = cur.prev
			} else {
				s.tail = cur.prev
			}
			if cur.prev != nil {
				cur.prev.next = cur.next
			} else {
				s.head = cur.next
			}
		}
		cur = next
	}
}

// Advance moves the clock forward by t ticks, firing every timer whose
// delay has elapsed, in order. A fired timer is unlinked before its
// callback runs, so the callback may safely call Add or Cancel again.
func (s *Scheduler) Advance(t int) {
	cur := s.head
	if cur == nil {
		return
	}
	cur.time -= t
	for cur != nil && cur.time <= 0 {
		over := cur.time
		s.head = cur.next
		if s.head != nil {
			s.head.prev = nil
			s.head.time += over
		} else {
			s.tail = nil
		}
		cur.cb(cur.arg)
		cur = s.head
	}
}

// Pending reports whether any timer is queued, used by the event loop
// to decide whether it may block indefinitely on device I/O or must
// wake on a deadline.
func (s *Scheduler) Pending() bool {
	return s.head != nil
}
