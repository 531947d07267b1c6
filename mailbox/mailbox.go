// Package mailbox implements the bounded single-producer/single-consumer
// channel spec.md §2/§5 calls for: a small fixed-capacity buffer with
// one priority lane, used as the handshaker's wait/done admission-control
// buffers and as a peer session's outbound command queue. Its shape
// mirrors the bounded mpsc/spsc channels other_examples' Taipei-Torrent
// uses for per-peer command queues, generalized to carry an explicit
// priority lane rather than a second goroutine-selected channel.
package mailbox

import "errors"

// ErrClosed is returned by Send/TrySend/Receive once the mailbox has
// been closed and, for Receive, drained.
var ErrClosed = errors.New("mailbox: closed")

// ErrFull is returned by TrySend when the mailbox has no free capacity
// and the caller asked not to block.
var ErrFull = errors.New("mailbox: full")

// Mailbox is a bounded channel with one normal lane and one priority
// lane. Priority sends are delivered to Receive before any normal-lane
// message sent earlier, modeling the handshaker's need to let a
// response-ready session jump ahead of a newly started initiation.
type Mailbox struct {
	normal   chan interface{}
	priority chan interface{}
	closed   chan struct{}
}

// New creates a Mailbox whose normal lane holds up to capacity pending
// messages (0 means unbuffered: Send blocks until Receive is waiting)
// and whose priority lane holds up to priorityCapacity.
func New(capacity, priorityCapacity int) *Mailbox {
	return &Mailbox{
		normal:   make(chan interface{}, capacity),
		priority: make(chan interface{}, priorityCapacity),
		closed:   make(chan struct{}),
	}
}

// Send enqueues msg on the normal lane, blocking while the mailbox is
// full. It is this blocking that gives the handshaker its admission
// control: a slow consumer stalls new discoveries rather than letting
// them pile up unbounded.
func (m *Mailbox) Send(msg interface{}) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	select {
	case m.normal <- msg:
		return nil
	case <-m.closed:
		return ErrClosed
	}
}

// SendPriority enqueues msg on the priority lane, blocking while that
// lane is full.
func (m *Mailbox) SendPriority(msg interface{}) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	select {
	case m.priority <- msg:
		return nil
	case <-m.closed:
		return ErrClosed
	}
}

// TrySend enqueues msg on the normal lane without blocking, returning
// ErrFull if there is no free slot.
func (m *Mailbox) TrySend(msg interface{}) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	select {
	case m.normal <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Receive returns the next message, preferring the priority lane
// whenever both lanes have a message ready. It blocks until a message
// is available or the mailbox is closed and drained.
func (m *Mailbox) Receive() (interface{}, error) {
	for {
		select {
		case msg := <-m.priority:
			return msg, nil
		default:
		}
		select {
		case msg := <-m.priority:
			return msg, nil
		case msg := <-m.normal:
			return msg, nil
		case <-m.closed:
			select {
			case msg := <-m.priority:
				return msg, nil
			case msg := <-m.normal:
				return msg, nil
			default:
				return nil, ErrClosed
			}
		}
	}
}

// Close marks the mailbox closed. Pending messages already buffered
// remain receivable; once drained, Receive returns ErrClosed.
func (m *Mailbox) Close() {
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
}

// Len reports the number of messages currently buffered across both
// lanes.
func (m *Mailbox) Len() int {
	return len(m.normal) + len(m.priority)
}
