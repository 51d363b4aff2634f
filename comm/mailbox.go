package comm

import (
	"fmt"
	"sync"
)

type envelope struct {
	source  int
	tag     int
	payload []byte
}

type pendingRecv struct {
	source int
	tag    int
	buf    []byte
	req    *Request
}

func (p *pendingRecv) matches(e envelope) bool {
	return p.tag == e.tag && (p.source == AnySource || p.source == e.source)
}

// Mailbox is the receive side matching engine shared by all transports.
// Posted receives are matched in posting order; messages that arrive before
// a matching receive are queued in arrival order.
type Mailbox struct {
	mu         sync.Mutex
	unexpected []envelope
	posted     []*pendingRecv
	closeErr   error
}

func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Deliver hands an incoming message to the mailbox, which takes ownership
// of payload
func (mb *Mailbox) Deliver(source, tag int, payload []byte) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closeErr != nil {
		return
	}
	e := envelope{source: source, tag: tag, payload: payload}
	for i, p := range mb.posted {
		if p.matches(e) {
			mb.posted = append(mb.posted[:i], mb.posted[i+1:]...)
			fill(p, e)
			return
		}
	}
	mb.unexpected = append(mb.unexpected, e)
}

// Post registers a receive into buf for (source, tag)
func (mb *Mailbox) Post(source, tag int, buf []byte) *Request {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	p := &pendingRecv{source: source, tag: tag, buf: buf, req: newRequest()}
	if mb.closeErr != nil {
		p.req.complete(Status{Source: source, Tag: tag}, mb.closeErr)
		return p.req
	}
	for i, e := range mb.unexpected {
		if p.matches(e) {
			mb.unexpected = append(mb.unexpected[:i], mb.unexpected[i+1:]...)
			fill(p, e)
			return p.req
		}
	}
	mb.posted = append(mb.posted, p)
	return p.req
}

// Close fails every pending and future receive with err
func (mb *Mailbox) Close(err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closeErr != nil {
		return
	}
	mb.closeErr = err
	for _, p := range mb.posted {
		p.req.complete(Status{Source: p.source, Tag: p.tag}, err)
	}
	mb.posted = nil
	mb.unexpected = nil
}

// Pending returns the number of queued unmatched messages
func (mb *Mailbox) Pending() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.unexpected)
}

func fill(p *pendingRecv, e envelope) {
	st := Status{Source: e.source, Tag: e.tag, Count: len(e.payload)}
	copy(p.buf, e.payload)
	if len(e.payload) > len(p.buf) {
		p.req.complete(st, fmt.Errorf("%d bytes from rank %d tag %d into %d byte buffer: %w",
			len(e.payload), e.source, e.tag, len(p.buf), ErrTruncated))
		return
	}
	p.req.complete(st, nil)
}
