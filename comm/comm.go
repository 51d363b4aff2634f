// Package comm is the message-passing layer used by the halo exchange.
//
// A Comm is one node's view of a fixed set of cooperating processes. It
// offers non-blocking point-to-point sends and receives identified by
// (peer, tag), the way MPI does; collectives in this package are built on
// top of those two primitives so that every transport gets them for free.
//
// There is no cancellation and no timeout. A peer that never posts the
// matching operation blocks the caller indefinitely, exactly like MPI.
package comm

import (
	"errors"
	"fmt"
)

// AnySource matches a message from any peer in Irecv
const AnySource = -1

var (
	// ErrTruncated is returned when a message is larger than the posted buffer
	ErrTruncated = errors.New("message truncated")
	// ErrClosed is returned by operations on a closed transport
	ErrClosed = errors.New("transport closed")
)

// Comm is a non-blocking point-to-point transport between Size() ranks.
//
// Isend takes a snapshot of data before returning; the caller may reuse
// data immediately. Irecv fills buf when a matching message arrives; buf
// must not be touched until the request completes. Messages from one source
// with one tag are received in the order they were sent.
type Comm interface {
	Rank() int
	Size() int
	Isend(dst, tag int, data []byte) *Request
	Irecv(src, tag int, buf []byte) *Request
}

// Status describes a completed receive
type Status struct {
	Source int
	Tag    int
	Count  int // Bytes delivered by the sender
}

// Request tracks one outstanding operation
type Request struct {
	done   chan struct{}
	status Status
	err    error
}

func newRequest() *Request {
	return &Request{done: make(chan struct{})}
}

// Completed returns a request that has already finished, for transports
// whose operations complete synchronously
func Completed(st Status, err error) *Request {
	r := newRequest()
	r.complete(st, err)
	return r
}

func (r *Request) complete(st Status, err error) {
	r.status = st
	r.err = err
	close(r.done)
}

// Done is closed when the request completes
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request completes
func (r *Request) Wait() (Status, error) {
	<-r.done
	return r.status, r.err
}

// WaitAll waits for every request and joins their errors
func WaitAll(reqs []*Request) error {
	var errs []error
	for i, r := range reqs {
		if _, err := r.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("request %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Send is a blocking Isend
func Send(c Comm, dst, tag int, data []byte) error {
	_, err := c.Isend(dst, tag, data).Wait()
	return err
}

// Recv is a blocking Irecv
func Recv(c Comm, src, tag int, buf []byte) (Status, error) {
	return c.Irecv(src, tag, buf).Wait()
}

func checkPeer(c Comm, peer int) error {
	if peer < 0 || peer >= c.Size() {
		return fmt.Errorf("rank %d: peer %d out of range [0, %d)", c.Rank(), peer, c.Size())
	}
	return nil
}
