// Package comm is the process-group transport used by the ghost exchange and
// the load balancer: point-to-point non-blocking send and receive of byte
// messages, completed by Waitall.
//
// The pattern for a batch of messages is always
//
//	for range peers {Isend; Irecv}; Waitall; unpack
//
// so that every operation is posted before any of them is awaited.
package comm

import (
	"fmt"

	"github.com/notargets/gopatch/types"
)

// Transport connects one rank to the other ranks of a fixed size group.
// Messages between an ordered pair of ranks with the same tag are delivered
// in the order they were sent.
type Transport interface {
	Rank() int
	Size() int
	// Isend posts data for dest. The transport owns a copy of data once
	// Isend returns.
	Isend(dest, tag int, data []byte) (*Request, error)
	// Irecv posts a receive for the next message from source with tag.
	Irecv(source, tag int) (*Request, error)
	// Waitall blocks until every request completed. There is no timeout.
	Waitall(reqs []*Request) error
}

// Request is a posted send or receive.
type Request struct {
	Source, Dest, Tag int
	// Data holds the received message once the request completed
	Data []byte
	done chan struct{}
	err  error
}

func newRequest(src, dst, tag int) *Request {
	return &Request{
		Source: src,
		Dest:   dst,
		Tag:    tag,
		done:   make(chan struct{}),
	}
}

func (r *Request) complete(data []byte, err error) {
	r.Data, r.err = data, err
	close(r.done)
}

// Wait blocks until the request completed.
func (r *Request) Wait() error {
	<-r.done
	return r.err
}

// Done reports whether the request completed, without blocking.
func (r *Request) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// WaitAll waits on every request and returns the first failure. It is the
// shared body of Transport.Waitall implementations.
func WaitAll(reqs []*Request) (err error) {
	for _, r := range reqs {
		if r == nil {
			continue
		}
		if rerr := r.Wait(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return
}

func checkPeer(t Transport, peer int) error {
	if peer < 0 || peer >= t.Size() {
		return fmt.Errorf("%w: rank %d outside group of %d",
			types.ErrInvalidArgument, peer, t.Size())
	}
	return nil
}
