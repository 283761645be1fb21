package comm

import (
	"fmt"
	"sync"

	"github.com/notargets/gopatch/types"
)

type mailKey struct {
	src, dst, tag int
}

// mailSlot queues either undelivered messages or unmatched receives for one
// (source, dest, tag) triple, never both at the same time
type mailSlot struct {
	msgs    [][]byte
	waiting []*Request
}

// Group is an in-process post office shared by NP ranks, each rank running
// in its own goroutine and talking through its Endpoint.
type Group struct {
	NP        int
	mu        sync.Mutex
	slots     map[mailKey]*mailSlot
	closedErr error
	endpoints []*Endpoint
}

func NewGroup(NP int) (g *Group) {
	g = &Group{
		NP:        NP,
		slots:     make(map[mailKey]*mailSlot),
		endpoints: make([]*Endpoint, NP),
	}
	for n := 0; n < NP; n++ {
		g.endpoints[n] = &Endpoint{g: g, rank: n}
	}
	return
}

// Endpoint returns the transport of rank.
func (g *Group) Endpoint(rank int) *Endpoint {
	return g.endpoints[rank]
}

// Close fails every pending and future operation with cause. Ranks blocked
// in Waitall return a CommunicationFailure.
func (g *Group) Close(cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closedErr != nil {
		return
	}
	if cause == nil {
		cause = fmt.Errorf("group closed")
	}
	g.closedErr = fmt.Errorf("%w: %v", types.ErrCommunicationFailure, cause)
	for key, slot := range g.slots {
		for _, r := range slot.waiting {
			r.complete(nil, g.closedErr)
		}
		delete(g.slots, key)
	}
}

// Pending returns the number of delivered but unreceived messages.
func (g *Group) Pending() (n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, slot := range g.slots {
		n += len(slot.msgs)
	}
	return
}

func (g *Group) slot(key mailKey) (s *mailSlot) {
	var exists bool
	if s, exists = g.slots[key]; !exists {
		s = &mailSlot{}
		g.slots[key] = s
	}
	return
}

func (g *Group) post(key mailKey, data []byte) (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closedErr != nil {
		return g.closedErr
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	s := g.slot(key)
	if len(s.waiting) != 0 {
		r := s.waiting[0]
		s.waiting = s.waiting[1:]
		r.complete(msg, nil)
		return
	}
	s.msgs = append(s.msgs, msg)
	return
}

func (g *Group) fetch(key mailKey, r *Request) (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closedErr != nil {
		return g.closedErr
	}
	s := g.slot(key)
	if len(s.msgs) != 0 {
		msg := s.msgs[0]
		s.msgs = s.msgs[1:]
		r.complete(msg, nil)
		return
	}
	s.waiting = append(s.waiting, r)
	return
}

// Run starts one goroutine per rank and waits for all of them. The first
// rank to fail closes the group so that its peers stop waiting, and that
// first error is returned.
func (g *Group) Run(fn func(t Transport) error) (err error) {
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
	)
	for n := 0; n < g.NP; n++ {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			if rerr := fn(ep); rerr != nil {
				errMu.Lock()
				if err == nil {
					err = fmt.Errorf("rank %d: %w", ep.rank, rerr)
				}
				errMu.Unlock()
				g.Close(rerr)
			}
		}(g.endpoints[n])
	}
	wg.Wait()
	return
}

// Endpoint is the Transport of one rank of a Group.
type Endpoint struct {
	g    *Group
	rank int
}

func (ep *Endpoint) Rank() int { return ep.rank }
func (ep *Endpoint) Size() int { return ep.g.NP }

func (ep *Endpoint) Isend(dest, tag int, data []byte) (r *Request, err error) {
	if err = checkPeer(ep, dest); err != nil {
		return
	}
	r = newRequest(ep.rank, dest, tag)
	if err = ep.g.post(mailKey{ep.rank, dest, tag}, data); err != nil {
		return nil, err
	}
	r.complete(nil, nil)
	return
}

func (ep *Endpoint) Irecv(source, tag int) (r *Request, err error) {
	if err = checkPeer(ep, source); err != nil {
		return
	}
	r = newRequest(source, ep.rank, tag)
	if err = ep.g.fetch(mailKey{source, ep.rank, tag}, r); err != nil {
		return nil, err
	}
	return
}

func (ep *Endpoint) Waitall(reqs []*Request) error {
	return WaitAll(reqs)
}
