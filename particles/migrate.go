package particles

import (
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/notargets/gopatch/comm"
	"github.com/notargets/gopatch/domain"
	"github.com/notargets/gopatch/types"
	"github.com/notargets/gopatch/utils"
)

// TagMigrate is the transport tag of particle boundary messages.
const TagMigrate = 200

// MigrateStats counts what one Migrate call did on this rank.
type MigrateStats struct {
	Moved     int // changed patch on this rank
	Sent      int
	Received  int
	Reflected int // bounced off a Wall
	Dropped   int // left through an Open edge
}

type outgoing struct {
	gpatch int
	pp     []Particle
}

// Migrate moves every particle that left its patch to the patch now
// containing it. A particle may move at most one patch per call along each
// axis. Particles crossing a Wall are reflected back into the domain with
// the normal velocity negated, particles crossing an Open edge are dropped,
// periodic axes wrap. Every rank of the group calls Migrate together.
func (s *Store) Migrate(tr comm.Transport) (st MigrateStats, err error) {
	var (
		d       = s.Domain
		patches []domain.Patch
		peers   map[int]bool
		out     = make(map[int][]outgoing)
	)
	if patches, err = d.LocalPatches(); err != nil {
		return
	}
	if tr.Rank() != d.Rank || tr.Size() != d.NumProcs() {
		err = fmt.Errorf("%w: transport is rank %d of %d, domain is rank %d of %d",
			types.ErrInvalidArgument, tr.Rank(), tr.Size(), d.Rank, d.NumProcs())
		return
	}
	if peers, err = neighborRanks(d, patches); err != nil {
		return
	}
	for _, patch := range patches {
		for _, p := range s.Patch(patch.ID) {
			if err = checkReach(patch, p.X); err != nil {
				return
			}
		}
	}
	leaving := make([][]Particle, len(patches))
	for _, patch := range patches {
		leaving[patch.ID] = s.ExtractIf(patch.ID, func(p *Particle) bool {
			return shift(patch, p.X) != types.Shift{}
		})
	}
	sent := make(map[int]map[int]int) // rank -> gpatch -> index in out[rank]
	for _, patch := range patches {
		for _, p := range leaving[patch.ID] {
			var (
				nb   domain.Neighbor
				keep bool
			)
			if p, keep, err = s.edge(patch, p, &st); err != nil {
				return
			}
			if !keep {
				continue
			}
			sh := shift(patch, p.X)
			if sh == (types.Shift{}) {
				s.patches[patch.ID] = append(s.patches[patch.ID], p)
				continue
			}
			if nb, err = d.Neighbor(patch, sh); err != nil {
				return
			}
			if !nb.Exists() {
				return st, fmt.Errorf("%w: particle at %v left the domain from patch %d after boundary handling",
					types.ErrInvalidArgument, p.X, patch.GPatch)
			}
			wrap(d.GlobalDims(), &p)
			if nb.Rank == d.Rank {
				id := d.LocalID(nb.GPatch)
				s.patches[id] = append(s.patches[id], p)
				st.Moved++
				continue
			}
			if sent[nb.Rank] == nil {
				sent[nb.Rank] = make(map[int]int)
			}
			n, exists := sent[nb.Rank][nb.GPatch]
			if !exists {
				n = len(out[nb.Rank])
				sent[nb.Rank][nb.GPatch] = n
				out[nb.Rank] = append(out[nb.Rank], outgoing{gpatch: nb.GPatch})
			}
			out[nb.Rank][n].pp = append(out[nb.Rank][n].pp, p)
			st.Sent++
		}
	}
	ranks := make([]int, 0, len(peers))
	for r := range peers {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	var (
		fp    = d.Table.Fingerprint()
		reqs  = make([]*comm.Request, 0, 2*len(ranks))
		recvs = make([]*comm.Request, len(ranks))
	)
	for n, r := range ranks {
		segs := out[r]
		sort.Slice(segs, func(i, j int) bool { return segs[i].gpatch < segs[j].gpatch })
		msg := comm.AppendUint64(nil, fp)
		msg = comm.AppendUint32(msg, uint32(len(segs)))
		for _, seg := range segs {
			payload := Encode(nil, seg.pp)
			msg = comm.AppendUint32(msg, uint32(seg.gpatch))
			msg = comm.AppendUint32(msg, uint32(len(payload)))
			msg = append(msg, payload...)
		}
		var req *comm.Request
		if req, err = tr.Isend(r, TagMigrate, msg); err != nil {
			return st, commFailure(err)
		}
		reqs = append(reqs, req)
		if recvs[n], err = tr.Irecv(r, TagMigrate); err != nil {
			return st, commFailure(err)
		}
		reqs = append(reqs, recvs[n])
	}
	if err = tr.Waitall(reqs); err != nil {
		return st, commFailure(err)
	}
	for n, r := range ranks {
		var cnt int
		if cnt, err = s.receive(r, recvs[n].Data, fp); err != nil {
			return
		}
		st.Received += cnt
	}
	if s.Verbose {
		log.Printf("rank %d: particles moved %d, sent %d, received %d, reflected %d, dropped %d",
			d.Rank, st.Moved, st.Sent, st.Received, st.Reflected, st.Dropped)
	}
	return
}

func commFailure(err error) error {
	return fmt.Errorf("%w: particle migration: %v", types.ErrCommunicationFailure, err)
}

func (s *Store) receive(peer int, msg []byte, fp uint64) (cnt int, err error) {
	var (
		d  = s.Domain
		rd = comm.NewReader(msg)
	)
	inconsistent := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: particles on rank %d from rank %d: %s", types.ErrProtocolInconsistency,
			d.Rank, peer, fmt.Sprintf(format, args...))
	}
	pfp := rd.Uint64()
	nseg := int(rd.Uint32())
	if rd.Err != nil {
		return 0, rd.Err
	}
	if pfp != fp {
		return 0, inconsistent("patch table fingerprint %x, expected %x", pfp, fp)
	}
	for n := 0; n < nseg; n++ {
		var (
			gpatch = int(rd.Uint32())
			size   = int(rd.Uint32())
			pp     []Particle
			patch  domain.Patch
		)
		payload := rd.Bytes(size)
		if rd.Err != nil {
			return cnt, rd.Err
		}
		id := d.LocalID(gpatch)
		if id < 0 {
			return cnt, inconsistent("patch %d is not owned here", gpatch)
		}
		if pp, err = Decode(payload); err != nil {
			return
		}
		patch, _ = d.LocalPatch(id)
		for _, p := range pp {
			if shift(patch, p.X) != (types.Shift{}) {
				return cnt, inconsistent("particle at %v is outside patch %d", p.X, gpatch)
			}
		}
		s.patches[id] = append(s.patches[id], pp...)
		cnt += len(pp)
	}
	if rd.Remaining() != 0 {
		return cnt, inconsistent("%d trailing bytes", rd.Remaining())
	}
	return
}

// edge applies the Wall and Open edges crossed by p leaving patch. keep is
// false when the particle left the domain.
func (s *Store) edge(patch domain.Patch, p Particle, st *MigrateStats) (q Particle, keep bool, err error) {
	var (
		d    = s.Domain
		sh   = shift(patch, p.X)
		nb   domain.Neighbor
		dims = d.GlobalDims()
	)
	if nb, err = d.Neighbor(patch, sh); err != nil || nb.Exists() {
		return p, err == nil, err
	}
	crossed := d.Table.EdgeAxes(patch.GPatch, sh)
	for a := 0; a < 3; a++ {
		if !crossed[a] {
			continue
		}
		switch d.BC().Side(a, sh[a]) {
		case utils.BCOpen:
			st.Dropped++
			return p, false, nil
		case utils.BCWall:
			n := float64(dims[a])
			if sh[a] < 0 {
				p.X[a] = -p.X[a]
			} else {
				p.X[a] = 2*n - p.X[a]
			}
			// A particle on the high wall itself mirrors onto it
			if p.X[a] >= n {
				p.X[a] = math.Nextafter(n, 0)
			}
			p.V[a] = -p.V[a]
		}
	}
	st.Reflected++
	return p, true, nil
}

// checkReach fails for a particle further than one patch from patch.
func checkReach(patch domain.Patch, x [3]float64) error {
	for a := 0; a < 3; a++ {
		lo := float64(patch.Off[a] - patch.LDims[a])
		hi := float64(patch.Off[a] + 2*patch.LDims[a])
		if !(x[a] >= lo && x[a] < hi) {
			return fmt.Errorf("%w: particle at %v moved more than one patch from patch %d",
				types.ErrInvalidArgument, x, patch.GPatch)
		}
	}
	return nil
}

func wrap(dims types.Int3, p *Particle) {
	for a := 0; a < 3; a++ {
		n := float64(dims[a])
		switch {
		case p.X[a] < 0:
			if p.X[a] += n; p.X[a] >= n {
				p.X[a] = math.Nextafter(n, 0)
			}
		case p.X[a] >= n:
			p.X[a] -= n
		}
	}
}

func neighborRanks(d *domain.Domain, patches []domain.Patch) (peers map[int]bool, err error) {
	peers = make(map[int]bool)
	for _, patch := range patches {
		for _, sh := range types.Directions {
			var rank int
			if rank, err = d.NeighborRank(patch, sh); err != nil {
				return
			}
			if rank >= 0 && rank != d.Rank {
				peers[rank] = true
			}
		}
	}
	return
}
