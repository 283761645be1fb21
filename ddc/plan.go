// Package ddc plans and runs the ghost cell exchange between patches.
//
// A Plan is built once per patch table. It lists, for every peer rank, the
// boundary boxes to send and the ghost boxes to receive, ordered the same
// way on both ends so that one message per peer carries all of them. Boxes
// whose neighbor lives on the same rank become local copies, boxes without
// a neighbor are filled from the boundary conditions.
package ddc

import (
	"fmt"
	"sort"

	"github.com/notargets/gopatch/domain"
	"github.com/notargets/gopatch/types"
	"github.com/notargets/gopatch/utils"
)

// Box is a half open range of cells in the local index space of a patch,
// interior cells are [0, LDims), ghosts are negative or >= LDims.
type Box struct {
	Lo, Hi types.Int3
}

func (b Box) Size() types.Int3 {
	return b.Hi.Sub(b.Lo)
}

func (b Box) Volume() int {
	return b.Size().Volume()
}

// forEach visits the cells of the box with x fastest. Pack and unpack both
// use this order.
func (b Box) forEach(fn func(i, j, k int)) {
	for k := b.Lo[2]; k < b.Hi[2]; k++ {
		for j := b.Lo[1]; j < b.Hi[1]; j++ {
			for i := b.Lo[0]; i < b.Hi[0]; i++ {
				fn(i, j, k)
			}
		}
	}
}

// ghostBox is the ghost region of a patch towards direction dir.
func ghostBox(ldims types.Int3, sw int, dir types.Shift) (b Box) {
	for d := 0; d < 3; d++ {
		switch dir[d] {
		case -1:
			b.Lo[d], b.Hi[d] = -sw, 0
		case 1:
			b.Lo[d], b.Hi[d] = ldims[d], ldims[d]+sw
		default:
			b.Lo[d], b.Hi[d] = 0, ldims[d]
		}
	}
	return
}

// sourceBox is the interior layer a patch sends to its neighbor at shift,
// it lands in the neighbor's ghostBox(-shift).
func sourceBox(ldims types.Int3, sw int, shift types.Shift) (b Box) {
	for d := 0; d < 3; d++ {
		switch shift[d] {
		case -1:
			b.Lo[d], b.Hi[d] = 0, sw
		case 1:
			b.Lo[d], b.Hi[d] = ldims[d]-sw, ldims[d]
		default:
			b.Lo[d], b.Hi[d] = 0, ldims[d]
		}
	}
	return
}

// Entry is one box moving between a local patch and a patch on the peer.
// For sends Shift points from the local patch to the peer patch and Box is
// interior data. For receives Shift points from the peer patch to the local
// patch and Box is a ghost region.
type Entry struct {
	Local      int // local patch ID
	GPatch     int // global index of the local patch
	PeerGPatch int
	Shift      types.Shift
	Dir        int // index of Shift in types.Directions
	Box        Box
}

// PeerMessage collects everything exchanged with one peer rank.
type PeerMessage struct {
	Rank       int
	Send, Recv []Entry
	SendCells  int
	RecvCells  int
}

// LocalCopy moves a box between two patches of the same rank, possibly the
// same patch on a periodic axis with a single patch.
type LocalCopy struct {
	Src, Dst       int // local patch IDs
	SrcBox, DstBox Box
}

// EdgeGhost is a ghost box without neighbor, filled from boundary
// conditions. Crossed marks the axes leaving the domain and Kinds holds the
// boundary kind crossed on those axes.
type EdgeGhost struct {
	Local   int
	Shift   types.Shift
	Box     Box
	Crossed [3]bool
	Kinds   [3]utils.BCType
}

// Plan is the exchange schedule of one rank for one patch table version.
type Plan struct {
	Domain  *domain.Domain
	Peers   []*PeerMessage // ordered by rank
	Local   []LocalCopy
	Edges   []EdgeGhost
	Version int
	// Fingerprint of the table the plan was built from
	Fingerprint uint64
}

// NewPlan builds the exchange plan of the rank owning d.
func NewPlan(d *domain.Domain) (plan *Plan, err error) {
	var (
		patches []domain.Patch
		pt      = d.Table
		sw      = d.SW()
		peers   = make(map[int]*PeerMessage)
	)
	if patches, err = d.LocalPatches(); err != nil {
		return
	}
	plan = &Plan{
		Domain:      d,
		Version:     pt.Version,
		Fingerprint: pt.Fingerprint(),
	}
	if sw == 0 {
		return
	}
	peer := func(rank int) (pm *PeerMessage) {
		var exists bool
		if pm, exists = peers[rank]; !exists {
			pm = &PeerMessage{Rank: rank}
			peers[rank] = pm
		}
		return
	}
	for _, p := range patches {
		for dir, s := range types.Directions {
			var nb domain.Neighbor
			if nb, err = pt.Neighbor(p.GPatch, s); err != nil {
				return nil, err
			}
			if !nb.Exists() {
				eg := EdgeGhost{
					Local:   p.ID,
					Shift:   s,
					Box:     ghostBox(p.LDims, sw, s),
					Crossed: pt.EdgeAxes(p.GPatch, s),
				}
				for a := 0; a < 3; a++ {
					if eg.Crossed[a] {
						eg.Kinds[a] = d.BC().Side(a, s[a])
					}
				}
				plan.Edges = append(plan.Edges, eg)
				continue
			}
			if nb.Rank == d.Rank {
				// The neighbor fills our ghost box towards s from its layer
				// facing us
				plan.Local = append(plan.Local, LocalCopy{
					Src:    d.LocalID(nb.GPatch),
					Dst:    p.ID,
					SrcBox: sourceBox(p.LDims, sw, s.Neg()),
					DstBox: ghostBox(p.LDims, sw, s),
				})
				continue
			}
			pm := peer(nb.Rank)
			send := Entry{
				Local:      p.ID,
				GPatch:     p.GPatch,
				PeerGPatch: nb.GPatch,
				Shift:      s,
				Dir:        dir,
				Box:        sourceBox(p.LDims, sw, s),
			}
			recvDir, _ := types.DirectionIndex(s.Neg())
			recv := Entry{
				Local:      p.ID,
				GPatch:     p.GPatch,
				PeerGPatch: nb.GPatch,
				Shift:      s.Neg(),
				Dir:        recvDir,
				Box:        ghostBox(p.LDims, sw, s),
			}
			pm.Send = append(pm.Send, send)
			pm.Recv = append(pm.Recv, recv)
			pm.SendCells += send.Box.Volume()
			pm.RecvCells += recv.Box.Volume()
		}
	}
	for _, pm := range peers {
		// Sends are already in (local patch, direction) order. Receives are
		// put in the sender's order: (sending patch, sender's direction).
		sort.SliceStable(pm.Recv, func(i, j int) bool {
			a, b := pm.Recv[i], pm.Recv[j]
			if a.PeerGPatch != b.PeerGPatch {
				return a.PeerGPatch < b.PeerGPatch
			}
			return a.Dir < b.Dir
		})
		plan.Peers = append(plan.Peers, pm)
	}
	sort.Slice(plan.Peers, func(i, j int) bool {
		return plan.Peers[i].Rank < plan.Peers[j].Rank
	})
	return
}

// Current fails when the patch table the plan was built from has been
// replaced.
func (plan *Plan) Current() error {
	if err := plan.Domain.Valid(); err != nil {
		return fmt.Errorf("stale exchange plan for table version %d: %w",
			plan.Version, err)
	}
	return nil
}

// NumMessages is the number of messages one exchange sends.
func (plan *Plan) NumMessages() int {
	return len(plan.Peers)
}
