package ddc

import (
	"fmt"
	"log"

	"github.com/notargets/gopatch/comm"
	"github.com/notargets/gopatch/domain"
	"github.com/notargets/gopatch/types"
)

// TagExchange is the transport tag of ghost exchange messages.
const TagExchange = 100

// PatchView reads and writes the components of one patch in local
// coordinates, ghost cells included.
type PatchView interface {
	At(m, i, j, k int) float64
	Set(m, i, j, k int, v float64)
}

// FieldAccessor is the field storage of the local patches.
type FieldAccessor interface {
	NumComp() int
	GhostWidth() int
	NumPatches() int
	Patch(id int) PatchView
}

// DDC runs the exchange plan of one rank over a transport.
type DDC struct {
	Plan      *Plan
	Transport comm.Transport
	Rule      BoundaryRule
	Verbose   bool
}

// New builds the plan for d. rule fills ghosts behind Wall edges and may
// be nil when the domain has no walls, in which case Reflect is used.
func New(d *domain.Domain, tr comm.Transport, rule BoundaryRule) (dd *DDC, err error) {
	if err = d.Valid(); err != nil {
		return
	}
	if tr.Rank() != d.Rank || tr.Size() != d.NumProcs() {
		err = fmt.Errorf("%w: transport is rank %d of %d, domain is rank %d of %d",
			types.ErrInvalidArgument, tr.Rank(), tr.Size(), d.Rank, d.NumProcs())
		return
	}
	if rule == nil {
		rule = Reflect{}
	}
	dd = &DDC{
		Transport: tr,
		Rule:      rule,
	}
	if dd.Plan, err = NewPlan(d); err != nil {
		return nil, err
	}
	return
}

// Exchange fills the ghost cells of components [mlo, mhi) of every local
// patch. All sends and receives are posted before any is awaited, local
// copies run while messages are in flight, and boundary conditions are
// applied last.
func (dd *DDC) Exchange(f FieldAccessor, mlo, mhi int) (err error) {
	var (
		plan = dd.Plan
		sw   = plan.Domain.SW()
	)
	if err = plan.Current(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if mlo < 0 || mhi > f.NumComp() || mlo > mhi {
		return fmt.Errorf("%w: component range [%d,%d) of %d components",
			types.ErrInvalidArgument, mlo, mhi, f.NumComp())
	}
	if f.GhostWidth() < sw || f.NumPatches() != plan.Domain.NumLocalPatches() {
		return fmt.Errorf("%w: fields have %d patches with %d ghosts, domain has %d patches with %d",
			types.ErrInvalidArgument, f.NumPatches(), f.GhostWidth(),
			plan.Domain.NumLocalPatches(), sw)
	}
	if mlo == mhi {
		return
	}
	var (
		nc    = mhi - mlo
		reqs  = make([]*comm.Request, 0, 2*len(plan.Peers))
		recvs = make([]*comm.Request, len(plan.Peers))
	)
	for n, pm := range plan.Peers {
		var r *comm.Request
		if r, err = dd.Transport.Isend(pm.Rank, TagExchange, dd.pack(f, pm, mlo, mhi)); err != nil {
			return wrapComm(err)
		}
		reqs = append(reqs, r)
		if recvs[n], err = dd.Transport.Irecv(pm.Rank, TagExchange); err != nil {
			return wrapComm(err)
		}
		reqs = append(reqs, recvs[n])
	}
	for _, lc := range plan.Local {
		copyBox(f.Patch(lc.Src), lc.SrcBox, f.Patch(lc.Dst), lc.DstBox, mlo, mhi)
	}
	if err = dd.Transport.Waitall(reqs); err != nil {
		return wrapComm(err)
	}
	for n, pm := range plan.Peers {
		if err = dd.unpack(f, pm, recvs[n].Data, mlo, mhi); err != nil {
			return
		}
	}
	ldims := plan.Domain.Table.LDims
	for _, eg := range plan.Edges {
		fillEdge(f.Patch(eg.Local), ldims, eg, mlo, mhi, dd.Rule)
	}
	if dd.Verbose {
		log.Printf("rank %d: exchanged %d components with %d peers, %d local copies, %d edge boxes",
			plan.Domain.Rank, nc, len(plan.Peers), len(plan.Local), len(plan.Edges))
	}
	return
}

func wrapComm(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: ghost exchange: %v", types.ErrCommunicationFailure, err)
}

// pack writes one message for a peer:
//
//	fingerprint u64 | segments u32 | components u32
//	per segment: sender gpatch u32 | direction u32 | values u32
//	values of every segment in segment order
func (dd *DDC) pack(f FieldAccessor, pm *PeerMessage, mlo, mhi int) (msg []byte) {
	var (
		nc   = mhi - mlo
		size = 16 + 12*len(pm.Send) + 8*nc*pm.SendCells
	)
	msg = make([]byte, 0, size)
	msg = comm.AppendUint64(msg, dd.Plan.Fingerprint)
	msg = comm.AppendUint32(msg, uint32(len(pm.Send)))
	msg = comm.AppendUint32(msg, uint32(nc))
	for _, e := range pm.Send {
		msg = comm.AppendUint32(msg, uint32(e.GPatch))
		msg = comm.AppendUint32(msg, uint32(e.Dir))
		msg = comm.AppendUint32(msg, uint32(nc*e.Box.Volume()))
	}
	buf := make([]float64, 0, nc*pm.SendCells)
	for _, e := range pm.Send {
		view := f.Patch(e.Local)
		for m := mlo; m < mhi; m++ {
			e.Box.forEach(func(i, j, k int) {
				buf = append(buf, view.At(m, i, j, k))
			})
		}
	}
	return comm.AppendFloat64s(msg, buf)
}

func (dd *DDC) unpack(f FieldAccessor, pm *PeerMessage, msg []byte, mlo, mhi int) (err error) {
	var (
		nc = mhi - mlo
		rd = comm.NewReader(msg)
	)
	inconsistent := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: rank %d from rank %d: %s", types.ErrProtocolInconsistency,
			dd.Plan.Domain.Rank, pm.Rank, fmt.Sprintf(format, args...))
	}
	fp := rd.Uint64()
	nseg := int(rd.Uint32())
	ncomp := int(rd.Uint32())
	if rd.Err != nil {
		return rd.Err
	}
	if fp != dd.Plan.Fingerprint {
		return inconsistent("patch table fingerprint %x, expected %x", fp, dd.Plan.Fingerprint)
	}
	if nseg != len(pm.Recv) || ncomp != nc {
		return inconsistent("%d segments of %d components, expected %d of %d",
			nseg, ncomp, len(pm.Recv), nc)
	}
	for _, e := range pm.Recv {
		src, dir, n := int(rd.Uint32()), int(rd.Uint32()), int(rd.Uint32())
		if rd.Err != nil {
			return rd.Err
		}
		if src != e.PeerGPatch || dir != e.Dir || n != nc*e.Box.Volume() {
			return inconsistent("segment (patch %d, dir %d, %d values), expected (%d, %d, %d)",
				src, dir, n, e.PeerGPatch, e.Dir, nc*e.Box.Volume())
		}
	}
	if rd.Remaining() != 8*nc*pm.RecvCells {
		return inconsistent("%d payload bytes, expected %d", rd.Remaining(), 8*nc*pm.RecvCells)
	}
	buf := make([]float64, nc*pm.RecvCells)
	rd.Float64s(buf)
	if rd.Err != nil {
		return rd.Err
	}
	var pos int
	for _, e := range pm.Recv {
		view := f.Patch(e.Local)
		for m := mlo; m < mhi; m++ {
			e.Box.forEach(func(i, j, k int) {
				view.Set(m, i, j, k, buf[pos])
				pos++
			})
		}
	}
	return
}

func copyBox(src PatchView, sb Box, dst PatchView, db Box, mlo, mhi int) {
	var (
		shift = db.Lo.Sub(sb.Lo)
	)
	for m := mlo; m < mhi; m++ {
		sb.forEach(func(i, j, k int) {
			dst.Set(m, i+shift[0], j+shift[1], k+shift[2], src.At(m, i, j, k))
		})
	}
}
