package comm

import (
	"fmt"

	"github.com/notargets/gopatch/types"
)

// AllgatherFloat64s gives every rank the local slices of all ranks, indexed
// by rank. Slices may differ in length between ranks.
func AllgatherFloat64s(t Transport, tag int, local []float64) (all [][]float64, err error) {
	var (
		np    = t.Size()
		me    = t.Rank()
		reqs  = make([]*Request, 0, 2*np)
		recvs = make([]*Request, np)
		msg   = AppendFloat64s(AppendUint32(nil, uint32(len(local))), local)
	)
	for peer := 0; peer < np; peer++ {
		if peer == me {
			continue
		}
		var r *Request
		if r, err = t.Isend(peer, tag, msg); err != nil {
			return
		}
		reqs = append(reqs, r)
		if recvs[peer], err = t.Irecv(peer, tag); err != nil {
			return
		}
		reqs = append(reqs, recvs[peer])
	}
	if err = t.Waitall(reqs); err != nil {
		return nil, err
	}
	all = make([][]float64, np)
	all[me] = append([]float64(nil), local...)
	for peer, r := range recvs {
		if r == nil {
			continue
		}
		rd := NewReader(r.Data)
		n := int(rd.Uint32())
		if rd.Err == nil && 8*n != rd.Remaining() {
			rd.Err = fmt.Errorf("%w: gather from rank %d announces %d values in %d bytes",
				types.ErrProtocolInconsistency, peer, n, rd.Remaining())
		}
		if rd.Err != nil {
			return nil, rd.Err
		}
		all[peer] = make([]float64, n)
		rd.Float64s(all[peer])
	}
	return
}

// Barrier returns once every rank has entered it.
func Barrier(t Transport, tag int) (err error) {
	_, err = AllgatherFloat64s(t, tag, nil)
	return
}
