package balance

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"

	"github.com/DataDog/zstd"

	"github.com/notargets/gopatch/comm"
	"github.com/notargets/gopatch/ddc"
	"github.com/notargets/gopatch/domain"
	"github.com/notargets/gopatch/loadlog"
	"github.com/notargets/gopatch/types"
)

const (
	TagCosts   = 300
	TagMigrate = 301
)

// FieldMigrator is field storage that can hand whole patches to another
// rank.
type FieldMigrator interface {
	PatchLen() int
	PatchValues(id int) []float64
	SetPatchValues(id int, v []float64) error
	Reallocate(old, next *domain.Domain) error
}

// ParticleMigrator is particle storage that can hand whole patches to
// another rank.
type ParticleMigrator interface {
	// Extract removes the particles of a local patch and serializes them
	Extract(id int) ([]byte, error)
	Insert(id int, payload []byte) error
	Reallocate(old, next *domain.Domain) error
}

// Balancer reassigns patches between steps. Every rank of the transport
// group calls Rebalance together with the costs of its own patches.
type Balancer struct {
	Transport comm.Transport
	// Rebalance every Interval steps, never when zero
	Interval int
	// Added to the cost of every patch per cell
	FactorFields float64
	// Log the loads before and after and record them in LoadLog
	PrintLoads bool
	// zstd compress migration messages
	Compress bool
	LoadLog  *loadlog.Log
	Step     int
	// Load statistics of the last assignment
	Last Stats
	// Whether the last Rebalance moved any patch
	Changed bool
}

func New(tr comm.Transport) *Balancer {
	return &Balancer{
		Transport: tr,
		Compress:  true,
	}
}

// ShouldBalance reports whether step is a rebalancing step and remembers it
// for the load log.
func (b *Balancer) ShouldBalance(step int) bool {
	b.Step = step
	return b.Interval > 0 && step > 0 && step%b.Interval == 0
}

// Rebalance computes the assignment minimizing the most loaded rank for the
// given costs, one per local patch of d, and moves the data of every patch
// changing owner. It returns the handle of the new table and retires d,
// also when the assignment does not change, in which case the new table has
// the same owners and nothing moves. Changed reports which case happened.
// fields and parts may be nil.
func (b *Balancer) Rebalance(d *domain.Domain, costs []float64, fields FieldMigrator,
	parts ParticleMigrator) (next *domain.Domain, err error) {
	var (
		tr      = b.Transport
		patches []domain.Patch
	)
	if patches, err = d.LocalPatches(); err != nil {
		return
	}
	if tr.Rank() != d.Rank || tr.Size() != d.NumProcs() {
		return nil, fmt.Errorf("%w: transport is rank %d of %d, domain is rank %d of %d",
			types.ErrInvalidArgument, tr.Rank(), tr.Size(), d.Rank, d.NumProcs())
	}
	if len(costs) != len(patches) {
		return nil, fmt.Errorf("%w: %d costs for %d local patches",
			types.ErrInvalidArgument, len(costs), len(patches))
	}
	local := make([]float64, len(costs))
	for n, c := range costs {
		local[n] = c + b.FactorFields*float64(d.Table.LDims.Volume())
	}
	var all [][]float64
	if all, err = comm.AllgatherFloat64s(tr, TagCosts, local); err != nil {
		return nil, commFailure("cost gather", err)
	}
	global := make([]float64, 0, d.NumGlobalPatches())
	for r, rc := range all {
		gMin, gMax := d.Table.Owners.GetBucketRange(r)
		if len(rc) != gMax-gMin {
			return nil, fmt.Errorf("%w: rank %d sent %d costs for %d patches",
				types.ErrProtocolInconsistency, r, len(rc), gMax-gMin)
		}
		global = append(global, rc...)
	}
	var starts []int
	if starts, err = Assign(global, d.NumProcs()); err != nil {
		return
	}
	b.Changed = !slices.Equal(starts, d.Table.Owners.Starts())
	b.report(d, global, starts, d.Table.Version+1)
	if next, err = d.Successor(starts); err != nil {
		return
	}
	if err = b.migrate(d, next, fields, parts); err != nil {
		return nil, err
	}
	d.Retire()
	return
}

// RebalanceDDC rebalances the domain of dd and returns the exchange for
// the new table. The plan of dd is stale afterwards.
func (b *Balancer) RebalanceDDC(dd *ddc.DDC, costs []float64, fields FieldMigrator,
	parts ParticleMigrator) (ndd *ddc.DDC, err error) {
	var next *domain.Domain
	if next, err = b.Rebalance(dd.Plan.Domain, costs, fields, parts); err != nil {
		return
	}
	if ndd, err = ddc.New(next, dd.Transport, dd.Rule); err != nil {
		return
	}
	ndd.Verbose = dd.Verbose
	return
}

func (b *Balancer) report(d *domain.Domain, global []float64, starts []int, version int) {
	var (
		before = Loads(global, d.Table.Owners.Starts())
		after  = Loads(global, starts)
	)
	b.Last = LoadStats(after)
	if !b.PrintLoads || d.Rank != 0 {
		return
	}
	old, cur := LoadStats(before), b.Last
	log.Printf("balance step %d: max load %8.4g -> %8.4g, imbalance %6.3f -> %6.3f, stddev %8.4g -> %8.4g",
		b.Step, old.Max, cur.Max, old.Imbalance, cur.Imbalance, old.StdDev, cur.StdDev)
	if b.LoadLog == nil {
		return
	}
	counts := make([]int, len(starts))
	for n := range starts {
		e := len(global)
		if n+1 < len(starts) {
			e = starts[n+1]
		}
		counts[n] = e - starts[n]
	}
	if err := b.LoadLog.Record(b.Step, version, after, counts); err != nil {
		log.Printf("load log: %v", err)
	}
}

// migrate sends every patch of d owned by another rank under next in one
// message per (old owner, new owner) pair:
//
//	compressed u8, then possibly zstd compressed:
//	fingerprint u64 | patches u32 | field values per patch u32
//	per patch: gpatch u32 | field values | particle bytes u32 | particles
func (b *Balancer) migrate(d, next *domain.Domain, fields FieldMigrator, parts ParticleMigrator) (err error) {
	var (
		tr       = b.Transport
		rank     = d.Rank
		fp       = next.Table.Fingerprint()
		fieldLen int
		sendTo   = make(map[int][]domain.Patch)
		recvFrom = make(map[int][]int)
		patches  []domain.Patch
		incoming []domain.Patch
	)
	if fields != nil {
		fieldLen = fields.PatchLen()
	}
	patches, _ = d.LocalPatches()
	for _, p := range patches {
		if owner := next.Table.Owner(p.GPatch); owner != rank {
			sendTo[owner] = append(sendTo[owner], p)
		}
	}
	incoming, _ = next.LocalPatches()
	for _, p := range incoming {
		if owner := d.Table.Owner(p.GPatch); owner != rank {
			recvFrom[owner] = append(recvFrom[owner], p.GPatch)
		}
	}
	var (
		reqs  []*comm.Request
		recvs = make(map[int]*comm.Request)
	)
	for _, dest := range sortedKeys(sendTo) {
		var msg []byte
		if msg, err = b.pack(sendTo[dest], fp, fieldLen, fields, parts); err != nil {
			return
		}
		var r *comm.Request
		if r, err = tr.Isend(dest, TagMigrate, msg); err != nil {
			return commFailure("migration", err)
		}
		reqs = append(reqs, r)
	}
	for _, src := range sortedKeys(recvFrom) {
		if recvs[src], err = tr.Irecv(src, TagMigrate); err != nil {
			return commFailure("migration", err)
		}
		reqs = append(reqs, recvs[src])
	}
	if err = tr.Waitall(reqs); err != nil {
		return commFailure("migration", err)
	}
	if fields != nil {
		if err = fields.Reallocate(d, next); err != nil {
			return
		}
	}
	if parts != nil {
		if err = parts.Reallocate(d, next); err != nil {
			return
		}
	}
	for _, src := range sortedKeys(recvFrom) {
		if err = b.unpack(next, src, recvs[src].Data, recvFrom[src], fp, fieldLen, fields, parts); err != nil {
			return
		}
	}
	return
}

func (b *Balancer) pack(patches []domain.Patch, fp uint64, fieldLen int, fields FieldMigrator,
	parts ParticleMigrator) (msg []byte, err error) {
	body := comm.AppendUint64(nil, fp)
	body = comm.AppendUint32(body, uint32(len(patches)))
	body = comm.AppendUint32(body, uint32(fieldLen))
	for _, p := range patches {
		body = comm.AppendUint32(body, uint32(p.GPatch))
		if fields != nil {
			body = comm.AppendFloat64s(body, fields.PatchValues(p.ID))
		}
		var payload []byte
		if parts != nil {
			if payload, err = parts.Extract(p.ID); err != nil {
				return
			}
		}
		body = comm.AppendUint32(body, uint32(len(payload)))
		body = append(body, payload...)
	}
	if !b.Compress {
		return append([]byte{0}, body...), nil
	}
	var z []byte
	if z, err = zstd.CompressLevel(nil, body, 1); err != nil {
		return
	}
	return append([]byte{1}, z...), nil
}

func (b *Balancer) unpack(next *domain.Domain, src int, msg []byte, expect []int, fp uint64,
	fieldLen int, fields FieldMigrator, parts ParticleMigrator) (err error) {
	inconsistent := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: migration to rank %d from rank %d: %s", types.ErrProtocolInconsistency,
			next.Rank, src, fmt.Sprintf(format, args...))
	}
	if len(msg) == 0 {
		return inconsistent("empty message")
	}
	body := msg[1:]
	switch msg[0] {
	case 0:
	case 1:
		if body, err = zstd.Decompress(nil, body); err != nil {
			return inconsistent("%v", err)
		}
	default:
		return inconsistent("unknown encoding %d", msg[0])
	}
	rd := comm.NewReader(body)
	var (
		pfp  = rd.Uint64()
		np   = int(rd.Uint32())
		flen = int(rd.Uint32())
	)
	if rd.Err != nil {
		return rd.Err
	}
	if pfp != fp {
		return inconsistent("patch table fingerprint %x, expected %x", pfp, fp)
	}
	if np != len(expect) || flen != fieldLen {
		return inconsistent("%d patches of %d field values, expected %d of %d",
			np, flen, len(expect), fieldLen)
	}
	vals := make([]float64, fieldLen)
	for _, g := range expect {
		if pg := int(rd.Uint32()); rd.Err == nil && pg != g {
			return inconsistent("patch %d, expected %d", pg, g)
		}
		rd.Float64s(vals)
		nb := int(rd.Uint32())
		payload := rd.Bytes(nb)
		if rd.Err != nil {
			return rd.Err
		}
		id := next.LocalID(g)
		if fields != nil {
			if err = fields.SetPatchValues(id, vals); err != nil {
				return
			}
		}
		if parts != nil {
			if err = parts.Insert(id, payload); err != nil {
				return
			}
		} else if nb != 0 {
			return inconsistent("%d particle bytes without particle storage", nb)
		}
	}
	if rd.Remaining() != 0 {
		return inconsistent("%d trailing bytes", rd.Remaining())
	}
	return
}

func commFailure(what string, err error) error {
	if errors.Is(err, types.ErrProtocolInconsistency) || errors.Is(err, types.ErrCommunicationFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", types.ErrCommunicationFailure, what, err)
}

func sortedKeys[T any](m map[int]T) (keys []int) {
	keys = make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return
}
