package ddc

import (
	"fmt"
	"io"
)

// PeerSummary is the traffic with one peer per component exchanged.
type PeerSummary struct {
	Rank      int `json:"rank"`
	Segments  int `json:"segments"`
	SendCells int `json:"send_cells"`
	RecvCells int `json:"recv_cells"`
}

// Summary describes a plan for reports and JSON dumps.
type Summary struct {
	Rank        int           `json:"rank"`
	Version     int           `json:"version"`
	Fingerprint string        `json:"fingerprint"`
	Patches     int           `json:"patches"`
	Peers       []PeerSummary `json:"peers"`
	LocalCopies int           `json:"local_copies"`
	LocalCells  int           `json:"local_cells"`
	EdgeBoxes   int           `json:"edge_boxes"`
	Messages    int           `json:"messages"`
}

func (plan *Plan) Summary() (s Summary) {
	s = Summary{
		Rank:        plan.Domain.Rank,
		Version:     plan.Version,
		Fingerprint: fmt.Sprintf("%016x", plan.Fingerprint),
		Patches:     plan.Domain.NumLocalPatches(),
		Peers:       make([]PeerSummary, 0, len(plan.Peers)),
		LocalCopies: len(plan.Local),
		EdgeBoxes:   len(plan.Edges),
		Messages:    plan.NumMessages(),
	}
	for _, pm := range plan.Peers {
		s.Peers = append(s.Peers, PeerSummary{
			Rank:      pm.Rank,
			Segments:  len(pm.Send),
			SendCells: pm.SendCells,
			RecvCells: pm.RecvCells,
		})
	}
	for _, lc := range plan.Local {
		s.LocalCells += lc.DstBox.Volume()
	}
	return
}

// Print writes the summary as a table.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "rank %d, table version %d [%s], %d patches\n",
		s.Rank, s.Version, s.Fingerprint, s.Patches)
	fmt.Fprintf(w, "%8s%10s%12s%12s\n", "peer", "segments", "send cells", "recv cells")
	for _, p := range s.Peers {
		fmt.Fprintf(w, "%8d%10d%12d%12d\n", p.Rank, p.Segments, p.SendCells, p.RecvCells)
	}
	fmt.Fprintf(w, "local copies: %d (%d cells), edge boxes: %d, messages: %d\n",
		s.LocalCopies, s.LocalCells, s.EdgeBoxes, s.Messages)
}
