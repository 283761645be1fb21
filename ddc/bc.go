package ddc

import (
	"github.com/notargets/gopatch/types"
	"github.com/notargets/gopatch/utils"
)

// BoundaryRule gives the value of a ghost cell behind a Wall. v is the
// interior value mirrored across the wall, axis is the wall normal.
type BoundaryRule interface {
	Wall(m, axis int, v float64) float64
}

// RuleFunc adapts a function to BoundaryRule.
type RuleFunc func(m, axis int, v float64) float64

func (f RuleFunc) Wall(m, axis int, v float64) float64 { return f(m, axis, v) }

// Reflect mirrors every component unchanged.
type Reflect struct{}

func (Reflect) Wall(m, axis int, v float64) float64 { return v }

// Zero clears ghost cells behind a wall.
type Zero struct{}

func (Zero) Wall(m, axis int, v float64) float64 { return 0 }

// Parity mirrors component m and negates it when Odd[m][axis] is set, e.g.
// the normal component of a vector field at a conducting wall. Components
// past the end of Odd are even.
type Parity struct {
	Odd [][3]bool
}

func (p Parity) Wall(m, axis int, v float64) float64 {
	if m < len(p.Odd) && p.Odd[m][axis] {
		return -v
	}
	return v
}

// fillEdge sets the ghosts of eg. Along crossed axes the source cell is the
// mirror image (Wall) or the nearest interior cell (Open), along the other
// axes it is the ghost cell itself, already filled by the exchange.
func fillEdge(view PatchView, ldims types.Int3, eg EdgeGhost, mlo, mhi int, rule BoundaryRule) {
	eg.Box.forEach(func(i, j, k int) {
		var (
			dst = types.Int3{i, j, k}
			src = dst
		)
		for a := 0; a < 3; a++ {
			if !eg.Crossed[a] {
				continue
			}
			switch eg.Kinds[a] {
			case utils.BCWall:
				if eg.Shift[a] > 0 {
					src[a] = 2*ldims[a] - 1 - dst[a]
				} else {
					src[a] = -1 - dst[a]
				}
			default:
				if eg.Shift[a] > 0 {
					src[a] = ldims[a] - 1
				} else {
					src[a] = 0
				}
			}
		}
		for m := mlo; m < mhi; m++ {
			v := view.At(m, src[0], src[1], src[2])
			for a := 0; a < 3; a++ {
				if eg.Crossed[a] && eg.Kinds[a] == utils.BCWall {
					v = rule.Wall(m, a, v)
				}
			}
			view.Set(m, dst[0], dst[1], dst[2], v)
		}
	})
}
