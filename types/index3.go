package types

import "fmt"

// Int3 is a logical index or extent in the three grid directions.
type Int3 [3]int

func (a Int3) Add(b Int3) (r Int3) {
	for d := 0; d < 3; d++ {
		r[d] = a[d] + b[d]
	}
	return
}

func (a Int3) Sub(b Int3) (r Int3) {
	for d := 0; d < 3; d++ {
		r[d] = a[d] - b[d]
	}
	return
}

func (a Int3) Mul(b Int3) (r Int3) {
	for d := 0; d < 3; d++ {
		r[d] = a[d] * b[d]
	}
	return
}

func (a Int3) Neg() Int3 {
	return Int3{-a[0], -a[1], -a[2]}
}

// Volume is the number of cells in an extent.
func (a Int3) Volume() int {
	return a[0] * a[1] * a[2]
}

func (a Int3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", a[0], a[1], a[2])
}

// Shift is a direction towards a neighboring patch, every component in
// {-1,0,1}.
type Shift = Int3

// NumDirections is the count of non-zero shifts: faces, edges and corners.
const NumDirections = 26

// Directions lists the 26 non-zero shifts in a fixed order, z slowest and x
// fastest. The position of a shift in this list is its direction index.
var Directions = func() (dirs [NumDirections]Shift) {
	var n int
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				dirs[n] = Shift{dx, dy, dz}
				n++
			}
		}
	}
	return
}()

// DirectionIndex returns the position of s in Directions.
func DirectionIndex(s Shift) (dir int, err error) {
	if err = ValidateShift(s); err != nil {
		return -1, err
	}
	// Index into the full 3x3x3 cube, then skip the center.
	dir = (s[0] + 1) + 3*(s[1]+1) + 9*(s[2]+1)
	if dir > 13 {
		dir--
	}
	return
}

// ValidateShift accepts only the 26 face, edge and corner directions.
func ValidateShift(s Shift) error {
	for d := 0; d < 3; d++ {
		if s[d] < -1 || s[d] > 1 {
			return fmt.Errorf("%w: shift %v component %d outside {-1,0,1}",
				ErrInvalidArgument, s, d)
		}
	}
	if s == (Shift{}) {
		return fmt.Errorf("%w: zero shift vector", ErrInvalidArgument)
	}
	return nil
}
