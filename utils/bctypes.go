package utils

import (
	"fmt"
	"strings"
)

// BCType is the boundary kind on one side of one axis of the domain
type BCType uint8

const (
	// BCPeriodic wraps the patch grid around, the edge always has a neighbor
	BCPeriodic BCType = iota
	// BCWall fills ghosts through a field dependent reflection rule
	BCWall
	// BCOpen fills ghosts by copying the nearest interior cell
	BCOpen
)

// String returns the string representation of a BCType
func (bc BCType) String() string {
	switch bc {
	case BCPeriodic:
		return "Periodic"
	case BCWall:
		return "Wall"
	case BCOpen:
		return "Open"
	}
	return "Unknown"
}

// BCNameMap maps accepted boundary names to BCType
// Keys are lowercase for case-insensitive matching
var BCNameMap = map[string]BCType{
	"periodic":    BCPeriodic,
	"wall":        BCWall,
	"reflect":     BCWall,
	"conductor":   BCWall,
	"open":        BCOpen,
	"outflow":     BCOpen,
	"extrapolate": BCOpen,
}

// ParseBCName converts a boundary condition name string to BCType
// The matching is case-insensitive and trims whitespace
func ParseBCName(name string) (bc BCType, err error) {
	var (
		ok        bool
		lowerName = strings.ToLower(strings.TrimSpace(name))
	)
	if bc, ok = BCNameMap[lowerName]; !ok {
		err = fmt.Errorf("unknown boundary condition %q", name)
	}
	return
}

// BC holds the boundary kind of every axis side, [axis][0] is the low side
// and [axis][1] the high side
type BC [3][2]BCType

// NewBC returns the same kind on both sides of each axis
func NewBC(x, y, z BCType) (bc BC) {
	bc[0] = [2]BCType{x, x}
	bc[1] = [2]BCType{y, y}
	bc[2] = [2]BCType{z, z}
	return
}

// Side returns the kind of the edge crossed by moving along axis in
// direction sign (-1 low, +1 high)
func (bc BC) Side(axis, sign int) BCType {
	if sign < 0 {
		return bc[axis][0]
	}
	return bc[axis][1]
}

// IsPeriodic reports whether the axis wraps around
func (bc BC) IsPeriodic(axis int) bool {
	return bc[axis][0] == BCPeriodic && bc[axis][1] == BCPeriodic
}

// Validate requires Periodic to be declared on both sides of an axis or on
// neither of them
func (bc BC) Validate() error {
	for d := 0; d < 3; d++ {
		lo, hi := bc[d][0], bc[d][1]
		if lo > BCOpen || hi > BCOpen {
			return fmt.Errorf("axis %d: unknown boundary kind %d/%d", d, lo, hi)
		}
		if (lo == BCPeriodic) != (hi == BCPeriodic) {
			return fmt.Errorf("axis %d: periodic on one side only (%s/%s)",
				d, lo, hi)
		}
	}
	return nil
}
