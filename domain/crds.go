package domain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gopatch/types"
)

// CrdsGen maps the logical cell index i of one axis with n cells to the
// physical cell center x[i] and spacing dx[i]. Slices cover [-sw, n+sw),
// x[0] belongs to logical index -sw.
type CrdsGen interface {
	Generate(n, sw int, lo, hi float64) (x, dx []float64, err error)
	Name() string
}

// Uniform spaces cells evenly between lo and hi.
type Uniform struct{}

func (Uniform) Name() string { return "uniform" }

func (Uniform) Generate(n, sw int, lo, hi float64) (x, dx []float64, err error) {
	var (
		h  = (hi - lo) / float64(n)
		nc = n + 2*sw
	)
	x, dx = make([]float64, nc), make([]float64, nc)
	if nc == 1 {
		x[0] = lo + 0.5*h
	} else {
		floats.Span(x, lo+(0.5-float64(sw))*h, lo+(float64(n+sw)-0.5)*h)
	}
	for i := range dx {
		dx[i] = h
	}
	return
}

// GGCMYZ stretches an axis symmetric around 0 so that spacing is Dx0 at the
// center and grows towards both ends. lo must equal -hi.
type GGCMYZ struct {
	Dx0    float64 // center spacing
	Xn, Xm float64
	Xshift float64 // center shift
}

// NewGGCMYZ returns the generator with its usual parameters.
func NewGGCMYZ() GGCMYZ {
	return GGCMYZ{Dx0: .4, Xn: 2., Xm: .5}
}

func (GGCMYZ) Name() string { return "ggcm_yz" }

func (g GGCMYZ) acoff(n int, y float64) float64 {
	var (
		x  = float64(n) - .5
		yy = y / (g.Dx0 * x)
	)
	yy = math.Pow(yy, 1./g.Xm) - 1.
	return yy / math.Pow(x, 2.*g.Xn)
}

func (g GGCMYZ) Generate(n, sw int, lo, hi float64) (x, dx []float64, err error) {
	if lo != -hi {
		err = fmt.Errorf("ggcm_yz needs a symmetric axis, got [%g,%g]", lo, hi)
		return
	}
	if n < 2 {
		err = fmt.Errorf("ggcm_yz needs at least 2 cells, got %d", n)
		return
	}
	var (
		nx2 = n / 2
		nx1 = 1 - n/2
		a   = g.acoff(nx2, hi)
	)
	x, dx = make([]float64, n+2*sw), make([]float64, n+2*sw)
	for i := -sw; i < n+sw; i++ {
		var (
			xi = float64(i+nx1) - .5
			s  = 1 + a*math.Pow(xi, 2.*g.Xn)
			sm = math.Pow(s, g.Xm)
		)
		dx[i+sw] = g.Dx0 * (sm + g.Xm*xi*2.*g.Xn*a*math.Pow(xi, 2.*g.Xn-1.)*sm/s)
		x[i+sw] = g.Dx0*xi*sm - g.Xshift
	}
	if floats.HasNaN(x) || floats.HasNaN(dx) {
		err = fmt.Errorf("ggcm_yz parameters %+v give undefined coordinates", g)
	}
	return
}

// Crds holds the physical coordinates of every axis, ghost cells included.
type Crds struct {
	Lo, Hi [3]float64
	Gen    [3]CrdsGen
	SW     int
	X, DX  [3][]float64
}

// NewCrds evaluates gen on every axis of a grid with dims cells. A nil
// generator is Uniform.
func NewCrds(dims types.Int3, sw int, lo, hi [3]float64, gen [3]CrdsGen) (c *Crds, err error) {
	c = &Crds{Lo: lo, Hi: hi, Gen: gen, SW: sw}
	for d := 0; d < 3; d++ {
		if c.Gen[d] == nil {
			c.Gen[d] = Uniform{}
		}
		if hi[d] <= lo[d] {
			err = fmt.Errorf("%w: axis %d has empty extent [%g,%g]",
				types.ErrConfiguration, d, lo[d], hi[d])
			return nil, err
		}
		if c.X[d], c.DX[d], err = c.Gen[d].Generate(dims[d], sw, lo[d], hi[d]); err != nil {
			return nil, fmt.Errorf("%w: axis %d: %v", types.ErrConfiguration, d, err)
		}
	}
	return
}

// At returns the physical center of global logical cell idx, which may lie
// in the ghost margin.
func (c *Crds) At(idx types.Int3) (x [3]float64) {
	for d := 0; d < 3; d++ {
		x[d] = c.X[d][idx[d]+c.SW]
	}
	return
}

// Spacing returns the cell size of global logical cell idx.
func (c *Crds) Spacing(idx types.Int3) (dx [3]float64) {
	for d := 0; d < 3; d++ {
		dx[d] = c.DX[d][idx[d]+c.SW]
	}
	return
}
