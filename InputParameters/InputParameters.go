package InputParameters

import (
	"fmt"
	"strings"

	"github.com/ghodss/yaml"

	"github.com/notargets/gopatch/domain"
	"github.com/notargets/gopatch/types"
	"github.com/notargets/gopatch/utils"
)

// Parameters obtained from the YAML input file
type DomainParameters struct {
	Title      string       `json:"Title"`
	GlobalDims [3]int       `json:"GlobalDims"`
	PatchGrid  [3]int       `json:"PatchGrid"`
	BCs        [3][2]string `json:"BCs"` // per axis, low and high side
	GhostWidth int          `json:"GhostWidth"`
	NumProcs   int          `json:"NumProcs"`
	Lo         [3]float64   `json:"Lo"`
	Hi         [3]float64   `json:"Hi"`
	Crds       [3]string    `json:"Crds"` // "uniform" or "ggcm_yz" per axis
	GGCMYZ     *GGCMYZ      `json:"GGCMYZ"`
	Components []string     `json:"Components"`
	Steps      int          `json:"Steps"`
	// Particles per cell seeded at startup
	Particles int              `json:"Particles"`
	Balance   BalanceParameters `json:"Balance"`
	LoadLog   string            `json:"LoadLog"`
}

// GGCMYZ overrides the stretched coordinate parameters.
type GGCMYZ struct {
	Dx0    float64 `json:"Dx0"`
	Xn     float64 `json:"Xn"`
	Xm     float64 `json:"Xm"`
	Xshift float64 `json:"Xshift"`
}

type BalanceParameters struct {
	Interval     int     `json:"Interval"`
	FactorFields float64 `json:"FactorFields"`
	PrintLoads   bool    `json:"PrintLoads"`
	Compress     *bool   `json:"Compress"`
}

func (ip *DomainParameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, ip)
}

// ToParams converts the file contents into domain setup parameters.
func (ip *DomainParameters) ToParams() (p domain.Params, err error) {
	p = domain.Params{
		GlobalDims: types.Int3(ip.GlobalDims),
		PatchGrid:  types.Int3(ip.PatchGrid),
		SW:         ip.GhostWidth,
		NumProcs:   ip.NumProcs,
		Lo:         ip.Lo,
		Hi:         ip.Hi,
	}
	for a := 0; a < 3; a++ {
		for side := 0; side < 2; side++ {
			name := ip.BCs[a][side]
			if name == "" {
				name = "periodic"
			}
			if p.BC[a][side], err = utils.ParseBCName(name); err != nil {
				return p, fmt.Errorf("%w: BCs[%d][%d]: %v", types.ErrConfiguration, a, side, err)
			}
		}
		switch strings.ToLower(ip.Crds[a]) {
		case "", "uniform":
		case "ggcm_yz":
			g := domain.NewGGCMYZ()
			if ip.GGCMYZ != nil {
				g = domain.GGCMYZ{Dx0: ip.GGCMYZ.Dx0, Xn: ip.GGCMYZ.Xn, Xm: ip.GGCMYZ.Xm, Xshift: ip.GGCMYZ.Xshift}
			}
			p.CrdsGen[a] = g
		default:
			return p, fmt.Errorf("%w: unknown coordinate generator %q on axis %d",
				types.ErrConfiguration, ip.Crds[a], a)
		}
	}
	if len(ip.Components) == 0 {
		ip.Components = []string{"rho"}
	}
	return
}

// CompressMigration is the Balance.Compress setting, on by default.
func (ip *DomainParameters) CompressMigration() bool {
	return ip.Balance.Compress == nil || *ip.Balance.Compress
}

func (ip *DomainParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	fmt.Printf("%v\t\t= Global Dims\n", ip.GlobalDims)
	fmt.Printf("%v\t\t= Patch Grid\n", ip.PatchGrid)
	fmt.Printf("[%d]\t\t\t= Ghost Width\n", ip.GhostWidth)
	fmt.Printf("[%d]\t\t\t= Processes\n", ip.NumProcs)
	fmt.Printf("%v\t\t= Components\n", ip.Components)
	fmt.Printf("[%d]\t\t\t= Steps\n", ip.Steps)
	for a, axis := range []string{"x", "y", "z"} {
		crds := ip.Crds[a]
		if crds == "" {
			crds = "uniform"
		}
		fmt.Printf("BCs[%s] = %v, Crds = %s [%g,%g]\n", axis, ip.BCs[a], crds, ip.Lo[a], ip.Hi[a])
	}
	fmt.Printf("Balance: Interval = %d, FactorFields = %g, PrintLoads = %v\n",
		ip.Balance.Interval, ip.Balance.FactorFields, ip.Balance.PrintLoads)
}
