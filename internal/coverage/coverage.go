// Package coverage computes the H3 footprint served by a set of selected
// billboard sites.
package coverage

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
)

// maxRing bounds the grid disk searched per site.
const maxRing = 64

type Calculator struct {
	res int
}

func New(res int) (*Calculator, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("h3 resolution %d out of range [0,15]", res)
	}
	return &Calculator{res: res}, nil
}

func (c *Calculator) Resolution() int { return c.res }

// Cells returns the sorted, de-duplicated H3 cells whose centers lie within
// radius metres of at least one site.
func (c *Calculator) Cells(sites []model.SelectedSite, radius float64) ([]string, error) {
	if len(sites) == 0 {
		return nil, nil
	}
	if !(radius > 0) || math.IsInf(radius, 0) {
		return nil, errors.New("radius must be positive")
	}
	k, err := c.ring(radius)
	if err != nil {
		return nil, err
	}

	seen := make(map[h3.Cell]struct{})
	for _, s := range sites {
		origin, err := h3.LatLngToCell(h3.LatLng{Lat: s.Lat, Lng: s.Lng}, c.res)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", s.ID, err)
		}
		disk, err := origin.GridDisk(k)
		if err != nil {
			return nil, fmt.Errorf("grid disk: %w", err)
		}
		center := orb.Point{s.Lng, s.Lat}
		for _, cell := range disk {
			if _, ok := seen[cell]; ok {
				continue
			}
			ll, err := cell.LatLng()
			if err != nil {
				continue
			}
			if geo.Distance(center, orb.Point{ll.Lng, ll.Lat}) <= radius {
				seen[cell] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for cell := range seen {
		out = append(out, cell.String())
	}
	sort.Strings(out)
	return out, nil
}

// ring picks the grid distance that reaches radius. Adjacent cell centers
// are about sqrt(3) edge lengths apart.
func (c *Calculator) ring(radius float64) (int, error) {
	edge, err := h3.HexagonEdgeLengthAvgM(c.res)
	if err != nil {
		return 0, fmt.Errorf("edge length: %w", err)
	}
	k := int(math.Ceil(radius/(math.Sqrt(3)*edge))) + 1
	if k > maxRing {
		return 0, fmt.Errorf("radius %.0fm needs ring %d at res %d (max %d); use a coarser resolution", radius, k, c.res, maxRing)
	}
	return k, nil
}
