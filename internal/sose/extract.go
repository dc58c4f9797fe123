package sose

import (
	"math"

	"github.com/pkg/errors"

	"github.com/glwagner/sose/internal/cgrid"
)

// Placement names the horizontal coordinates a variable is located on.
type Placement struct {
	X, Y string
}

var (
	// CenterPoint is the tracer point of a cell.
	CenterPoint = Placement{X: "XC", Y: "YC"}
	// UPoint is the west face of a cell.
	UPoint = Placement{X: "XG", Y: "YC"}
	// VPoint is the south face of a cell.
	VPoint = Placement{X: "XC", Y: "YG"}
)

// PlacementOf returns where the variable called name lives. Zonal
// velocity and stress sit on the west face, meridional ones on the south
// face and everything else at the cell center.
func PlacementOf(name string) Placement {
	switch name {
	case "UVEL", "oceTAUX":
		return UPoint
	case "VVEL", "oceTAUY":
		return VPoint
	}
	return CenterPoint
}

// Window selects Length consecutive time steps starting at Offset.
type Window struct {
	Offset, Length int
}

// Indices returns the positions of the window on an axis of length n. A
// negative Offset is clamped to 0 before Length steps are counted, and a
// window running past the end of the axis is cut short.
func (w Window) Indices(n int) []int {
	begin := w.Offset
	if begin < 0 {
		begin = 0
	}
	end := begin + w.Length
	if end > n {
		end = n
	}
	var idx []int
	for i := begin; i < end; i++ {
		idx = append(idx, i)
	}
	return idx
}

// Nearest returns the position of the coordinate closest to x, or -1 when
// coords is empty. Values outside the axis snap to its closest end. When
// x lies halfway between two coordinates the later one wins.
func Nearest(coords []float64, x float64) int {
	best := -1
	bestDist := math.Inf(1)
	for i, c := range coords {
		if d := math.Abs(c - x); d <= bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// PointSelection returns the selection of the grid point nearest to
// (lat, lon) on placement p.
func (ds *Dataset) PointSelection(p Placement, lat, lon float64) (Selection, error) {
	sel := make(Selection, 2)
	for _, c := range []struct {
		dim string
		x   float64
	}{{p.X, lon}, {p.Y, lat}} {
		i := Nearest(ds.Coords[c.dim], c.x)
		if i < 0 {
			return nil, errors.Errorf("dataset has no %s coordinate", c.dim)
		}
		sel[c.dim] = []int{i}
	}
	return sel, nil
}

// Point reads variable name in the time window w at the grid point nearest
// to (lat, lon). The horizontal dimensions are dropped from the result and
// the selected coordinates are kept in its Scalars.
func (ds *Dataset) Point(name string, lat, lon float64, w Window) (*cgrid.Field, error) {
	v, err := ds.Var(name)
	if err != nil {
		return nil, err
	}
	p := PlacementOf(name)
	if !v.Has(p.X) || !v.Has(p.Y) {
		return nil, errors.Errorf("%s%v is not located on (%s, %s)", name, v.Dims, p.X, p.Y)
	}
	sel, err := ds.PointSelection(p, lat, lon)
	if err != nil {
		return nil, err
	}
	if v.Has("time") {
		sel["time"] = w.Indices(v.Len("time"))
	}
	f, err := v.Read(sel)
	if err != nil {
		return nil, err
	}
	for _, dim := range []string{p.X, p.Y} {
		if f, err = f.Isel(dim, 0); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// ScalarTimeSeries returns days values of a surface variable starting at
// time step dayOffset, at the grid point nearest to (lat, lon).
func ScalarTimeSeries(ds *Dataset, name string, lat, lon float64, dayOffset, days int) (*cgrid.Field, error) {
	ds.logger.Info("Getting time series", "var", name, "lat", lat, "lon", lon)
	return ds.Point(name, lat, lon, Window{Offset: dayOffset, Length: days})
}

// ProfileTimeSeries returns days vertical profiles of a variable starting at
// time step dayOffset, at the grid point nearest to (lat, lon).
func ProfileTimeSeries(ds *Dataset, name string, lat, lon float64, dayOffset, days int) (*cgrid.Field, error) {
	ds.logger.Info("Getting profile time series", "var", name, "lat", lat, "lon", lon, "days", days)
	return ds.Point(name, lat, lon, Window{Offset: dayOffset, Length: days})
}
