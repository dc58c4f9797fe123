// Package geostrophy derives geostrophic velocity profiles from SOSE
// temperature and salinity through the thermal wind relation, referenced to
// the model velocity at the deepest level.
package geostrophy

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/glwagner/sose/internal/cgrid"
	"github.com/glwagner/sose/internal/sose"
)

// Params selects where and when velocities are computed and holds the
// constants of the linear equation of state. Units are not converted.
type Params struct {
	Lat, Lon  float64
	DayOffset int
	Days      int
	// ZF, when not empty, lists the depths the profiles are interpolated
	// to. Otherwise profiles are returned on the native Zl levels.
	ZF []float64
	// Alpha and Beta are the thermal and haline expansion coefficients.
	Alpha, Beta float64
	// G is the gravitational acceleration and F the Coriolis parameter.
	// F must not be zero.
	G, F float64
}

// Velocities holds geostrophic velocity profiles over (time, level). The
// first level is the deepest one.
type Velocities struct {
	U, V *cgrid.Field
}

// thickness lists the vertical cell sizes at u, v and tracer points and the
// open fraction they are derived from.
var thickness = []struct{ name, hFac string }{
	{"drW", "hFacW"},
	{"drS", "hFacS"},
	{"drC", "hFacC"},
}

// WithThicknessMetrics returns a dataset that adds the vertical cell sizes
// drW, drS and drC, each the open fraction times drF, to ds. They are
// computed when read. ds is left as it is.
func WithThicknessMetrics(ds *sose.Dataset) (*sose.Dataset, error) {
	drF, err := ds.Var("drF")
	if err != nil {
		return nil, err
	}
	var vars []*sose.Variable
	for _, t := range thickness {
		hFac, err := ds.Var(t.hFac)
		if err != nil {
			return nil, err
		}
		vars = append(vars, sose.NewDerivedVariable(t.name, hFac.Dims, hFac.Shape,
			func(sel sose.Selection) (*cgrid.Field, error) {
				h, err := hFac.Read(sel)
				if err != nil {
					return nil, err
				}
				dr, err := drF.Read(sel)
				if err != nil {
					return nil, err
				}
				return h.Mul(dr)
			}))
	}
	return ds.With(vars...), nil
}

// metricNames are the grid metrics handed to the C-grid operator, by axes.
var metricNames = map[string][]string{
	"X":   {"dxC", "dxG"},
	"Y":   {"dyC", "dyG"},
	"Z":   {"drW", "drS", "drC"},
	"X,Y": {"rA", "rAs", "rAw"},
}

// column is the part of the grid one output profile depends on: the
// vertical columns on either side of the point along one horizontal axis.
type column struct {
	sel  sose.Selection
	grid *cgrid.Grid
}

func reversed(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = n - 1 - i
	}
	return idx
}

// newColumn selects the time window tIdx, the horizontal positions xs and
// ys on both the center and the face coordinates, and every level from the
// bottom up.
func newColumn(ds *sose.Dataset, tIdx, xs, ys []int) (*column, error) {
	sel := sose.Selection{
		"time": tIdx,
		"XC":   xs, "XG": xs,
		"YC": ys, "YG": ys,
		"Z":  reversed(len(ds.Coords["Z"])),
		"Zl": reversed(len(ds.Coords["Zl"])),
	}
	coords := make(map[string][]float64)
	for dim, idx := range sel {
		c, ok := ds.Coords[dim]
		if !ok {
			return nil, errors.Errorf("dataset has no %s coordinate", dim)
		}
		sub := make([]float64, len(idx))
		for k, i := range idx {
			if i < 0 || i >= len(c) {
				return nil, errors.Errorf("index %d out of range for %s of length %d", i, dim, len(c))
			}
			sub[k] = c[i]
		}
		coords[dim] = sub
	}
	metrics := make(cgrid.Metrics)
	for axes, names := range metricNames {
		for _, name := range names {
			v, err := ds.Var(name)
			if errors.Is(err, sose.ErrUnknownVariable) {
				// Only the metrics along the differenced axes are
				// needed; the operator reports the ones that are missing.
				continue
			}
			m, err := v.Read(sel)
			if err != nil {
				return nil, err
			}
			metrics[axes] = append(metrics[axes], m)
		}
	}
	// Y is not periodic on the SOSE domain. The periodic Y axis is carried
	// over from the published xgcm SOSE example and has not been checked.
	g, err := cgrid.NewGrid(cgrid.MITgcmAxes(), coords, metrics, "X", "Y")
	if err != nil {
		return nil, err
	}
	return &column{sel: sel, grid: g}, nil
}

// cumulativeGradient returns the integral from the bottom up of the
// derivative of variable name along axis.
func (c *column) cumulativeGradient(ds *sose.Dataset, name, axis string) (*cgrid.Field, error) {
	v, err := ds.Var(name)
	if err != nil {
		return nil, err
	}
	f, err := v.Read(c.sel)
	if err != nil {
		return nil, err
	}
	df, err := c.grid.Derivative(f, axis)
	if err != nil {
		return nil, errors.Wrapf(err, "d%s/d%s", name, axis)
	}
	return c.grid.CumInt(df, "Z", cgrid.Extend)
}

// buoyancyGradient returns the cumulative buoyancy gradient along axis
// under a linear equation of state, g(αΣ∂Θ − βΣ∂S).
func (c *column) buoyancyGradient(ds *sose.Dataset, axis string, p Params) (*cgrid.Field, error) {
	dT, err := c.cumulativeGradient(ds, "THETA", axis)
	if err != nil {
		return nil, err
	}
	dS, err := c.cumulativeGradient(ds, "SALT", axis)
	if err != nil {
		return nil, err
	}
	if !sameShape(dT.Shape, dS.Shape) {
		return nil, errors.Errorf("THETA gradient has shape %v but SALT gradient has %v", dT.Shape, dS.Shape)
	}
	dB := dT.Copy()
	dB.Name = "dB/d" + axis
	floats.Scale(p.G*p.Alpha, dB.Elements)
	floats.AddScaled(dB.Elements, -p.G*p.Beta, dS.Elements)
	return dB, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// reference reads name at the deepest level of the grid point nearest to
// (lat, lon) for every step of tIdx.
func reference(ds *sose.Dataset, name string, p Params, tIdx []int) (*cgrid.Field, error) {
	v, err := ds.Var(name)
	if err != nil {
		return nil, err
	}
	pl := sose.PlacementOf(name)
	sel, err := ds.PointSelection(pl, p.Lat, p.Lon)
	if err != nil {
		return nil, err
	}
	nz := len(ds.Coords["Z"])
	if nz == 0 {
		return nil, errors.New("dataset has no Z coordinate")
	}
	sel["time"] = tIdx
	sel["Z"] = []int{nz - 1}
	f, err := v.Read(sel)
	if err != nil {
		return nil, err
	}
	for _, dim := range []string{"Z", pl.Y, pl.X} {
		if f, err = f.Isel(dim, 0); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Compute returns the geostrophic velocities at the grid points nearest to
// (p.Lat, p.Lon) for the time steps [p.DayOffset, p.DayOffset+p.Days). U is
// located on the south face of the tracer cell and V on its west face.
func Compute(ds *sose.Dataset, p Params) (*Velocities, error) {
	logger := ds.Logger()
	logger.Info("Computing geostrophic velocities", "lat", p.Lat, "lon", p.Lon, "days", p.Days)
	start := time.Now()

	ds, err := WithThicknessMetrics(ds)
	if err != nil {
		return nil, err
	}
	tIdx := sose.Window{Offset: p.DayOffset, Length: p.Days}.Indices(len(ds.Coords["time"]))

	uRef, err := reference(ds, "UVEL", p, tIdx)
	if err != nil {
		return nil, err
	}
	vRef, err := reference(ds, "VVEL", p, tIdx)
	if err != nil {
		return nil, err
	}

	nx, ny := len(ds.Coords["XC"]), len(ds.Coords["YC"])
	if nx == 0 || ny == 0 {
		return nil, errors.New("dataset has no horizontal coordinates")
	}

	// U balances the meridional buoyancy gradient on the v point.
	i := sose.Nearest(ds.Coords["XC"], p.Lon)
	j := sose.Nearest(ds.Coords["YG"], p.Lat)
	if j < 0 {
		return nil, errors.New("dataset has no YG coordinate")
	}
	ycol, err := newColumn(ds, tIdx, []int{i}, []int{(j - 1 + ny) % ny, j})
	if err != nil {
		return nil, err
	}
	dBdy, err := ycol.buoyancyGradient(ds, "Y", p)
	if err != nil {
		return nil, err
	}
	if dBdy, err = point(dBdy, "YG", 1, "XC", 0); err != nil {
		return nil, err
	}
	u, err := dBdy.Scaled(-1 / p.F).Add(uRef)
	if err != nil {
		return nil, err
	}
	u.Name = "U_geo"

	// V balances the zonal buoyancy gradient on the u point.
	i = sose.Nearest(ds.Coords["XG"], p.Lon)
	j = sose.Nearest(ds.Coords["YC"], p.Lat)
	if i < 0 {
		return nil, errors.New("dataset has no XG coordinate")
	}
	xcol, err := newColumn(ds, tIdx, []int{(i - 1 + nx) % nx, i}, []int{j})
	if err != nil {
		return nil, err
	}
	dBdx, err := xcol.buoyancyGradient(ds, "X", p)
	if err != nil {
		return nil, err
	}
	if dBdx, err = point(dBdx, "XG", 1, "YC", 0); err != nil {
		return nil, err
	}
	v, err := dBdx.Scaled(1 / p.F).Add(vRef)
	if err != nil {
		return nil, err
	}
	v.Name = "V_geo"

	if len(p.ZF) > 0 {
		if u, err = resample(u, "Zl", p.ZF); err != nil {
			return nil, err
		}
		if v, err = resample(v, "Zl", p.ZF); err != nil {
			return nil, err
		}
	}
	logger.Info("Computed geostrophic velocities", "in", time.Since(start).Round(time.Millisecond))
	return &Velocities{U: u, V: v}, nil
}

// point drops two horizontal dimensions by position.
func point(f *cgrid.Field, dim1 string, i1 int, dim2 string, i2 int) (*cgrid.Field, error) {
	f, err := f.Isel(dim1, i1)
	if err != nil {
		return nil, err
	}
	return f.Isel(dim2, i2)
}

// resample linearly interpolates f along dim onto the levels zF. Levels
// outside the range of dim take the value at its nearest end.
func resample(f *cgrid.Field, dim string, zF []float64) (*cgrid.Field, error) {
	z, ok := f.Coords[dim]
	d := f.Axis(dim)
	if !ok || d < 0 || len(z) != f.Shape[d] {
		return nil, errors.Errorf("%s has no %s coordinate to interpolate from", f.Name, dim)
	}
	if d != len(f.Dims)-1 {
		return nil, errors.Errorf("%s: can only interpolate along the last dimension", f.Name)
	}
	order := make([]int, len(z))
	for k := range order {
		order[k] = k
	}
	sort.Slice(order, func(a, b int) bool { return z[order[a]] < z[order[b]] })
	xs := make([]float64, len(z))
	for k, o := range order {
		xs[k] = z[o]
	}

	dims := append([]string(nil), f.Dims...)
	dims[d] = "zF"
	shape := append([]int(nil), f.Shape...)
	shape[d] = len(zF)
	out := cgrid.NewField(f.Name, dims, shape...)
	for k, c := range f.Coords {
		if k != dim {
			out.Coords[k] = c
		}
	}
	for k, s := range f.Scalars {
		out.Scalars[k] = s
	}
	out.Coords["zF"] = append([]float64(nil), zF...)

	n := len(z)
	rows := len(f.Elements) / max(n, 1)
	ys := make([]float64, n)
	for r := 0; r < rows; r++ {
		for k, o := range order {
			ys[k] = f.Elements[r*n+o]
		}
		dst := out.Elements[r*len(zF) : (r+1)*len(zF)]
		if n == 1 {
			for k := range dst {
				dst[k] = ys[0]
			}
			continue
		}
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return nil, errors.Wrapf(err, "interpolating %s", f.Name)
		}
		for k, zf := range zF {
			dst[k] = pl.Predict(zf)
		}
	}
	return out, nil
}
