package cgrid

import (
	"fmt"
	"sort"
	"strings"
)

// Position is the location of a coordinate within a grid cell along one axis.
type Position int

const (
	// Center is the middle of the cell, where tracers live.
	Center Position = iota
	// Left is the lower face of the cell, shifted half a cell back.
	Left
	// Right is the upper face of the cell, shifted half a cell forward.
	Right
	// Outer holds both faces, one more point than there are cells.
	Outer
)

func (p Position) String() string {
	switch p {
	case Center:
		return "center"
	case Left:
		return "left"
	case Right:
		return "right"
	case Outer:
		return "outer"
	}
	return fmt.Sprintf("Position(%d)", int(p))
}

// Boundary selects how values beyond a non-periodic axis end are filled.
type Boundary int

const (
	// Extend repeats the edge value.
	Extend Boundary = iota
	// Fill uses zero.
	Fill
)

// Axis names the coordinates of one logical grid axis by position.
type Axis struct {
	Name   string
	Coords map[Position]string
}

// MITgcmAxes returns the X, Y and Z axes of MITgcm/SOSE output.
func MITgcmAxes() []Axis {
	return []Axis{
		{Name: "X", Coords: map[Position]string{Center: "XC", Left: "XG"}},
		{Name: "Y", Coords: map[Position]string{Center: "YC", Left: "YG"}},
		{Name: "Z", Coords: map[Position]string{Center: "Z", Left: "Zl", Right: "Zu", Outer: "Zp1"}},
	}
}

// Metrics maps a set of axis names, joined by commas ("X", "Z", "X,Y"), to
// the distance, thickness or area fields along those axes.
type Metrics map[string][]*Field

// Grid applies differences and integrals along logical axes.
type Grid struct {
	axes     map[string]Axis
	dimAxis  map[string]string
	dimPos   map[string]Position
	periodic map[string]bool
	coords   map[string][]float64
	metrics  map[string][]*Field
}

func metricKey(axes []string) string {
	s := append([]string(nil), axes...)
	sort.Strings(s)
	return strings.Join(s, ",")
}

// NewGrid builds a grid. coords supplies coordinate values that are attached
// to results moved onto a new position; it may be nil.
func NewGrid(axes []Axis, coords map[string][]float64, metrics Metrics, periodic ...string) (*Grid, error) {
	g := &Grid{
		axes:     make(map[string]Axis),
		dimAxis:  make(map[string]string),
		dimPos:   make(map[string]Position),
		periodic: make(map[string]bool),
		coords:   coords,
		metrics:  make(map[string][]*Field),
	}
	for _, a := range axes {
		if _, ok := a.Coords[Center]; !ok {
			return nil, fmt.Errorf("cgrid: axis %s has no center coordinate", a.Name)
		}
		g.axes[a.Name] = a
		for pos, dim := range a.Coords {
			g.dimAxis[dim] = a.Name
			g.dimPos[dim] = pos
		}
	}
	for _, p := range periodic {
		if _, ok := g.axes[p]; !ok {
			return nil, fmt.Errorf("cgrid: periodic axis %s is not defined", p)
		}
		g.periodic[p] = true
	}
	for k, fields := range metrics {
		names := strings.Split(k, ",")
		for _, n := range names {
			if _, ok := g.axes[n]; !ok {
				return nil, fmt.Errorf("cgrid: metric axis %s is not defined", n)
			}
		}
		for _, f := range fields {
			if f == nil {
				return nil, fmt.Errorf("cgrid: nil metric for %s", k)
			}
		}
		key := metricKey(names)
		g.metrics[key] = append(g.metrics[key], fields...)
	}
	return g, nil
}

// Periodic reports whether axis wraps around.
func (g *Grid) Periodic(axis string) bool { return g.periodic[axis] }

// locate finds the dimension of f lying on axis.
func (g *Grid) locate(f *Field, axis string) (int, Position, error) {
	if _, ok := g.axes[axis]; !ok {
		return 0, 0, fmt.Errorf("cgrid: axis %s is not defined", axis)
	}
	for d, dim := range f.Dims {
		if g.dimAxis[dim] == axis {
			return d, g.dimPos[dim], nil
		}
	}
	return 0, 0, fmt.Errorf("cgrid: %s%v has no dimension on axis %s", f.Name, f.Dims, axis)
}

// target returns the default destination of a shift away from pos.
func (g *Grid) target(axis string, pos Position) (Position, error) {
	a := g.axes[axis]
	var to Position
	switch pos {
	case Center:
		to = Left
		if _, ok := a.Coords[Left]; !ok {
			to = Right
		}
	case Left, Right, Outer:
		to = Center
	}
	if _, ok := a.Coords[to]; !ok {
		return 0, fmt.Errorf("cgrid: axis %s has no %s coordinate", axis, to)
	}
	return to, nil
}

// Diff returns the difference of neighbouring values of f along axis,
// located on the shifted position (center to left, left to center).
func (g *Grid) Diff(f *Field, axis string, boundary Boundary) (*Field, error) {
	d, pos, err := g.locate(f, axis)
	if err != nil {
		return nil, err
	}
	if pos == Outer {
		return nil, fmt.Errorf("cgrid: differences of outer coordinates along %s are not supported", axis)
	}
	to, err := g.target(axis, pos)
	if err != nil {
		return nil, err
	}
	dim := g.axes[axis].Coords[to]
	outer, n, inner := span(f.Shape, d)
	out := f.like(d, dim, n)
	if c, ok := g.coords[dim]; ok && len(c) == n {
		out.Coords[dim] = c
	}
	if n == 0 {
		return out, nil
	}
	periodic := g.periodic[axis]
	// backward: out[k] = f[k] - f[k-1]; forward: out[k] = f[k+1] - f[k].
	backward := (pos == Center && to == Left) || (pos == Right && to == Center)
	at := func(o, k, i int) float64 { return f.Elements[(o*n+k)*inner+i] }
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			for k := 0; k < n; k++ {
				var v float64
				if backward {
					prev := 0.0
					switch {
					case k > 0:
						prev = at(o, k-1, i)
					case periodic:
						prev = at(o, n-1, i)
					case boundary == Extend:
						prev = at(o, 0, i)
					}
					v = at(o, k, i) - prev
				} else {
					next := 0.0
					switch {
					case k < n-1:
						next = at(o, k+1, i)
					case periodic:
						next = at(o, 0, i)
					case boundary == Extend:
						next = at(o, n-1, i)
					}
					v = next - at(o, k, i)
				}
				out.Elements[(o*n+k)*inner+i] = v
			}
		}
	}
	return out, nil
}

// Metric returns the metric along axes whose dimensions are all present in
// dims. When several qualify the one with the most dimensions wins.
func (g *Grid) Metric(axes string, dims []string) (*Field, error) {
	key := metricKey(strings.Split(axes, ","))
	var best *Field
	for _, m := range g.metrics[key] {
		ok := true
		for _, md := range m.Dims {
			found := false
			for _, d := range dims {
				if d == md {
					found = true
					break
				}
			}
			if !found {
				ok = false
				break
			}
		}
		if ok && (best == nil || len(m.Dims) > len(best.Dims)) {
			best = m
		}
	}
	if best == nil {
		return nil, fmt.Errorf("cgrid: no %s metric matches dims %v", key, dims)
	}
	return best, nil
}

// Derivative returns the difference of f along axis divided by the axis
// distance at the destination position.
func (g *Grid) Derivative(f *Field, axis string) (*Field, error) {
	df, err := g.Diff(f, axis, Extend)
	if err != nil {
		return nil, err
	}
	m, err := g.Metric(axis, df.Dims)
	if err != nil {
		return nil, err
	}
	return df.Div(m)
}

// CumSum returns the running sum of f along axis, moved onto the shifted
// position. Going from center to left the first value comes from the
// boundary and the last partial sum is dropped.
func (g *Grid) CumSum(f *Field, axis string, boundary Boundary) (*Field, error) {
	d, pos, err := g.locate(f, axis)
	if err != nil {
		return nil, err
	}
	if pos == Outer {
		return nil, fmt.Errorf("cgrid: cumulative sums of outer coordinates along %s are not supported", axis)
	}
	to, err := g.target(axis, pos)
	if err != nil {
		return nil, err
	}
	dim := g.axes[axis].Coords[to]
	outer, n, inner := span(f.Shape, d)
	out := f.like(d, dim, n)
	if c, ok := g.coords[dim]; ok && len(c) == n {
		out.Coords[dim] = c
	}
	if n == 0 {
		return out, nil
	}
	pad := (pos == Center && to == Left) || (pos == Right && to == Center)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			cum := 0.0
			var first float64
			for k := 0; k < n; k++ {
				cum += f.Elements[(o*n+k)*inner+i]
				if !pad {
					out.Elements[(o*n+k)*inner+i] = cum
					continue
				}
				if k == 0 {
					first = cum
				}
				if k+1 < n {
					out.Elements[(o*n+k+1)*inner+i] = cum
				}
			}
			if pad {
				edge := 0.0
				if boundary == Extend {
					edge = first
				}
				out.Elements[o*n*inner+i] = edge
			}
		}
	}
	return out, nil
}

// CumInt returns the running integral of f along axis, weighting each value
// by the axis metric at f's position.
func (g *Grid) CumInt(f *Field, axis string, boundary Boundary) (*Field, error) {
	m, err := g.Metric(axis, f.Dims)
	if err != nil {
		return nil, err
	}
	w, err := f.Mul(m)
	if err != nil {
		return nil, err
	}
	return g.CumSum(w, axis, boundary)
}
