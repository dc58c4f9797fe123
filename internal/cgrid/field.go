// Package cgrid provides named in-memory fields and finite-volume operators
// over an Arakawa C-grid such as the one MITgcm writes.
package cgrid

import (
	"fmt"

	"github.com/ctessum/sparse"
)

// Field is an in-memory array whose dimensions are named. Coords holds the
// coordinate values along each dimension when they are known, Scalars holds
// the coordinates of dimensions that were removed by point selection.
type Field struct {
	Name    string
	Dims    []string
	Coords  map[string][]float64
	Scalars map[string]float64
	*sparse.DenseArray
}

// NewField returns a zero-valued field with the given dimensions and shape.
func NewField(name string, dims []string, shape ...int) *Field {
	if len(dims) != len(shape) {
		panic(fmt.Sprintf("cgrid: %d dims but %d lengths", len(dims), len(shape)))
	}
	return &Field{
		Name:       name,
		Dims:       append([]string(nil), dims...),
		Coords:     make(map[string][]float64),
		Scalars:    make(map[string]float64),
		DenseArray: sparse.ZerosDense(shape...),
	}
}

// Axis returns the position of dim in f.Dims or -1.
func (f *Field) Axis(dim string) int {
	for i, d := range f.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// Len returns the length of dimension dim, or 0 if f does not have it.
func (f *Field) Len(dim string) int {
	if i := f.Axis(dim); i >= 0 {
		return f.Shape[i]
	}
	return 0
}

// Copy returns a deep copy of f.
func (f *Field) Copy() *Field {
	out := &Field{
		Name:       f.Name,
		Dims:       append([]string(nil), f.Dims...),
		Coords:     make(map[string][]float64, len(f.Coords)),
		Scalars:    make(map[string]float64, len(f.Scalars)),
		DenseArray: f.DenseArray.Copy(),
	}
	for k, v := range f.Coords {
		out.Coords[k] = append([]float64(nil), v...)
	}
	for k, v := range f.Scalars {
		out.Scalars[k] = v
	}
	return out
}

// span splits shape around dimension d into the product of the leading
// lengths, the length of d and the product of the trailing lengths.
func span(shape []int, d int) (outer, n, inner int) {
	outer, inner = 1, 1
	for _, s := range shape[:d] {
		outer *= s
	}
	for _, s := range shape[d+1:] {
		inner *= s
	}
	return outer, shape[d], inner
}

// like returns a zero field shaped like f with dimension d renamed to dim
// and resized to n. Coordinates of the other dimensions are carried over.
func (f *Field) like(d int, dim string, n int) *Field {
	dims := append([]string(nil), f.Dims...)
	shape := append([]int(nil), f.Shape...)
	dims[d] = dim
	shape[d] = n
	out := NewField(f.Name, dims, shape...)
	for k, v := range f.Coords {
		if k != f.Dims[d] {
			out.Coords[k] = v
		}
	}
	for k, v := range f.Scalars {
		out.Scalars[k] = v
	}
	return out
}

// Take returns the elements at the given positions along dim, in order.
func (f *Field) Take(dim string, idx []int) (*Field, error) {
	d := f.Axis(dim)
	if d < 0 {
		return nil, fmt.Errorf("cgrid: %s has no dimension %q", f.Name, dim)
	}
	outer, n, inner := span(f.Shape, d)
	for _, i := range idx {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("cgrid: index %d out of range for %s of length %d", i, dim, n)
		}
	}
	out := f.like(d, dim, len(idx))
	for o := 0; o < outer; o++ {
		for k, i := range idx {
			src := f.Elements[(o*n+i)*inner : (o*n+i+1)*inner]
			copy(out.Elements[(o*len(idx)+k)*inner:], src)
		}
	}
	if c, ok := f.Coords[dim]; ok {
		sub := make([]float64, len(idx))
		for k, i := range idx {
			sub[k] = c[i]
		}
		out.Coords[dim] = sub
	}
	return out, nil
}

// Reverse returns f with the order of dim reversed.
func (f *Field) Reverse(dim string) (*Field, error) {
	n := f.Len(dim)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = n - 1 - i
	}
	return f.Take(dim, idx)
}

// Isel removes dim by selecting position i along it. The coordinate of the
// selected position, if known, is kept in Scalars.
func (f *Field) Isel(dim string, i int) (*Field, error) {
	d := f.Axis(dim)
	if d < 0 {
		return nil, fmt.Errorf("cgrid: %s has no dimension %q", f.Name, dim)
	}
	outer, n, inner := span(f.Shape, d)
	if i < 0 || i >= n {
		return nil, fmt.Errorf("cgrid: index %d out of range for %s of length %d", i, dim, n)
	}
	dims := append(append([]string(nil), f.Dims[:d]...), f.Dims[d+1:]...)
	shape := append(append([]int(nil), f.Shape[:d]...), f.Shape[d+1:]...)
	out := NewField(f.Name, dims, shape...)
	for o := 0; o < outer; o++ {
		copy(out.Elements[o*inner:(o+1)*inner], f.Elements[(o*n+i)*inner:(o*n+i+1)*inner])
	}
	for k, v := range f.Coords {
		if k != dim {
			out.Coords[k] = v
		}
	}
	for k, v := range f.Scalars {
		out.Scalars[k] = v
	}
	if c, ok := f.Coords[dim]; ok {
		out.Scalars[dim] = c[i]
	}
	return out, nil
}

// broadcastStrides returns, for every dimension of f, the stride of that
// dimension in m, or 0 when m does not vary along it.
func broadcastStrides(f, m *Field) ([]int, error) {
	mstride := make([]int, len(m.Dims))
	s := 1
	for i := len(m.Dims) - 1; i >= 0; i-- {
		mstride[i] = s
		s *= m.Shape[i]
	}
	strides := make([]int, len(f.Dims))
	for i, dim := range m.Dims {
		d := f.Axis(dim)
		if d < 0 {
			return nil, fmt.Errorf("cgrid: cannot broadcast %s%v onto %s%v", m.Name, m.Dims, f.Name, f.Dims)
		}
		if f.Shape[d] != m.Shape[i] {
			return nil, fmt.Errorf("cgrid: %s has length %d along %s, %s has %d",
				m.Name, m.Shape[i], dim, f.Name, f.Shape[d])
		}
		strides[d] = mstride[i]
	}
	return strides, nil
}

func (f *Field) apply(m *Field, op func(a, b float64) float64) (*Field, error) {
	strides, err := broadcastStrides(f, m)
	if err != nil {
		return nil, err
	}
	out := f.Copy()
	idx := make([]int, len(f.Shape))
	mi := 0
	for k, v := range f.Elements {
		out.Elements[k] = op(v, m.Elements[mi])
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			mi += strides[d]
			if idx[d] < f.Shape[d] {
				break
			}
			mi -= strides[d] * f.Shape[d]
			idx[d] = 0
		}
	}
	return out, nil
}

// Mul returns f multiplied by m, where m's dimensions are a subset of f's.
func (f *Field) Mul(m *Field) (*Field, error) {
	return f.apply(m, func(a, b float64) float64 { return a * b })
}

// Div returns f divided by m, where m's dimensions are a subset of f's.
func (f *Field) Div(m *Field) (*Field, error) {
	return f.apply(m, func(a, b float64) float64 { return a / b })
}

// Concat joins fields end to end along dim. All fields must agree on every
// other dimension.
func Concat(dim string, fields ...*Field) (*Field, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("cgrid: nothing to concatenate along %s", dim)
	}
	first := fields[0]
	d := first.Axis(dim)
	if d < 0 {
		return nil, fmt.Errorf("cgrid: %s has no dimension %q", first.Name, dim)
	}
	total := 0
	for _, f := range fields {
		if len(f.Dims) != len(first.Dims) {
			return nil, fmt.Errorf("cgrid: cannot concatenate %s%v with %s%v", first.Name, first.Dims, f.Name, f.Dims)
		}
		for i, fd := range f.Dims {
			if fd != first.Dims[i] || (i != d && f.Shape[i] != first.Shape[i]) {
				return nil, fmt.Errorf("cgrid: cannot concatenate %s%v with %s%v along %s",
					first.Name, first.Shape, f.Name, f.Shape, dim)
			}
		}
		total += f.Shape[d]
	}
	out := first.like(d, dim, total)
	outer, _, inner := span(first.Shape, d)
	var coords []float64
	haveCoords := true
	at := 0
	for _, f := range fields {
		n := f.Shape[d]
		for o := 0; o < outer; o++ {
			copy(out.Elements[(o*total+at)*inner:], f.Elements[o*n*inner:(o+1)*n*inner])
		}
		at += n
		c, ok := f.Coords[dim]
		haveCoords = haveCoords && ok
		coords = append(coords, c...)
	}
	if haveCoords {
		out.Coords[dim] = coords
	}
	return out, nil
}

// Add returns f plus m, where m's dimensions are a subset of f's.
func (f *Field) Add(m *Field) (*Field, error) {
	return f.apply(m, func(a, b float64) float64 { return a + b })
}

// Scaled returns a copy of f multiplied by v.
func (f *Field) Scaled(v float64) *Field {
	out := f.Copy()
	out.Scale(v)
	return out
}
