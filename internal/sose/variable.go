package sose

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/pkg/errors"

	"github.com/glwagner/sose/internal/cgrid"
)

// Selection maps dimension names to the positions to keep along them, in
// output order. Dimensions that are not listed are kept whole; names that
// are not dimensions of a variable are ignored by it.
type Selection map[string][]int

// Variable is one named field of a dataset. Its values are only read when a
// selection of it is materialized.
type Variable struct {
	Name   string
	Dims   []string
	Shape  []int
	Attrs  map[string]any
	Chunks map[string]int

	read func(sel Selection) (*cgrid.Field, error)
}

// NewVariable returns a variable backed by an in-memory field.
func NewVariable(f *cgrid.Field) *Variable {
	return &Variable{
		Name:  f.Name,
		Dims:  append([]string(nil), f.Dims...),
		Shape: append([]int(nil), f.Shape...),
		Attrs: make(map[string]any),
		read: func(sel Selection) (*cgrid.Field, error) {
			out, err := takeAll(f, sel)
			if err != nil {
				return nil, err
			}
			if out == f {
				out = f.Copy()
			}
			return out, nil
		},
	}
}

// NewDerivedVariable returns a variable whose selections are computed by fn
// on demand. fn receives the selection already restricted to dims.
func NewDerivedVariable(name string, dims []string, shape []int, fn func(sel Selection) (*cgrid.Field, error)) *Variable {
	v := &Variable{
		Name:  name,
		Dims:  append([]string(nil), dims...),
		Shape: append([]int(nil), shape...),
		Attrs: make(map[string]any),
	}
	v.read = func(sel Selection) (*cgrid.Field, error) {
		f, err := fn(sel)
		if err != nil {
			return nil, err
		}
		f.Name = name
		return f, nil
	}
	return v
}

// Len returns the length of dim, or 0 if v does not have it.
func (v *Variable) Len(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return v.Shape[i]
		}
	}
	return 0
}

// Has reports whether v is defined along dim.
func (v *Variable) Has(dim string) bool {
	for _, d := range v.Dims {
		if d == dim {
			return true
		}
	}
	return false
}

// Read materializes the selected part of v.
func (v *Variable) Read(sel Selection) (*cgrid.Field, error) {
	own := make(Selection, len(sel))
	for dim, idx := range sel {
		n := v.Len(dim)
		if !v.Has(dim) {
			continue
		}
		for _, i := range idx {
			if i < 0 || i >= n {
				return nil, errors.Errorf("%s: index %d out of range for %s of length %d", v.Name, i, dim, n)
			}
		}
		own[dim] = idx
	}
	f, err := v.read(own)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", v.Name)
	}
	return f, nil
}

// Load materializes all of v.
func (v *Variable) Load() (*cgrid.Field, error) {
	return v.Read(nil)
}

func takeAll(f *cgrid.Field, sel Selection) (*cgrid.Field, error) {
	out := f
	for _, dim := range f.Dims {
		idx, ok := sel[dim]
		if !ok {
			continue
		}
		var err error
		if out, err = out.Take(dim, idx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// valueDecoder turns raw stored numbers into physical values.
type valueDecoder struct {
	scale, offset float64
	fill          []float64
}

func newValueDecoder(attrs map[string]any) *valueDecoder {
	d := &valueDecoder{scale: 1}
	if s, ok := number(attrs["scale_factor"]); ok {
		d.scale = s
	}
	if o, ok := number(attrs["add_offset"]); ok {
		d.offset = o
	}
	for _, key := range []string{"_FillValue", "missing_value"} {
		if f, ok := number(attrs[key]); ok {
			d.fill = append(d.fill, f)
		}
	}
	return d
}

func (d *valueDecoder) decode(x []float64) {
	for i, v := range x {
		for _, f := range d.fill {
			if v == f {
				v = math.NaN()
				break
			}
		}
		x[i] = v*d.scale + d.offset
	}
}

// number extracts a scalar from a NetCDF attribute, which may be stored as
// a one element slice.
func number(a any) (float64, bool) {
	if a == nil {
		return 0, false
	}
	r := reflect.ValueOf(a)
	if r.Kind() == reflect.Slice {
		if r.Len() == 0 {
			return 0, false
		}
		r = r.Index(0)
	}
	switch r.Kind() {
	case reflect.Float32, reflect.Float64:
		return r.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(r.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(r.Uint()), true
	}
	return 0, false
}

// flatten copies the nested slices returned by a VarGetter into a row-major
// slice of size values.
func flatten(v any, size int) ([]float64, error) {
	out := make([]float64, size)
	if err := flattenInto(out, v); err != nil {
		return nil, err
	}
	return out, nil
}

// flattenInto writes the nested slices in v to dst in row-major order. v
// must hold exactly len(dst) numbers.
func flattenInto(dst []float64, v any) error {
	n := 0
	var walk func(r reflect.Value) error
	walk = func(r reflect.Value) error {
		var x float64
		switch r.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < r.Len(); i++ {
				if err := walk(r.Index(i)); err != nil {
					return err
				}
			}
			return nil
		case reflect.Float32, reflect.Float64:
			x = r.Float()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			x = float64(r.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			x = float64(r.Uint())
		default:
			return errors.Errorf("unsupported element type %s", r.Type())
		}
		if n < len(dst) {
			dst[n] = x
		}
		n++
		return nil
	}
	if err := walk(reflect.ValueOf(v)); err != nil {
		return err
	}
	if n != len(dst) {
		return errors.Errorf("got %d values, want %d", n, len(dst))
	}
	return nil
}

// leadingShape returns the lengths of the nested slices in v, following the
// first element at every level.
func leadingShape(v any) []int {
	var shape []int
	r := reflect.ValueOf(v)
	for r.Kind() == reflect.Slice || r.Kind() == reflect.Array {
		shape = append(shape, r.Len())
		if r.Len() == 0 {
			break
		}
		r = r.Index(0)
	}
	return shape
}

// fileVariable is the lazy reader of one variable in an open file.
type fileVariable struct {
	logger *slog.Logger
	v      *Variable
	vg     api.VarGetter
	coords map[string][]float64
	dec    *valueDecoder
}

func (fv *fileVariable) block(begin, end int) (*cgrid.Field, error) {
	var raw any
	var err error
	if len(fv.v.Dims) == 0 {
		raw, err = fv.vg.Values()
	} else {
		raw, err = fv.vg.GetSlice(int64(begin), int64(end))
	}
	if err != nil {
		return nil, err
	}
	shape := append([]int(nil), fv.v.Shape...)
	if len(shape) > 0 {
		shape[0] = end - begin
	}
	f := cgrid.NewField(fv.v.Name, fv.v.Dims, shape...)
	if err := flattenInto(f.Elements, raw); err != nil {
		return nil, err
	}
	if fv.dec != nil {
		fv.dec.decode(f.Elements)
	}
	for i, dim := range fv.v.Dims {
		c, ok := fv.coords[dim]
		if !ok || len(c) != fv.v.Shape[i] {
			continue
		}
		if i == 0 {
			c = c[begin:end]
		}
		f.Coords[dim] = c
	}
	return f, nil
}

// read reads the leading dimension in blocks no longer than its declared
// chunk, keeping only the selected positions of every block. A selection
// on any other dimension is read one leading index at a time,
// so a point series never holds more than one record of the variable.
func (fv *fileVariable) read(sel Selection) (*cgrid.Field, error) {
	v := fv.v
	if len(v.Dims) == 0 {
		return fv.block(0, 1)
	}
	lead := v.Dims[0]
	n := v.Shape[0]
	idx, ok := sel[lead]
	if !ok {
		idx = make([]int, n)
		for i := range idx {
			idx[i] = i
		}
	}
	chunk := v.Chunks[lead]
	rest := make(Selection, len(sel))
	for dim, s := range sel {
		if dim != lead {
			rest[dim] = s
			chunk = 1
		}
	}
	if chunk <= 0 {
		chunk = 1
	}

	if len(idx) == 0 {
		shape := append([]int(nil), v.Shape...)
		shape[0] = 0
		for i, dim := range v.Dims {
			if s, ok := rest[dim]; ok {
				shape[i] = len(s)
			}
		}
		return cgrid.NewField(v.Name, v.Dims, shape...), nil
	}

	start := time.Now()
	var parts []*cgrid.Field
	for k := 0; k < len(idx); {
		begin := idx[k]
		limit := begin + chunk
		if limit > n {
			limit = n
		}
		end := begin + 1
		var local []int
		j := k
		for ; j < len(idx) && idx[j] >= begin && idx[j] < limit; j++ {
			local = append(local, idx[j]-begin)
			if idx[j]+1 > end {
				end = idx[j] + 1
			}
		}
		b, err := fv.block(begin, end)
		if err != nil {
			return nil, err
		}
		if b, err = b.Take(lead, local); err != nil {
			return nil, err
		}
		if b, err = takeAll(b, rest); err != nil {
			return nil, err
		}
		parts = append(parts, b)
		k = j
		if k < len(idx) || len(parts) > 1 {
			level := slog.LevelDebug
			if lead == "time" {
				level = slog.LevelInfo
			}
			percent := fmt.Sprintf("%.2f%%", 100*float64(k)/float64(len(idx)))
			duration := time.Since(start).Round(1 * time.Second)
			fv.logger.Log(context.Background(), level, "progress", "var", v.Name, "read", percent, "in", duration)
		}
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return cgrid.Concat(lead, parts...)
}
