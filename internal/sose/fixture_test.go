package sose

import (
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Grid of the test files: 4 x 3 cells, 3 levels and 5 daily steps.
var testCoords = map[string][]float64{
	"XC":   {10, 20, 30, 40},
	"XG":   {5, 15, 25, 35},
	"YC":   {-70, -65, -60},
	"YG":   {-72.5, -67.5, -62.5},
	"Z":    {-5, -15, -25},
	"Zl":   {0, -10, -20},
	"time": {0, 86400, 172800, 259200, 345600},
}

// testValue is the value stored at a grid position; base tells variables
// apart.
func testValue(base float64, t, z, y, x int) float64 {
	return base + float64(t)*1000 + float64(z)*100 + float64(y)*10 + float64(x)
}

type ncVar struct {
	name  string
	dims  []string
	vals  any
	attrs map[string]any
}

// nest turns row-major values into the nested slices the NetCDF writer
// expects.
func nest[T float32 | float64](vals []T, shape []int) any {
	if len(shape) == 1 {
		return vals
	}
	stride := len(vals) / shape[0]
	t := reflect.TypeOf(vals)
	for range shape[1:] {
		t = reflect.SliceOf(t)
	}
	out := reflect.MakeSlice(t, shape[0], shape[0])
	for i := 0; i < shape[0]; i++ {
		out.Index(i).Set(reflect.ValueOf(nest(vals[i*stride:(i+1)*stride], shape[1:])))
	}
	return out.Interface()
}

func shapeOf(dims []string) []int {
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = len(testCoords[d])
	}
	return shape
}

// gridVar returns a float32 variable over dims filled with testValue.
func gridVar(name string, base float64, dims ...string) ncVar {
	shape := shapeOf(dims)
	size := 1
	for _, s := range shape {
		size *= s
	}
	vals := make([]float32, size)
	idx := make([]int, len(dims))
	for k := range vals {
		pos := map[string]int{}
		for i, d := range dims {
			pos[d] = idx[i]
		}
		y := pos["YC"] + pos["YG"]
		x := pos["XC"] + pos["XG"]
		vals[k] = float32(testValue(base, pos["time"], pos["Z"], y, x))
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return ncVar{name: name, dims: dims, vals: nest(vals, shape)}
}

func coordVar(name string, vals []float64, attrs map[string]any) ncVar {
	return ncVar{name: name, dims: []string{name}, vals: vals, attrs: attrs}
}

func writeNC(t *testing.T, path string, vars ...ncVar) {
	t.Helper()
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vars {
		var keys []string
		for k := range v.attrs {
			keys = append(keys, k)
		}
		attrs, err := util.NewOrderedMap(keys, v.attrs)
		if err != nil {
			t.Fatal(err)
		}
		err = cw.AddVar(v.name, api.Variable{
			Values:     v.vals,
			Dimensions: v.dims,
			Attributes: attrs,
		})
		if err != nil {
			t.Fatalf("adding %s to %s: %v", v.name, path, err)
		}
	}
	if err := cw.Close(); err != nil {
		t.Fatal(err)
	}
}

// write3D writes the five interior state files of Default3DFiles to a new
// directory. THETA is 1000 above UVEL and so on. Every file carries the
// cell-face depths Zl and the hFacC grid variable as SOSE files do.
func write3D(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	coords := func(dims ...string) []ncVar {
		var vs []ncVar
		for _, d := range dims {
			vs = append(vs, coordVar(d, testCoords[d], nil))
		}
		return vs
	}
	files := []struct {
		spec FileSpec
		dims []string
		base float64
	}{
		{Default3DFiles.Files[0], []string{"time", "Z", "YC", "XG"}, 0},
		{Default3DFiles.Files[1], []string{"time", "Z", "YG", "XC"}, 1e5},
		{Default3DFiles.Files[2], []string{"time", "Z", "YC", "XC"}, 2e5},
		{Default3DFiles.Files[3], []string{"time", "Z", "YC", "XC"}, 3e5},
		{Default3DFiles.Files[4], []string{"time", "Z", "YC", "XC"}, 4e5},
	}
	for _, f := range files {
		vars := coords(append(f.dims, "Zl")...)
		vars = append(vars, gridVar(f.spec.Variable, f.base, f.dims...))
		vars = append(vars, gridVar("hFacC", 0.5, "Z", "YC", "XC"))
		writeNC(t, filepath.Join(dir, f.spec.File), vars...)
	}
	return dir
}
