package geostrophy

import (
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/glwagner/sose/internal/cgrid"
	"github.com/glwagner/sose/internal/sose"
)

// nested turns row-major values into the nested slices the NetCDF writer
// expects.
func nested(vals []float64, shape []int) any {
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
		out.Index(i).Set(reflect.ValueOf(nested(vals[i*stride:(i+1)*stride], shape[1:])))
	}
	return out.Interface()
}

// writeDataset stores every coordinate and variable of ds in one NetCDF
// file under dir.
func writeDataset(t *testing.T, ds *sose.Dataset, path string) {
	t.Helper()
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	add := func(name string, vals any, dims []string) {
		attrs, err := util.NewOrderedMap(nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := cw.AddVar(name, api.Variable{Values: vals, Dimensions: dims, Attributes: attrs}); err != nil {
			t.Fatalf("adding %s: %v", name, err)
		}
	}
	var dims []string
	for d := range ds.Coords {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	for _, d := range dims {
		add(d, ds.Coords[d], []string{d})
	}
	for _, name := range ds.VarNames() {
		v, _ := ds.Var(name)
		f, err := v.Load()
		if err != nil {
			t.Fatal(err)
		}
		add(name, nested(f.Elements, f.Shape), f.Dims)
	}
	if err := cw.Close(); err != nil {
		t.Fatal(err)
	}
}

func fieldsClose(t *testing.T, name string, have, want *cgrid.Field) {
	t.Helper()
	if !reflect.DeepEqual(have.Dims, want.Dims) || !reflect.DeepEqual(have.Shape, want.Shape) {
		t.Fatalf("%s: dims %v %v, want %v %v", name, have.Dims, have.Shape, want.Dims, want.Shape)
	}
	for i, w := range want.Elements {
		if h := have.Elements[i]; math.Abs(h-w) > 1e-9*math.Max(1, math.Abs(w)) {
			t.Errorf("%s[%d] = %g, want %g", name, i, h, w)
		}
	}
	if !reflect.DeepEqual(have.Scalars, want.Scalars) {
		t.Errorf("%s located at %v, want %v", name, have.Scalars, want.Scalars)
	}
}

func TestComputeFromFile(t *testing.T) {
	dir := t.TempDir()
	mem := testDataset()
	writeDataset(t, mem, filepath.Join(dir, "state.nc"))

	table := sose.FileTable{Files: []sose.FileSpec{
		{Variable: "THETA", File: "state.nc", Chunks: map[string]int{"time": 2}},
	}}
	ds, err := sose.NewLoader(slog.New(slog.NewTextHandler(io.Discard, nil))).Open(dir, table)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	p := Params{Lat: -60.6, Lon: 0.7, DayOffset: 1, Days: 3, Alpha: 1e-3, Beta: 1e-3, G: 10, F: -1e-4}
	have, err := Compute(ds, p)
	if err != nil {
		t.Fatal(err)
	}
	want, err := Compute(mem, p)
	if err != nil {
		t.Fatal(err)
	}
	fieldsClose(t, "U", have.U, want.U)
	fieldsClose(t, "V", have.V, want.V)
}
