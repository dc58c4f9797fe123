package geostrophy

import (
	"io"
	"log/slog"
	"math"
	"reflect"
	"testing"

	"github.com/glwagner/sose/internal/cgrid"
	"github.com/glwagner/sose/internal/sose"
)

var coords = map[string][]float64{
	"XC":   {0, 1, 2},
	"XG":   {-0.5, 0.5, 1.5},
	"YC":   {-62, -61, -60, -59},
	"YG":   {-62.5, -61.5, -60.5, -59.5},
	"Z":    {-5, -15, -25},
	"Zl":   {0, -10, -20},
	"time": {0, 86400, 172800, 259200},
}

// field fills a variable over dims with fn of the grid position.
func field(name string, fn func(pos map[string]int) float64, dims ...string) *cgrid.Field {
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = len(coords[d])
	}
	f := cgrid.NewField(name, dims, shape...)
	for _, d := range dims {
		f.Coords[d] = coords[d]
	}
	idx := make([]int, len(dims))
	for k := range f.Elements {
		pos := make(map[string]int, len(dims))
		for i, d := range dims {
			pos[d] = idx[i]
		}
		f.Elements[k] = fn(pos)
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return f
}

func constant(v float64) func(map[string]int) float64 {
	return func(map[string]int) float64 { return v }
}

func uvel(p map[string]int) float64 {
	return 100*float64(p["time"]) + 10*float64(p["Z"]) + float64(p["YC"]) + 0.25*float64(p["XG"])
}

func vvel(p map[string]int) float64 {
	return -100*float64(p["time"]) - 10*float64(p["Z"]) - float64(p["YG"]) - 0.5*float64(p["XC"])
}

// testDataset has THETA increasing by 2 per row and SALT by 3 per column
// on 1 km cells 10 m thick.
func testDataset() *sose.Dataset {
	ds := sose.NewDataset(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for k, v := range coords {
		ds.Coords[k] = v
	}
	fields := []*cgrid.Field{
		field("UVEL", uvel, "time", "Z", "YC", "XG"),
		field("VVEL", vvel, "time", "Z", "YG", "XC"),
		field("THETA", func(p map[string]int) float64 { return 2 * float64(p["YC"]) }, "time", "Z", "YC", "XC"),
		field("SALT", func(p map[string]int) float64 { return 3 * float64(p["XC"]) }, "time", "Z", "YC", "XC"),
		field("hFacC", constant(1), "Z", "YC", "XC"),
		field("hFacW", constant(1), "Z", "YC", "XG"),
		field("hFacS", constant(1), "Z", "YG", "XC"),
		field("drF", constant(10), "Z"),
		field("drC", constant(-1), "Zl"),
		field("dxC", constant(1000), "YC", "XG"),
		field("dyC", constant(1000), "YG", "XC"),
		field("dxG", constant(1000), "YG", "XC"),
		field("dyG", constant(1000), "YC", "XG"),
	}
	for _, f := range fields {
		ds.Vars[f.Name] = sose.NewVariable(f)
	}
	return ds
}

func checkProfile(t *testing.T, name string, have *cgrid.Field, want func(ti, k int) float64) {
	t.Helper()
	if !reflect.DeepEqual(have.Shape, []int{4, 3}) {
		t.Fatalf("%s: shape = %v, want [4 3]", name, have.Shape)
	}
	for ti := 0; ti < 4; ti++ {
		for k := 0; k < 3; k++ {
			w := want(ti, k)
			if h := have.Get(ti, k); math.Abs(h-w) > 1e-9*math.Max(1, math.Abs(w)) {
				t.Errorf("%s[%d, %d] = %g, want %g", name, ti, k, h, w)
			}
		}
	}
}

// Reference velocities sit on the deepest level, index 2 of Z.
func uRef(ti int) float64 { return uvel(map[string]int{"time": ti, "Z": 2, "YC": 1, "XG": 1}) }
func vRef(ti int) float64 { return vvel(map[string]int{"time": ti, "Z": 2, "YG": 2, "XC": 1}) }

func TestComputeWithoutBuoyancy(t *testing.T) {
	ds := testDataset()
	vel, err := Compute(ds, Params{Lat: -60.6, Lon: 0.7, Days: 4, G: 9.81, F: -1e-4})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(vel.U.Dims, []string{"time", "Zl"}) {
		t.Errorf("U dims = %v", vel.U.Dims)
	}
	checkProfile(t, "U", vel.U, func(ti, _ int) float64 { return uRef(ti) })
	checkProfile(t, "V", vel.V, func(ti, _ int) float64 { return vRef(ti) })
}

func TestComputeThermalWind(t *testing.T) {
	ds := testDataset()
	p := Params{Lat: -60.6, Lon: 0.7, Days: 4, Alpha: 1e-3, Beta: 1e-3, G: 10, F: -1e-4}
	vel, err := Compute(ds, p)
	if err != nil {
		t.Fatal(err)
	}
	// Per level ∂Θ/∂y dz = 2/1000*10 and ∂S/∂x dz = 3/1000*10. Summed from
	// the bottom the levels hold 1, 1 and 2 of those; -g/f = 1e5.
	shear := []float64{1, 1, 2}
	checkProfile(t, "U", vel.U, func(ti, k int) float64 { return uRef(ti) + 1e5*1e-3*0.02*shear[k] })
	checkProfile(t, "V", vel.V, func(ti, k int) float64 { return vRef(ti) + 1e5*1e-3*0.03*shear[k] })

	if have := vel.U.Coords["Zl"]; !reflect.DeepEqual(have, []float64{-20, -10, 0}) {
		t.Errorf("Zl = %v, want bottom first", have)
	}
	if vel.U.Scalars["XC"] != 1 || vel.U.Scalars["YG"] != -60.5 {
		t.Errorf("U located at %v", vel.U.Scalars)
	}
	if vel.V.Scalars["XG"] != 0.5 || vel.V.Scalars["YC"] != -61 {
		t.Errorf("V located at %v", vel.V.Scalars)
	}
}

func TestComputePeriodicY(t *testing.T) {
	ds := testDataset()
	// The southernmost v point differences the first row against the last.
	vel, err := Compute(ds, Params{Lat: -63, Lon: 0.7, Days: 4, Alpha: 1e-3, G: 10, F: -1e-4})
	if err != nil {
		t.Fatal(err)
	}
	shear := []float64{1, 1, 2}
	ref := func(ti int) float64 { return uvel(map[string]int{"time": ti, "Z": 2, "YC": 0, "XG": 1}) }
	checkProfile(t, "U", vel.U, func(ti, k int) float64 { return ref(ti) - 1e5*1e-3*0.06*shear[k] })
}

func TestComputeWindow(t *testing.T) {
	ds := testDataset()
	vel, err := Compute(ds, Params{Lat: -60.6, Lon: 0.7, DayOffset: 2, Days: 5, G: 9.81, F: 1e-4})
	if err != nil {
		t.Fatal(err)
	}
	if n := vel.U.Len("time"); n != 2 {
		t.Fatalf("time steps = %d, want 2", n)
	}
	if have, want := vel.U.Get(1, 0), uRef(3); have != want {
		t.Errorf("U[1, 0] = %g, want %g", have, want)
	}
}

func TestComputeLeavesDatasetAlone(t *testing.T) {
	ds := testDataset()
	before := ds.VarNames()
	drC := ds.Vars["drC"]
	if _, err := Compute(ds, Params{Lat: -60, Lon: 1, Days: 1, G: 9.81, F: 1e-4}); err != nil {
		t.Fatal(err)
	}
	if after := ds.VarNames(); !reflect.DeepEqual(before, after) {
		t.Errorf("variables changed from %v to %v", before, after)
	}
	if ds.Vars["drC"] != drC {
		t.Error("drC was replaced in the caller's dataset")
	}
}

func TestComputeZeroCoriolis(t *testing.T) {
	ds := testDataset()
	vel, err := Compute(ds, Params{Lat: -60.6, Lon: 0.7, Days: 1, Alpha: 1e-3, G: 10})
	if err != nil {
		t.Fatal(err)
	}
	if v := vel.U.Get(0, 0); !math.IsInf(v, 0) && !math.IsNaN(v) {
		t.Errorf("U = %g, want Inf or NaN", v)
	}
}

func TestComputeInterpolates(t *testing.T) {
	ds := testDataset()
	p := Params{Lat: -60.6, Lon: 0.7, Days: 4, ZF: []float64{-20, -15, 5}, Alpha: 1e-3, G: 10, F: -1e-4}
	vel, err := Compute(ds, p)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(vel.U.Dims, []string{"time", "zF"}) {
		t.Fatalf("dims = %v", vel.U.Dims)
	}
	// Native levels -20, -10 and 0 hold shears 2, 2 and 4.
	shear := []float64{2, 2, 4}
	checkProfile(t, "U", vel.U, func(ti, k int) float64 { return uRef(ti) + shear[k] })
}

func TestWithThicknessMetrics(t *testing.T) {
	ds := testDataset()
	ds.Vars["drF"] = sose.NewVariable(field("drF", func(p map[string]int) float64 { return float64(10 * (p["Z"] + 1)) }, "Z"))
	hFac := field("hFacS", func(p map[string]int) float64 { return 0.5 * float64(p["XC"]) }, "Z", "YG", "XC")
	ds.Vars["hFacS"] = sose.NewVariable(hFac)

	out, err := WithThicknessMetrics(ds)
	if err != nil {
		t.Fatal(err)
	}
	v, err := out.Var("drS")
	if err != nil {
		t.Fatal(err)
	}
	f, err := v.Read(sose.Selection{"Z": {2, 0}, "XC": {2}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f.Shape, []int{2, 4, 1}) {
		t.Fatalf("shape = %v", f.Shape)
	}
	if have := f.Get(0, 3, 0); have != 30 {
		t.Errorf("drS = %g, want 30", have)
	}
	if have := f.Get(1, 0, 0); have != 10 {
		t.Errorf("drS = %g, want 10", have)
	}
	if _, err := ds.Var("drS"); err == nil {
		t.Error("drS was added to the caller's dataset")
	}

	delete(ds.Vars, "hFacW")
	if _, err := WithThicknessMetrics(ds); err == nil {
		t.Error("want error without hFacW")
	}
}
