// Package sose reads daily output of the Southern Ocean State Estimate from
// its per-variable NetCDF files and extracts time series at grid points.
package sose

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ErrUnknownVariable is returned when a dataset has no variable of the
// requested name.
var ErrUnknownVariable = errors.New("unknown variable")

// Dataset is a set of variables defined over shared coordinate axes.
type Dataset struct {
	// Coords holds the one dimensional coordinate variables by name.
	Coords map[string][]float64
	// CoordAttrs holds the attributes of the coordinate variables.
	CoordAttrs map[string]map[string]any
	Vars       map[string]*Variable

	logger *slog.Logger
	files  []api.Group
}

// NewDataset returns an empty in-memory dataset.
func NewDataset(logger *slog.Logger) *Dataset {
	return &Dataset{
		Coords:     make(map[string][]float64),
		CoordAttrs: make(map[string]map[string]any),
		Vars:       make(map[string]*Variable),
		logger:     logger,
	}
}

// Logger returns the logger the dataset reports reads to.
func (ds *Dataset) Logger() *slog.Logger { return ds.logger }

// Var looks up a variable by name.
func (ds *Dataset) Var(name string) (*Variable, error) {
	v, ok := ds.Vars[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownVariable, name)
	}
	return v, nil
}

// VarNames returns the sorted variable names.
func (ds *Dataset) VarNames() []string {
	names := make([]string, 0, len(ds.Vars))
	for n := range ds.Vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// With returns a new dataset holding the variables of ds plus vars, which
// replace variables of the same name. ds itself is not modified; the open
// files stay owned by ds.
func (ds *Dataset) With(vars ...*Variable) *Dataset {
	out := &Dataset{
		Coords:     ds.Coords,
		CoordAttrs: ds.CoordAttrs,
		Vars:       make(map[string]*Variable, len(ds.Vars)+len(vars)),
		logger:     ds.logger,
	}
	for n, v := range ds.Vars {
		out.Vars[n] = v
	}
	for _, v := range vars {
		out.Vars[v.Name] = v
	}
	return out
}

// Close closes the files backing the dataset.
func (ds *Dataset) Close() {
	for _, nc := range ds.files {
		nc.Close()
	}
	ds.files = nil
}

// Summary returns information about the dataset suitable for logging.
func (ds *Dataset) Summary() []any {
	dims := make([]string, 0, len(ds.Coords))
	for d := range ds.Coords {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	return []any{
		"dims", dims,
		"vars", ds.VarNames(),
		"timeCnt", len(ds.Coords["time"]),
		"files", len(ds.files),
	}
}

// merge adds the coordinates and variables of other to ds. Coordinates
// present in both must be identical. A variable present in both must be
// defined over the same dimensions; the first one is kept.
func (ds *Dataset) merge(other *Dataset) error {
	for name, c := range other.Coords {
		have, ok := ds.Coords[name]
		if !ok {
			ds.Coords[name] = c
			ds.CoordAttrs[name] = other.CoordAttrs[name]
			continue
		}
		if len(have) != len(c) || !floats.Equal(have, c) {
			return errors.Errorf("conflicting values for coordinate %s", name)
		}
	}
	for name, v := range other.Vars {
		have, ok := ds.Vars[name]
		if !ok {
			ds.Vars[name] = v
			continue
		}
		if strings.Join(have.Dims, ",") != strings.Join(v.Dims, ",") || !sameShape(have.Shape, v.Shape) {
			return errors.Errorf("conflicting definitions of %s: %v%v and %v%v", name, have.Dims, have.Shape, v.Dims, v.Shape)
		}
	}
	ds.files = append(ds.files, other.files...)
	return nil
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

// Loader opens the SOSE 2D and 3D groups from a directory.
type Loader struct {
	logger  *slog.Logger
	Files2D FileTable
	Files3D FileTable
}

// NewLoader returns a loader for the default file tables.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{
		logger:  logger,
		Files2D: Default2DFiles,
		Files3D: Default3DFiles,
	}
}

// Open2D opens and merges the surface flux files found in dir.
func (l *Loader) Open2D(dir string) (*Dataset, error) {
	l.logger.Info("Opening SOSE 2D datasets...", "dir", dir)
	return l.Open(dir, l.Files2D)
}

// Open3D opens and merges the interior state files found in dir.
func (l *Loader) Open3D(dir string) (*Dataset, error) {
	l.logger.Info("Opening SOSE 3D datasets...", "dir", dir)
	return l.Open(dir, l.Files3D)
}

// Open opens every file of t under dir and merges them into one dataset.
// Only coordinates are read; variables are read when selected.
func (l *Loader) Open(dir string, t FileTable) (*Dataset, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	ds := NewDataset(l.logger)
	for _, spec := range t.Files {
		f, err := openFile(l.logger, filepath.Join(dir, spec.File), spec, t.DecodeTimes)
		if err != nil {
			ds.Close()
			return nil, err
		}
		if err := ds.merge(f); err != nil {
			f.Close()
			ds.Close()
			return nil, errors.Wrapf(err, "merging %s", spec.File)
		}
		l.logger.Debug("Opened file", "file", spec.File, "vars", f.VarNames())
	}
	return ds, nil
}

// openFile opens one file as a dataset of its own.
func openFile(logger *slog.Logger, path string, spec FileSpec, decode bool) (*Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "opening SOSE file")
	}
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	ds := NewDataset(logger)
	ds.files = append(ds.files, nc)
	if err := ds.load(nc, spec, decode); err != nil {
		ds.Close()
		return nil, errors.Wrap(err, path)
	}
	if _, ok := ds.Vars[spec.Variable]; !ok {
		ds.Close()
		return nil, errors.Wrapf(ErrUnknownVariable, "%s in %s", spec.Variable, path)
	}
	return ds, nil
}

func (ds *Dataset) load(nc api.Group, spec FileSpec, decode bool) error {
	getters := make(map[string]api.VarGetter)
	for _, name := range nc.ListVariables() {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			return err
		}
		if vg.GoType() == "string" {
			continue
		}
		getters[name] = vg
	}

	// Coordinates are the one dimensional variables named after their
	// dimension.
	dimLen := make(map[string]int)
	for name, vg := range getters {
		dims := vg.Dimensions()
		if len(dims) != 1 || dims[0] != name {
			continue
		}
		raw, err := vg.Values()
		if err != nil {
			return errors.Wrapf(err, "reading coordinate %s", name)
		}
		n := int(vg.Len())
		c, err := flatten(raw, n)
		if err != nil {
			return errors.Wrapf(err, "coordinate %s", name)
		}
		attrs := attributes(vg.Attributes())
		if decode && name == "time" {
			if units, ok := attrs["units"].(string); ok && strings.Contains(units, " since ") {
				if c, err = DecodeTimeUnits(units, c); err != nil {
					return err
				}
			}
		}
		ds.Coords[name] = c
		ds.CoordAttrs[name] = attrs
		dimLen[name] = n
	}

	for name, vg := range getters {
		if _, ok := ds.Coords[name]; ok {
			continue
		}
		dims := vg.Dimensions()
		if len(dims) > 0 {
			if _, ok := dimLen[dims[0]]; !ok {
				dimLen[dims[0]] = int(vg.Len())
			}
		}
		shape := make([]int, len(dims))
		var probe []int
		for i, d := range dims {
			n, ok := dimLen[d]
			if !ok {
				// The dimension has no coordinate variable; look at the
				// first record to learn its length.
				if probe == nil {
					raw, err := vg.GetSlice(0, 1)
					if err != nil {
						return errors.Wrapf(err, "reading shape of %s", name)
					}
					probe = leadingShape(raw)
				}
				if i >= len(probe) {
					return errors.Errorf("cannot determine length of %s in %s", d, name)
				}
				n = probe[i]
				dimLen[d] = n
			}
			shape[i] = n
		}
		attrs := attributes(vg.Attributes())
		v := &Variable{
			Name:   name,
			Dims:   dims,
			Shape:  shape,
			Attrs:  attrs,
			Chunks: spec.Chunks,
		}
		fv := &fileVariable{logger: ds.logger, v: v, vg: vg, coords: ds.Coords}
		if decode {
			fv.dec = newValueDecoder(attrs)
		}
		v.read = fv.read
		ds.Vars[name] = v
	}
	return nil
}

func attributes(am api.AttributeMap) map[string]any {
	attrs := make(map[string]any)
	if am == nil {
		return attrs
	}
	for _, k := range am.Keys() {
		if v, ok := am.Get(k); ok {
			attrs[k] = v
		}
	}
	return attrs
}
