package sose

import (
	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// FileSpec describes one per-variable file of a SOSE release.
type FileSpec struct {
	// Variable is the data variable the file carries, e.g. "UVEL".
	Variable string `toml:"variable" validate:"required"`
	// File is the file name relative to the dataset directory.
	File string `toml:"file" validate:"required"`
	// Chunks declares the read block size along dimensions. Only the
	// leading dimension of a variable is read in blocks; others are read
	// whole.
	Chunks map[string]int `toml:"chunks" validate:"omitempty,dive,keys,required,endkeys,gt=0"`
}

// FileTable is the list of files merged into one dataset.
type FileTable struct {
	// DecodeTimes rebases a CF encoded time axis to seconds since the Unix
	// epoch and applies fill values, scale factors and offsets.
	DecodeTimes bool       `toml:"decode_times"`
	Files       []FileSpec `toml:"files" validate:"required,min=1,dive"`
}

// Default2DFiles is the surface group of the 2013-2017 daily BSOSE iteration
// 122 release.
var Default2DFiles = FileTable{
	DecodeTimes: true,
	Files: []FileSpec{
		{Variable: "BLGMLD", File: "bsose_i122_2013to2017_1day_MLD.nc", Chunks: map[string]int{"XC": 100, "YC": 100}},
		{Variable: "oceTAUX", File: "bsose_i122_2013to2017_1day_oceTAUX.nc", Chunks: map[string]int{"XG": 100, "YC": 100}},
		{Variable: "oceTAUY", File: "bsose_i122_2013to2017_1day_oceTAUY.nc", Chunks: map[string]int{"XC": 100, "YG": 100}},
		{Variable: "SFLUX", File: "bsose_i122_2013to2017_1day_surfSflx.nc", Chunks: map[string]int{"XC": 100, "YC": 100}},
		{Variable: "TFLUX", File: "bsose_i122_2013to2017_1day_surfTflx.nc", Chunks: map[string]int{"XC": 100, "YC": 100}},
		{Variable: "oceFWflx", File: "bsose_i122_2013to2017_daily_oceFWflx.nc", Chunks: map[string]int{"XC": 100, "YC": 100}},
		{Variable: "oceQnet", File: "bsose_i122_2013to2017_daily_oceQnet.nc", Chunks: map[string]int{"XC": 100, "YC": 100}},
		{Variable: "oceQsw", File: "bsose_i122_2013to2017_daily_oceQsw.nc", Chunks: map[string]int{"XC": 100, "YC": 100}},
	},
}

// Default3DFiles is the interior state group of the same release. Times are
// kept raw so that differences stay exact.
var Default3DFiles = FileTable{
	Files: []FileSpec{
		{Variable: "UVEL", File: "bsose_i122_2013to2017_1day_Uvel.nc", Chunks: map[string]int{"XG": 10, "YC": 10, "time": 10}},
		{Variable: "VVEL", File: "bsose_i122_2013to2017_1day_Vvel.nc", Chunks: map[string]int{"XC": 10, "YG": 10, "time": 10}},
		{Variable: "WVEL", File: "bsose_i122_2013to2017_1day_Wvel.nc", Chunks: map[string]int{"XC": 10, "YC": 10, "time": 10}},
		{Variable: "THETA", File: "bsose_i122_2013to2017_1day_Theta.nc", Chunks: map[string]int{"XC": 10, "YC": 10, "time": 10}},
		{Variable: "SALT", File: "bsose_i122_2013to2017_1day_Salt.nc", Chunks: map[string]int{"XC": 10, "YC": 10, "time": 10}},
	},
}

var validate = validator.New()

// Validate checks that every entry names a file and a variable and that
// chunk sizes are positive.
func (t FileTable) Validate() error {
	return errors.Wrap(validate.Struct(t), "invalid file table")
}

// LoadFileTable reads a file table from a TOML file of the form
//
//	decode_times = true
//	[[files]]
//	variable = "UVEL"
//	file = "Uvel.nc"
//	chunks = { XG = 10, YC = 10, time = 10 }
func LoadFileTable(path string) (FileTable, error) {
	var t FileTable
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return FileTable{}, errors.Wrapf(err, "reading file table %s", path)
	}
	if err := t.Validate(); err != nil {
		return FileTable{}, errors.Wrap(err, path)
	}
	return t, nil
}
