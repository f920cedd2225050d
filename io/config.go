// Package io handles the configuration surface and catalog files: the
// corr2-style parameter files, whitespace ASCII catalogs, and the binary
// catalog cache used to skip re-parsing on repeat runs.
package io

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/gcfg.v1"
	"gopkg.in/yaml.v3"

	"github.com/ztq1996/TreeCorr/geom"
	"github.com/ztq1996/TreeCorr/tree"
)

// CatalogConfig names the input files and their column layout. Column
// numbers are 1-based; zero means the column is absent.
type CatalogConfig struct {
	FileName     string `yaml:"file_name"`
	FileName2    string `yaml:"file_name2"`
	RandFileName string `yaml:"rand_file_name"`
	// FileType is "ASCII" or "Cache"; empty means ASCII.
	FileType string `yaml:"file_type"`

	XCol   int `yaml:"x_col"`
	YCol   int `yaml:"y_col"`
	RaCol  int `yaml:"ra_col"`
	DecCol int `yaml:"dec_col"`
	G1Col  int `yaml:"g1_col"`
	G2Col  int `yaml:"g2_col"`
	KCol   int `yaml:"k_col"`
	WCol   int `yaml:"w_col"`

	XUnits   string `yaml:"x_units"`
	YUnits   string `yaml:"y_units"`
	RaUnits  string `yaml:"ra_units"`
	DecUnits string `yaml:"dec_units"`

	FlipG1 bool `yaml:"flip_g1"`
	FlipG2 bool `yaml:"flip_g2"`
}

// Sphere reports whether the catalog uses celestial coordinates.
func (cat *CatalogConfig) Sphere() bool { return cat.RaCol > 0 || cat.DecCol > 0 }

// CheckInit validates the catalog section.
func (cat *CatalogConfig) CheckInit() error {
	if cat.FileName == "" {
		return fmt.Errorf("Need to specify 'FileName' in the Catalog section.")
	}

	switch strings.ToLower(cat.FileType) {
	case "", "ascii", "cache":
	default:
		return fmt.Errorf("Unrecognized FileType '%s'.", cat.FileType)
	}

	if cat.Sphere() {
		if cat.RaCol <= 0 || cat.DecCol <= 0 {
			return fmt.Errorf(
				"Both 'RaCol' and 'DecCol' are needed for sphere catalogs.")
		}
		if cat.XCol > 0 || cat.YCol > 0 {
			return fmt.Errorf(
				"Cannot mix (XCol, YCol) with (RaCol, DecCol).")
		}
	} else if cat.XCol <= 0 || cat.YCol <= 0 {
		return fmt.Errorf(
			"Need either (XCol, YCol) or (RaCol, DecCol) in the " +
				"Catalog section.")
	}

	if (cat.G1Col > 0) != (cat.G2Col > 0) {
		return fmt.Errorf("'G1Col' and 'G2Col' must be given together.")
	}

	for _, units := range []string{
		cat.XUnits, cat.YUnits, cat.RaUnits, cat.DecUnits,
	} {
		if _, err := geom.ParseAngleUnit(units); err != nil {
			return err
		}
	}
	return nil
}

// CorrelationConfig sets the separation binning and the tree build
// parameters.
type CorrelationConfig struct {
	MinSep  float64 `yaml:"min_sep"`
	MaxSep  float64 `yaml:"max_sep"`
	NBins   int     `yaml:"nbins"`
	BinSize float64 `yaml:"bin_size"`
	// SepUnits is the angular unit of MinSep and MaxSep for sphere
	// catalogs.
	SepUnits string `yaml:"sep_units"`
	// BinSlop scales the opening parameter: b = BinSlop * BinSize.
	// Zero means 1; negative values request brute force (b = 0).
	BinSlop float64 `yaml:"bin_slop"`

	SplitMethod string `yaml:"split_method"`
	NumThreads  int    `yaml:"num_threads"`
	Seed        int64  `yaml:"seed"`
	Verbose     bool   `yaml:"verbose"`
}

// CheckInit validates the section and fills in whichever of NBins and
// BinSize was left out.
func (cc *CorrelationConfig) CheckInit() error {
	if cc.MinSep <= 0 {
		return fmt.Errorf("'MinSep' is %g, but must be positive.", cc.MinSep)
	}
	if cc.MaxSep <= cc.MinSep {
		return fmt.Errorf("'MaxSep' = %g must be larger than 'MinSep' = %g.",
			cc.MaxSep, cc.MinSep)
	}

	logRange := math.Log(cc.MaxSep / cc.MinSep)
	switch {
	case cc.NBins > 0 && cc.BinSize == 0:
		cc.BinSize = logRange / float64(cc.NBins)
	case cc.NBins == 0 && cc.BinSize > 0:
		cc.NBins = int(math.Ceil(logRange / cc.BinSize))
	case cc.NBins > 0 && cc.BinSize > 0:
		return fmt.Errorf("Give either 'NBins' or 'BinSize', not both.")
	default:
		return fmt.Errorf("Need one of 'NBins' or 'BinSize'.")
	}

	if _, err := geom.ParseAngleUnit(cc.SepUnits); err != nil {
		return err
	}
	if _, err := tree.ParseSplitMethod(cc.SplitMethod); err != nil {
		return err
	}
	return nil
}

// B returns the opening-angle parameter implied by the bin slop.
func (cc *CorrelationConfig) B() float64 {
	if cc.BinSlop < 0 {
		return 0
	}
	if cc.BinSlop == 0 {
		return cc.BinSize
	}
	return cc.BinSlop * cc.BinSize
}

// TreeOptions assembles the tree build options for this configuration.
// Separations are already converted to coordinate units.
func (cc *CorrelationConfig) TreeOptions(minSep, maxSep float64) tree.Options {
	sm, _ := tree.ParseSplitMethod(cc.SplitMethod)
	return tree.Options{
		MinSep:      minSep,
		MaxSep:      maxSep,
		B:           cc.B(),
		SplitMethod: sm,
		Seed:        cc.Seed,
		Workers:     cc.NumThreads,
		Log:         cc.Verbose,
	}
}

// OutputConfig names the result files. Empty names skip that output.
// Names ending in .zst are compressed.
type OutputConfig struct {
	NNFileName string `yaml:"nn_file_name"`
	NKFileName string `yaml:"nk_file_name"`
	KGFileName string `yaml:"kg_file_name"`
	GGFileName string `yaml:"gg_file_name"`
	M2FileName string `yaml:"m2_file_name"`
}

// Config is a full parameter file.
type Config struct {
	Catalog     CatalogConfig     `yaml:"catalog"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Output      OutputConfig      `yaml:"output"`
}

// ReadConfig parses a parameter file. Files ending in .yaml or .yml use
// YAML; everything else uses the gcfg ini format.
func ReadConfig(path string) (*Config, error) {
	config := &Config{}
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(text, config); err != nil {
			return nil, err
		}
	} else {
		if err := gcfg.ReadFileInto(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Catalog.CheckInit(); err != nil {
		return nil, err
	}
	if err := config.Correlation.CheckInit(); err != nil {
		return nil, err
	}
	return config, nil
}

// ExampleConfig returns a commented example parameter file in the gcfg
// format.
func ExampleConfig() string {
	return `[Catalog]
; The input catalog: whitespace-separated columns, # comments.
FileName = catalog.dat
; A second catalog makes NN, NK, KG, and GG cross-correlations possible.
; FileName2 = catalog2.dat
; A random catalog is required for the NN correlation function.
; RandFileName = randoms.dat
; Column numbers are 1-based.
XCol = 1
YCol = 2
G1Col = 3
G2Col = 4
KCol = 5
WCol = 6
; For celestial coordinates use RaCol/DecCol instead of XCol/YCol,
; with units: radians, hours, degrees, arcmin, or arcsec.
; RaCol = 1
; DecCol = 2
; RaUnits = degrees
; DecUnits = degrees

[Correlation]
MinSep = 1.0
MaxSep = 100.0
NBins = 20
; SepUnits = degrees
; BinSlop = 1.0
SplitMethod = mean
; NumThreads = 0 means one worker per CPU.
NumThreads = 0
Verbose = false

[Output]
GGFileName = gg.out
; NNFileName = nn.out
; NKFileName = nk.out
; KGFileName = kg.out
; M2FileName = m2.out
`
}
