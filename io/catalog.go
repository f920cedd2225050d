package io

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phil-mansfield/table"

	"github.com/ztq1996/TreeCorr/geom"
	"github.com/ztq1996/TreeCorr/tree"
)

// Catalog holds the columns of one input file after unit conversion and
// shear flips. Coord1 and Coord2 are (x, y) for flat catalogs and
// (ra, dec) in radians for sphere catalogs. G1, G2, and K are nil when
// the file carries no such columns.
type Catalog struct {
	// ID tags the catalog so cache files and log lines can be matched
	// back to their source.
	ID     uuid.UUID
	Sphere bool

	Coord1, Coord2 []float64
	G1, G2, K      []float64
	W              []float64
}

// NObj returns the number of rows, including zero-weight ones.
func (c *Catalog) NObj() int { return len(c.Coord1) }

// ReadCatalog reads the named file with the column layout in cfg. Cache
// files short-circuit the ASCII parser entirely.
func ReadCatalog(file string, cfg *CatalogConfig) (*Catalog, error) {
	if strings.ToLower(cfg.FileType) == "cache" {
		return ReadCache(file)
	}
	return readASCIICatalog(file, cfg)
}

func readASCIICatalog(file string, cfg *CatalogConfig) (*Catalog, error) {
	if err := cfg.CheckInit(); err != nil {
		return nil, err
	}

	cat := &Catalog{ID: uuid.New(), Sphere: cfg.Sphere()}

	cols := []int{}
	add := func(col int) int {
		if col <= 0 {
			return -1
		}
		cols = append(cols, col-1)
		return len(cols) - 1
	}

	var i1, i2 int
	if cat.Sphere {
		i1, i2 = add(cfg.RaCol), add(cfg.DecCol)
	} else {
		i1, i2 = add(cfg.XCol), add(cfg.YCol)
	}
	ig1, ig2 := add(cfg.G1Col), add(cfg.G2Col)
	ik := add(cfg.KCol)
	iw := add(cfg.WCol)

	data, err := table.ReadTable(file, cols, nil)
	if err != nil {
		return nil, err
	}

	cat.Coord1, cat.Coord2 = data[i1], data[i2]
	n := len(cat.Coord1)

	if cat.Sphere {
		raUnits, _ := geom.ParseAngleUnit(cfg.RaUnits)
		decUnits, _ := geom.ParseAngleUnit(cfg.DecUnits)
		for i := 0; i < n; i++ {
			cat.Coord1[i] = raUnits.ToRadians(cat.Coord1[i])
			cat.Coord2[i] = decUnits.ToRadians(cat.Coord2[i])
		}
	} else {
		xUnits, _ := geom.ParseAngleUnit(cfg.XUnits)
		yUnits, _ := geom.ParseAngleUnit(cfg.YUnits)
		if xUnits != geom.Radians || yUnits != geom.Radians {
			for i := 0; i < n; i++ {
				cat.Coord1[i] = xUnits.ToRadians(cat.Coord1[i])
				cat.Coord2[i] = yUnits.ToRadians(cat.Coord2[i])
			}
		}
	}

	if ig1 != -1 {
		cat.G1, cat.G2 = data[ig1], data[ig2]
		if cfg.FlipG1 {
			for i := range cat.G1 {
				cat.G1[i] = -cat.G1[i]
			}
		}
		if cfg.FlipG2 {
			for i := range cat.G2 {
				cat.G2[i] = -cat.G2[i]
			}
		}
	}
	if ik != -1 {
		cat.K = data[ik]
	}

	if iw != -1 {
		cat.W = data[iw]
	} else {
		cat.W = make([]float64, n)
		for i := range cat.W {
			cat.W[i] = 1
		}
	}

	return cat, nil
}

// NFieldFlat builds a count field from a flat catalog.
func (c *Catalog) NFieldFlat(opt tree.Options) (*tree.Field[tree.Count, geom.Flat], error) {
	if c.Sphere {
		return nil, fmt.Errorf("Catalog uses celestial coordinates.")
	}
	data, err := tree.FlatCountData(c.Coord1, c.Coord2, c.W)
	if err != nil {
		return nil, err
	}
	return tree.NewField(data, opt)
}

// NFieldSphere builds a count field from a sphere catalog.
func (c *Catalog) NFieldSphere(opt tree.Options) (*tree.Field[tree.Count, geom.Sphere], error) {
	if !c.Sphere {
		return nil, fmt.Errorf("Catalog uses flat coordinates.")
	}
	data, err := tree.SphereCountData(c.Coord1, c.Coord2, c.W)
	if err != nil {
		return nil, err
	}
	return tree.NewField(data, opt)
}

// KFieldFlat builds a scalar field from a flat catalog.
func (c *Catalog) KFieldFlat(opt tree.Options) (*tree.Field[tree.Scalar, geom.Flat], error) {
	if c.Sphere {
		return nil, fmt.Errorf("Catalog uses celestial coordinates.")
	}
	if c.K == nil {
		return nil, fmt.Errorf("Catalog has no scalar column.")
	}
	data, err := tree.FlatScalarData(c.Coord1, c.Coord2, c.K, c.W)
	if err != nil {
		return nil, err
	}
	return tree.NewField(data, opt)
}

// KFieldSphere builds a scalar field from a sphere catalog.
func (c *Catalog) KFieldSphere(opt tree.Options) (*tree.Field[tree.Scalar, geom.Sphere], error) {
	if !c.Sphere {
		return nil, fmt.Errorf("Catalog uses flat coordinates.")
	}
	if c.K == nil {
		return nil, fmt.Errorf("Catalog has no scalar column.")
	}
	data, err := tree.SphereScalarData(c.Coord1, c.Coord2, c.K, c.W)
	if err != nil {
		return nil, err
	}
	return tree.NewField(data, opt)
}

// GFieldFlat builds a shear field from a flat catalog.
func (c *Catalog) GFieldFlat(opt tree.Options) (*tree.Field[tree.Shear, geom.Flat], error) {
	if c.Sphere {
		return nil, fmt.Errorf("Catalog uses celestial coordinates.")
	}
	if c.G1 == nil {
		return nil, fmt.Errorf("Catalog has no shear columns.")
	}
	data, err := tree.FlatShearData(c.Coord1, c.Coord2, c.G1, c.G2, c.W)
	if err != nil {
		return nil, err
	}
	return tree.NewField(data, opt)
}

// GFieldSphere builds a shear field from a sphere catalog.
func (c *Catalog) GFieldSphere(opt tree.Options) (*tree.Field[tree.Shear, geom.Sphere], error) {
	if !c.Sphere {
		return nil, fmt.Errorf("Catalog uses flat coordinates.")
	}
	if c.G1 == nil {
		return nil, fmt.Errorf("Catalog has no shear columns.")
	}
	data, err := tree.SphereShearData(c.Coord1, c.Coord2, c.G1, c.G2, c.W)
	if err != nil {
		return nil, err
	}
	return tree.NewField(data, opt)
}
