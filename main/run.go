package main

import (
	"fmt"
	"log"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ztq1996/TreeCorr/corr"
	"github.com/ztq1996/TreeCorr/geom"
	"github.com/ztq1996/TreeCorr/io"
	"github.com/ztq1996/TreeCorr/tree"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config>",
		Short: "Compute the correlations requested by a parameter file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := io.ReadConfig(args[0])
			if err != nil {
				return err
			}
			return run(config)
		},
	}
}

func run(config *io.Config) error {
	cc := &config.Correlation
	if cc.NumThreads > 0 {
		runtime.GOMAXPROCS(cc.NumThreads)
	}

	cat1, err := io.ReadCatalog(config.Catalog.FileName, &config.Catalog)
	if err != nil {
		return err
	}
	if cc.Verbose {
		log.Printf("Read %d objects from %s (catalog %s)",
			cat1.NObj(), config.Catalog.FileName, cat1.ID)
	}

	var cat2, randCat *io.Catalog
	if config.Catalog.FileName2 != "" {
		cat2, err = io.ReadCatalog(config.Catalog.FileName2, &config.Catalog)
		if err != nil {
			return err
		}
	}
	if config.Catalog.RandFileName != "" {
		randCat, err = io.ReadCatalog(config.Catalog.RandFileName, &config.Catalog)
		if err != nil {
			return err
		}
	}

	if cat1.Sphere {
		return process[geom.Sphere](config, cat1, cat2, randCat,
			(*io.Catalog).NFieldSphere,
			(*io.Catalog).KFieldSphere,
			(*io.Catalog).GFieldSphere)
	}
	return process[geom.Flat](config, cat1, cat2, randCat,
		(*io.Catalog).NFieldFlat,
		(*io.Catalog).KFieldFlat,
		(*io.Catalog).GFieldFlat)
}

// process runs every correlation the output section asks for. The three
// field builders abstract over the catalog geometry, so this body is
// shared between the flat and sphere paths.
func process[P geom.Position[P]](
	config *io.Config, cat1, cat2, randCat *io.Catalog,
	nField func(*io.Catalog, tree.Options) (*tree.Field[tree.Count, P], error),
	kField func(*io.Catalog, tree.Options) (*tree.Field[tree.Scalar, P], error),
	gField func(*io.Catalog, tree.Options) (*tree.Field[tree.Shear, P], error),
) error {
	cc := &config.Correlation
	out := &config.Output

	// On the sphere the configured separations carry their own units.
	sepUnits, _ := geom.ParseAngleUnit(cc.SepUnits)
	minSep := sepUnits.ToRadians(cc.MinSep)
	maxSep := sepUnits.ToRadians(cc.MaxSep)
	opt := cc.TreeOptions(minSep, maxSep)
	b := opt.B

	if out.NNFileName != "" {
		if randCat == nil {
			return fmt.Errorf(
				"The NN correlation needs 'RandFileName' in the Catalog " +
					"section.")
		}

		dd, err := corr.NewNN[P](minSep, maxSep, cc.NBins, b)
		if err != nil {
			return err
		}
		f1, err := nField(cat1, opt)
		if err != nil {
			return err
		}
		fr, err := nField(randCat, opt)
		if err != nil {
			return err
		}

		rr, _ := corr.NewNN[P](minSep, maxSep, cc.NBins, b)
		dr, _ := corr.NewNN[P](minSep, maxSep, cc.NBins, b)
		if cat2 != nil {
			f2, err := nField(cat2, opt)
			if err != nil {
				return err
			}
			dd.ProcessCross(f1, f2, cc.NumThreads)
		} else {
			dd.ProcessAuto(f1, cc.NumThreads)
		}
		rr.ProcessAuto(fr, cc.NumThreads)
		dr.ProcessCross(f1, fr, cc.NumThreads)
		dd.Finalize()
		rr.Finalize()
		dr.Finalize()

		if err := dd.Write(out.NNFileName, rr, dr); err != nil {
			return err
		}
		if cc.Verbose {
			log.Printf("Wrote NN correlation to %s", out.NNFileName)
		}
	}

	if out.NKFileName != "" {
		if cat2 == nil || cat2.K == nil {
			return fmt.Errorf(
				"The NK correlation needs 'FileName2' with a 'KCol'.")
		}

		nk, err := corr.NewNK[P](minSep, maxSep, cc.NBins, b)
		if err != nil {
			return err
		}
		f1, err := nField(cat1, opt)
		if err != nil {
			return err
		}
		f2, err := kField(cat2, opt)
		if err != nil {
			return err
		}
		nk.ProcessCross(f1, f2, cc.NumThreads)
		nk.Finalize(corr.VarK(cat2.K, cat2.W))

		if err := nk.Write(out.NKFileName); err != nil {
			return err
		}
		if cc.Verbose {
			log.Printf("Wrote NK correlation to %s", out.NKFileName)
		}
	}

	if out.KGFileName != "" {
		if cat1.K == nil {
			return fmt.Errorf("The KG correlation needs a 'KCol'.")
		}
		gCat := cat2
		if gCat == nil {
			gCat = cat1
		}
		if gCat.G1 == nil {
			return fmt.Errorf("The KG correlation needs shear columns.")
		}

		kg, err := corr.NewKG[P](minSep, maxSep, cc.NBins, b)
		if err != nil {
			return err
		}
		f1, err := kField(cat1, opt)
		if err != nil {
			return err
		}
		f2, err := gField(gCat, opt)
		if err != nil {
			return err
		}
		kg.ProcessCross(f1, f2, cc.NumThreads)
		kg.Finalize(corr.VarK(cat1.K, cat1.W), corr.VarG(gCat.G1, gCat.G2, gCat.W))

		if err := kg.Write(out.KGFileName); err != nil {
			return err
		}
		if cc.Verbose {
			log.Printf("Wrote KG correlation to %s", out.KGFileName)
		}
	}

	if out.GGFileName != "" || out.M2FileName != "" {
		if cat1.G1 == nil {
			return fmt.Errorf("The GG correlation needs shear columns.")
		}

		gg, err := corr.NewGG[P](minSep, maxSep, cc.NBins, b)
		if err != nil {
			return err
		}
		f1, err := gField(cat1, opt)
		if err != nil {
			return err
		}
		varG := corr.VarG(cat1.G1, cat1.G2, cat1.W)
		if cat2 != nil {
			if cat2.G1 == nil {
				return fmt.Errorf("FileName2 has no shear columns.")
			}
			f2, err := gField(cat2, opt)
			if err != nil {
				return err
			}
			gg.ProcessCross(f1, f2, cc.NumThreads)
		} else {
			gg.ProcessAuto(f1, cc.NumThreads)
		}
		gg.Finalize(varG)

		if out.GGFileName != "" {
			if err := gg.Write(out.GGFileName); err != nil {
				return err
			}
			if cc.Verbose {
				log.Printf("Wrote GG correlation to %s", out.GGFileName)
			}
		}
		if out.M2FileName != "" {
			if err := gg.WriteM2(out.M2FileName); err != nil {
				return err
			}
			if cc.Verbose {
				log.Printf("Wrote aperture mass statistics to %s",
					out.M2FileName)
			}
		}
	}

	return nil
}
