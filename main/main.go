// corr2 computes binned two-point correlation functions over point
// catalogs, driven by a parameter file.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/ztq1996/TreeCorr/io"
)

func main() {
	root := &cobra.Command{
		Use:          "corr2",
		Short:        "Two-point correlation functions over point catalogs",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newExampleConfigCmd(), newCacheCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newExampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example-config",
		Short: "Print an example parameter file to stdout",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(io.ExampleConfig())
		},
	}
}

func newCacheCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "cache <config>",
		Short: "Parse the configured catalog and write a binary cache",
		Long: "cache reads the catalog named by the parameter file and " +
			"writes it back out as a binary cache file, which later runs " +
			"can read with FileType = Cache. An output name ending in " +
			".zst is compressed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := io.ReadConfig(args[0])
			if err != nil {
				return err
			}
			cat, err := io.ReadCatalog(config.Catalog.FileName, &config.Catalog)
			if err != nil {
				return err
			}
			if out == "" {
				out = config.Catalog.FileName + ".tcache"
			}
			if config.Correlation.Verbose {
				log.Printf("Writing %d objects to %s", cat.NObj(), out)
			}
			return io.WriteCache(cat, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "cache file to write")
	return cmd
}
