// plot_xi plots the correlation function from a corr2 output file.
//
// Usage: plot_xi file.out [xi_column]
//
// The default xi column is 3 (1-based), matching the layout written by
// the NK, KG, and GG writers.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	plt "github.com/phil-mansfield/pyplot"
	"github.com/phil-mansfield/table"
)

func main() {
	if len(os.Args) != 2 && len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s file.out [xi_column]\n", os.Args[0])
		os.Exit(1)
	}
	file := os.Args[1]

	xiCol := 3
	if len(os.Args) == 3 {
		var err error
		xiCol, err = strconv.Atoi(os.Args[2])
		if err != nil { log.Fatal(err.Error()) }
	}

	cols, err := table.ReadTable(file, []int{0, xiCol - 1}, nil)
	if err != nil { log.Fatal(err.Error()) }
	rs, xis := cols[0], cols[1]

	plt.Reset()
	plt.Plot(rs, xis, "ok")
	plt.Plot(rs, xis, "r", plt.LW(2))
	plt.XScale("log")
	plt.XLabel("$r$")
	plt.YLabel(`$\xi(r)$`)
	plt.Show()
}
