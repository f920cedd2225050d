package corr

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// writeTable writes named columns as whitespace-separated ASCII. Paths
// ending in .zst are compressed with zstd on the way out, so large runs
// can keep their outputs small without a separate pass.
func writeTable(path string, names []string, cols [][]float64) error {
	if len(cols) == 0 || len(names) != len(cols) {
		return fmt.Errorf("writeTable: %d names for %d columns.",
			len(names), len(cols))
	}
	n := len(cols[0])
	for _, col := range cols {
		if len(col) != n {
			return fmt.Errorf("writeTable: ragged columns.")
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return err
		}
		w = enc
	}
	buf := bufio.NewWriter(w)

	fmt.Fprintf(buf, "#")
	for _, name := range names {
		fmt.Fprintf(buf, " %14s", name)
	}
	fmt.Fprintf(buf, "\n")

	for i := 0; i < n; i++ {
		for _, col := range cols {
			fmt.Fprintf(buf, "  %14.7e", col[i])
		}
		fmt.Fprintf(buf, "\n")
	}

	if err := buf.Flush(); err != nil {
		return err
	}
	if enc != nil {
		return enc.Close()
	}
	return nil
}
