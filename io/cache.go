package io

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Cache files hold the parsed columns of a catalog in little-endian
// binary so repeat runs skip the ASCII parser. Plain cache files are
// read through a memory map; files ending in .zst are zstd-compressed
// streams instead.
const (
	cacheMagic   = uint32(0x54434331) // "TCC1"
	cacheVersion = uint32(1)

	flagSphere = 1 << 0
	flagShear  = 1 << 1
	flagScalar = 1 << 2
)

// WriteCache writes the catalog to path, compressing when the name ends
// in .zst.
func WriteCache(cat *Catalog, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bufWriter := bufio.NewWriterSize(f, 1<<20)
	var w io.Writer = bufWriter
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		enc, err = zstd.NewWriter(bufWriter)
		if err != nil {
			return err
		}
		w = enc
	}

	var flags uint32
	if cat.Sphere {
		flags |= flagSphere
	}
	if cat.G1 != nil {
		flags |= flagShear
	}
	if cat.K != nil {
		flags |= flagScalar
	}

	binary.Write(w, binary.LittleEndian, cacheMagic)
	binary.Write(w, binary.LittleEndian, cacheVersion)
	binary.Write(w, binary.LittleEndian, flags)
	w.Write(cat.ID[:])
	binary.Write(w, binary.LittleEndian, int64(cat.NObj()))

	for _, col := range cacheColumns(cat) {
		if err := binary.Write(w, binary.LittleEndian, col); err != nil {
			return err
		}
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
	}
	return bufWriter.Flush()
}

// ReadCache reads a catalog written by WriteCache. Plain files are
// decoded straight out of a memory map; .zst files are decompressed
// into memory first.
func ReadCache(path string) (*Catalog, error) {
	if strings.HasSuffix(path, ".zst") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		raw, err := io.ReadAll(dec)
		if err != nil {
			return nil, err
		}
		return decodeCache(path, raw)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer m.Unmap()

	// decodeCache copies every column out of the map, so the catalog
	// outlives the unmap.
	return decodeCache(path, m)
}

// cacheReader decodes little-endian values from a byte buffer, in the
// same spirit as a bufio reader over a file but reading the buffer in
// place. bytes returns a sub-slice of the buffer; floats copies each
// column into a new slice.
type cacheReader struct {
	data   []byte
	offset int
}

func (r *cacheReader) remaining() int { return len(r.data) - r.offset }

func (r *cacheReader) uint32() uint32 {
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v
}

func (r *cacheReader) int64() int64 {
	v := binary.LittleEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return int64(v)
}

func (r *cacheReader) bytes(n int) []byte {
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *cacheReader) floats(n int) []float64 {
	col := make([]float64, n)
	for i := range col {
		col[i] = math.Float64frombits(
			binary.LittleEndian.Uint64(r.data[r.offset:]))
		r.offset += 8
	}
	return col
}

func decodeCache(path string, raw []byte) (*Catalog, error) {
	r := &cacheReader{data: raw}
	if r.remaining() < 4+4+4+16+8 {
		return nil, fmt.Errorf("Cache file %s is truncated.", path)
	}
	if r.uint32() != cacheMagic {
		return nil, fmt.Errorf("%s is not a catalog cache file.", path)
	}
	if v := r.uint32(); v != cacheVersion {
		return nil, fmt.Errorf("Cache file %s has version %d; expected %d.",
			path, v, cacheVersion)
	}
	flags := r.uint32()

	cat := &Catalog{Sphere: flags&flagSphere != 0}
	copy(cat.ID[:], r.bytes(len(uuid.UUID{})))

	n := int(r.int64())
	nCols := 3
	if flags&flagShear != 0 {
		nCols += 2
	}
	if flags&flagScalar != 0 {
		nCols++
	}
	if n < 0 || r.remaining() != 8*n*nCols {
		return nil, fmt.Errorf("Cache file %s is corrupt.", path)
	}

	cat.Coord1 = r.floats(n)
	cat.Coord2 = r.floats(n)
	if flags&flagShear != 0 {
		cat.G1 = r.floats(n)
		cat.G2 = r.floats(n)
	}
	if flags&flagScalar != 0 {
		cat.K = r.floats(n)
	}
	cat.W = r.floats(n)

	return cat, nil
}

func cacheColumns(cat *Catalog) [][]float64 {
	cols := [][]float64{cat.Coord1, cat.Coord2}
	if cat.G1 != nil {
		cols = append(cols, cat.G1, cat.G2)
	}
	if cat.K != nil {
		cols = append(cols, cat.K)
	}
	return append(cols, cat.W)
}
