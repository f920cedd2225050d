// Package capi exposes the field constructors through opaque handles and
// errno-style error codes, so a driver in another language can build and
// destroy trees without holding Go pointers. Handles are small integer
// keys into a registry; each is valid from construction until its one
// matching destroy call.
package capi

import (
	"fmt"
	"sync"

	"github.com/ztq1996/TreeCorr/geom"
	"github.com/ztq1996/TreeCorr/tree"
)

// Handle identifies a constructed Field. The zero Handle is never issued
// and doubles as the failure sentinel.
type Handle int64

// InvalidHandle is returned by every constructor on failure; the cause is
// available from LastError.
const InvalidHandle Handle = 0

// fieldTag names the (kind, geometry) pair a handle was built with. Each
// destroy entry point accepts exactly its own tag: destroying a handle
// through a wrong-typed entry point is an error, never a silent cast.
type fieldTag int

const (
	tagGFlat fieldTag = iota
	tagGSphere
	tagKFlat
	tagKSphere
	tagNFlat
	tagNSphere
)

func (tag fieldTag) String() string {
	switch tag {
	case tagGFlat:
		return "GFieldFlat"
	case tagGSphere:
		return "GFieldSphere"
	case tagKFlat:
		return "KFieldFlat"
	case tagKSphere:
		return "KFieldSphere"
	case tagNFlat:
		return "NFieldFlat"
	case tagNSphere:
		return "NFieldSphere"
	}
	return "unknown field type"
}

type entry struct {
	tag   fieldTag
	field interface{}
}

var (
	mu         sync.Mutex
	nextHandle Handle = 1
	fields            = map[Handle]entry{}

	lastCode tree.ErrorCode
	lastMsg  string
)

// LastError returns the error code and message left by the most recent
// call that set them. Every constructor resets them to ErrNone on entry,
// so after a successful build the code is ErrNone; a failed destroy sets
// them and a successful one leaves them as they were. The codes are the
// stable tree.ErrorCode values.
func LastError() (int, string) {
	mu.Lock()
	defer mu.Unlock()
	return int(lastCode), lastMsg
}

func setError(code tree.ErrorCode, msg string) {
	mu.Lock()
	lastCode, lastMsg = code, msg
	mu.Unlock()
}

func opts(minSep, maxSep, b float64, smInt int) tree.Options {
	return tree.Options{
		MinSep:      minSep,
		MaxSep:      maxSep,
		B:           b,
		SplitMethod: tree.SplitMethod(smInt),
	}
}

// build runs one constructor, converting its typed error or allocation
// panic into the errno channel.
func build(tag fieldTag, fn func() (interface{}, error)) (h Handle) {
	setError(tree.ErrNone, "")
	defer func() {
		if r := recover(); r != nil {
			setError(tree.ErrOutOfMemory, fmt.Sprint(r))
			h = InvalidHandle
		}
	}()

	f, err := fn()
	if err != nil {
		if terr, ok := err.(*tree.Error); ok {
			setError(terr.Code, terr.Msg)
		} else {
			setError(tree.ErrInvalidParameter, err.Error())
		}
		return InvalidHandle
	}

	mu.Lock()
	defer mu.Unlock()
	h = nextHandle
	nextHandle++
	fields[h] = entry{tag, f}
	return h
}

func destroy(h Handle, tag fieldTag) bool {
	mu.Lock()
	defer mu.Unlock()
	e, ok := fields[h]
	if !ok {
		lastCode = tree.ErrInvalidParameter
		lastMsg = "No such field handle."
		return false
	}
	if e.tag != tag {
		lastCode = tree.ErrInvalidParameter
		lastMsg = "Handle is a " + e.tag.String() +
			", destroyed as a " + tag.String() + "."
		return false
	}
	delete(fields, h)
	return true
}

func lookup(h Handle, tag fieldTag) (interface{}, bool) {
	mu.Lock()
	defer mu.Unlock()
	e, ok := fields[h]
	if !ok || e.tag != tag {
		return nil, false
	}
	return e.field, true
}

// BuildGFieldFlat builds a shear field over a flat catalog and returns
// its handle, or InvalidHandle with LastError set.
func BuildGFieldFlat(
	x, y, g1, g2, w []float64, minSep, maxSep, b float64, smInt int,
) Handle {
	return build(tagGFlat, func() (interface{}, error) {
		data, err := tree.FlatShearData(x, y, g1, g2, w)
		if err != nil {
			return nil, err
		}
		return tree.NewField(data, opts(minSep, maxSep, b, smInt))
	})
}

// BuildGFieldSphere builds a shear field over a spherical catalog.
// ra and dec are in radians.
func BuildGFieldSphere(
	ra, dec, g1, g2, w []float64, minSep, maxSep, b float64, smInt int,
) Handle {
	return build(tagGSphere, func() (interface{}, error) {
		data, err := tree.SphereShearData(ra, dec, g1, g2, w)
		if err != nil {
			return nil, err
		}
		return tree.NewField(data, opts(minSep, maxSep, b, smInt))
	})
}

// BuildKFieldFlat builds a scalar field over a flat catalog.
func BuildKFieldFlat(
	x, y, k, w []float64, minSep, maxSep, b float64, smInt int,
) Handle {
	return build(tagKFlat, func() (interface{}, error) {
		data, err := tree.FlatScalarData(x, y, k, w)
		if err != nil {
			return nil, err
		}
		return tree.NewField(data, opts(minSep, maxSep, b, smInt))
	})
}

// BuildKFieldSphere builds a scalar field over a spherical catalog.
func BuildKFieldSphere(
	ra, dec, k, w []float64, minSep, maxSep, b float64, smInt int,
) Handle {
	return build(tagKSphere, func() (interface{}, error) {
		data, err := tree.SphereScalarData(ra, dec, k, w)
		if err != nil {
			return nil, err
		}
		return tree.NewField(data, opts(minSep, maxSep, b, smInt))
	})
}

// BuildNFieldFlat builds a count field over a flat catalog.
func BuildNFieldFlat(
	x, y, w []float64, minSep, maxSep, b float64, smInt int,
) Handle {
	return build(tagNFlat, func() (interface{}, error) {
		data, err := tree.FlatCountData(x, y, w)
		if err != nil {
			return nil, err
		}
		return tree.NewField(data, opts(minSep, maxSep, b, smInt))
	})
}

// BuildNFieldSphere builds a count field over a spherical catalog.
func BuildNFieldSphere(
	ra, dec, w []float64, minSep, maxSep, b float64, smInt int,
) Handle {
	return build(tagNSphere, func() (interface{}, error) {
		data, err := tree.SphereCountData(ra, dec, w)
		if err != nil {
			return nil, err
		}
		return tree.NewField(data, opts(minSep, maxSep, b, smInt))
	})
}

// DestroyGFieldFlat releases the field behind a BuildGFieldFlat handle.
func DestroyGFieldFlat(h Handle) bool { return destroy(h, tagGFlat) }

// DestroyGFieldSphere releases the field behind a BuildGFieldSphere
// handle.
func DestroyGFieldSphere(h Handle) bool { return destroy(h, tagGSphere) }

// DestroyKFieldFlat releases the field behind a BuildKFieldFlat handle.
func DestroyKFieldFlat(h Handle) bool { return destroy(h, tagKFlat) }

// DestroyKFieldSphere releases the field behind a BuildKFieldSphere
// handle.
func DestroyKFieldSphere(h Handle) bool { return destroy(h, tagKSphere) }

// DestroyNFieldFlat releases the field behind a BuildNFieldFlat handle.
func DestroyNFieldFlat(h Handle) bool { return destroy(h, tagNFlat) }

// DestroyNFieldSphere releases the field behind a BuildNFieldSphere
// handle.
func DestroyNFieldSphere(h Handle) bool { return destroy(h, tagNSphere) }

// GFieldFlat returns the field behind a BuildGFieldFlat handle for
// in-process collaborators. Reading a field concurrently is safe; the
// forest is immutable after construction.
func GFieldFlat(h Handle) (*tree.Field[tree.Shear, geom.Flat], bool) {
	f, ok := lookup(h, tagGFlat)
	if !ok {
		return nil, false
	}
	return f.(*tree.Field[tree.Shear, geom.Flat]), true
}

// GFieldSphere returns the field behind a BuildGFieldSphere handle.
func GFieldSphere(h Handle) (*tree.Field[tree.Shear, geom.Sphere], bool) {
	f, ok := lookup(h, tagGSphere)
	if !ok {
		return nil, false
	}
	return f.(*tree.Field[tree.Shear, geom.Sphere]), true
}

// KFieldFlat returns the field behind a BuildKFieldFlat handle.
func KFieldFlat(h Handle) (*tree.Field[tree.Scalar, geom.Flat], bool) {
	f, ok := lookup(h, tagKFlat)
	if !ok {
		return nil, false
	}
	return f.(*tree.Field[tree.Scalar, geom.Flat]), true
}

// KFieldSphere returns the field behind a BuildKFieldSphere handle.
func KFieldSphere(h Handle) (*tree.Field[tree.Scalar, geom.Sphere], bool) {
	f, ok := lookup(h, tagKSphere)
	if !ok {
		return nil, false
	}
	return f.(*tree.Field[tree.Scalar, geom.Sphere]), true
}

// NFieldFlat returns the field behind a BuildNFieldFlat handle.
func NFieldFlat(h Handle) (*tree.Field[tree.Count, geom.Flat], bool) {
	f, ok := lookup(h, tagNFlat)
	if !ok {
		return nil, false
	}
	return f.(*tree.Field[tree.Count, geom.Flat]), true
}

// NFieldSphere returns the field behind a BuildNFieldSphere handle.
func NFieldSphere(h Handle) (*tree.Field[tree.Count, geom.Sphere], bool) {
	f, ok := lookup(h, tagNSphere)
	if !ok {
		return nil, false
	}
	return f.(*tree.Field[tree.Count, geom.Sphere]), true
}
