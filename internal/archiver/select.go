package archiver

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/rustic-rs/rustic-sub001/internal/debug"
)

// RejectFunc decides whether an item should be excluded from a backup. It
// mirrors SelectFunc's signature but with inverted polarity, matching how
// individual filters are usually phrased ("reject files bigger than X").
type RejectFunc func(path string, fi os.FileInfo) bool

// CombineRejects builds a SelectFunc out of a set of RejectFuncs: an item is
// selected unless any of them rejects it.
func CombineRejects(funcs ...RejectFunc) SelectFunc {
	return func(item string, fi os.FileInfo) bool {
		for _, reject := range funcs {
			if reject(item, fi) {
				return false
			}
		}
		return true
	}
}

// RejectBySize rejects non-directory entries larger than maxSize; directories are
// never rejected by size so the walk still descends into them.
func RejectBySize(maxSize int64) RejectFunc {
	return func(item string, fi os.FileInfo) bool {
		if fi.IsDir() {
			return false
		}
		if fi.Size() > maxSize {
			debug.Log("file %s is oversize: %d", item, fi.Size())
			return true
		}
		return false
	}
}

// deviceMap tracks the device id each backup target started on, so
// RejectByDevice can tell when a walk has crossed onto a different
// filesystem (e.g. a bind mount or another disk).
type deviceMap map[string]uint64

func deviceIDOf(fi os.FileInfo) (uint64, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(st.Dev), true
}

func newDeviceMap(targets []string) (deviceMap, error) {
	dm := make(deviceMap, len(targets))
	for _, t := range targets {
		abs, err := filepath.Abs(t)
		if err != nil {
			return nil, err
		}
		fi, err := os.Lstat(abs)
		if err != nil {
			return nil, err
		}
		id, ok := deviceIDOf(fi)
		if !ok {
			continue
		}
		dm[abs] = id
	}
	return dm, nil
}

// RejectByDevice returns a RejectFunc that keeps the walk from crossing onto
// filesystems other than the ones targets started on (the --one-file-system
// behavior).
func RejectByDevice(targets []string) (RejectFunc, error) {
	dm, err := newDeviceMap(targets)
	if err != nil {
		return nil, err
	}
	return func(item string, fi os.FileInfo) bool {
		id, ok := deviceIDOf(fi)
		if !ok {
			return false
		}
		abs, err := filepath.Abs(item)
		if err != nil {
			return false
		}
		for dir := abs; ; {
			if allowed, found := dm[dir]; found {
				return allowed != id
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				return false
			}
			dir = parent
		}
	}, nil
}
