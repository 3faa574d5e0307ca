//go:build linux

package archiver

import (
	"os"
	"syscall"
	"time"

	"github.com/pkg/xattr"

	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/debug"
)

// nodeFromFileInfo builds a Node from a Lstat result, filling in the
// platform metadata (inode, uid/gid, change time) that os.FileInfo alone
// doesn't carry.
func nodeFromFileInfo(path string, fi os.FileInfo) (*data.Node, error) {
	node := &data.Node{
		Name:    fi.Name(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
		Path:    path,
	}

	switch {
	case fi.Mode().IsRegular():
		node.Type = data.NodeTypeFile
		node.Size = uint64(fi.Size())
	case fi.Mode().IsDir():
		node.Type = data.NodeTypeDir
	case fi.Mode()&os.ModeSymlink != 0:
		node.Type = data.NodeTypeSymlink
		target, err := os.Readlink(path)
		if err != nil {
			return nil, err
		}
		node.LinkTarget = target
	case fi.Mode()&os.ModeNamedPipe != 0:
		node.Type = data.NodeTypeFifo
	case fi.Mode()&os.ModeSocket != 0:
		node.Type = data.NodeTypeSocket
	case fi.Mode()&os.ModeDevice != 0:
		if fi.Mode()&os.ModeCharDevice != 0 {
			node.Type = data.NodeTypeCharDev
		} else {
			node.Type = data.NodeTypeDev
		}
	default:
		node.Type = data.NodeTypeIrregular
	}

	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		node.Inode = uint64(st.Ino)
		node.DeviceID = uint64(st.Dev)
		node.Device = uint64(st.Rdev)
		node.UID = st.Uid
		node.GID = st.Gid
		node.Links = uint64(st.Nlink)
		node.ChangeTime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
		node.AccessTime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
	}

	if node.Type == data.NodeTypeFile || node.Type == data.NodeTypeDir {
		attrs, err := listExtendedAttributes(path)
		if err != nil {
			debug.Log("archiver: xattr: %v: %v", path, err)
		} else {
			node.ExtendedAttributes = attrs
		}
	}

	return node, nil
}

// listExtendedAttributes reads every xattr set on path (not following a
// trailing symlink, matching Lstat's own semantics), skipping names the
// filesystem rejects with ENOTSUP rather than failing the whole node.
func listExtendedAttributes(path string) ([]data.ExtendedAttribute, error) {
	names, err := xattr.LList(path)
	if err != nil {
		return nil, err
	}

	var attrs []data.ExtendedAttribute
	for _, name := range names {
		value, err := xattr.LGet(path, name)
		if err != nil {
			debug.Log("archiver: xattr.LGet: %v: %v: %v", path, name, err)
			continue
		}
		attrs = append(attrs, data.ExtendedAttribute{Name: name, Value: value})
	}
	return attrs, nil
}
