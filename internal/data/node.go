// Package data defines the repository's on-disk data model: the tree of
// Nodes that describes a backed-up directory, the pack-index entries that
// locate a blob inside a pack, and the repository config and snapshot
// records.
package data

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rustic-rs/rustic-sub001/internal/debug"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// ExtendedAttribute stores one xattr name/value pair captured for a node.
type ExtendedAttribute struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// GenericAttributeType namespaces an OS-specific attribute stored in a
// node's GenericAttributes map, e.g. "windows.creation_time".
type GenericAttributeType string

// OSType names the operating system a GenericAttributeType belongs to.
type OSType string

const (
	TypeCreationTime       GenericAttributeType = "windows.creation_time"
	TypeFileAttributes     GenericAttributeType = "windows.file_attributes"
	TypeSecurityDescriptor GenericAttributeType = "windows.security_descriptor"
)

var genericAttributesForOS = map[GenericAttributeType]OSType{
	TypeCreationTime:       "windows",
	TypeFileAttributes:     "windows",
	TypeSecurityDescriptor: "windows",
}

// NodeType identifies what kind of filesystem entry a Node describes.
type NodeType string

var (
	NodeTypeFile      = NodeType("file")
	NodeTypeDir       = NodeType("dir")
	NodeTypeSymlink   = NodeType("symlink")
	NodeTypeDev       = NodeType("dev")
	NodeTypeCharDev   = NodeType("chardev")
	NodeTypeFifo      = NodeType("fifo")
	NodeTypeSocket    = NodeType("socket")
	NodeTypeIrregular = NodeType("irregular")
	NodeTypeInvalid   = NodeType("")
)

// Node is one entry of a Tree: a file, directory, symlink or other special
// file, together with the metadata needed to restore it and the content ids
// (for a file) or subtree id (for a directory) that locate its data.
type Node struct {
	Name       string      `json:"name"`
	Type       NodeType    `json:"type"`
	Mode       os.FileMode `json:"mode,omitempty"`
	ModTime    time.Time   `json:"mtime,omitempty"`
	AccessTime time.Time   `json:"atime,omitempty"`
	ChangeTime time.Time   `json:"ctime,omitempty"`
	UID        uint32      `json:"uid"`
	GID        uint32      `json:"gid"`
	User       string      `json:"user,omitempty"`
	Group      string      `json:"group,omitempty"`
	Inode      uint64      `json:"inode,omitempty"`
	DeviceID   uint64      `json:"device_id,omitempty"`
	Size       uint64      `json:"size,omitempty"`
	Links      uint64      `json:"links,omitempty"`
	LinkTarget string      `json:"linktarget,omitempty"`

	// LinkTargetRaw carries a symlink target that is not valid UTF-8 as a
	// base64 blob; it overwrites LinkTarget on decode and must never be set
	// directly by callers.
	LinkTargetRaw      []byte                                   `json:"linktarget_raw,omitempty"`
	ExtendedAttributes []ExtendedAttribute                      `json:"extended_attributes,omitempty"`
	GenericAttributes  map[GenericAttributeType]json.RawMessage `json:"generic_attributes,omitempty"`
	Device             uint64                                   `json:"device,omitempty"`
	Content            ids.IDs                                  `json:"content"`
	Subtree            *ids.ID                                  `json:"subtree,omitempty"`

	Error string `json:"error,omitempty"`

	// Path is the node's absolute source path; it is never persisted.
	Path string `json:"-"`
}

// Nodes is a slice of Node sortable by name, the order a Tree stores its
// entries in.
type Nodes []*Node

func (n Nodes) Len() int           { return len(n) }
func (n Nodes) Less(i, j int) bool { return n[i].Name < n[j].Name }
func (n Nodes) Swap(i, j int)      { n[i], n[j] = n[j], n[i] }

func (node Node) String() string {
	var mode os.FileMode
	switch node.Type {
	case NodeTypeFile:
		mode = 0
	case NodeTypeDir:
		mode = os.ModeDir
	case NodeTypeSymlink:
		mode = os.ModeSymlink
	case NodeTypeDev:
		mode = os.ModeDevice
	case NodeTypeCharDev:
		mode = os.ModeDevice | os.ModeCharDevice
	case NodeTypeFifo:
		mode = os.ModeNamedPipe
	case NodeTypeSocket:
		mode = os.ModeSocket
	}

	return fmt.Sprintf("%s %5d %5d %6d %s %s",
		mode|node.Mode, node.UID, node.GID, node.Size, node.ModTime, node.Name)
}

// GetExtendedAttribute returns the value of the named xattr, or nil.
func (node Node) GetExtendedAttribute(name string) []byte {
	for _, attr := range node.ExtendedAttributes {
		if attr.Name == name {
			return attr.Value
		}
	}
	return nil
}

// FixTime clamps t's year into the range JSON/the repository format can
// round-trip (0000-9999), leaving month/day/time-of-day untouched.
func FixTime(t time.Time) time.Time {
	switch {
	case t.Year() < 0:
		return t.AddDate(-t.Year(), 0, 0)
	case t.Year() > 9999:
		return t.AddDate(-(t.Year() - 9999), 0, 0)
	default:
		return t
	}
}

// MarshalJSON renders node canonically: timestamps are clamped via FixTime,
// the name is escaped the same way strconv.Quote would, and a non-UTF8 link
// target is carried as base64 in LinkTargetRaw instead.
func (node Node) MarshalJSON() ([]byte, error) {
	node.ModTime = FixTime(node.ModTime)
	node.AccessTime = FixTime(node.AccessTime)
	node.ChangeTime = FixTime(node.ChangeTime)

	type nodeJSON Node
	nj := nodeJSON(node)
	quoted := strconv.Quote(node.Name)
	nj.Name = quoted[1 : len(quoted)-1]

	if nj.LinkTargetRaw != nil {
		panic("LinkTargetRaw must not be set manually")
	}
	if !utf8.ValidString(node.LinkTarget) {
		nj.LinkTargetRaw = []byte(node.LinkTarget)
	}

	return json.Marshal(nj)
}

func (node *Node) UnmarshalJSON(data []byte) error {
	type nodeJSON Node
	nj := (*nodeJSON)(node)

	if err := json.Unmarshal(data, nj); err != nil {
		return errors.Wrap(err, "unmarshal node")
	}

	unquoted, err := strconv.Unquote(`"` + nj.Name + `"`)
	if err != nil {
		return errors.Wrap(err, "unquote node name")
	}
	nj.Name = unquoted

	if nj.LinkTargetRaw != nil {
		nj.LinkTarget = string(nj.LinkTargetRaw)
		nj.LinkTargetRaw = nil
	}
	return nil
}

// Equals reports whether node and other describe identical metadata and
// content.
func (node Node) Equals(other Node) bool {
	switch {
	case node.Name != other.Name,
		node.Type != other.Type,
		node.Mode != other.Mode,
		!node.ModTime.Equal(other.ModTime),
		!node.AccessTime.Equal(other.AccessTime),
		!node.ChangeTime.Equal(other.ChangeTime),
		node.UID != other.UID,
		node.GID != other.GID,
		node.User != other.User,
		node.Group != other.Group,
		node.Inode != other.Inode,
		node.DeviceID != other.DeviceID,
		node.Size != other.Size,
		node.Links != other.Links,
		node.LinkTarget != other.LinkTarget,
		node.Device != other.Device,
		node.Error != other.Error:
		return false
	}

	if !node.sameContent(other) {
		return false
	}
	if !node.sameExtendedAttributes(other) {
		return false
	}
	if !node.sameGenericAttributes(other) {
		return false
	}

	if node.Subtree != nil {
		if other.Subtree == nil || !node.Subtree.Equal(*other.Subtree) {
			return false
		}
	} else if other.Subtree != nil {
		return false
	}

	return true
}

func (node Node) sameContent(other Node) bool {
	if node.Content == nil || other.Content == nil {
		return node.Content == nil && other.Content == nil
	}
	if len(node.Content) != len(other.Content) {
		return false
	}
	for i := range node.Content {
		if !node.Content[i].Equal(other.Content[i]) {
			return false
		}
	}
	return true
}

func (node Node) sameExtendedAttributes(other Node) bool {
	if len(node.ExtendedAttributes) != len(other.ExtendedAttributes) {
		return false
	}
	if len(node.ExtendedAttributes) == 0 {
		return true
	}

	type mapvalue struct {
		value   []byte
		present bool
	}
	attributes := make(map[string]mapvalue, len(node.ExtendedAttributes))
	for _, attr := range node.ExtendedAttributes {
		attributes[attr.Name] = mapvalue{value: attr.Value}
	}

	for _, attr := range other.ExtendedAttributes {
		v, ok := attributes[attr.Name]
		if !ok {
			debug.Log("other node has attribute %v, which is not present in node", attr.Name)
			return false
		}
		if !bytes.Equal(v.value, attr.Value) {
			debug.Log("attribute %v has different value", attr.Name)
			return false
		}
		v.present = true
		attributes[attr.Name] = v
	}

	for name, v := range attributes {
		if !v.present {
			debug.Log("attribute %v not present in other node", name)
			return false
		}
	}
	return true
}

func (node Node) sameGenericAttributes(other Node) bool {
	if len(node.GenericAttributes) != len(other.GenericAttributes) {
		return false
	}
	for key, v1 := range node.GenericAttributes {
		v2, ok := other.GenericAttributes[key]
		if !ok || !bytes.Equal(v1, v2) {
			return false
		}
	}
	return true
}

var unknownGenericAttributesSeen sync.Map

// HandleUnknownGenericAttributesFound warns (at most once per attribute
// type) about a GenericAttributeType this node.go build does not know how
// to apply to the current OS.
func HandleUnknownGenericAttributesFound(unknown []GenericAttributeType, warn func(msg string)) {
	for _, t := range unknown {
		if _, seen := unknownGenericAttributesSeen.LoadOrStore(t, struct{}{}); seen {
			continue
		}
		if os, ok := genericAttributesForOS[t]; ok {
			debug.Log("ignoring generic attribute %s, not compatible with this OS (compatible: %s)", t, os)
		} else {
			warn(fmt.Sprintf("found an unrecognized generic attribute in the repository: %s", t))
		}
	}
}
