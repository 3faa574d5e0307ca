package data

import (
	"time"

	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// Snapshot is a single backup run: the root tree it produced plus the
// metadata needed to list, diff and prune it later.
type Snapshot struct {
	Time     time.Time `json:"time"`
	Parent   *ids.ID   `json:"parent,omitempty"`
	Tree     *ids.ID   `json:"tree"`
	Paths    []string  `json:"paths"`
	Hostname string    `json:"hostname,omitempty"`
	Username string    `json:"username,omitempty"`
	UID      uint32    `json:"uid,omitempty"`
	GID      uint32    `json:"gid,omitempty"`
	Excludes []string  `json:"excludes,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	Summary  *SnapshotSummary `json:"summary,omitempty"`

	// id caches the content hash this snapshot was loaded from or saved
	// as; it is not part of the serialized form.
	id *ids.ID
}

// SnapshotSummary records what a backup run actually did: how many items
// were new, changed or reused from the parent snapshot, and how much of
// that data ended up physically written versus already present.
type SnapshotSummary struct {
	BackupStart time.Time `json:"backup_start"`
	BackupEnd   time.Time `json:"backup_end"`

	FilesNew        uint `json:"files_new"`
	FilesChanged    uint `json:"files_changed"`
	FilesUnmodified uint `json:"files_unmodified"`
	DirsNew         uint `json:"dirs_new"`
	DirsChanged     uint `json:"dirs_changed"`
	DirsUnmodified  uint `json:"dirs_unmodified"`

	TotalFilesProcessed uint   `json:"total_files_processed"`
	TotalBytesProcessed uint64 `json:"total_bytes_processed"`
	TotalDirsProcessed  uint   `json:"total_dirs_processed"`
	TotalDirsizeProcessed uint64 `json:"total_dirsize_processed"`

	DataBlobs      int    `json:"data_blobs"`
	TreeBlobs      int    `json:"tree_blobs"`
	DataAdded      uint64 `json:"data_added"`
	TreeDataAdded  uint64 `json:"tree_data_added"`
}

// NewSnapshot returns a new snapshot for the given paths (copied unchanged),
// tags, hostname and time_. The user name is not recorded.
func NewSnapshot(paths []string, tags []string, hostname string, time_ time.Time) (*Snapshot, error) {
	absPaths := make([]string, len(paths))
	copy(absPaths, paths)

	return &Snapshot{
		Paths:    absPaths,
		Time:     time_,
		Tags:     tags,
		Hostname: hostname,
	}, nil
}

// ID returns the snapshot's content id, if it has been set by the caller
// that loaded or saved it.
func (sn Snapshot) ID() *ids.ID { return sn.id }

// SetID records the content id this snapshot was stored under.
func (sn *Snapshot) SetID(id ids.ID) { sn.id = &id }

// HasTags reports whether sn carries every tag in tags.
func (sn Snapshot) HasTags(tags []string) bool {
	for _, wanted := range tags {
		found := false
		for _, t := range sn.Tags {
			if t == wanted {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HasPaths reports whether sn's path set equals paths exactly.
func (sn Snapshot) HasPaths(paths []string) bool {
	if len(sn.Paths) != len(paths) {
		return false
	}
	want := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		want[p] = struct{}{}
	}
	for _, p := range sn.Paths {
		if _, ok := want[p]; !ok {
			return false
		}
	}
	return true
}
