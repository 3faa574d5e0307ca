package s3

import (
	"testing"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

func TestObjectNameSharding(t *testing.T) {
	b := &Backend{bucket: "bucket", prefix: "repo/"}

	id := ids.Hash([]byte("a pack"))
	name := b.objectName(backend.KindPack, id.String())

	dir, file := backend.Filename(backend.KindPack, id.String())
	want := "repo/" + dir + "/" + file
	if name != want {
		t.Fatalf("objectName() = %q, want %q", name, want)
	}
}

func TestObjectNameConfigHasNoShardDir(t *testing.T) {
	b := &Backend{bucket: "bucket", prefix: "repo/"}

	name := b.objectName(backend.KindConfig, "config")
	if name != "repo/config" {
		t.Fatalf("objectName() = %q, want %q", name, "repo/config")
	}
}

func TestLocationIncludesBucketAndPrefix(t *testing.T) {
	b := &Backend{bucket: "mybucket", prefix: "repo/"}
	if got, want := b.Location(), "s3:mybucket/repo/"; got != want {
		t.Fatalf("Location() = %q, want %q", got, want)
	}
}
