package archiver

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRejectBySize(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.txt")
	big := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(small, []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(big, make([]byte, 1024), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	sel := CombineRejects(RejectBySize(100))

	smallFI, err := os.Lstat(small)
	if err != nil {
		t.Fatalf("Lstat: %v", err)
	}
	bigFI, err := os.Lstat(big)
	if err != nil {
		t.Fatalf("Lstat: %v", err)
	}

	if !sel(small, smallFI) {
		t.Error("small file was rejected")
	}
	if sel(big, bigFI) {
		t.Error("big file was not rejected")
	}
}

func TestRejectBySizeNeverRejectsDirectories(t *testing.T) {
	dir := t.TempDir()
	fi, err := os.Lstat(dir)
	if err != nil {
		t.Fatalf("Lstat: %v", err)
	}
	reject := RejectBySize(1)
	if reject(dir, fi) {
		t.Error("directory was rejected by size, but size limits only apply to files")
	}
}

func TestRejectByDeviceAllowsSameFilesystem(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested", "file.txt")
	if err := os.MkdirAll(filepath.Dir(nested), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(nested, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reject, err := RejectByDevice([]string{dir})
	if err != nil {
		t.Fatalf("RejectByDevice: %v", err)
	}

	fi, err := os.Lstat(nested)
	if err != nil {
		t.Fatalf("Lstat: %v", err)
	}
	if reject(nested, fi) {
		t.Error("file on the same device as its target root was rejected")
	}
}
