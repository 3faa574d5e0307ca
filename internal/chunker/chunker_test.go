package chunker

import (
	"bytes"
	"crypto/sha256"
	"io"
	"math/rand"
	"testing"
)

func randomData(seed, size int) []byte {
	buf := make([]byte, size)
	rnd := rand.New(rand.NewSource(int64(seed)))
	_, _ = rnd.Read(buf)
	return buf
}

func testPolynomial(t *testing.T) Pol {
	t.Helper()
	// fixed, known-irreducible degree-53 polynomial, avoids a slow random
	// search inside every test run
	const p = Pol(0x3DA3358B4DC173)
	if !p.Irreducible() {
		t.Fatal("test polynomial is not irreducible")
	}
	return p
}

func chunkify(t *testing.T, data []byte) []*Chunk {
	t.Helper()
	pol := testPolynomial(t)
	c, err := New(bytes.NewReader(data), pol, 512*KiB, sha256.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var chunks []*Chunk
	for {
		chunk, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestChunkerDeterministic(t *testing.T) {
	data := randomData(42, 20*MiB)

	a := chunkify(t, data)
	b := chunkify(t, data)

	if len(a) != len(b) {
		t.Fatalf("chunk count differs between runs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Start != b[i].Start || a[i].Length != b[i].Length {
			t.Fatalf("chunk %d differs: %+v vs %+v", i, a[i], b[i])
		}
		if !bytes.Equal(a[i].Digest, b[i].Digest) {
			t.Fatalf("chunk %d digest differs", i)
		}
	}
}

func TestChunkerBounds(t *testing.T) {
	data := randomData(7, 20*MiB)
	chunks := chunkify(t, data)

	var total uint
	for i, c := range chunks {
		if i != len(chunks)-1 && c.Length > MaxSize {
			t.Fatalf("chunk %d exceeds MaxSize: %d", i, c.Length)
		}
		if i != len(chunks)-1 && c.Length < MinSize {
			t.Fatalf("chunk %d below MinSize: %d", i, c.Length)
		}
		total += c.Length
	}
	if total != uint(len(data)) {
		t.Fatalf("chunk lengths sum to %d, want %d", total, len(data))
	}
}

func TestChunkerEmptyInput(t *testing.T) {
	chunks := chunkify(t, nil)
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty input, got %d", len(chunks))
	}
}

func TestChunkerInsertionLocality(t *testing.T) {
	data := randomData(99, 20*MiB)
	modified := make([]byte, len(data)+37)
	copy(modified, data[:10*MiB])
	copy(modified[10*MiB+37:], data[10*MiB:])

	a := chunkify(t, data)
	b := chunkify(t, modified)

	// the prefix of unaffected chunks (entirely before the insertion
	// point) must be byte-identical between the two runs
	var common int
	for common < len(a) && common < len(b) && a[common].Start+a[common].Length <= 10*MiB {
		if a[common].Length != b[common].Length {
			break
		}
		common++
	}
	if common == 0 {
		t.Fatalf("expected at least one unaffected chunk before the insertion point")
	}
}
