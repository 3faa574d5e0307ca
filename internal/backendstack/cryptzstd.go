package backendstack

import (
	"context"

	"github.com/klauspost/compress/zstd"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/crypto"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// zstdMagic prefixes a zstd-compressed plaintext so the reader can tell a
// compressed body from a raw one without consulting the kind.
const zstdMagic byte = 0x02

// jsonKinds are never zstd-encoded: they're already small and text, and
// compressing them buys nothing but a dependency on decode order.
var jsonKinds = map[backend.Kind]bool{
	backend.KindSnapshot: true,
	backend.KindIndex:    true,
	backend.KindConfig:   true,
	backend.KindKey:      true,
}

// CryptZstd is the top of the backend decorator chain: it authenticates
// and encrypts every file written through it, optionally zstd-compressing
// the plaintext first, and addresses the result by the SHA-256 of the
// ciphertext it actually stores.
type CryptZstd struct {
	next     backend.Backend
	key      *crypto.Key
	compress bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ EncryptedStore = (*CryptZstd)(nil)

// NewCryptZstd wraps next with key, optionally compressing plaintexts with
// zstd before encryption when compress is true. level is a standard zstd
// compression level (1-22); 0 selects the library's default level.
func NewCryptZstd(next backend.Backend, key *crypto.Key, compress bool, level int) (*CryptZstd, error) {
	encLevel := zstd.SpeedDefault
	if level != 0 {
		encLevel = zstd.EncoderLevelFromZstd(level)
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encLevel),
		zstd.WithEncoderCRC(false),
		zstd.WithWindowSize(512*1024),
	)
	if err != nil {
		return nil, errors.Wrap(err, "zstd.NewWriter")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "zstd.NewReader")
	}

	return &CryptZstd{next: next, key: key, compress: compress, encoder: enc, decoder: dec}, nil
}

func (c *CryptZstd) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// HashWriteFull encrypts plaintext (optionally zstd-compressing it first
// when kind isn't a JSON kind), names the result by the SHA-256 of the
// ciphertext, and writes it through the chain below. It returns the id the
// file was stored under.
func (c *CryptZstd) HashWriteFull(ctx context.Context, kind backend.Kind, cacheable bool, plaintext []byte) (ids.ID, error) {
	body := plaintext
	if c.compress && !jsonKinds[kind] {
		compressed := make([]byte, 1, len(plaintext)+1)
		compressed[0] = zstdMagic
		compressed = c.encoder.EncodeAll(plaintext, compressed)
		body = compressed
	}

	ciphertext, err := c.key.Encrypt(nil, body)
	if err != nil {
		return ids.ID{}, errors.Wrap(err, "Encrypt")
	}

	id := ids.Hash(ciphertext)
	if err := c.next.WriteBytes(ctx, kind, id, cacheable, ciphertext); err != nil {
		return ids.ID{}, err
	}
	return id, nil
}

// ReadEncryptedFull fetches the file named id, decrypts it, and decodes it
// with zstd when its first plaintext byte is the compression magic.
func (c *CryptZstd) ReadEncryptedFull(ctx context.Context, kind backend.Kind, id ids.ID) ([]byte, error) {
	ciphertext, err := c.next.ReadFull(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return c.decrypt(ciphertext)
}

// ReadEncryptedPartial decrypts a length-prefixed slice of an already
// pack-framed, already-known ciphertext range (offset, length describe the
// ciphertext slice within the pack; ulen, if nonzero, marks the plaintext
// as a raw zstd frame and is the length it must decode to).
func (c *CryptZstd) ReadEncryptedPartial(ctx context.Context, kind backend.Kind, id ids.ID, cacheable bool, offset, length uint32, ulen uint32) ([]byte, error) {
	ciphertext, err := c.next.ReadPartial(ctx, kind, id, cacheable, offset, length)
	if err != nil {
		return nil, err
	}
	plaintext, err := c.decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	if ulen == 0 {
		return plaintext, nil
	}
	decoded, err := c.decoder.DecodeAll(plaintext, make([]byte, 0, ulen))
	if err != nil {
		return nil, errors.Wrap(err, "zstd decode")
	}
	if uint32(len(decoded)) != ulen {
		return nil, errors.Errorf("uncompressed length mismatch: got %d, index says %d", len(decoded), ulen)
	}
	return decoded, nil
}

func (c *CryptZstd) decrypt(ciphertext []byte) ([]byte, error) {
	plaintext := make([]byte, len(ciphertext))
	n, err := c.key.Decrypt(plaintext, ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "Decrypt")
	}
	plaintext = plaintext[:n]

	if len(plaintext) > 0 && plaintext[0] == zstdMagic {
		decoded, err := c.decoder.DecodeAll(plaintext[1:], nil)
		if err != nil {
			return nil, errors.Wrap(err, "zstd decode")
		}
		return decoded, nil
	}
	return plaintext, nil
}

// Create, Remove and ListWithSize pass straight through; they operate at
// the file-kind level and don't need the encryption context.
func (c *CryptZstd) Create(ctx context.Context) error { return c.next.Create(ctx) }

func (c *CryptZstd) ListWithSize(ctx context.Context, kind backend.Kind) ([]backend.PackedBlob, error) {
	return c.next.ListWithSize(ctx, kind)
}

func (c *CryptZstd) Remove(ctx context.Context, kind backend.Kind, id ids.ID, cacheable bool) error {
	return c.next.Remove(ctx, kind, id, cacheable)
}
