// Package s3 implements the object-store backend against an S3-compatible
// object store, issuing path-style requests so it also works against
// self-hosted S3-alikes that don't support virtual-hosted buckets.
package s3

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// Backend stores repository files as objects in a single S3 bucket, keyed
// by the same sharded path every other transport uses.
type Backend struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ backend.Backend = (*Backend)(nil)

// Open connects to endpoint using static credentials and targets bucket,
// storing every object under prefix.
func Open(endpoint, accessKey, secretKey, bucket, prefix string, useSSL bool) (*Backend, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       useSSL,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, errors.Wrap(err, "minio.New")
	}

	return &Backend{client: client, bucket: bucket, prefix: prefix}, nil
}

func (b *Backend) Location() string { return "s3:" + b.bucket + "/" + b.prefix }

func (b *Backend) SetOption(string, string) error {
	return errors.New("s3 backend has no settable options")
}

func (b *Backend) objectName(kind backend.Kind, name string) string {
	dir, file := backend.Filename(kind, name)
	if dir == "" {
		return b.prefix + file
	}
	return b.prefix + dir + "/" + file
}

// Create makes the bucket if needed and writes a zero-byte marker for
// every kind's directory, the S3 transport's stand-in for mkdir.
func (b *Backend) Create(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return errors.Wrap(err, "BucketExists")
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
			return errors.Wrap(err, "MakeBucket")
		}
	}

	for _, kind := range []backend.Kind{backend.KindKey, backend.KindSnapshot, backend.KindIndex, backend.KindPack} {
		marker := b.prefix + kind.String() + "/.marker"
		_, err := b.client.PutObject(ctx, b.bucket, marker, bytes.NewReader(nil), 0, minio.PutObjectOptions{})
		if err != nil {
			return errors.Wrap(err, "PutObject marker")
		}
	}
	return nil
}

func (b *Backend) ListWithSize(ctx context.Context, kind backend.Kind) ([]backend.PackedBlob, error) {
	prefix := b.prefix
	if kind != backend.KindConfig {
		prefix += kind.String() + "/"
	}

	var out []backend.PackedBlob
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, "ListObjects")
		}
		name := path.Base(obj.Key[len(prefix):]) // drop the two-character shard dir
		id, err := ids.ParseID(name)
		if err != nil {
			continue // skips the per-kind ".marker" object Create writes
		}
		out = append(out, backend.PackedBlob{ID: id, Size: uint32(obj.Size)})
	}
	return out, nil
}

func (b *Backend) ReadFull(ctx context.Context, kind backend.Kind, id ids.ID) ([]byte, error) {
	return b.read(ctx, kind, id, minio.GetObjectOptions{})
}

func (b *Backend) ReadPartial(ctx context.Context, kind backend.Kind, id ids.ID, _ bool, offset, length uint32) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(int64(offset), int64(offset+length-1)); err != nil {
		return nil, errors.Wrap(err, "SetRange")
	}
	return b.read(ctx, kind, id, opts)
}

func (b *Backend) read(ctx context.Context, kind backend.Kind, id ids.ID, opts minio.GetObjectOptions) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.objectName(kind, id.String()), opts)
	if err != nil {
		return nil, errors.Wrap(err, "GetObject")
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrap(err, "read object")
	}
	return data, nil
}

func (b *Backend) WriteBytes(ctx context.Context, kind backend.Kind, id ids.ID, _ bool, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, b.objectName(kind, id.String()), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return errors.Wrap(err, "PutObject")
}

func (b *Backend) Remove(ctx context.Context, kind backend.Kind, id ids.ID, _ bool) error {
	err := b.client.RemoveObject(ctx, b.bucket, b.objectName(kind, id.String()), minio.RemoveObjectOptions{})
	return errors.Wrap(err, "RemoveObject")
}
