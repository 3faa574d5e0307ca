// Package rest implements the object-store backend over restic's REST
// protocol: one HTTP verb per operation, sharded URL paths matching the
// local backend's directory layout, and exponential-backoff retries for
// transient failures.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/debug"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// DefaultMaxRetries is how many times a transient error is retried before
// the REST backend gives up and surfaces it.
const DefaultMaxRetries = 5

// Backend talks to a restic-compatible REST server.
type Backend struct {
	base    *url.URL
	client  *http.Client
	retries uint64
}

var _ backend.Backend = (*Backend)(nil)

// Open wraps base, a restic REST server's base URL, with the given HTTP
// client (rt may be nil to use http.DefaultTransport).
func Open(base *url.URL, rt http.RoundTripper) *Backend {
	return &Backend{
		base:    base,
		client:  &http.Client{Transport: rt},
		retries: DefaultMaxRetries,
	}
}

func (b *Backend) Location() string { return b.base.String() }

func (b *Backend) SetOption(name, value string) error {
	switch name {
	case "retry":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return errors.Wrap(err, "parse retry option")
		}
		b.retries = n
		return nil
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrap(err, "parse timeout option")
		}
		b.client.Timeout = d
		return nil
	default:
		return errors.Errorf("rest backend: unknown option %q", name)
	}
}

func (b *Backend) urlFor(kind backend.Kind, name string) string {
	dir, file := backend.Filename(kind, name)
	if dir == "" {
		u := *b.base
		u.Path = path.Join(u.Path, file)
		return u.String()
	}
	u := *b.base
	u.Path = path.Join(u.Path, dir, file)
	return u.String()
}

// Create asks the server to initialize a new repository at this URL via
// POST /?create=true, the REST protocol's provisioning call.
func (b *Backend) Create(ctx context.Context) error {
	u := *b.base
	q := u.Query()
	q.Set("create", "true")
	u.RawQuery = q.Encode()

	return b.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer drain(resp)

		if resp.StatusCode != http.StatusOK {
			return classify(resp.StatusCode, errors.Errorf("create: unexpected status %v", resp.Status))
		}
		return nil
	})
}

func (b *Backend) ListWithSize(ctx context.Context, kind backend.Kind) ([]backend.PackedBlob, error) {
	dir := kind.String()
	if kind == backend.KindConfig {
		dir = ""
	}

	u := *b.base
	u.Path = path.Join(u.Path, dir) + "/"
	q := u.Query()
	q.Set("name", "true")
	u.RawQuery = q.Encode()

	var entries []struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}

	err := b.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.x.restic.rest.v2")

		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer drain(resp)

		if resp.StatusCode == http.StatusNotFound {
			entries = nil
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return classify(resp.StatusCode, errors.Errorf("list: unexpected status %v", resp.Status))
		}
		return json.NewDecoder(resp.Body).Decode(&entries)
	})
	if err != nil {
		return nil, err
	}

	out := make([]backend.PackedBlob, 0, len(entries))
	for _, e := range entries {
		id, err := ids.ParseID(e.Name)
		if err != nil {
			continue
		}
		out = append(out, backend.PackedBlob{ID: id, Size: uint32(e.Size)})
	}
	return out, nil
}

func (b *Backend) ReadFull(ctx context.Context, kind backend.Kind, id ids.ID) ([]byte, error) {
	return b.read(ctx, kind, id, 0, 0)
}

// ReadPartial issues a ranged GET, per the protocol's
// "Range: bytes=o-(o+l-1)" convention.
func (b *Backend) ReadPartial(ctx context.Context, kind backend.Kind, id ids.ID, _ bool, offset, length uint32) ([]byte, error) {
	return b.read(ctx, kind, id, offset, length)
}

func (b *Backend) read(ctx context.Context, kind backend.Kind, id ids.ID, offset, length uint32) ([]byte, error) {
	var out []byte
	err := b.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.urlFor(kind, id.String()), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if length > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer drain(resp)

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			return classify(resp.StatusCode, errors.Errorf("read: unexpected status %v", resp.Status))
		}

		out, err = io.ReadAll(resp.Body)
		return err
	})
	return out, err
}

func (b *Backend) WriteBytes(ctx context.Context, kind backend.Kind, id ids.ID, _ bool, data []byte) error {
	return b.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.urlFor(kind, id.String()), bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.ContentLength = int64(len(data))

		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer drain(resp)

		if resp.StatusCode != http.StatusOK {
			return classify(resp.StatusCode, errors.Errorf("write: unexpected status %v", resp.Status))
		}
		return nil
	})
}

func (b *Backend) Remove(ctx context.Context, kind backend.Kind, id ids.ID, _ bool) error {
	return b.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.urlFor(kind, id.String()), nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer drain(resp)

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
			return classify(resp.StatusCode, errors.Errorf("remove: unexpected status %v", resp.Status))
		}
		return nil
	})
}

// retry wraps op with exponential backoff, retrying it at most b.retries
// times after the first attempt.
// Permanent errors (backoff.Permanent, 4xx other than a retryable 429)
// abort immediately.
func (b *Backend) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), b.retries)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err != nil {
			debug.Log("rest backend attempt %d failed: %v", attempt, err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

// classify splits HTTP statuses into permanent (4xx, except 429) and
// transient (5xx, 429, network) per the protocol's failure model.
func classify(status int, err error) error {
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

