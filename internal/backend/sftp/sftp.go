// Package sftp implements the object-store backend over an SFTP session,
// spawning the configured ssh client as a subprocess and speaking the SFTP
// subsystem protocol over its stdin/stdout pipes.
package sftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"

	"github.com/pkg/sftp"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/debug"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// Backend is a repository stored in a directory on a remote host, reached
// via an ssh subprocess speaking the SFTP subsystem protocol.
type Backend struct {
	c    *sftp.Client
	path string

	cmd    *exec.Cmd
	result <-chan error
}

var _ backend.Backend = (*Backend)(nil)

// Dial spawns program (with args) to reach a remote host's SFTP subsystem
// and roots the backend at path on that host.
func Dial(program string, args []string, path string) (*Backend, error) {
	cmd := exec.Command(program, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cmd.StderrPipe")
	}
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			fmt.Fprintf(os.Stderr, "subprocess %v: %v\n", program, sc.Text())
		}
	}()

	wr, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cmd.StdinPipe")
	}
	rd, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cmd.StdoutPipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "cmd.Start")
	}

	ch := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		debug.Log("sftp subprocess exited, err %v", err)
		ch <- errors.Wrap(err, "sftp subprocess exited")
	}()

	client, err := sftp.NewClientPipe(rd, wr)
	if err != nil {
		return nil, errors.Wrap(err, "sftp.NewClientPipe")
	}

	return &Backend{c: client, path: path, cmd: cmd, result: ch}, nil
}

// clientError reports the subprocess's exit error, if it has already
// exited, without blocking.
func (b *Backend) clientError() error {
	select {
	case err := <-b.result:
		return err
	default:
		return nil
	}
}

func (b *Backend) Location() string { return "sftp:" + b.path }

func (b *Backend) SetOption(name, value string) error {
	debug.Log("sftp backend ignores option %s=%s", name, value)
	return nil
}

func (b *Backend) join(parts ...string) string {
	return path.Join(append([]string{b.path}, parts...)...)
}

func (b *Backend) filename(kind backend.Kind, name string) string {
	dir, file := backend.Filename(kind, name)
	if dir == "" {
		return b.join(file)
	}
	return b.join(dir, file)
}

// Create makes the remote directory tree every pack/index/snapshot/key
// kind needs, creating parent directories as required.
func (b *Backend) Create(context.Context) error {
	if err := b.mkdirAll(b.path); err != nil {
		return err
	}
	for _, kind := range []backend.Kind{backend.KindKey, backend.KindSnapshot, backend.KindIndex, backend.KindPack} {
		if err := b.mkdirAll(b.join(kind.String())); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) mkdirAll(dir string) error {
	if err := b.c.MkdirAll(dir); err != nil {
		return errors.Wrap(err, "MkdirAll")
	}
	return nil
}

func (b *Backend) ListWithSize(ctx context.Context, kind backend.Kind) ([]backend.PackedBlob, error) {
	if kind == backend.KindConfig {
		fi, err := b.c.Stat(b.join("config"))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, errors.Wrap(err, "Stat")
		}
		return []backend.PackedBlob{{Size: uint32(fi.Size())}}, nil
	}

	base := b.join(kind.String())
	shards, err := b.c.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "ReadDir")
	}

	var out []backend.PackedBlob
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := b.c.ReadDir(path.Join(base, shard.Name()))
		if err != nil {
			return nil, errors.Wrap(err, "ReadDir")
		}
		for _, f := range files {
			id, err := ids.ParseID(f.Name())
			if err != nil {
				continue
			}
			out = append(out, backend.PackedBlob{ID: id, Size: uint32(f.Size())})
		}
	}
	return out, nil
}

func (b *Backend) ReadFull(_ context.Context, kind backend.Kind, id ids.ID) ([]byte, error) {
	f, err := b.c.Open(b.filename(kind, id.String()))
	if err != nil {
		return nil, errors.Wrap(err, "Open")
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "ReadAll")
	}
	return data, nil
}

func (b *Backend) ReadPartial(_ context.Context, kind backend.Kind, id ids.ID, _ bool, offset, length uint32) ([]byte, error) {
	f, err := b.c.Open(b.filename(kind, id.String()))
	if err != nil {
		return nil, errors.Wrap(err, "Open")
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, length)
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "Seek")
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, errors.Wrap(err, "ReadFull")
	}
	return buf, nil
}

// WriteBytes writes to a temporary name in the same directory and renames
// it into place, the same crash-safety trick the local backend uses.
func (b *Backend) WriteBytes(_ context.Context, kind backend.Kind, id ids.ID, _ bool, data []byte) error {
	finalname := b.filename(kind, id.String())
	dir := path.Dir(finalname)
	if err := b.mkdirAll(dir); err != nil {
		return err
	}

	tmpname := finalname + "-tmp-" + id.String()[:8]
	f, err := b.c.Create(tmpname)
	if err != nil {
		return errors.Wrap(err, "Create")
	}
	defer func() { _ = b.c.Remove(tmpname) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "Write")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "Close")
	}
	if err := b.c.Rename(tmpname, finalname); err != nil {
		return errors.Wrap(err, "Rename")
	}
	return nil
}

func (b *Backend) Remove(_ context.Context, kind backend.Kind, id ids.ID, _ bool) error {
	err := b.c.Remove(b.filename(kind, id.String()))
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(err, "Remove")
}

// Close shuts down the SFTP session and returns the ssh subprocess's exit
// error if it has already exited; it does not wait for the subprocess.
func (b *Backend) Close() error {
	if err := b.c.Close(); err != nil {
		return errors.Wrap(err, "Close")
	}
	return b.clientError()
}
