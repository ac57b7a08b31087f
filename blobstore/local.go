package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// blobExt is the suffix of committed blob files. In-flight uploads use a
// dot-prefixed temp name and are never listed.
const blobExt = ".blob"

// LocalStore implements Store using the local file system.
// Each blob is one file named after a random UUID.
type LocalStore struct {
	root string
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
// The directory is created if it does not exist.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(h Handle) (string, error) {
	name := string(h)
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, name)
	}
	return filepath.Join(s.root, name+blobExt), nil
}

// Create writes r to a temp file, syncs it and renames it into place.
func (s *LocalStore) Create(ctx context.Context, r io.Reader) (Handle, error) {
	f, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", err
	}
	tmpPath := f.Name()

	if _, err := io.Copy(f, readerWithContext(ctx, r)); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	h := Handle(uuid.NewString())
	final, _ := s.path(h)
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	return h, s.syncDir()
}

// Open opens a blob for reading.
func (s *LocalStore) Open(_ context.Context, h Handle) (Blob, error) {
	path, err := s.path(h)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &localBlob{File: f, size: fi.Size()}, nil
}

// Exists reports whether the blob file is present.
func (s *LocalStore) Exists(_ context.Context, h Handle) (bool, error) {
	path, err := s.path(h)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes a blob file.
func (s *LocalStore) Delete(_ context.Context, h Handle) error {
	path, err := s.path(h)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns all committed blobs. Created is the file modification time.
func (s *LocalStore) List(_ context.Context) ([]ObjectInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var infos []ObjectInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, blobExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // deleted while listing
			}
			return nil, err
		}
		infos = append(infos, ObjectInfo{
			Handle:  Handle(strings.TrimSuffix(name, blobExt)),
			Size:    fi.Size(),
			Created: fi.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Handle < infos[j].Handle })
	return infos, nil
}

func (s *LocalStore) syncDir() error {
	d, err := os.Open(s.root)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

type localBlob struct {
	*os.File
	size int64
}

func (b *localBlob) Size() int64 { return b.size }

// readerWithContext stops a copy once ctx is done.
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return readerFunc(func(p []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return r.Read(p)
	})
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
