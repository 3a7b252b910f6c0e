// Package files implements the file operations of a user's home directory:
// upload, download, metadata, create_folder, delete, move and copy.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MahdiBaghbani/localbox-go/internal/components/linkindex"
	"github.com/MahdiBaghbani/localbox-go/internal/components/pathcodec"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/logutil"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrTooLarge      = errors.New("upload exceeds size limit")
	ErrIO            = errors.New("filesystem error")
	ErrDatastore     = errors.New("datastore error")
)

const (
	dirMode  os.FileMode = 0o750
	fileMode os.FileMode = 0o640
)

// Store is the datastore subset the file operations keep in step with the disk.
type Store interface {
	HasKeys(ctx context.Context, path string) (bool, error)
	DeleteKeysUnder(ctx context.Context, user, path string) (int64, error)
	RenameSharePaths(ctx context.Context, owner, oldPath, newPath string) (int64, error)
	DeleteSharesUnder(ctx context.Context, owner, path string) (int64, error)
}

// Meta describes a filesystem entry as seen by its user.
type Meta struct {
	Title      string `json:"title"`
	IsDir      bool   `json:"is_dir"`
	ModifiedAt string `json:"modified_at"`
	IsShare    bool   `json:"is_share"`
	IsShared   bool   `json:"is_shared"`
	HasKeys    bool   `json:"has_keys"`
	Path       string `json:"path"`
	Icon       string `json:"icon"`
	Children   []Meta `json:"children,omitempty"`
}

// Service performs file operations below the bindpoint.
type Service struct {
	codec     *pathcodec.Codec
	index     *linkindex.Index
	store     Store
	maxUpload int64
	logger    *slog.Logger
}

// Options configures a Service.
type Options struct {
	// MaxUploadBytes caps a single upload; 0 means unlimited.
	MaxUploadBytes int64
}

// NewService creates a Service.
func NewService(codec *pathcodec.Codec, index *linkindex.Index, store Store, opts Options, logger *slog.Logger) *Service {
	return &Service{
		codec:     codec,
		index:     index,
		store:     store,
		maxUpload: opts.MaxUploadBytes,
		logger:    logutil.NoopIfNil(logger),
	}
}

func ioErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIO, op, err)
}

func dsErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDatastore, op, err)
}

func exists(abs string) (bool, error) {
	_, err := os.Lstat(abs)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, ioErr("lstat", err)
}

// resolve cleans rel and maps it onto the filesystem.
func (s *Service) resolve(user, rel string) (abs, clean string, err error) {
	if clean, err = pathcodec.Clean(rel); err != nil {
		return "", "", err
	}
	if abs, err = s.codec.Resolve(user, clean); err != nil {
		return "", "", err
	}
	return abs, clean, nil
}

// Meta returns the metadata of rel.
func (s *Service) Meta(ctx context.Context, user, rel string) (*Meta, error) {
	abs, _, err := s.resolve(user, rel)
	if err != nil {
		return nil, err
	}
	return s.stat(ctx, user, abs)
}

func (s *Service) stat(ctx context.Context, user, abs string) (*Meta, error) {
	lst, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, ioErr("lstat", err)
	}
	fi := lst
	isLink := lst.Mode()&fs.ModeSymlink != 0
	if isLink {
		if st, err := os.Stat(abs); err == nil {
			fi = st
		}
	}

	path, err := s.codec.ToLocalboxPath(abs, user)
	if err != nil {
		return nil, err
	}
	title := "Home"
	if path != "/" {
		title = filepath.Base(abs)
	}

	hasKeys := false
	if kp := pathcodec.KeyPath(path); kp != "" {
		if hasKeys, err = s.store.HasKeys(ctx, kp); err != nil {
			return nil, dsErr("has keys", err)
		}
	}

	m := &Meta{
		Title:      title,
		IsDir:      fi.IsDir(),
		ModifiedAt: fi.ModTime().UTC().Format(time.RFC3339),
		IsShare:    s.index.IsTarget(abs),
		IsShared:   isLink,
		HasKeys:    hasKeys,
		Path:       path,
		Icon:       "File",
	}
	if m.IsDir {
		m.Icon = "Folder"
	}
	return m, nil
}

// Listing returns the metadata of directory rel with one level of children,
// directories first.
func (s *Service) Listing(ctx context.Context, user, rel string) (*Meta, error) {
	abs, _, err := s.resolve(user, rel)
	if err != nil {
		return nil, err
	}
	m, err := s.stat(ctx, user, abs)
	if err != nil {
		return nil, err
	}
	if !m.IsDir {
		return m, nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, ioErr("read dir", err)
	}
	m.Children = make([]Meta, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		child, err := s.stat(ctx, user, filepath.Join(abs, e.Name()))
		if errors.Is(err, ErrNotFound) {
			continue // removed while listing
		}
		if err != nil {
			return nil, err
		}
		m.Children = append(m.Children, *child)
	}
	sort.SliceStable(m.Children, func(i, j int) bool {
		return m.Children[i].IsDir && !m.Children[j].IsDir
	})
	return m, nil
}

// Open opens rel for reading. Directories are returned open as well; the
// caller decides between streaming and listing from the FileInfo.
func (s *Service) Open(ctx context.Context, user, rel string) (*os.File, fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	abs, _, err := s.resolve(user, rel)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, ioErr("open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, ioErr("stat", err)
	}
	return f, info, nil
}

// Upload writes r to rel, replacing an existing file atomically. Uploading
// through a share link writes the owner's file.
func (s *Service) Upload(ctx context.Context, user, rel string, r io.Reader) (int64, error) {
	abs, rel, err := s.resolve(user, rel)
	if err != nil {
		return 0, err
	}
	if rel == "" {
		return 0, fmt.Errorf("%w: cannot upload onto the home directory", pathcodec.ErrInvalidPath)
	}

	dest := abs
	if lst, err := os.Lstat(abs); err == nil {
		if lst.Mode()&fs.ModeSymlink != 0 {
			if dest, err = filepath.EvalSymlinks(abs); err != nil {
				return 0, ioErr("resolve link", err)
			}
			lst, err = os.Stat(dest)
			if err != nil {
				return 0, ioErr("stat", err)
			}
		}
		if lst.IsDir() {
			return 0, fmt.Errorf("%w: a directory exists at %s", ErrAlreadyExists, pathcodec.Canonical(rel))
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), dirMode); err != nil {
		return 0, ioErr("create parent", err)
	}

	var src io.Reader = &ctxReader{ctx: ctx, r: r}
	if s.maxUpload > 0 {
		src = io.LimitReader(src, s.maxUpload+1)
	}
	n, err := writeAtomic(dest, src)
	if err != nil {
		return 0, err
	}
	if s.maxUpload > 0 && n > s.maxUpload {
		return 0, ErrTooLarge
	}
	return n, nil
}

// writeAtomic writes src to a temp file next to dest and renames it into
// place. dest is untouched on failure.
func writeAtomic(dest string, src io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return 0, ioErr("create temp", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, src)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, ioErr("write", err)
	}
	if lr, ok := src.(*io.LimitedReader); ok && lr.N <= 0 {
		// limit hit; the caller reports ErrTooLarge
		return n, nil
	}
	if err := tmp.Chmod(fileMode); err != nil {
		return 0, ioErr("chmod", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, ioErr("close", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, ioErr("rename", err)
	}
	committed = true
	return n, nil
}

// CreateFolder creates rel and missing parents. Anything already at rel,
// including a dangling link, is a conflict.
func (s *Service) CreateFolder(ctx context.Context, user, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, rel, err := s.resolve(user, rel)
	if err != nil {
		return err
	}
	found, err := exists(abs)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, pathcodec.Canonical(rel))
	}
	if err := os.MkdirAll(abs, dirMode); err != nil {
		return ioErr("mkdir", err)
	}
	return nil
}

// Delete removes rel recursively. Share links rooted at rel are dropped from
// the index and grantee links pointing into rel are unlinked. Key records and
// shares of rel and its descendants are removed; their invitations end up
// revoked.
func (s *Service) Delete(ctx context.Context, user, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, rel, err := s.resolve(user, rel)
	if err != nil {
		return err
	}
	if rel == "" {
		return fmt.Errorf("%w: cannot delete the home directory", pathcodec.ErrInvalidPath)
	}
	found, err := exists(abs)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	if err := os.RemoveAll(abs); err != nil {
		return ioErr("remove", err)
	}

	for target, links := range s.index.Purge(abs) {
		for _, link := range links {
			if lst, err := os.Lstat(link); err == nil && lst.Mode()&fs.ModeSymlink != 0 {
				if err := os.Remove(link); err != nil {
					s.logger.Warn("failed to remove dangling share link", "link", link, "target", target, "error", err)
				}
			}
		}
	}

	if _, err := s.store.DeleteKeysUnder(ctx, user, rel); err != nil {
		return dsErr("delete keys", err)
	}
	n, err := s.store.DeleteSharesUnder(ctx, user, pathcodec.Canonical(rel))
	if err != nil {
		return dsErr("delete shares", err)
	}
	if n > 0 {
		s.logger.Info("shares of deleted path removed", "user", user, "path", pathcodec.Canonical(rel), "shares", n)
	}
	return nil
}

// Move renames from to to. Share links whose target moved are re-pointed and
// share rows follow the new path.
func (s *Service) Move(ctx context.Context, user, from, to string) error {
	absFrom, absTo, err := s.pair(ctx, user, from, to, os.Lstat)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absTo), dirMode); err != nil {
		return ioErr("create parent", err)
	}
	if err := os.Rename(absFrom, absTo); err != nil {
		return ioErr("rename", err)
	}

	for _, rt := range s.index.Rename(absFrom, absTo) {
		if err := repoint(rt.Link, rt.NewTarget); err != nil {
			s.logger.Warn("failed to re-point share link", "link", rt.Link, "target", rt.NewTarget, "error", err)
		}
	}

	oldPath, err := s.codec.ToLocalboxPath(absFrom, user)
	if err != nil {
		return err
	}
	newPath, err := s.codec.ToLocalboxPath(absTo, user)
	if err != nil {
		return err
	}
	if _, err := s.store.RenameSharePaths(ctx, user, oldPath, newPath); err != nil {
		return dsErr("rename shares", err)
	}
	return nil
}

func repoint(link, target string) error {
	if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Symlink(target, link)
}

// Copy duplicates from at to. Directory trees are copied recursively and
// links inside them are copied as links.
func (s *Service) Copy(ctx context.Context, user, from, to string) error {
	absFrom, absTo, err := s.pair(ctx, user, from, to, os.Stat)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absTo), dirMode); err != nil {
		return ioErr("create parent", err)
	}

	src, err := filepath.EvalSymlinks(absFrom)
	if err != nil {
		return ioErr("resolve source", err)
	}
	fi, err := os.Stat(src)
	if err != nil {
		return ioErr("stat", err)
	}
	if !fi.IsDir() {
		return s.copyFile(ctx, src, absTo)
	}
	return s.copyTree(ctx, src, absTo)
}

func (s *Service) copyFile(ctx context.Context, src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return ioErr("open", err)
	}
	defer f.Close()
	_, err = writeAtomic(dest, &ctxReader{ctx: ctx, r: f})
	return err
}

func (s *Service) copyTree(ctx context.Context, src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return ioErr("walk", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return ioErr("rel", err)
		}
		target := filepath.Join(dest, rel)

		switch {
		case d.IsDir():
			if err := os.MkdirAll(target, dirMode); err != nil {
				return ioErr("mkdir", err)
			}
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return ioErr("readlink", err)
			}
			if err := os.Symlink(link, target); err != nil {
				return ioErr("symlink", err)
			}
			if !filepath.IsAbs(link) {
				link = filepath.Join(filepath.Dir(target), link)
			}
			s.index.Add(link, target)
		case d.Type().IsRegular():
			if err := s.copyFile(ctx, path, target); err != nil {
				return err
			}
		}
		return nil
	})
}

// pair resolves a from/to pair: from must exist according to statFrom and
// nothing may exist at to.
func (s *Service) pair(ctx context.Context, user, from, to string, statFrom func(string) (fs.FileInfo, error)) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	absFrom, from, err := s.resolve(user, from)
	if err != nil {
		return "", "", err
	}
	absTo, to, err := s.resolve(user, to)
	if err != nil {
		return "", "", err
	}
	if from == "" || to == "" {
		return "", "", fmt.Errorf("%w: the home directory cannot be moved or replaced", pathcodec.ErrInvalidPath)
	}
	if absTo == absFrom || strings.HasPrefix(absTo, absFrom+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: destination is inside the source", pathcodec.ErrInvalidPath)
	}

	if _, err := statFrom(absFrom); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", fmt.Errorf("%w: %s", ErrNotFound, pathcodec.Canonical(from))
		}
		return "", "", ioErr("stat", err)
	}
	found, err := exists(absTo)
	if err != nil {
		return "", "", err
	}
	if found {
		return "", "", fmt.Errorf("%w: %s", ErrAlreadyExists, pathcodec.Canonical(to))
	}
	return absFrom, absTo, nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
