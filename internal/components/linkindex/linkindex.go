// Package linkindex keeps the reverse map from a shared file to the share
// symlinks pointing at it.
//
// The index is built once by walking the bindpoint and then kept current by
// every share and file mutation. Readers always get copies, so nobody
// observes a partially updated link set.
package linkindex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/logutil"
)

// Index maps absolute target paths to the absolute link paths pointing at them.
type Index struct {
	mu      sync.RWMutex
	links   map[string][]string
	targets map[string]string // link -> target

	observe func(links int)
	logger  *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithObserver registers a callback receiving the link count after every change.
func WithObserver(fn func(links int)) Option {
	return func(ix *Index) { ix.observe = fn }
}

// WithLogger sets the logger used while building.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) { ix.logger = logutil.NoopIfNil(logger) }
}

// New returns an empty index.
func New(opts ...Option) *Index {
	ix := &Index{
		links:   make(map[string][]string),
		targets: make(map[string]string),
		logger:  logutil.Noop(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Build replaces the index content with every symlink found under root.
// Symlinks are not followed. Relative link targets are resolved against the
// directory holding the link.
func (ix *Index) Build(ctx context.Context, root string) error {
	links := make(map[string][]string)
	targets := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		dest, err := os.Readlink(path)
		if err != nil {
			ix.logger.Warn("unreadable symlink skipped", "path", path, "error", err)
			return nil
		}
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(filepath.Dir(path), dest)
		}
		dest = filepath.Clean(dest)
		links[dest] = append(links[dest], path)
		targets[path] = dest
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}

	ix.mu.Lock()
	ix.links = links
	ix.targets = targets
	n := len(targets)
	ix.mu.Unlock()

	ix.logger.Info("link index built", "root", root, "targets", len(links), "links", n)
	ix.notify(n)
	return nil
}

func (ix *Index) notify(n int) {
	if ix.observe != nil {
		ix.observe(n)
	}
}

// Add records link as pointing at target. Adding an existing pair is a no-op.
func (ix *Index) Add(target, link string) {
	target, link = filepath.Clean(target), filepath.Clean(link)

	ix.mu.Lock()
	if old, ok := ix.targets[link]; ok {
		ix.removeLocked(old, link)
	}
	ix.links[target] = append(ix.links[target], link)
	ix.targets[link] = target
	n := len(ix.targets)
	ix.mu.Unlock()

	ix.notify(n)
}

// Remove forgets a single link. It reports whether the link was known.
func (ix *Index) Remove(link string) bool {
	link = filepath.Clean(link)

	ix.mu.Lock()
	target, ok := ix.targets[link]
	if ok {
		ix.removeLocked(target, link)
	}
	n := len(ix.targets)
	ix.mu.Unlock()

	if ok {
		ix.notify(n)
	}
	return ok
}

func (ix *Index) removeLocked(target, link string) {
	delete(ix.targets, link)
	list := ix.links[target]
	for i, l := range list {
		if l == link {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(ix.links, target)
	} else {
		ix.links[target] = list
	}
}

// Links returns a sorted copy of the links pointing at target.
func (ix *Index) Links(target string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := append([]string(nil), ix.links[filepath.Clean(target)]...)
	sort.Strings(out)
	return out
}

// IsTarget reports whether at least one link points at path.
func (ix *Index) IsTarget(path string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.links[filepath.Clean(path)]) > 0
}

// TargetOf returns the target of a tracked link.
func (ix *Index) TargetOf(link string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	t, ok := ix.targets[filepath.Clean(link)]
	return t, ok
}

// Len returns the number of tracked links.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.targets)
}

func under(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator))
}

// Purge drops every entry rooted at prefix: links living under prefix and
// targets living under prefix. It returns the removed targets with their
// links so the caller can clean up links that now dangle.
func (ix *Index) Purge(prefix string) map[string][]string {
	prefix = filepath.Clean(prefix)
	orphaned := make(map[string][]string)

	ix.mu.Lock()
	for link, target := range ix.targets {
		if under(link, prefix) {
			ix.removeLocked(target, link)
		}
	}
	for target, links := range ix.links {
		if under(target, prefix) {
			orphaned[target] = links
			for _, l := range links {
				delete(ix.targets, l)
			}
			delete(ix.links, target)
		}
	}
	n := len(ix.targets)
	ix.mu.Unlock()

	ix.notify(n)
	return orphaned
}

// Retarget describes a link whose target moved.
type Retarget struct {
	Link      string
	OldTarget string
	NewTarget string
}

// Rename rewrites targets and links under oldPrefix to live under newPrefix,
// following a filesystem move. It returns the links whose target changed;
// their symlinks on disk still point at the old location.
func (ix *Index) Rename(oldPrefix, newPrefix string) []Retarget {
	oldPrefix, newPrefix = filepath.Clean(oldPrefix), filepath.Clean(newPrefix)
	rewrite := func(p string) string {
		if under(p, oldPrefix) {
			return newPrefix + strings.TrimPrefix(p, oldPrefix)
		}
		return p
	}

	var moved []Retarget
	ix.mu.Lock()
	links := make(map[string][]string, len(ix.links))
	targets := make(map[string]string, len(ix.targets))
	for link, target := range ix.targets {
		nl, nt := rewrite(link), rewrite(target)
		targets[nl] = nt
		links[nt] = append(links[nt], nl)
		if nt != target {
			moved = append(moved, Retarget{Link: nl, OldTarget: target, NewTarget: nt})
		}
	}
	ix.links = links
	ix.targets = targets
	ix.mu.Unlock()

	sort.Slice(moved, func(i, j int) bool { return moved[i].Link < moved[j].Link })
	return moved
}
