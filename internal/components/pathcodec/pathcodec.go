// Package pathcodec maps user-facing localbox paths onto the storage tree.
//
// A localbox path is slash separated, relative to the user's home directory
// under the bindpoint, and arrives percent-encoded per segment in request
// URLs. Every path that reaches the filesystem goes through this package, so
// a ".." segment is rejected here and nowhere else needs to check for it.
package pathcodec

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for traversal attempts and malformed encodings.
var ErrInvalidPath = errors.New("invalid path")

// HomeDirMode is the permission used for user home directories.
const HomeDirMode os.FileMode = 0o750

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPath, fmt.Sprintf(format, args...))
}

// Decode percent-decodes each segment of an encoded localbox path and returns
// the cleaned relative path ("" for the root).
func Decode(encoded string) (string, error) {
	segments := strings.Split(encoded, "/")
	decoded := make([]string, 0, len(segments))
	for _, seg := range segments {
		s, err := url.PathUnescape(seg)
		if err != nil {
			return "", invalid("malformed encoding in segment %q", seg)
		}
		if strings.Contains(s, "/") {
			return "", invalid("encoded separator in segment %q", seg)
		}
		decoded = append(decoded, s)
	}
	return clean(decoded)
}

// Clean validates an already-decoded localbox path, as found in JSON bodies,
// and returns it in relative form ("" for the root).
func Clean(path string) (string, error) {
	return clean(strings.Split(path, "/"))
}

func clean(segments []string) (string, error) {
	kept := make([]string, 0, len(segments))
	for _, s := range segments {
		switch {
		case s == "" || s == ".":
			continue
		case s == "..":
			return "", invalid("relative segment not allowed")
		case strings.ContainsRune(s, 0):
			return "", invalid("NUL byte in segment")
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, "/"), nil
}

// Canonical renders a relative path in the "/a/b" form used in responses and
// persisted rows. The root is "/".
func Canonical(rel string) string {
	return "/" + strings.Trim(rel, "/")
}

// ValidUsername reports whether name can be used as a home directory name.
func ValidUsername(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return invalid("username %q", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return invalid("username %q contains a separator", name)
	}
	return nil
}

// Codec resolves localbox paths against a bindpoint.
type Codec struct {
	bindpoint string
}

// New returns a Codec rooted at the absolute form of bindpoint.
func New(bindpoint string) (*Codec, error) {
	abs, err := filepath.Abs(bindpoint)
	if err != nil {
		return nil, fmt.Errorf("resolve bindpoint %q: %w", bindpoint, err)
	}
	return &Codec{bindpoint: filepath.Clean(abs)}, nil
}

// Bindpoint returns the absolute storage root.
func (c *Codec) Bindpoint() string { return c.bindpoint }

// UserRoot returns the home directory of user.
func (c *Codec) UserRoot(user string) (string, error) {
	if err := ValidUsername(user); err != nil {
		return "", err
	}
	return filepath.Join(c.bindpoint, user), nil
}

// Resolve maps a localbox path of user onto an absolute filesystem path. It
// accepts the path with or without leading slashes and never touches the disk.
func (c *Codec) Resolve(user, path string) (string, error) {
	root, err := c.UserRoot(user)
	if err != nil {
		return "", err
	}
	rel, err := Clean(path)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return root, nil
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// ToLocalboxPath is the inverse of Resolve.
func (c *Codec) ToLocalboxPath(abs, user string) (string, error) {
	root, err := c.UserRoot(user)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, filepath.Clean(abs))
	if err != nil {
		return "", invalid("%s is not under %s", abs, root)
	}
	if rel == "." {
		return "/", nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", invalid("%s is outside the home of %s", abs, user)
	}
	return "/" + filepath.ToSlash(rel), nil
}

// OwnerOf splits an absolute path under the bindpoint into the owning user and
// the localbox path inside that user's home.
func (c *Codec) OwnerOf(abs string) (user, path string, err error) {
	rel, err := filepath.Rel(c.bindpoint, filepath.Clean(abs))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", invalid("%s is outside the bindpoint", abs)
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	user = parts[0]
	path = "/"
	if len(parts) == 2 {
		path = "/" + parts[1]
	}
	return user, path, nil
}

// EnsureHome creates the home directory of user when missing.
func (c *Codec) EnsureHome(user string) (string, error) {
	root, err := c.UserRoot(user)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(root, HomeDirMode); err != nil {
		return "", fmt.Errorf("create home of %s: %w", user, err)
	}
	return root, nil
}

// KeyPath returns the path under which encryption keys of rel are stored:
// its top-level component, without a leading slash.
func KeyPath(rel string) string {
	rel = strings.Trim(rel, "/")
	top, _, _ := strings.Cut(rel, "/")
	return top
}
