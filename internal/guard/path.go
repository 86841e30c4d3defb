// Package guard implements the confinement checks that sit in front of
// every filesystem and network-capable tool: the Path Guard (4.1) and the
// URL Guard (4.1). Both are pure functions over their inputs — no state is
// held across calls other than the workspace root passed in.
package guard

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/text/unicode/norm"

	"github.com/nextlevelbuilder/goclaw/internal/errs"
)

// ErrNoWorkspace is returned by ResolvePath when the workspace root is empty.
var ErrNoWorkspace = errs.NewUser("no workspace selected")

// ResolvePath canonicalizes path against workspace and confines it there.
//
// Steps, matching 4.1 exactly:
//  1. normalize the input
//  2. resolve it against the workspace root if relative
//  3. if the resolved path exists, resolve all symlinks to a real path
//  4. case-fold and Unicode-normalize (NFC) both sides before comparing
//  5. accept iff the real path equals the workspace or begins with
//     workspace+separator
//
// An empty workspace rejects every call with ErrNoWorkspace.
func ResolvePath(path, workspace string) (string, error) {
	if strings.TrimSpace(workspace) == "" {
		return "", ErrNoWorkspace
	}

	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace // workspace doesn't exist yet on disk — use as given
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if os.IsNotExist(err) {
			real, err = resolveMissing(absResolved, wsReal)
			if err != nil {
				return "", err
			}
		} else {
			return "", errs.NewUser("access denied: cannot resolve path")
		}
	}

	if !sameOrWithin(real, wsReal) {
		return "", errs.NewUser("access denied: path outside working directory")
	}

	if hasMutableSymlinkParent(real) {
		return "", errs.NewUser("access denied: path contains mutable symlink component")
	}
	if err := checkHardlink(real); err != nil {
		return "", err
	}

	return real, nil
}

// resolveMissing handles a path that doesn't currently exist: either a
// broken symlink (whose target must still be validated) or a genuinely
// absent file (whose existing ancestor must still resolve inside the
// workspace).
func resolveMissing(absResolved, wsReal string) (string, error) {
	if linfo, lerr := os.Lstat(absResolved); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
		target, readErr := os.Readlink(absResolved)
		if readErr != nil {
			return "", errs.NewUser("access denied: cannot resolve symlink")
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(absResolved), target)
		}
		target = filepath.Clean(target)

		resolvedTarget, resolveErr := resolveThroughExistingAncestors(target)
		if resolveErr != nil {
			return "", errs.NewUser("access denied: cannot resolve broken symlink target")
		}
		if !sameOrWithin(resolvedTarget, wsReal) {
			return "", errs.NewUser("access denied: broken symlink target outside working directory")
		}
		return resolvedTarget, nil
	}

	parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absResolved))
	if parentErr != nil {
		return "", errs.NewUser("access denied: cannot resolve path")
	}
	return filepath.Join(parentReal, filepath.Base(absResolved)), nil
}

// resolveThroughExistingAncestors walks up from target until it finds an
// existing ancestor, canonicalizes that ancestor, and reattaches the
// remaining path components — catching chained symlinks whose
// intermediate targets escape the workspace.
func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}

	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

// sameOrWithin reports whether child lies inside or equals parent, under
// NFC normalization and case-folded comparison of both paths — so a path
// that escapes the workspace only through Unicode-equivalent or
// differently-cased components is still caught.
func sameOrWithin(child, parent string) bool {
	c := normalizeForCompare(child)
	p := normalizeForCompare(parent)
	if c == p {
		return true
	}
	return strings.HasPrefix(c, p+string(filepath.Separator))
}

func normalizeForCompare(p string) string {
	return strings.ToLower(norm.NFC.String(p))
}

// hasMutableSymlinkParent reports whether any path component is a symlink
// whose parent directory is writable by this process — such a symlink
// could be rebound between resolution and use (TOCTOU).
func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

// checkHardlink rejects regular files with nlink > 1 (directories are
// naturally nlink>1 and are exempt).
func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			return errs.NewUser("access denied: hardlinked file not allowed")
		}
	}
	return nil
}
