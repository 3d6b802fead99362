//go:build linux

package magicmount

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// nodeFromFS creates a Node from on-disk metadata, without following a final
// symlink. It returns nil when the entry cannot be stat'ed or has an
// unsupported type (sockets, fifos, non-whiteout devices); those entries are
// skipped by the scanner.
func (c *composer) nodeFromFS(name, path, module string) *Node {
	var st unix.Stat_t

	err := unix.Lstat(path, &st)
	if err != nil {
		c.debugf("lstat %s: %v", path, err)
		c.stats.NodesFail++

		return nil
	}

	t, ok := nodeTypeFromStat(&st)
	if !ok {
		c.debugf("skipping unsupported file type at %s (mode=%#o)", path, st.Mode)

		return nil
	}

	n := c.newNode(name, t)
	n.SourcePath = path
	n.SourceModule = module

	if t == NodeDirectory {
		n.Replace = dirIsOpaque(path)
	}

	return n
}

// scanInto walks dir and grafts each entry as a child of parent, recursing
// into directories. Entries that collide with an existing child keep the
// existing child (first module claims a name); when both sides are
// directories the walk descends so later modules can add new files to an
// already-claimed directory.
//
// The returned boolean reports whether the subtree under parent ended up
// carrying effective content: a non-directory descendant, or an opaque
// directory. Whiteouts count as content; an empty, non-opaque directory
// chain does not.
//
// A directory read failure is fatal to the whole scan call and reported up;
// the caller decides whether that fails a module or the build.
func (c *composer) scanInto(parent *Node, dir, module string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", dir, err)
	}

	hasAny := false

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())

		child := parent.findChild(e.Name())
		if child == nil {
			n := c.nodeFromFS(e.Name(), path, module)
			if n == nil {
				continue
			}

			err = parent.appendChild(n)
			if err != nil {
				return false, internalErrorf("scanInto", "%v", err)
			}

			child = n
		}

		switch {
		case child.Type != NodeDirectory:
			// A claimed file, symlink or whiteout; whatever this module has at
			// the same name is shadowed silently.
			hasAny = true
		case child.Replace && child.SourceModule != module:
			// An opaque directory claimed by an earlier module fully replaces
			// the lower layer; later additions are shadowed.
			hasAny = true
		case lstatIsDir(path):
			var sub bool

			sub, err = c.scanInto(child, path, module)
			if err != nil {
				return false, err
			}

			if sub || child.Replace {
				hasAny = true
			}
		default:
			// The claimed entry is a directory but this module contributes a
			// non-directory at the same name: silent shadow, nothing to descend
			// into.
			if child.Replace {
				hasAny = true
			}
		}
	}

	return hasAny, nil
}

// lstatIsDir reports whether path is a directory, without following a final
// symlink.
func lstatIsDir(path string) bool {
	info, err := os.Lstat(path)

	return err == nil && info.IsDir()
}
