//go:build linux

package magicmount

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// NodeType classifies an entry in the overlay tree.
//
// The zero value is invalid.
type NodeType int

const (
	// NodeRegular is a regular file.
	NodeRegular NodeType = iota + 1

	// NodeDirectory is a directory; the only type that may carry children.
	NodeDirectory

	// NodeSymlink is a symbolic link.
	NodeSymlink

	// NodeWhiteout is a deletion marker: on disk, a character device with
	// device id 0.
	NodeWhiteout
)

// String returns a stable, human-readable name for a NodeType.
func (t NodeType) String() string {
	switch t {
	case NodeRegular:
		return "regular"
	case NodeDirectory:
		return "directory"
	case NodeSymlink:
		return "symlink"
	case NodeWhiteout:
		return "whiteout"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Node is one entry in the overlay tree.
//
// Ownership is strictly parent-to-child: the root uniquely owns the whole
// tree and there are no back-pointers. Traversals that need the parent carry
// it as an explicit argument.
type Node struct {
	// Name is the last path segment; empty only for the synthetic root.
	Name string

	// Type classifies the entry.
	Type NodeType

	// SourcePath is the absolute path in the source module where this entry
	// lives. It is empty for synthetic nodes: the root, the system container,
	// and partition containers assembled from several modules (reconciled
	// partitions and extra partitions). A partition node promoted as scanned
	// keeps its module path.
	SourcePath string

	// SourceModule names the module that supplied this entry. For a fresh
	// partition container assembled during reconciliation it names the first
	// module that owned a real partition directory. It is empty for the root,
	// the system container and extra partition containers.
	SourceModule string

	// Replace marks a directory as opaque: it fully replaces any lower layer
	// instead of merging with it. Only meaningful for directories.
	Replace bool

	// Children are the entries below a directory, keyed uniquely by Name.
	// Lookup is a linear scan; child counts are tens at most.
	Children []*Node
}

func newNode(name string, t NodeType) *Node {
	return &Node{Name: name, Type: t}
}

// findChild returns the child with the given name, or nil.
func (n *Node) findChild(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}

	return nil
}

// appendChild attaches child to n. It fails if a child of the same name
// already exists; callers are expected to consult findChild first.
func (n *Node) appendChild(child *Node) error {
	if existing := n.findChild(child.Name); existing != nil {
		return fmt.Errorf("node %q already has a child named %q", n.Name, child.Name)
	}

	n.Children = append(n.Children, child)

	return nil
}

// detachChild removes and returns the child with the given name, or nil.
// Sibling order is preserved.
func (n *Node) detachChild(name string) *Node {
	for i, c := range n.Children {
		if c.Name == name {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)

			return c
		}
	}

	return nil
}

// nodeTypeFromStat classifies an on-disk entry.
//
// The second return value is false for unsupported types (sockets, fifos,
// block devices, and character devices with a non-zero device id).
func nodeTypeFromStat(st *unix.Stat_t) (NodeType, bool) {
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFCHR:
		if st.Rdev == 0 {
			return NodeWhiteout, true
		}

		return 0, false
	case unix.S_IFREG:
		return NodeRegular, true
	case unix.S_IFDIR:
		return NodeDirectory, true
	case unix.S_IFLNK:
		return NodeSymlink, true
	default:
		return 0, false
	}
}

// dirIsOpaque reports whether the directory at path is an opaque replacement:
// either the trusted overlayfs xattr is set to "y", or the directory contains
// a .replace sentinel file at its top level.
func dirIsOpaque(path string) bool {
	buf := make([]byte, 8)

	n, err := unix.Lgetxattr(path, ReplaceDirXattr, buf)
	if err == nil && n > 0 && string(buf[:n]) == "y" {
		return true
	}

	_, err = os.Lstat(filepath.Join(path, ReplaceDirFileName))

	return err == nil
}
