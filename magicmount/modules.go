//go:build linux

package magicmount

import (
	"fmt"
	"os"
	"path/filepath"
)

// moduleEntry is one enabled module found under the module directory.
type moduleEntry struct {
	// name is the module's directory name.
	name string
	// root is the absolute path of the module directory.
	root string
}

// enumerateModules returns the enabled modules under dir, in directory
// listing order. Entries that are not directories (after following symlinks)
// or that carry a disabled marker are filtered out.
//
// The order is unspecified but stable within a run; it determines merge
// precedence.
func enumerateModules(dir string) ([]moduleEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading module dir %s: %w", dir, err)
	}

	modules := make([]moduleEntry, 0, len(entries))

	for _, e := range entries {
		root := filepath.Join(dir, e.Name())
		if !pathIsDir(root) {
			continue
		}

		if moduleDisabled(root) {
			continue
		}

		modules = append(modules, moduleEntry{name: e.Name(), root: root})
	}

	return modules, nil
}

// moduleDisabled reports whether the module at root carries any of the
// disabled markers at its top level.
func moduleDisabled(root string) bool {
	for _, marker := range []string{DisableFileName, RemoveFileName, SkipMountFileName} {
		if pathExists(filepath.Join(root, marker)) {
			return true
		}
	}

	return false
}

// pathExists reports whether path exists, without following a final symlink.
func pathExists(path string) bool {
	_, err := os.Lstat(path)

	return err == nil
}

// pathIsDir reports whether path is a directory, following symlinks.
func pathIsDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

// pathIsSymlink reports whether path is a symbolic link.
func pathIsSymlink(path string) bool {
	info, err := os.Lstat(path)

	return err == nil && info.Mode()&os.ModeSymlink != 0
}
