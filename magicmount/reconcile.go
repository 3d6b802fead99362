//go:build linux

package magicmount

import (
	"os"
	"path/filepath"
	"strings"
)

// On many devices a satellite partition appears under system/ as a symlink at
// the real partition's location (for example /system/vendor -> ../vendor).
// When a module contributes real content under system/vendor/, honoring the
// symlink would misdirect the overlay. The reconciler rewrites such symlink
// nodes into directory nodes assembled from the modules' own partition
// subtrees, and promotion then moves the partition node to the root so the
// tree matches the live system layout.

// reconcilePartitions runs symlink reconciliation for every built-in
// partition and every registered extra partition. A failure on one partition
// is logged and the remaining partitions are still processed.
func (c *composer) reconcilePartitions(system *Node) {
	for _, part := range builtinPartitions {
		err := c.reconcilePartition(system, part)
		if err != nil {
			c.debugf("reconciling %s: %v", part, err)
		}
	}

	for _, part := range c.cfg.ExtraPartitions {
		err := c.reconcilePartition(system, part)
		if err != nil {
			c.debugf("reconciling extra partition %s: %v", part, err)
		}
	}
}

// reconcilePartition rewrites the symlink node at system/<part> into a fresh
// directory node scanned from all enabled modules' <part>/ subtrees.
//
// The rewrite only happens when all of the following hold: the child exists
// and is a symlink, its target points where the device convention expects,
// some enabled module owns a real <part>/ directory, and the cross-module
// scan yields effective content. Otherwise the symlink is left untouched.
func (c *composer) reconcilePartition(system *Node, part string) error {
	child := system.findChild(part)
	if child == nil || child.Type != NodeSymlink || child.SourcePath == "" {
		return nil
	}

	target, err := os.Readlink(child.SourcePath)
	if err != nil {
		c.debugf("readlink %s: %v", child.SourcePath, err)

		return nil
	}

	if !compatibleSymlinkTarget(target, part, c.cfg.ModuleDir, child.SourceModule) {
		c.debugf("symlink system/%s -> %s is not compatible, keeping", part, target)

		return nil
	}

	firstModule, err := c.findRealPartitionDir(part)
	if err != nil {
		return err
	}

	if firstModule == "" {
		c.debugf("no module owns a real %s directory, keeping symlink", part)

		return nil
	}

	fresh := c.newNode(part, NodeDirectory)
	fresh.SourceModule = firstModule

	hasAny, err := c.partitionScanFromModules(part, fresh)
	if err != nil {
		return err
	}

	if !hasAny {
		c.debugf("no content for %s, keeping symlink", part)

		return nil
	}

	system.detachChild(part)

	err = system.appendChild(fresh)
	if err != nil {
		return internalErrorf("reconcilePartition", "%v", err)
	}

	c.debugf("replaced symlink system/%s with directory node (first module %s)", part, firstModule)

	return nil
}

// compatibleSymlinkTarget reports whether a symlink target points at the
// partition it is expected to alias: either ../<part> relative to system/, or
// the absolute <moduleDir>/<module>/<part> inside the contributing module.
// Trailing slashes on the target are tolerated; the comparison is otherwise
// exact.
func compatibleSymlinkTarget(target, part, moduleDir, module string) bool {
	trimmed := strings.TrimRight(target, "/")
	if trimmed == "" {
		return false
	}

	if trimmed == "../"+part {
		return true
	}

	return module != "" && trimmed == filepath.Join(moduleDir, module, part)
}

// findRealPartitionDir returns the first enabled module (in enumeration
// order) that owns a real directory at <module>/<part>, or "" if none does.
func (c *composer) findRealPartitionDir(part string) (string, error) {
	modules, err := enumerateModules(c.cfg.ModuleDir)
	if err != nil {
		return "", err
	}

	for _, mod := range modules {
		if pathIsDir(filepath.Join(mod.root, part)) {
			return mod.name, nil
		}
	}

	return "", nil
}

// partitionScanFromModules scans <module>/<part> of every enabled module into
// parent, first-writer-wins as usual, and reports whether any module
// contributed effective content.
//
// A scan failure on one module marks that module failed and the remaining
// modules are still scanned.
func (c *composer) partitionScanFromModules(part string, parent *Node) (bool, error) {
	modules, err := enumerateModules(c.cfg.ModuleDir)
	if err != nil {
		return false, err
	}

	hasAny := false

	for _, mod := range modules {
		partPath := filepath.Join(mod.root, part)
		if !pathIsDir(partPath) {
			continue
		}

		sub, err := c.scanInto(parent, partPath, mod.name)
		if err != nil {
			c.debugf("scanning %s of module %s: %v", part, mod.name, err)
			c.markFailed(mod.name)

			continue
		}

		if sub {
			hasAny = true
		}
	}

	return hasAny, nil
}

// promoteBuiltins moves built-in partition nodes from under system/ to the
// root when the live system has them as real root directories. For vendor,
// system_ext and product the live /system/<part> must additionally be a
// symlink; odm is promoted unconditionally when /odm exists.
//
// A failed attach is fatal to the whole build.
func (c *composer) promoteBuiltins(root, system *Node) error {
	for _, part := range builtinPartitions {
		needSymlink := part != "odm"

		rp := filepath.Join(c.env.LiveRoot, part)
		sp := filepath.Join(c.env.LiveRoot, "system", part)

		if !pathIsDir(rp) {
			c.debugf("not promoting %s: %s is not a directory", part, rp)

			continue
		}

		if needSymlink && !pathIsSymlink(sp) {
			c.debugf("not promoting %s: %s is not a symlink", part, sp)

			continue
		}

		child := system.detachChild(part)
		if child == nil {
			continue
		}

		err := root.appendChild(child)
		if err != nil {
			return internalErrorf("promoteBuiltins", "attaching %s to root: %v", part, err)
		}

		c.debugf("promoted %s from system/ to root", part)
	}

	return nil
}

// attachExtraPartitions builds a directory node for each registered extra
// partition whose live root directory exists, scanning every enabled module's
// subtree. Nodes with no effective content are dropped.
func (c *composer) attachExtraPartitions(root *Node) error {
	for _, part := range c.cfg.ExtraPartitions {
		rp := filepath.Join(c.env.LiveRoot, part)
		if !pathIsDir(rp) {
			c.debugf("skipping extra partition %s: %s is not a directory", part, rp)

			continue
		}

		node := c.newNode(part, NodeDirectory)

		hasAny, err := c.partitionScanFromModules(part, node)
		if err != nil {
			return err
		}

		if !hasAny {
			c.debugf("no content for extra partition %s, dropping", part)

			continue
		}

		err = root.appendChild(node)
		if err != nil {
			return internalErrorf("attachExtraPartitions", "attaching %s to root: %v", part, err)
		}

		c.debugf("attached extra partition %s to root", part)
	}

	return nil
}
