//go:build linux

package magicmount

import (
	"errors"
	"path/filepath"
	"slices"
)

// ErrNoContent is returned by Compose when no enabled module contributed any
// effective content.
var ErrNoContent = errors.New("magicmount: no module contributed any content")

// Composition is the result of a successful tree build: the overlay tree, the
// build-time counters, and the modules that failed along the way.
//
// A Composition is immutable once returned; [Composition.Plan] observes it
// read-only.
type Composition struct {
	// Root is the synthetic root of the overlay tree. Its children are the
	// system node, promoted built-in partitions, and extra partitions.
	Root *Node

	// Stats are the build-time counters.
	Stats Stats

	// FailedModules lists, in first-failure order and without duplicates, the
	// modules that failed at any phase. A failed module's partial
	// contribution is retained.
	FailedModules []string

	cfg Config
	env Environment
}

// composer carries the state of one Compose call. It is exclusively owned by
// the calling goroutine for the duration of the build.
type composer struct {
	cfg Config
	env Environment

	stats  Stats
	failed []string
}

func (c *composer) debugf(format string, args ...any) {
	if c.cfg.Debugf == nil {
		return
	}

	c.cfg.Debugf("magicmount: "+format, args...)
}

// newNode allocates a Node and counts it. Every node in the tree, synthetic
// containers included, goes through here or through nodeFromFS (which calls
// here).
func (c *composer) newNode(name string, t NodeType) *Node {
	c.stats.NodesTotal++

	return newNode(name, t)
}

// markFailed records a module failure, keeping the list ordered and
// de-duplicated.
func (c *composer) markFailed(module string) {
	if slices.Contains(c.failed, module) {
		return
	}

	c.failed = append(c.failed, module)
}

// pruneEmptyDirs drops directory chains that carry no effective content: no
// non-directory descendant and no opaque directory anywhere below. It reports
// whether n itself carries content.
func pruneEmptyDirs(n *Node) bool {
	if n.Type != NodeDirectory {
		return true
	}

	kept := n.Children[:0]
	any := false

	for _, child := range n.Children {
		if pruneEmptyDirs(child) {
			kept = append(kept, child)
			any = true
		}
	}

	n.Children = kept

	return any || n.Replace
}

// Compose builds the overlay tree from the module directory.
//
// Modules are visited in enumeration order; within the shared system node the
// first module to claim a path wins. A module whose scan fails is recorded in
// [Composition.FailedModules] and the build continues with the remaining
// modules. After scanning, symlink-style partitions are reconciled, built-in
// partitions are promoted to the root, and extra partitions are attached.
//
// Compose returns [ErrNoContent] when no module contributed any effective
// content; wrap-checks with errors.Is.
func (m *MagicMount) Compose() (*Composition, error) {
	c := &composer{cfg: m.cfg, env: m.env}

	c.debugf("composing from %s", c.cfg.ModuleDir)

	root := c.newNode("", NodeDirectory)
	system := c.newNode("system", NodeDirectory)

	modules, err := enumerateModules(c.cfg.ModuleDir)
	if err != nil {
		return nil, err
	}

	hasAny := false

	for _, mod := range modules {
		sysDir := filepath.Join(mod.root, "system")
		if !pathIsDir(sysDir) {
			c.debugf("module %s has no system directory, skipping", mod.name)

			continue
		}

		c.stats.ModulesTotal++
		c.debugf("collecting module %s", mod.name)

		sub, scanErr := c.scanInto(system, sysDir, mod.name)
		if scanErr != nil {
			c.debugf("module %s failed: %v", mod.name, scanErr)
			c.markFailed(mod.name)

			continue
		}

		if sub {
			hasAny = true
		} else {
			c.debugf("module %s had no effective content", mod.name)
		}
	}

	if !hasAny {
		return nil, ErrNoContent
	}

	c.reconcilePartitions(system)

	err = c.promoteBuiltins(root, system)
	if err != nil {
		return nil, err
	}

	err = c.attachExtraPartitions(root)
	if err != nil {
		return nil, err
	}

	err = root.appendChild(system)
	if err != nil {
		return nil, internalErrorf("Compose", "attaching system to root: %v", err)
	}

	pruneEmptyDirs(root)

	c.debugf("composed %d nodes from %d modules (%d failed)",
		c.stats.NodesTotal, c.stats.ModulesTotal, len(c.failed))

	return &Composition{
		Root:          root,
		Stats:         c.stats,
		FailedModules: slices.Clone(c.failed),
		cfg:           c.cfg,
		env:           c.env,
	}, nil
}
