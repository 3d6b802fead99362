//go:build linux

package magicmount

// This file contains the mount plan emitter.
//
// The emitter turns a Composition into a deterministic list of primitive
// operations for an external executor. It is a pure function of the tree and
// the configuration: it never touches the filesystem, and emitting the same
// Composition twice yields identical plans.

import (
	"fmt"
	"path/filepath"
)

// OpKind selects a primitive mount plan operation.
//
// The zero value is invalid.
type OpKind int

const (
	// OpBind bind-mounts a module file or symlink onto its staging path.
	OpBind OpKind = iota + 1

	// OpMkdir creates a staging directory.
	OpMkdir

	// OpOpaque marks a staging directory as an opaque replacement, shadowing
	// the lower layer instead of merging with it.
	OpOpaque

	// OpWhiteout places a deletion marker at the staging path.
	OpWhiteout

	// OpMount is the final step: mount the staging root onto the target root.
	OpMount
)

// String returns a stable, human-readable name for an OpKind.
func (k OpKind) String() string {
	switch k {
	case OpBind:
		return "bind"
	case OpMkdir:
		return "mkdir"
	case OpOpaque:
		return "opaque"
	case OpWhiteout:
		return "whiteout"
	case OpMount:
		return "mount"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Op is a single primitive operation in a mount plan.
type Op struct {
	// Kind selects the operation.
	Kind OpKind

	// Source is the absolute module path to bind for OpBind, and the staging
	// root for OpMount. Empty otherwise.
	Source string

	// Path is the staging path the operation acts on. For OpMount it is the
	// target root the staging tree is projected onto.
	Path string

	// Tag is the mount source tag; set only for OpMount.
	Tag string

	// Unmountable marks the final mount for selective teardown; set only for
	// OpMount, from Config.EnableUnmountable.
	Unmountable bool
}

// String renders the operation the way the CLI prints it.
func (o Op) String() string {
	switch o.Kind {
	case OpBind:
		return fmt.Sprintf("bind %s -> %s", o.Source, o.Path)
	case OpMount:
		return fmt.Sprintf("mount %s -> %s source=%s unmountable=%t", o.Source, o.Path, o.Tag, o.Unmountable)
	default:
		return fmt.Sprintf("%s %s", o.Kind, o.Path)
	}
}

// Plan is an ordered sequence of operations plus emission counters.
//
// Parent directory operations always precede operations on their children,
// and the final OpMount is always last.
type Plan struct {
	// Ops are the operations, in application order.
	Ops []Op

	// Mounted counts emitted bind operations.
	Mounted int

	// Skipped counts directory nodes that needed no bind (mkdir only).
	Skipped int

	// Whiteouts counts emitted whiteout operations.
	Whiteouts int
}

// Executor applies primitive operations to the system. Implementations own
// the actual mount, bind and xattr syscalls; this package never performs
// them.
type Executor interface {
	Apply(op Op) error
}

// Apply feeds every operation to exec in order, stopping at the first
// failure. There is no rollback once application starts.
func (p *Plan) Apply(exec Executor) error {
	for _, op := range p.Ops {
		err := exec.Apply(op)
		if err != nil {
			return fmt.Errorf("applying %s at %s: %w", op.Kind, op.Path, err)
		}
	}

	return nil
}

// Plan emits the mount plan that realises the composition on a writable
// staging root. stagingRoot must be absolute.
func (comp *Composition) Plan(stagingRoot string) (*Plan, error) {
	if comp.Root == nil {
		return nil, internalErrorf("Plan", "composition has no tree")
	}

	if !filepath.IsAbs(stagingRoot) {
		return nil, fmt.Errorf("staging root %q is not absolute", stagingRoot)
	}

	e := &emitter{}

	err := e.emitNode(comp.Root, filepath.Clean(stagingRoot))
	if err != nil {
		return nil, err
	}

	e.plan.Ops = append(e.plan.Ops, Op{
		Kind:        OpMount,
		Source:      filepath.Clean(stagingRoot),
		Path:        comp.env.LiveRoot,
		Tag:         comp.cfg.MountSource,
		Unmountable: comp.cfg.EnableUnmountable,
	})

	return &e.plan, nil
}

type emitter struct {
	plan Plan
}

func (e *emitter) emitNode(n *Node, staging string) error {
	switch n.Type {
	case NodeDirectory:
		e.plan.Ops = append(e.plan.Ops, Op{Kind: OpMkdir, Path: staging})

		if n.Replace {
			e.plan.Ops = append(e.plan.Ops, Op{Kind: OpOpaque, Path: staging})
		}

		e.plan.Skipped++

		for _, child := range n.Children {
			err := e.emitNode(child, filepath.Join(staging, child.Name))
			if err != nil {
				return err
			}
		}

		return nil
	case NodeRegular, NodeSymlink:
		e.plan.Ops = append(e.plan.Ops, Op{Kind: OpBind, Source: n.SourcePath, Path: staging})
		e.plan.Mounted++

		return nil
	case NodeWhiteout:
		e.plan.Ops = append(e.plan.Ops, Op{Kind: OpWhiteout, Path: staging})
		e.plan.Whiteouts++

		return nil
	default:
		return internalErrorf("emitNode", "node %q has invalid type %s", n.Name, n.Type)
	}
}
