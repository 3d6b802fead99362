//go:build linux

// Package magicmount composes filesystem overlay contributions from on-device
// modules into a single virtual root and emits a mount plan that projects that
// root onto the running system.
//
// Each module owns a subtree shaped like the live root (conventionally a
// `system/` directory, plus satellite partitions such as `vendor/`,
// `system_ext/`, `product/` and `odm/`). The package decides what every path
// in the final view should look like: which module wins a contested path,
// which directories merge, which are opaque replacements, and which entries
// are whiteouts.
//
// # Planning vs Execution
//
// The package never mounts anything itself. [MagicMount.Compose] walks the
// module directory and builds an in-memory overlay tree; [Composition.Plan]
// turns that tree into a deterministic sequence of [Op] values for an external
// [Executor] to apply. Composition is a snapshot of the module directory at
// the time of the call; if modules change on disk, compose again.
//
// # Platform
//
// This package is Linux-only (see the build tag above). Whiteouts are
// character devices with device id 0, and opaque directories carry the
// trusted overlayfs xattr, both of which only make sense on Linux.
//
// Example:
//
//	m, err := magicmount.New(&magicmount.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	comp, err := m.Compose()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	plan, err := comp.Plan("/debug_ramdisk/magicmount")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for _, op := range plan.Ops {
//		fmt.Println(op)
//	}
package magicmount

import (
	"fmt"
	"slices"
)

// Sentinel names recognized inside module directories.
const (
	// DisableFileName marks a module as disabled.
	DisableFileName = "disable"
	// RemoveFileName marks a module as pending removal; treated as disabled.
	RemoveFileName = "remove"
	// SkipMountFileName excludes a module from mounting; treated as disabled.
	SkipMountFileName = "skip_mount"

	// ReplaceDirXattr is the overlayfs xattr that marks a directory opaque.
	ReplaceDirXattr = "trusted.overlay.opaque"
	// ReplaceDirFileName is the sentinel file that marks a directory opaque.
	ReplaceDirFileName = ".replace"
)

// Defaults applied by New when the corresponding Config field is empty.
const (
	// DefaultModuleDir is the conventional on-device module directory.
	DefaultModuleDir = "/data/adb/modules"
	// DefaultMountSource is the tag used for the final mount operation.
	DefaultMountSource = "KSU"
)

// MagicMount is a validated composer for a module directory.
//
// A MagicMount is cheap to construct; the expensive filesystem walking happens
// in [MagicMount.Compose]. Construction deep-copies the Config, so later
// modifications to the passed value do not affect the composer.
//
// A MagicMount may be reused for several Compose calls; each call observes the
// module directory afresh and returns an independent [Composition].
type MagicMount struct {
	cfg Config
	env Environment
}

// Config configures composition behavior.
//
// The zero value is a usable default: modules are read from
// [DefaultModuleDir], the final mount is tagged [DefaultMountSource], no extra
// partitions are merged, and debug output is discarded.
type Config struct {
	// ModuleDir is the absolute path housing all modules.
	// If empty, DefaultModuleDir is used.
	ModuleDir string

	// MountSource is the tag the executor uses for mount source naming.
	// If empty, DefaultMountSource is used.
	MountSource string

	// ExtraPartitions lists additional non-built-in partitions to merge.
	//
	// Names are trimmed of ASCII whitespace during construction. A name whose
	// first path segment is system-reserved (or names a built-in partition,
	// which is always handled) is rejected by New. Duplicates are kept.
	ExtraPartitions []string

	// EnableUnmountable marks the final mount operation as unmountable so the
	// executor can tear it down selectively later.
	EnableUnmountable bool

	// Debugf receives debug messages from composition.
	Debugf Debugf
}

// Debugf receives debug messages from composition. Plan emission does not
// log.
//
// The function should be safe to call from any goroutine.
type Debugf func(format string, args ...any)

// Stats holds the counters accumulated while building an overlay tree.
type Stats struct {
	// ModulesTotal counts enabled modules that own a system/ directory.
	ModulesTotal int
	// NodesTotal counts every Node ever created, including synthetic nodes
	// and nodes later replaced during reconciliation.
	NodesTotal int
	// NodesFail counts entries whose metadata could not be read. Entries of
	// an unsupported file type are skipped without being counted here.
	NodesFail int
}

// New constructs a MagicMount using the environment of the current process
// (see [DefaultEnvironment]).
func New(cfg *Config) (*MagicMount, error) {
	return NewWithEnvironment(cfg, DefaultEnvironment())
}

// NewWithEnvironment constructs a MagicMount using an explicit environment.
//
// This is useful for testing or embedding, when the composer should probe a
// different root than "/" for live partition directories and symlinks.
func NewWithEnvironment(cfg *Config, env Environment) (*MagicMount, error) {
	clonedCfg := cloneConfig(cfg)

	if clonedCfg.ModuleDir == "" {
		clonedCfg.ModuleDir = DefaultModuleDir
	}

	if clonedCfg.MountSource == "" {
		clonedCfg.MountSource = DefaultMountSource
	}

	if env.LiveRoot == "" {
		env.LiveRoot = "/"
	}

	err := validateConfigAndEnv(&clonedCfg, env)
	if err != nil {
		return nil, fmt.Errorf("magicmount: validating: %w", err)
	}

	return &MagicMount{cfg: clonedCfg, env: env}, nil
}

// cloneConfig returns a deep copy of cfg. Slices are cloned so modifications
// to the copy don't affect the original.
func cloneConfig(cfg *Config) Config {
	out := *cfg
	out.ExtraPartitions = slices.Clone(cfg.ExtraPartitions)

	return out
}

// internalErrorf reports an internal invariant violation.
//
// These errors indicate a bug in this package rather than invalid caller
// input or a hostile module directory.
func internalErrorf(op, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)

	if op == "" {
		return fmt.Errorf("magicmount: internal error: %s", detail)
	}

	return fmt.Errorf("magicmount: internal error: %s: %s", op, detail)
}
