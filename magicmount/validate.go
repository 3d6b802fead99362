//go:build linux

package magicmount

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// builtinPartitions are the partitions that are always reconciled and
// promoted, in processing order.
var builtinPartitions = []string{"vendor", "system_ext", "product", "odm"}

// extraPartitionBlacklist rejects extra partition names whose first path
// segment is system-reserved, plus the built-in partitions (those are always
// handled and must not be registered as extras).
var extraPartitionBlacklist = []string{
	"bin", "etc", "data", "data_mirror", "sdcard",
	"tmp", "dev", "sys", "mnt", "proc", "d", "test",
	"product", "vendor", "system_ext", "odm",
}

// validateConfigAndEnv validates user-controlled configuration and environment.
//
// This function is the primary input boundary for the package. The rest of
// the implementation assumes that validated fields satisfy their basic
// invariants (non-empty, absolute paths where required, extra partition names
// registered). Any violation past this point indicates a bug.
//
// Extra partition names are normalized in place: each entry is replaced by
// its trimmed form.
func validateConfigAndEnv(cfg *Config, env Environment) error {
	errs := make([]error, 0, 4)

	if !filepath.IsAbs(cfg.ModuleDir) {
		errs = append(errs, fmt.Errorf("module dir %q is not absolute", cfg.ModuleDir))
	}

	if strings.TrimSpace(cfg.MountSource) == "" {
		errs = append(errs, errors.New("mount source is empty"))
	}

	if !filepath.IsAbs(env.LiveRoot) {
		errs = append(errs, fmt.Errorf("environment LiveRoot %q is not absolute", env.LiveRoot))
	}

	for i, name := range cfg.ExtraPartitions {
		trimmed, err := registerExtraPartition(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("extra partition %d: %w", i, err))

			continue
		}

		cfg.ExtraPartitions[i] = trimmed
	}

	return errors.Join(errs...)
}

// registerExtraPartition validates a single extra partition name and returns
// the trimmed form to store.
//
// The blacklist check applies to the first path segment after stripping any
// leading slashes, but the stored name is the full trimmed input. Duplicates
// are not rejected here; callers that care filter them.
func registerExtraPartition(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("name is empty")
	}

	segment := strings.TrimLeft(trimmed, "/")
	if i := strings.IndexByte(segment, '/'); i >= 0 {
		segment = segment[:i]
	}

	if segment == "" {
		return "", fmt.Errorf("name %q has no partition segment", trimmed)
	}

	for _, reserved := range extraPartitionBlacklist {
		if segment == reserved {
			return "", fmt.Errorf("name %q is reserved", trimmed)
		}
	}

	return trimmed, nil
}
