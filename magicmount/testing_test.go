//go:build linux

package magicmount_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/SekaiMoe/magicmount/magicmount"
)

// testEnv holds the temp directories one composition test works against.
type testEnv struct {
	moduleDir string
	liveRoot  string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	return testEnv{moduleDir: t.TempDir(), liveRoot: t.TempDir()}
}

// writeModuleFile creates moduleDir/module/rel with the given contents,
// creating parent directories as needed.
func (e testEnv) writeModuleFile(t *testing.T, module, rel, contents string) string {
	t.Helper()

	path := filepath.Join(e.moduleDir, module, rel)
	mustCreateDir(t, filepath.Dir(path))
	mustWriteFile(t, path, []byte(contents), 0o644)

	return path
}

// writeModuleDir creates moduleDir/module/rel as a directory.
func (e testEnv) writeModuleDir(t *testing.T, module, rel string) string {
	t.Helper()

	path := filepath.Join(e.moduleDir, module, rel)
	mustCreateDir(t, path)

	return path
}

// writeModuleSymlink creates moduleDir/module/rel as a symlink to target.
func (e testEnv) writeModuleSymlink(t *testing.T, module, rel, target string) string {
	t.Helper()

	path := filepath.Join(e.moduleDir, module, rel)
	mustCreateDir(t, filepath.Dir(path))
	mustSymlink(t, target, path)

	return path
}

// mustCompose builds a composer for the env and composes, failing the test on
// any error.
func (e testEnv) mustCompose(t *testing.T, cfg magicmount.Config) *magicmount.Composition {
	t.Helper()

	comp, err := e.compose(t, cfg)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	return comp
}

func (e testEnv) compose(t *testing.T, cfg magicmount.Config) (*magicmount.Composition, error) {
	t.Helper()

	cfg.ModuleDir = e.moduleDir

	m, err := magicmount.NewWithEnvironment(&cfg, magicmount.Environment{LiveRoot: e.liveRoot})
	if err != nil {
		t.Fatalf("NewWithEnvironment: %v", err)
	}

	return m.Compose()
}

func mustCreateDir(t *testing.T, path string) {
	t.Helper()

	err := os.MkdirAll(path, 0o755)
	if err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path string, data []byte, perm os.FileMode) {
	t.Helper()

	err := os.WriteFile(path, data, perm)
	if err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mustSymlink(t *testing.T, target, link string) {
	t.Helper()

	err := os.Symlink(target, link)
	if err != nil {
		t.Fatalf("symlink %s -> %s: %v", link, target, err)
	}
}

// mustWhiteout creates a whiteout (char device, device id 0) at path,
// skipping the test when the environment lacks mknod privileges.
func mustWhiteout(t *testing.T, path string) {
	t.Helper()

	err := unix.Mknod(path, unix.S_IFCHR|0o600, 0)
	if err != nil {
		if errors.Is(err, unix.EPERM) {
			t.Skipf("mknod %s: %v (needs CAP_MKNOD)", path, err)
		}

		t.Fatalf("mknod %s: %v", path, err)
	}
}

// mustSetOpaqueXattr marks the directory at path opaque via the trusted
// overlayfs xattr, skipping the test when the environment does not allow it.
func mustSetOpaqueXattr(t *testing.T, path string) {
	t.Helper()

	err := unix.Lsetxattr(path, "trusted.overlay.opaque", []byte("y"), 0)
	if err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EACCES) {
			t.Skipf("setxattr %s: %v (needs CAP_SYS_ADMIN)", path, err)
		}

		t.Fatalf("setxattr %s: %v", path, err)
	}
}

// mustChild returns the named child of n, failing the test if absent.
func mustChild(t *testing.T, n *magicmount.Node, name string) *magicmount.Node {
	t.Helper()

	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}

	t.Fatalf("node %q has no child %q (children: %v)", n.Name, name, childNames(n))

	return nil
}

// mustNoChild asserts n has no child with the given name.
func mustNoChild(t *testing.T, n *magicmount.Node, name string) {
	t.Helper()

	for _, c := range n.Children {
		if c.Name == name {
			t.Fatalf("node %q unexpectedly has child %q", n.Name, name)
		}
	}
}

func childNames(n *magicmount.Node) []string {
	names := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		names = append(names, c.Name)
	}

	return names
}
