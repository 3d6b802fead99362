//go:build linux

package magicmount_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/SekaiMoe/magicmount/magicmount"
)

// collectExecutor records applied ops, optionally failing at a given path.
type collectExecutor struct {
	applied []magicmount.Op
	failAt  string
	err     error
}

func (e *collectExecutor) Apply(op magicmount.Op) error {
	if e.failAt != "" && op.Path == e.failAt {
		return e.err
	}

	e.applied = append(e.applied, op)

	return nil
}

func Test_Plan_Emits_Ops_In_Parent_First_Order(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	pathA := env.writeModuleFile(t, "modA", "system/etc/a.conf", "a")
	pathB := env.writeModuleFile(t, "modB", "system/etc/b.conf", "b")

	comp := env.mustCompose(t, magicmount.Config{})

	plan, err := comp.Plan("/stage")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	want := []magicmount.Op{
		{Kind: magicmount.OpMkdir, Path: "/stage"},
		{Kind: magicmount.OpMkdir, Path: "/stage/system"},
		{Kind: magicmount.OpMkdir, Path: "/stage/system/etc"},
		{Kind: magicmount.OpBind, Source: pathA, Path: "/stage/system/etc/a.conf"},
		{Kind: magicmount.OpBind, Source: pathB, Path: "/stage/system/etc/b.conf"},
		{Kind: magicmount.OpMount, Source: "/stage", Path: env.liveRoot, Tag: "KSU"},
	}

	if diff := cmp.Diff(want, plan.Ops); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}

	if plan.Mounted != 2 || plan.Skipped != 3 || plan.Whiteouts != 0 {
		t.Errorf("counters = (%d bound, %d dirs, %d whiteouts), want (2, 3, 0)",
			plan.Mounted, plan.Skipped, plan.Whiteouts)
	}
}

func Test_Plan_Is_Deterministic(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.writeModuleFile(t, "modA", "system/etc/a.conf", "a")
	env.writeModuleFile(t, "modB", "system/bin/tool", "t")

	comp := env.mustCompose(t, magicmount.Config{})

	first, err := comp.Plan("/stage")
	if err != nil {
		t.Fatalf("first Plan: %v", err)
	}

	second, err := comp.Plan("/stage")
	if err != nil {
		t.Fatalf("second Plan: %v", err)
	}

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("plans differ (-first +second):\n%s", diff)
	}
}

func Test_Plan_Marks_Opaque_Directory_After_Mkdir(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.writeModuleFile(t, "modA", "system/fonts/.replace", "")
	env.writeModuleFile(t, "modA", "system/fonts/A.ttf", "A")

	comp := env.mustCompose(t, magicmount.Config{})

	plan, err := comp.Plan("/stage")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	mkdirAt, opaqueAt := -1, -1

	for i, op := range plan.Ops {
		if op.Path != "/stage/system/fonts" {
			continue
		}

		switch op.Kind {
		case magicmount.OpMkdir:
			mkdirAt = i
		case magicmount.OpOpaque:
			opaqueAt = i
		}
	}

	if mkdirAt < 0 || opaqueAt < 0 {
		t.Fatalf("missing mkdir (%d) or opaque (%d) op for fonts", mkdirAt, opaqueAt)
	}

	if opaqueAt != mkdirAt+1 {
		t.Errorf("opaque at %d, want immediately after mkdir at %d", opaqueAt, mkdirAt)
	}
}

func Test_Plan_Emits_Whiteout_Op(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.writeModuleDir(t, "modA", "system/etc")
	mustWhiteout(t, filepath.Join(env.moduleDir, "modA", "system", "etc", "removed.conf"))

	comp := env.mustCompose(t, magicmount.Config{})

	plan, err := comp.Plan("/stage")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	found := false

	for _, op := range plan.Ops {
		if op.Kind == magicmount.OpWhiteout && op.Path == "/stage/system/etc/removed.conf" {
			found = true
		}
	}

	if !found {
		t.Fatalf("no whiteout op for removed.conf in %v", plan.Ops)
	}

	if plan.Whiteouts != 1 {
		t.Errorf("Whiteouts = %d, want 1", plan.Whiteouts)
	}
}

func Test_Plan_Final_Mount_Carries_Configuration(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.writeModuleFile(t, "modA", "system/etc/a.conf", "a")

	comp := env.mustCompose(t, magicmount.Config{
		MountSource:       "magic",
		EnableUnmountable: true,
	})

	plan, err := comp.Plan("/stage")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	last := plan.Ops[len(plan.Ops)-1]

	want := magicmount.Op{
		Kind:        magicmount.OpMount,
		Source:      "/stage",
		Path:        env.liveRoot,
		Tag:         "magic",
		Unmountable: true,
	}

	if diff := cmp.Diff(want, last); diff != "" {
		t.Errorf("final op mismatch (-want +got):\n%s", diff)
	}
}

func Test_Plan_Rejects_Relative_StagingRoot(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.writeModuleFile(t, "modA", "system/etc/a.conf", "a")

	comp := env.mustCompose(t, magicmount.Config{})

	_, err := comp.Plan("stage")
	if err == nil {
		t.Fatalf("Plan accepted a relative staging root")
	}
}

func Test_Plan_Apply_Stops_At_First_Failure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.writeModuleFile(t, "modA", "system/etc/a.conf", "a")
	env.writeModuleFile(t, "modA", "system/etc/b.conf", "b")

	comp := env.mustCompose(t, magicmount.Config{})

	plan, err := comp.Plan("/stage")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	boom := errors.New("boom")
	exec := &collectExecutor{failAt: "/stage/system/etc/a.conf", err: boom}

	err = plan.Apply(exec)
	if !errors.Is(err, boom) {
		t.Fatalf("Apply error = %v, want wrapped boom", err)
	}

	// Everything before the failing bind was applied, nothing after.
	if got := len(exec.applied); got != 3 {
		t.Errorf("applied %d ops before failure, want 3", got)
	}

	exec = &collectExecutor{}

	err = plan.Apply(exec)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if diff := cmp.Diff(plan.Ops, exec.applied); diff != "" {
		t.Errorf("applied ops mismatch (-plan +applied):\n%s", diff)
	}
}
