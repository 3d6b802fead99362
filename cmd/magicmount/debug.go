package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/SekaiMoe/magicmount/magicmount"
)

// DebugLogger renders composition diagnostics on stderr for the --debug flag.
// A nil logger is disabled and all methods are no-ops, so call sites need no
// guards.
type DebugLogger struct {
	output io.Writer
}

// NewDebugLogger creates a debug logger writing to output.
func NewDebugLogger(output io.Writer) *DebugLogger {
	return &DebugLogger{output: output}
}

// Enabled returns true if debug logging is enabled.
func (d *DebugLogger) Enabled() bool {
	return d != nil && d.output != nil
}

// Logf outputs a formatted debug message. Its signature matches
// [magicmount.Debugf], so an enabled logger doubles as the library's debug
// sink.
func (d *DebugLogger) Logf(format string, args ...any) {
	if !d.Enabled() {
		return
	}

	_, _ = fmt.Fprintf(d.output, format+"\n", args...)
}

// Section outputs a section header.
func (d *DebugLogger) Section(name string) {
	if !d.Enabled() {
		return
	}

	_, _ = fmt.Fprintf(d.output, "\n-- %s --\n", name)
}

// Config outputs the effective composition settings.
func (d *DebugLogger) Config(cfg *magicmount.Config) {
	if !d.Enabled() {
		return
	}

	moduleDir := cfg.ModuleDir
	if moduleDir == "" {
		moduleDir = magicmount.DefaultModuleDir
	}

	mountSource := cfg.MountSource
	if mountSource == "" {
		mountSource = magicmount.DefaultMountSource
	}

	extras := "(none)"
	if len(cfg.ExtraPartitions) > 0 {
		extras = strings.Join(cfg.ExtraPartitions, ", ")
	}

	d.Section("config")
	d.Logf("  module dir: %s", moduleDir)
	d.Logf("  mount source: %s", mountSource)
	d.Logf("  extra partitions: %s", extras)
	d.Logf("  enable unmountable: %t", cfg.EnableUnmountable)
}

// Composition outputs the build-time counters and failed modules.
func (d *DebugLogger) Composition(comp *magicmount.Composition) {
	if !d.Enabled() {
		return
	}

	d.Section("stats")
	d.Logf("  modules: %d (%d failed)", comp.Stats.ModulesTotal, len(comp.FailedModules))
	d.Logf("  nodes: %d (%d failed entries)", comp.Stats.NodesTotal, comp.Stats.NodesFail)

	for _, module := range comp.FailedModules {
		d.Logf("  failed module: %s", module)
	}
}

// Plan outputs the emission counters.
func (d *DebugLogger) Plan(plan *magicmount.Plan) {
	if !d.Enabled() {
		return
	}

	d.Logf("  plan: %d bound, %d directories, %d whiteouts", plan.Mounted, plan.Skipped, plan.Whiteouts)
}
