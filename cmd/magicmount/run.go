package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/SekaiMoe/magicmount/magicmount"
)

const magicmountExecutableName = "magicmount"

// defaultStagingDir is where the composed tree is staged before the final
// mount projects it onto the root.
const defaultStagingDir = "/debug_ramdisk/magicmount"

// Run is the main entry point that isolates the entire logic from global
// state like stdout/stderr. Returns exit code.
func Run(stdout, stderr io.Writer, args []string) int {
	err := checkPlatformPrerequisites()
	if err != nil {
		fprintError(stderr, err)

		return 1
	}

	flags := flag.NewFlagSet(magicmountExecutableName, flag.ContinueOnError)
	flags.Usage = func() {}
	flags.SetOutput(&strings.Builder{})

	flagHelp := flags.BoolP("help", "h", false, "Show help")
	flagVersion := flags.BoolP("version", "v", false, "Show version and exit")
	flagConfig := flags.StringP("config", "c", "", "Use specified config `file`")
	flagStaging := flags.String("staging-dir", defaultStagingDir, "Stage the composed tree under `dir`")
	flagDryRun := flags.Bool("dry-run", false, "Print the mount plan and exit without applying")
	flagDebug := flags.Bool("debug", false, "Print composition details to stderr")

	flags.String("module-dir", "", "Module directory (default: /data/adb/modules)")
	flags.String("mount-source", "", "Mount source tag (default: KSU)")
	flags.StringArray("extra-partition", nil, "Merge an additional partition (repeatable)")
	flags.Bool("enable-unmountable", false, "Mark the final mount unmountable")

	err = flags.Parse(args[1:])
	if err != nil {
		fprintError(stderr, err)
		fprintln(stderr)
		printUsage(stderr)

		return 1
	}

	if *flagVersion {
		fprintf(stdout, "%s\n", formatVersion())

		return 0
	}

	if *flagHelp {
		printUsage(stdout)

		return 0
	}

	cfg, err := LoadConfig(LoadConfigInput{
		ConfigPath: *flagConfig,
		CLIFlags:   flags,
	})
	if err != nil {
		fprintError(stderr, err)

		return 1
	}

	var debug *DebugLogger
	if *flagDebug {
		debug = NewDebugLogger(stderr)
		debug.Logf("%s", formatVersion())
	}

	mmCfg := magicmount.Config{
		ModuleDir:         cfg.ModuleDir,
		MountSource:       cfg.MountSource,
		ExtraPartitions:   cfg.ExtraPartitions,
		EnableUnmountable: cfg.EnableUnmountable != nil && *cfg.EnableUnmountable,
	}

	if debug.Enabled() {
		mmCfg.Debugf = debug.Logf
	}

	debug.Config(&mmCfg)
	debug.Section("composition")

	m, err := magicmount.New(&mmCfg)
	if err != nil {
		fprintError(stderr, err)

		return 1
	}

	comp, err := m.Compose()
	if err != nil {
		if errors.Is(err, magicmount.ErrNoContent) {
			fprintln(stderr, "magicmount: nothing to mount")

			return 0
		}

		fprintError(stderr, err)

		return 1
	}

	for _, module := range comp.FailedModules {
		fprintf(stderr, "magicmount: warning: module %s failed\n", module)
	}

	plan, err := comp.Plan(*flagStaging)
	if err != nil {
		fprintError(stderr, err)

		return 1
	}

	for _, op := range plan.Ops {
		fprintln(stdout, op.String())
	}

	debug.Composition(comp)
	debug.Plan(plan)

	// The executor that applies a plan lives outside this binary; without
	// --dry-run, make the no-op explicit so nobody mistakes a printed plan
	// for a mounted one.
	if !*flagDryRun {
		fprintln(stderr, "magicmount: no mount executor wired in, plan not applied (use --dry-run to silence this notice)")
	}

	return 0
}

const usageHelp = `magicmount - compose module overlays into a mount plan

Usage: magicmount [flags]

Composes the enabled modules' overlay contributions into a single tree and
prints the mount plan that realises it on the staging directory. Applying the
plan is left to the mount executor; --dry-run marks a run as plan-only and
suppresses the not-applied notice.

Flags:
  -h, --help                 Show help
  -v, --version              Show version and exit
  -c, --config <file>        Use specified config file
      --staging-dir <dir>    Stage the composed tree under <dir>
      --module-dir <dir>     Module directory (default: /data/adb/modules)
      --mount-source <tag>   Mount source tag (default: KSU)
      --extra-partition <p>  Merge an additional partition (repeatable)
      --enable-unmountable   Mark the final mount unmountable
      --dry-run              Print the mount plan and exit without applying
      --debug                Print composition details to stderr

Examples:
  magicmount --dry-run
  magicmount --module-dir /data/adb/modules --extra-partition my_ext
  magicmount --debug --staging-dir /debug_ramdisk/magicmount`

func printUsage(output io.Writer) {
	fprintln(output, usageHelp)
}

func fprintln(out io.Writer, a ...any) {
	_, _ = fmt.Fprintln(out, a...)
}

func fprintf(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}

func fprintError(out io.Writer, err error) {
	if isTerminal() {
		fprintln(out, "\033[31mmagicmount: error:\033[0m", err)
	} else {
		fprintln(out, "magicmount: error:", err)
	}
}

func formatVersion() string {
	if version == "source" {
		return fmt.Sprintf("magicmount (built from source, %s)", date)
	}

	return fmt.Sprintf("magicmount %s (%s, %s)", version, commit, date)
}

func isTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}

	return (stat.Mode() & os.ModeCharDevice) != 0
}

func checkPlatformPrerequisites() error {
	if runtime.GOOS != "linux" {
		return errors.New("checking platform prerequisites: requires Linux (overlay whiteouts and trusted xattrs are Linux-only)")
	}

	return nil
}
