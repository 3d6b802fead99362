package main

import "os"

// Build metadata, overridden via -ldflags at release time.
var (
	version = "source"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(Run(os.Stdout, os.Stderr, os.Args))
}
