// Command organproj registers a source organ surface onto a reference organ
// and replays the resulting projection on new geometry.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/organ.projection/internal/version"
)

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	if err := run(flag.Arg(0), flag.Args()[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "organproj: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches one subcommand.
func run(command string, args []string, stdout, stderr io.Writer) error {
	switch command {
	case "register":
		return handleRegister(args, stdout, stderr)
	case "project":
		return handleProject(args, stdout, stderr)
	case "tissue":
		return handleTissue(args, stdout, stderr)
	case "runs":
		return handleRuns(args, stdout, stderr)
	case "migrate":
		return handleMigrate(args, stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "organproj %s\n", version.String())
		return nil
	case "help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `organproj - organ surface registration and projection

Usage: organproj <command> [options]

Commands:
  register   Register a source organ onto a target and export the projection
  project    Replay a projection on a surface (.off)
  tissue     Place an RUI tissue sample and replay a projection on its block
  runs       List recorded registration runs, or show one run's stages
  migrate    Manage the run catalogue schema (up, down, version)
  version    Show build information
  help       Show this help message

Run "organproj <command> -h" for the options of a command.

Examples:
  organproj register -source donor/Kidney_L.off -target ref/VHFLeftKidney.off \
      -catalog placements.yaml -params params.yaml -out projections -db runs.db
  organproj project -projection projections/kidney-<id> -in block.off -out block_projected.off
  organproj runs -db runs.db -id <run-id>
`)
}
