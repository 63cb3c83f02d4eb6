package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/organ.projection/internal/bcpd"
	"github.com/banshee-data/organ.projection/internal/config"
	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/metrics"
	"github.com/banshee-data/organ.projection/internal/organ"
	"github.com/banshee-data/organ.projection/internal/pipeline"
	"github.com/banshee-data/organ.projection/internal/rigid"
	"github.com/banshee-data/organ.projection/internal/security"
	"github.com/banshee-data/organ.projection/internal/storage/sqlite"
)

// logFlags adds -v and -vv to fs.
type logFlags struct {
	verbose *bool
	trace   *bool
}

func addLogFlags(fs *flag.FlagSet) logFlags {
	return logFlags{
		verbose: fs.Bool("v", false, "Log per-stage diagnostics"),
		trace:   fs.Bool("vv", false, "Log diagnostics and replay/solver traces"),
	}
}

// apply routes ops logging to w, diag with -v and trace with -vv.
func (l logFlags) apply(w io.Writer) {
	var diag, trace io.Writer
	if *l.verbose || *l.trace {
		diag = w
	}
	if *l.trace {
		trace = w
	}
	pipeline.SetLogWriters(w, diag, trace)
	bcpd.SetLogWriters(w, diag, trace)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// required takes flag name, value pairs and reports the first empty one.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("-%s is required", pairs[i])
		}
	}
	return nil
}

func loadCatalog(path string) (organ.Catalog, error) {
	if path == "" {
		return organ.Catalog{}, nil
	}
	return organ.LoadCatalog(path)
}

func handleRegister(args []string, stdout, stderr io.Writer) error {
	env, err := config.LoadEnvironment()
	if err != nil {
		return err
	}
	fs := newFlagSet("register", stderr)
	sourcePath := fs.String("source", "", "Source organ surface (.off, required)")
	targetPath := fs.String("target", "", "Target reference organ surface (.off, required)")
	catalogPath := fs.String("catalog", "", "Placement catalog (YAML)")
	paramsPath := fs.String("params", env.Params, "Registration parameters (.json, .yaml or .yml); built-in defaults when empty")
	name := fs.String("name", "", "Projection name (default: <source>-<target>)")
	description := fs.String("description", "", "Projection description")
	outDir := fs.String("out", ".", "Directory the projection is exported under")
	dbPath := fs.String("db", env.DB, "Run catalogue database; runs are not recorded when empty")
	bcpdBin := fs.String("bcpd", env.BCPD, "BCPD executable")
	scratch := fs.String("scratch", env.ScratchDir, "Parent directory for solver scratch files (default: system temp dir)")
	k := fs.Int("k", geometry.DefaultNormalNeighbours, "Neighbours used to estimate surface normals")
	logs := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("source", *sourcePath, "target", *targetPath); err != nil {
		return err
	}
	logs.apply(stderr)

	catalog, err := loadCatalog(*catalogPath)
	if err != nil {
		return err
	}
	source, err := organ.Load(*sourcePath, catalog)
	if err != nil {
		return fmt.Errorf("load source: %w", err)
	}
	target, err := organ.Load(*targetPath, catalog)
	if err != nil {
		return fmt.Errorf("load target: %w", err)
	}

	params := config.Default()
	if *paramsPath != "" {
		if params, err = config.LoadRegistration(*paramsPath); err != nil {
			return err
		}
	}

	solver := bcpd.NewSolver(*bcpdBin)
	solver.ScratchDir = *scratch

	var (
		recorder pipeline.RunRecorder
		runs     *sqlite.RunStore
	)
	if *dbPath != "" {
		store, err := sqlite.Open(*dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		runs = store.Runs()
		recorder = runs
	}

	if *name == "" {
		*name = source.Name + "-" + target.Name
	}
	p, err := pipeline.New(pipeline.Config{
		Name:             *name,
		Description:      *description,
		Params:           params,
		Matcher:          rigid.Matcher{},
		Refiner:          rigid.PointToPlane{},
		Solver:           solver,
		Recorder:         recorder,
		NormalNeighbours: *k,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	proj, err := p.Run(ctx, source, target)
	if err != nil {
		return err
	}
	path, err := proj.Export(*outDir)
	if err != nil {
		return err
	}
	if runs != nil {
		if err := runs.SetProjectionPath(proj.ID, path); err != nil {
			fmt.Fprintf(stderr, "warning: projection path not recorded: %v\n", err)
		}
	}

	fmt.Fprintf(stdout, "projection %s written to %s\n", proj.ID, path)
	for _, m := range metrics.Names() {
		d, err := p.Metric(m)
		if err != nil {
			fmt.Fprintf(stderr, "warning: %s: %v\n", m, err)
			continue
		}
		fmt.Fprintf(stdout, "  %-10s %.6g\n", m, d)
	}
	return nil
}

func handleProject(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("project", stderr)
	projPath := fs.String("projection", "", "Projection file or export directory (required)")
	in := fs.String("in", "", "Surface to project (.off, required)")
	out := fs.String("out", "", "Output surface (.off, required)")
	logs := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("projection", *projPath, "in", *in, "out", *out); err != nil {
		return err
	}
	logs.apply(stderr)

	proj, err := pipeline.LoadProjection(*projPath)
	if err != nil {
		return err
	}
	s, err := geometry.LoadSurface(*in)
	if err != nil {
		return err
	}
	if _, err := proj.Project(s); err != nil {
		return err
	}
	if err := geometry.SaveSurface(*out, s); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "projected %d vertices with %s to %s\n", len(s.Vertices), proj.Dir(), *out)
	return nil
}

func handleTissue(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("tissue", stderr)
	projPath := fs.String("projection", "", "Projection file or export directory (required)")
	samplePath := fs.String("sample", "", "RUI sample (.json)")
	blockPath := fs.String("block", "", "Block surface already in the organ frame, in millimetres (.off), instead of -sample")
	label := fs.String("label", "", "Block label for -block (default: the file name)")
	catalogPath := fs.String("catalog", "", "Placement catalog (YAML, required)")
	targetName := fs.String("target", "", "Reference organ the block is placed on (default: from the sample)")
	outDir := fs.String("out", ".", "Directory for the projected block (.off) and its sample (.json)")
	logs := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *blockPath == "" {
		if err := required("projection", *projPath, "sample", *samplePath, "catalog", *catalogPath); err != nil {
			return err
		}
	} else {
		if *samplePath != "" {
			return fmt.Errorf("-sample and -block are mutually exclusive")
		}
		if err := required("projection", *projPath, "catalog", *catalogPath, "target", *targetName); err != nil {
			return err
		}
	}
	logs.apply(stderr)

	proj, err := pipeline.LoadProjection(*projPath)
	if err != nil {
		return err
	}
	catalog, err := organ.LoadCatalog(*catalogPath)
	if err != nil {
		return err
	}
	var block *organ.TissueBlock
	if *blockPath != "" {
		s, err := geometry.LoadSurface(*blockPath)
		if err != nil {
			return err
		}
		name := *label
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(*blockPath), filepath.Ext(*blockPath))
		}
		if block, err = organ.FromSurface(name, *targetName, s, catalog); err != nil {
			return err
		}
	} else {
		sample, err := organ.LoadSample(*samplePath)
		if err != nil {
			return err
		}
		if block, err = organ.FromSample(sample, catalog, *targetName); err != nil {
			return err
		}
	}
	if err := proj.ProjectTissue(block); err != nil {
		return err
	}

	surfacePath, err := security.OutputPath(*outDir, block.Label, ".off")
	if err != nil {
		return err
	}
	if err := geometry.SaveSurface(surfacePath, block.Surface); err != nil {
		return err
	}
	jsonPath, err := block.WriteSample(*outDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "tissue block %s written to %s and %s\n", block.Label, surfacePath, jsonPath)
	return nil
}

func handleRuns(args []string, stdout, stderr io.Writer) error {
	env, err := config.LoadEnvironment()
	if err != nil {
		return err
	}
	fs := newFlagSet("runs", stderr)
	dbPath := fs.String("db", env.DB, "Run catalogue database (required)")
	limit := fs.Int("limit", 20, "Maximum runs to list (0 for all)")
	id := fs.String("id", "", "Show the stages of one run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("db", *dbPath); err != nil {
		return err
	}

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	runs := store.Runs()

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if *id != "" {
		run, err := runs.GetRun(*id)
		if err != nil {
			return err
		}
		stages, err := runs.Stages(*id)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "run\t%s\nname\t%s\nsource\t%s\ntarget\t%s\nstatus\t%s\n", run.RunID, run.Name, run.Source, run.Target, run.Status)
		if run.Error != "" {
			fmt.Fprintf(tw, "error\t%s\n", run.Error)
		}
		if run.ProjectionPath != "" {
			fmt.Fprintf(tw, "projection\t%s\n", run.ProjectionPath)
		}
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "#\tSTAGE\tDURATION\tMETRICS\tERROR")
		for _, s := range stages {
			fmt.Fprintf(tw, "%d\t%s\t%v\t%s\t%s\n", s.Ordinal, s.Stage, s.Duration.Round(time.Microsecond), formatMetrics(s.Metrics), s.Error)
		}
		return nil
	}

	list, err := runs.ListRuns(*limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "RUN ID\tNAME\tSOURCE\tTARGET\tSTATUS\tCREATED")
	for _, r := range list {
		created := time.Unix(0, r.CreatedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Name, r.Source, r.Target, r.Status, created)
	}
	return nil
}

func formatMetrics(m map[string]float64) string {
	if len(m) == 0 {
		return "-"
	}
	var out []byte
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if len(out) > 0 {
			out = append(out, ' ')
		}
		out = append(out, k...)
		out = append(out, '=')
		out = strconv.AppendFloat(out, m[k], 'g', 4, 64)
	}
	return string(out)
}

func handleMigrate(args []string, stdout, stderr io.Writer) error {
	env, err := config.LoadEnvironment()
	if err != nil {
		return err
	}
	fs := newFlagSet("migrate", stderr)
	dbPath := fs.String("db", env.DB, "Run catalogue database (required)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: organproj migrate -db <path> [up|down|version|force <n>]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("db", *dbPath); err != nil {
		return err
	}
	action := "version"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	store, err := sqlite.OpenRaw(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	switch action {
	case "up":
		if err := store.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := store.MigrateDown(); err != nil {
			return err
		}
	case "force":
		if fs.NArg() < 2 {
			return errors.New("migrate force needs a version")
		}
		v, err := strconv.Atoi(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", fs.Arg(1), err)
		}
		if err := store.MigrateForce(v); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}

	version, dirty, err := store.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "schema version %d", version)
	if dirty {
		fmt.Fprint(stdout, " (dirty)")
	}
	fmt.Fprintln(stdout)
	return nil
}
