package bcpd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/config"
	"github.com/banshee-data/organ.projection/internal/fsutil"
	"github.com/banshee-data/organ.projection/internal/registration"
	"github.com/banshee-data/organ.projection/internal/transform"
)

// DefaultBinary is the executable name looked up on PATH when Solver.Binary
// is empty.
const DefaultBinary = "bcpd"

// Input and output file names inside the scratch directory. The solver
// writes its outputs with its default "output_" prefix.
const (
	sourceFile       = "source.txt"
	targetFile       = "target.txt"
	outDeformed      = "output_u.txt"
	outProxy         = "output_normY.txt"
	outTranslation   = "output_t.txt"
	outScale         = "output_s.txt"
	outRotation      = "output_r.txt"
	outRegistered    = "output_y.txt"
	outInterpolated  = "output_y.interpolated.txt"
	scratchPattern   = "bcpd-*"
	saveOutputsFlags = "yxuveTY"
)

// SolverError reports a failed solver run with the combined output of the
// executable when there is one.
type SolverError struct {
	Err    error
	Output []byte
}

func (e *SolverError) Error() string {
	out := bytes.TrimSpace(e.Output)
	if len(out) == 0 {
		return fmt.Sprintf("bcpd: %v", e.Err)
	}
	if len(out) > 512 {
		out = append(out[:512:512], "..."...)
	}
	return fmt.Sprintf("bcpd: %v: %s", e.Err, out)
}

func (e *SolverError) Unwrap() error { return e.Err }

// ErrMissingOutput is wrapped by SolverError when an expected output file
// is absent or empty.
var ErrMissingOutput = errors.New("missing solver output")

// Solver implements registration.NonrigidSolver by running the BCPD
// executable.
type Solver struct {
	// Binary is the executable path; empty uses DefaultBinary.
	Binary string
	// ScratchDir is the parent of the per-run scratch directory; empty
	// uses the system temporary directory.
	ScratchDir string

	FS       fsutil.FileSystem
	Commands CommandBuilder
}

var _ registration.NonrigidSolver = (*Solver)(nil)

// NewSolver returns a solver running binary through os/exec on the real
// filesystem.
func NewSolver(binary string) *Solver {
	return &Solver{
		Binary:   binary,
		FS:       fsutil.OSFileSystem{},
		Commands: ExecCommandBuilder{},
	}
}

// Solve registers req.Source onto req.Target. The scratch directory is
// removed on every return path; cleanup errors are joined to the result
// error.
func (s *Solver) Solve(ctx context.Context, req registration.NonrigidRequest) (res *registration.NonrigidResult, err error) {
	if len(req.Source) == 0 || len(req.Target) == 0 {
		return nil, errors.New("bcpd: empty source or target")
	}
	if err := req.Params.Validate(); err != nil {
		return nil, fmt.Errorf("bcpd: %w", err)
	}
	fs := s.fs()

	dir, err := fs.MkdirTemp(s.ScratchDir, scratchPattern)
	if err != nil {
		return nil, fmt.Errorf("bcpd: scratch directory: %w", err)
	}
	defer func() {
		if rmErr := fs.RemoveAll(dir); rmErr != nil {
			opsf("failed to remove scratch directory %s: %v", dir, rmErr)
			err = multierr.Append(err, fmt.Errorf("bcpd: remove scratch directory: %w", rmErr))
		}
	}()

	if err := writePoints(fs, filepath.Join(dir, sourceFile), req.Source); err != nil {
		return nil, fmt.Errorf("bcpd: %w", err)
	}
	if err := writePoints(fs, filepath.Join(dir, targetFile), req.Target); err != nil {
		return nil, fmt.Errorf("bcpd: %w", err)
	}

	args := Args(dir, req.Params)
	diagf("running %s in %s (%d source, %d target points)", s.binary(), dir, len(req.Source), len(req.Target))
	start := time.Now()
	out, runErr := s.commands().BuildCommand(ctx, dir, s.binary(), args...).Run()
	tracef("solver output:\n%s", out)
	if runErr != nil {
		opsf("solver failed after %v: %v", time.Since(start), runErr)
		return nil, &SolverError{Err: runErr, Output: out}
	}
	diagf("solver finished in %v", time.Since(start))

	res, err = s.readResult(dir, req)
	if err != nil {
		return nil, &SolverError{Err: err, Output: out}
	}
	return res, nil
}

// Args returns the command line for one run with inputs in dir.
func Args(dir string, p config.Nonrigid) []string {
	f := func(v *float64) string {
		if v == nil {
			return "0"
		}
		return strconv.FormatFloat(*v, 'g', -1, 64)
	}
	seed := 0
	if p.Seed != nil {
		seed = *p.Seed
	}
	iters := 0
	if p.MaxIterations != nil {
		iters = *p.MaxIterations
	}
	args := []string{
		"-x", filepath.Join(dir, targetFile),
		"-y", filepath.Join(dir, sourceFile),
		"-J", strconv.Itoa(p.GetJ()),
		"-K", strconv.Itoa(p.GetK()),
		"-p", "-u", "n",
		"-c", f(p.DistanceThreshold),
		"-r", strconv.Itoa(seed),
		"-n", strconv.Itoa(iters),
		"-l", f(p.Lambda),
		"-b", f(p.Beta),
		"-s", saveOutputsFlags,
	}
	if p.Gamma != nil {
		args = append(args, "-g", f(p.Gamma))
	}
	if p.UsesDownsampling() {
		args = append(args, "-D", *p.Downsampling)
	}
	return args
}

// readResult parses the output files. With downsampling the displacement
// field is defined on the solver's proxy (output_normY) rather than on the
// source.
func (s *Solver) readResult(dir string, req registration.NonrigidRequest) (*registration.NonrigidResult, error) {
	fs := s.fs()
	path := func(name string) string { return filepath.Join(dir, name) }
	points := func(name string) ([]r3.Vec, error) {
		pts, err := readPoints(fs, path(name))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMissingOutput, name, err)
		}
		if len(pts) == 0 {
			return nil, fmt.Errorf("%w: %s is empty", ErrMissingOutput, name)
		}
		return pts, nil
	}
	values := func(name string, want int) ([]float64, error) {
		v, err := readValues(fs, path(name))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMissingOutput, name, err)
		}
		if len(v) != want {
			return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrMissingOutput, name, len(v), want)
		}
		return v, nil
	}

	downsampled := req.Params.UsesDownsampling()

	deformed, err := points(outDeformed)
	if err != nil {
		return nil, err
	}
	base := req.Source
	var anchors []r3.Vec
	if downsampled {
		if anchors, err = points(outProxy); err != nil {
			return nil, err
		}
		base = anchors
	}
	if len(deformed) != len(base) {
		return nil, fmt.Errorf("%s has %d rows for %d points", outDeformed, len(deformed), len(base))
	}
	disp := make([]r3.Vec, len(base))
	for i := range base {
		disp[i] = r3.Sub(deformed[i], base[i])
	}

	t, err := values(outTranslation, 3)
	if err != nil {
		return nil, err
	}
	sc, err := values(outScale, 1)
	if err != nil {
		return nil, err
	}
	r, err := values(outRotation, 9)
	if err != nil {
		return nil, err
	}

	regName := outRegistered
	if downsampled {
		regName = outInterpolated
	}
	registered, err := points(regName)
	if err != nil {
		return nil, err
	}
	diagf("parsed %d displacements, %d registered points, scale %g", len(disp), len(registered), sc[0])

	var rot transform.Mat3
	copy(rot[:], r)
	return &registration.NonrigidResult{
		Scale:        sc[0],
		Rotation:     rot,
		Translation:  r3.Vec{X: t[0], Y: t[1], Z: t[2]},
		Displacement: disp,
		Anchors:      anchors,
		Registered:   registered,
	}, nil
}

func (s *Solver) binary() string {
	if s.Binary == "" {
		return DefaultBinary
	}
	return s.Binary
}

func (s *Solver) fs() fsutil.FileSystem {
	if s.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return s.FS
}

func (s *Solver) commands() CommandBuilder {
	if s.Commands == nil {
		return ExecCommandBuilder{}
	}
	return s.Commands
}
