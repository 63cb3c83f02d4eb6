package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical registration parameters.
const DefaultConfigPath = "config/registration.defaults.yaml"

// ErrMissingParameter is wrapped by Validate for every required
// hyperparameter that is absent.
var ErrMissingParameter = errors.New("missing registration parameter")

// Registration is the root of a registration parameter file. The same
// schema is accepted as JSON or YAML.
type Registration struct {
	Rigid    *Rigid    `json:"rigid_registration,omitempty" yaml:"rigid_registration,omitempty"`
	Nonrigid *Nonrigid `json:"nonrigid_registration,omitempty" yaml:"nonrigid_registration,omitempty"`
}

// Rigid holds the global (feature RANSAC) and refine (ICP) parameters.
// Distance thresholds are factors of VoxelSize.
type Rigid struct {
	VoxelSize                       *float64 `json:"voxel_size,omitempty" yaml:"voxel_size,omitempty"`
	GlobalDistanceThresholdFactor   *float64 `json:"global_distance_threshold_factor,omitempty" yaml:"global_distance_threshold_factor,omitempty"`
	GlobalEdgeLengthThresholdFactor *float64 `json:"global_edge_length_threshold_factor,omitempty" yaml:"global_edge_length_threshold_factor,omitempty"`
	GlobalMaxIterations             *int     `json:"global_max_iterations,omitempty" yaml:"global_max_iterations,omitempty"`
	GlobalConfidence                *float64 `json:"global_confidence,omitempty" yaml:"global_confidence,omitempty"`
	RefineDistanceThresholdFactor   *float64 `json:"refine_distance_threshold_factor,omitempty" yaml:"refine_distance_threshold_factor,omitempty"`
	MaxNN                           *int     `json:"max_nn,omitempty" yaml:"max_nn,omitempty"`

	// GlobalMaxCorrespondence is the older name for GlobalConfidence.
	GlobalMaxCorrespondence *float64 `json:"global_max_correspondence,omitempty" yaml:"global_max_correspondence,omitempty"`

	// Optional.
	RansacN             *int `json:"ransac_n,omitempty" yaml:"ransac_n,omitempty"`
	RefineMaxIterations *int `json:"refine_max_iterations,omitempty" yaml:"refine_max_iterations,omitempty"`
}

// Nonrigid holds the BCPD hyperparameters.
type Nonrigid struct {
	DistanceThreshold *float64 `json:"distance_threshold,omitempty" yaml:"distance_threshold,omitempty"`
	Seed              *int     `json:"seed,omitempty" yaml:"seed,omitempty"`
	MaxIterations     *int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Lambda            *float64 `json:"lambda,omitempty" yaml:"lambda,omitempty"`
	Beta              *float64 `json:"beta,omitempty" yaml:"beta,omitempty"`

	// Gamma enables rotation estimation when set.
	Gamma *float64 `json:"gamma,omitempty" yaml:"gamma,omitempty"`
	// Downsampling is passed verbatim to -D, e.g. "B,5000,0.08".
	Downsampling *string `json:"downsampling,omitempty" yaml:"downsampling,omitempty"`

	// J and K are the Nyström ranks for G and P.
	J *int `json:"J,omitempty" yaml:"J,omitempty"`
	K *int `json:"K,omitempty" yaml:"K,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Default returns the parameters shipped in DefaultConfigPath.
func Default() *Registration {
	return &Registration{
		Rigid: &Rigid{
			VoxelSize:                       ptrFloat64(0.02),
			GlobalDistanceThresholdFactor:   ptrFloat64(1.5),
			GlobalEdgeLengthThresholdFactor: ptrFloat64(0.9),
			GlobalMaxIterations:             ptrInt(100000),
			GlobalConfidence:                ptrFloat64(0.999),
			RefineDistanceThresholdFactor:   ptrFloat64(0.4),
			MaxNN:                           ptrInt(30),
		},
		Nonrigid: &Nonrigid{
			DistanceThreshold: ptrFloat64(0.1),
			Seed:              ptrInt(1),
			MaxIterations:     ptrInt(500),
			Lambda:            ptrFloat64(10),
			Beta:              ptrFloat64(2.0),
			Gamma:             ptrFloat64(3.0),
		},
	}
}

// LoadRegistration loads parameters from a .json, .yaml or .yml file and
// validates them. The file must be under 1MB.
func LoadRegistration(path string) (*Registration, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, ext)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes parameters without validating them. ext selects the
// format: ".json", or ".yaml"/".yml".
func Parse(data []byte, ext string) (*Registration, error) {
	cfg := &Registration{}
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories. Panics if the file cannot be loaded, intended for test
// setup.
func MustLoadDefaultConfig() *Registration {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadRegistration(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every required hyperparameter is present and that
// values are in range. Missing parameters are never defaulted.
func (c *Registration) Validate() error {
	if c.Rigid == nil {
		return fmt.Errorf("%w: rigid_registration", ErrMissingParameter)
	}
	if c.Nonrigid == nil {
		return fmt.Errorf("%w: nonrigid_registration", ErrMissingParameter)
	}
	if err := c.Rigid.Validate(); err != nil {
		return fmt.Errorf("rigid_registration: %w", err)
	}
	if err := c.Nonrigid.Validate(); err != nil {
		return fmt.Errorf("nonrigid_registration: %w", err)
	}
	return nil
}

// Validate checks the rigid parameters.
func (r *Rigid) Validate() error {
	var missing []string
	need := func(name string, set bool) {
		if !set {
			missing = append(missing, name)
		}
	}
	need("voxel_size", r.VoxelSize != nil)
	need("global_distance_threshold_factor", r.GlobalDistanceThresholdFactor != nil)
	need("global_edge_length_threshold_factor", r.GlobalEdgeLengthThresholdFactor != nil)
	need("global_max_iterations", r.GlobalMaxIterations != nil)
	need("global_confidence", r.GlobalConfidence != nil || r.GlobalMaxCorrespondence != nil)
	need("refine_distance_threshold_factor", r.RefineDistanceThresholdFactor != nil)
	need("max_nn", r.MaxNN != nil)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
	}

	if *r.VoxelSize <= 0 {
		return fmt.Errorf("voxel_size must be positive, got %f", *r.VoxelSize)
	}
	if *r.GlobalDistanceThresholdFactor <= 0 {
		return fmt.Errorf("global_distance_threshold_factor must be positive, got %f", *r.GlobalDistanceThresholdFactor)
	}
	if f := *r.GlobalEdgeLengthThresholdFactor; f <= 0 || f > 1 {
		return fmt.Errorf("global_edge_length_threshold_factor must be in (0, 1], got %f", f)
	}
	if *r.GlobalMaxIterations <= 0 {
		return fmt.Errorf("global_max_iterations must be positive, got %d", *r.GlobalMaxIterations)
	}
	if c := r.GetGlobalConfidence(); c <= 0 || c > 1 {
		return fmt.Errorf("global_confidence must be in (0, 1], got %f", c)
	}
	if *r.RefineDistanceThresholdFactor <= 0 {
		return fmt.Errorf("refine_distance_threshold_factor must be positive, got %f", *r.RefineDistanceThresholdFactor)
	}
	if *r.MaxNN <= 0 {
		return fmt.Errorf("max_nn must be positive, got %d", *r.MaxNN)
	}
	if r.RansacN != nil && *r.RansacN < 3 {
		return fmt.Errorf("ransac_n must be at least 3, got %d", *r.RansacN)
	}
	if r.RefineMaxIterations != nil && *r.RefineMaxIterations <= 0 {
		return fmt.Errorf("refine_max_iterations must be positive, got %d", *r.RefineMaxIterations)
	}
	return nil
}

// Validate checks the non-rigid parameters.
func (n *Nonrigid) Validate() error {
	var missing []string
	need := func(name string, set bool) {
		if !set {
			missing = append(missing, name)
		}
	}
	need("distance_threshold", n.DistanceThreshold != nil)
	need("seed", n.Seed != nil)
	need("max_iterations", n.MaxIterations != nil)
	need("lambda", n.Lambda != nil)
	need("beta", n.Beta != nil)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
	}

	if w := *n.DistanceThreshold; w < 0 || w >= 1 {
		return fmt.Errorf("distance_threshold must be in [0, 1), got %f", w)
	}
	if *n.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", *n.MaxIterations)
	}
	if *n.Lambda <= 0 {
		return fmt.Errorf("lambda must be positive, got %f", *n.Lambda)
	}
	if *n.Beta <= 0 {
		return fmt.Errorf("beta must be positive, got %f", *n.Beta)
	}
	if n.Gamma != nil && *n.Gamma <= 0 {
		return fmt.Errorf("gamma must be positive, got %f", *n.Gamma)
	}
	if n.Downsampling != nil && strings.TrimSpace(*n.Downsampling) == "" {
		return fmt.Errorf("downsampling must not be empty when set")
	}
	if n.J != nil && *n.J <= 0 {
		return fmt.Errorf("J must be positive, got %d", *n.J)
	}
	if n.K != nil && *n.K <= 0 {
		return fmt.Errorf("K must be positive, got %d", *n.K)
	}
	return nil
}

// GetVoxelSize returns voxel_size, zero when unset.
func (r *Rigid) GetVoxelSize() float64 { return derefFloat(r.VoxelSize) }

// GetGlobalDistanceThreshold returns voxel_size × global_distance_threshold_factor.
func (r *Rigid) GetGlobalDistanceThreshold() float64 {
	return r.GetVoxelSize() * derefFloat(r.GlobalDistanceThresholdFactor)
}

// GetGlobalEdgeLengthThresholdFactor returns the edge-length checker similarity.
func (r *Rigid) GetGlobalEdgeLengthThresholdFactor() float64 {
	return derefFloat(r.GlobalEdgeLengthThresholdFactor)
}

// GetGlobalMaxIterations returns global_max_iterations.
func (r *Rigid) GetGlobalMaxIterations() int { return derefInt(r.GlobalMaxIterations) }

// GetGlobalConfidence returns global_confidence, falling back to
// global_max_correspondence.
func (r *Rigid) GetGlobalConfidence() float64 {
	if r.GlobalConfidence != nil {
		return *r.GlobalConfidence
	}
	return derefFloat(r.GlobalMaxCorrespondence)
}

// GetRefineDistanceThreshold returns voxel_size × refine_distance_threshold_factor.
func (r *Rigid) GetRefineDistanceThreshold() float64 {
	return r.GetVoxelSize() * derefFloat(r.RefineDistanceThresholdFactor)
}

// GetMaxNN returns max_nn.
func (r *Rigid) GetMaxNN() int { return derefInt(r.MaxNN) }

// GetRansacN returns ransac_n or the default.
func (r *Rigid) GetRansacN() int {
	if r.RansacN == nil {
		return 3
	}
	return *r.RansacN
}

// GetRefineMaxIterations returns refine_max_iterations or the default.
func (r *Rigid) GetRefineMaxIterations() int {
	if r.RefineMaxIterations == nil {
		return 30
	}
	return *r.RefineMaxIterations
}

// GetJ returns J or the default.
func (n *Nonrigid) GetJ() int {
	if n.J == nil {
		return 300
	}
	return *n.J
}

// GetK returns K or the default.
func (n *Nonrigid) GetK() int {
	if n.K == nil {
		return 70
	}
	return *n.K
}

// UsesDownsampling reports whether -D acceleration is configured.
func (n *Nonrigid) UsesDownsampling() bool {
	return n.Downsampling != nil
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
