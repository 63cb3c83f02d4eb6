package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}

	voxel, global, refine := 0.02, 1.5, 0.4
	if got, want := cfg.Rigid.GetGlobalDistanceThreshold(), voxel*global; got != want {
		t.Errorf("GetGlobalDistanceThreshold() = %f, want %f", got, want)
	}
	if got, want := cfg.Rigid.GetRefineDistanceThreshold(), voxel*refine; got != want {
		t.Errorf("GetRefineDistanceThreshold() = %f, want %f", got, want)
	}
	if cfg.Rigid.GetRansacN() != 3 {
		t.Errorf("GetRansacN() = %d, want 3", cfg.Rigid.GetRansacN())
	}
	if cfg.Rigid.GetRefineMaxIterations() != 30 {
		t.Errorf("GetRefineMaxIterations() = %d, want 30", cfg.Rigid.GetRefineMaxIterations())
	}
	if cfg.Nonrigid.GetJ() != 300 || cfg.Nonrigid.GetK() != 70 {
		t.Errorf("GetJ/GetK = %d/%d, want 300/70", cfg.Nonrigid.GetJ(), cfg.Nonrigid.GetK())
	}
	if cfg.Nonrigid.UsesDownsampling() {
		t.Error("expected downsampling off by default")
	}
}

func TestDefaultMatchesShippedFile(t *testing.T) {
	loaded := MustLoadDefaultConfig()
	want := Default()

	if *loaded.Rigid.VoxelSize != *want.Rigid.VoxelSize {
		t.Errorf("voxel_size = %f, want %f", *loaded.Rigid.VoxelSize, *want.Rigid.VoxelSize)
	}
	if *loaded.Rigid.GlobalMaxIterations != *want.Rigid.GlobalMaxIterations {
		t.Errorf("global_max_iterations = %d, want %d", *loaded.Rigid.GlobalMaxIterations, *want.Rigid.GlobalMaxIterations)
	}
	if loaded.Rigid.GetGlobalConfidence() != want.Rigid.GetGlobalConfidence() {
		t.Errorf("global_confidence = %f, want %f", loaded.Rigid.GetGlobalConfidence(), want.Rigid.GetGlobalConfidence())
	}
	if *loaded.Nonrigid.Lambda != *want.Nonrigid.Lambda || *loaded.Nonrigid.Beta != *want.Nonrigid.Beta {
		t.Errorf("lambda/beta = %f/%f, want %f/%f", *loaded.Nonrigid.Lambda, *loaded.Nonrigid.Beta, *want.Nonrigid.Lambda, *want.Nonrigid.Beta)
	}
	if loaded.Nonrigid.Gamma == nil || *loaded.Nonrigid.Gamma != *want.Nonrigid.Gamma {
		t.Errorf("gamma = %v, want %f", loaded.Nonrigid.Gamma, *want.Nonrigid.Gamma)
	}
}

func TestLoadRegistrationYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "params.yml")

	testYAML := `rigid_registration:
  voxel_size: 0.05
  global_distance_threshold_factor: 2
  global_edge_length_threshold_factor: 0.9
  global_max_iterations: 5000
  global_max_correspondence: 0.99
  refine_distance_threshold_factor: 0.5
  max_nn: 20
nonrigid_registration:
  distance_threshold: 0.2
  seed: 7
  max_iterations: 80
  lambda: 5
  beta: 1.5
  downsampling: B,5000,0.08
  J: 200
`
	if err := os.WriteFile(configPath, []byte(testYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadRegistration(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Rigid.GetGlobalConfidence() != 0.99 {
		t.Errorf("GetGlobalConfidence() = %f, want 0.99 from the older key", cfg.Rigid.GetGlobalConfidence())
	}
	if cfg.Rigid.GetMaxNN() != 20 {
		t.Errorf("GetMaxNN() = %d, want 20", cfg.Rigid.GetMaxNN())
	}
	if !cfg.Nonrigid.UsesDownsampling() || *cfg.Nonrigid.Downsampling != "B,5000,0.08" {
		t.Errorf("Downsampling = %v, want B,5000,0.08", cfg.Nonrigid.Downsampling)
	}
	if cfg.Nonrigid.Gamma != nil {
		t.Errorf("Gamma = %v, want nil", *cfg.Nonrigid.Gamma)
	}
	if cfg.Nonrigid.GetJ() != 200 || cfg.Nonrigid.GetK() != 70 {
		t.Errorf("GetJ/GetK = %d/%d, want 200/70", cfg.Nonrigid.GetJ(), cfg.Nonrigid.GetK())
	}
}

func TestLoadRegistrationJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "params.json")

	testJSON := `{
  "rigid_registration": {
    "voxel_size": 0.01,
    "global_distance_threshold_factor": 1.5,
    "global_edge_length_threshold_factor": 0.95,
    "global_max_iterations": 1000,
    "global_confidence": 0.9,
    "refine_distance_threshold_factor": 0.4,
    "max_nn": 30,
    "ransac_n": 4
  },
  "nonrigid_registration": {
    "distance_threshold": 0.0,
    "seed": 0,
    "max_iterations": 10,
    "lambda": 1,
    "beta": 1,
    "gamma": 1
  }
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadRegistration(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Rigid.GetRansacN() != 4 {
		t.Errorf("GetRansacN() = %d, want 4", cfg.Rigid.GetRansacN())
	}
	if *cfg.Nonrigid.DistanceThreshold != 0 {
		t.Errorf("distance_threshold = %f, want 0", *cfg.Nonrigid.DistanceThreshold)
	}
}

func TestLoadRegistrationErrors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		missing bool
	}{
		{name: "wrong extension", path: write("params.toml", "")},
		{name: "missing file", path: filepath.Join(tmpDir, "absent.yaml")},
		{name: "malformed yaml", path: write("bad.yaml", "rigid_registration: [")},
		{name: "malformed json", path: write("bad.json", `{"rigid_registration": 3}`)},
		{name: "empty file", path: write("empty.yaml", ""), missing: true},
		{
			name:    "missing voxel size",
			path:    write("novoxel.yaml", "rigid_registration:\n  max_nn: 3\nnonrigid_registration:\n  seed: 1\n"),
			missing: true,
		},
		{name: "too large", path: write("big.json", strings.Repeat(" ", 1024*1024+1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRegistration(tt.path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.missing && !errors.Is(err, ErrMissingParameter) {
				t.Errorf("error = %v, want ErrMissingParameter", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	mutate := func(f func(*Registration)) *Registration {
		cfg := Default()
		f(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		cfg     *Registration
		wantErr bool
	}{
		{name: "defaults", cfg: Default()},
		{name: "no rigid section", cfg: mutate(func(c *Registration) { c.Rigid = nil }), wantErr: true},
		{name: "no nonrigid section", cfg: mutate(func(c *Registration) { c.Nonrigid = nil }), wantErr: true},
		{name: "no confidence", cfg: mutate(func(c *Registration) { c.Rigid.GlobalConfidence = nil }), wantErr: true},
		{name: "zero voxel", cfg: mutate(func(c *Registration) { c.Rigid.VoxelSize = ptrFloat64(0) }), wantErr: true},
		{name: "edge factor above one", cfg: mutate(func(c *Registration) { c.Rigid.GlobalEdgeLengthThresholdFactor = ptrFloat64(1.2) }), wantErr: true},
		{name: "confidence above one", cfg: mutate(func(c *Registration) { c.Rigid.GlobalConfidence = ptrFloat64(2) }), wantErr: true},
		{name: "ransac_n below three", cfg: mutate(func(c *Registration) { c.Rigid.RansacN = ptrInt(2) }), wantErr: true},
		{name: "outlier ratio one", cfg: mutate(func(c *Registration) { c.Nonrigid.DistanceThreshold = ptrFloat64(1) }), wantErr: true},
		{name: "negative lambda", cfg: mutate(func(c *Registration) { c.Nonrigid.Lambda = ptrFloat64(-1) }), wantErr: true},
		{name: "blank downsampling", cfg: mutate(func(c *Registration) { c.Nonrigid.Downsampling = ptrString(" ") }), wantErr: true},
		{name: "zero K", cfg: mutate(func(c *Registration) { c.Nonrigid.K = ptrInt(0) }), wantErr: true},
		{name: "no lambda", cfg: mutate(func(c *Registration) { c.Nonrigid.Lambda = nil }), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseUnknownFormat(t *testing.T) {
	if _, err := Parse([]byte("{}"), ".ini"); err == nil {
		t.Error("expected error for unknown format")
	}
}
