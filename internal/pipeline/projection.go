package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/config"
	"github.com/banshee-data/organ.projection/internal/fsutil"
	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/organ"
	"github.com/banshee-data/organ.projection/internal/registration"
	"github.com/banshee-data/organ.projection/internal/security"
	"github.com/banshee-data/organ.projection/internal/transform"
)

// ProjectionFile is the file name used inside an export directory.
const ProjectionFile = "projection.json.gz"

// formatVersion is bumped on incompatible changes to the encoding.
const formatVersion = 1

// StagePlacement names the final replay step that applies the target
// organ's placement.
const StagePlacement registration.StageName = "target_placement"

// Step is one replayed transform.
type Step struct {
	Stage     registration.StageName
	Transform *transform.Transform
	// Inverse replays the transform by inversion.
	Inverse bool
}

// Projection is the outcome of one pipeline run: the active transforms in
// stage order, the registered source surface and the run's inputs.
type Projection struct {
	ID          string
	Name        string
	Description string

	Source *organ.Organ
	Target *organ.Organ

	Steps []Step

	// Registration is the source surface after the last stage.
	Registration *geometry.Surface
	Params       *config.Registration
	CreatedAt    time.Time
}

// ReplayError reports the step of a projection that could not be applied.
type ReplayError struct {
	Index int
	Stage registration.StageName
	Err   error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay step %d (%s): %v", e.Index, e.Stage, e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}

// Project maps g from the source organ's frame into the target organ's
// published frame: every step in order, then the target placement when
// the target has one. A *geometry.Surface has its vertices overwritten in
// place and is returned; other geometries are returned as new values.
func (p *Projection) Project(g geometry.Geometry) (geometry.Geometry, error) {
	var placement *transform.Transform
	if p.Target != nil {
		placement = p.Target.Placement
	}
	return p.replay(g, placement)
}

// ProjectTissue projects a tissue block in place. The block's own
// placement is used for the final step in preference to the target's.
func (p *Projection) ProjectTissue(b *organ.TissueBlock) error {
	placement := b.Placement
	if placement == nil && p.Target != nil {
		placement = p.Target.Placement
	}
	_, err := p.replay(b.Surface, placement)
	return err
}

// ProjectPoints is Project on raw coordinates.
func (p *Projection) ProjectPoints(points []r3.Vec) ([]r3.Vec, error) {
	g, err := p.Project(geometry.Points(points))
	if err != nil {
		return nil, err
	}
	return g.Array(), nil
}

func (p *Projection) replay(g geometry.Geometry, placement *transform.Transform) (geometry.Geometry, error) {
	cur := g
	for i, step := range p.Steps {
		var err error
		if step.Inverse {
			cur, err = step.Transform.Invert(cur)
		} else {
			cur, err = step.Transform.Apply(cur, false)
		}
		if err != nil {
			return nil, &ReplayError{Index: i, Stage: step.Stage, Err: err}
		}
		tracef("replay %s: step %d %s (inverse=%v)", p.ID, i, step.Stage, step.Inverse)
	}
	if placement != nil {
		var err error
		if cur, err = placement.Apply(cur, false); err != nil {
			return nil, &ReplayError{Index: len(p.Steps), Stage: StagePlacement, Err: err}
		}
	}

	if s, ok := g.(*geometry.Surface); ok {
		if err := s.SetVertices(cur.Array()); err != nil {
			return nil, err
		}
		return s, nil
	}
	return cur, nil
}

// Dir returns the export directory name, <name>-<id>.
func (p *Projection) Dir() string {
	name := "projection"
	if p.Name != "" {
		name = security.SanitizeFilename(p.Name)
	}
	return name + "-" + p.ID
}

// Export writes the projection to <dir>/<name>-<id>/projection.json.gz on
// the local filesystem and returns the file path.
func (p *Projection) Export(dir string) (string, error) {
	return p.ExportFS(fsutil.OSFileSystem{}, dir)
}

// ExportFS is Export on fsys. The run directory must not exist yet.
func (p *Projection) ExportFS(fsys fsutil.FileSystem, dir string) (string, error) {
	runDir := filepath.Join(dir, p.Dir())
	if fsys.Exists(runDir) {
		return "", fmt.Errorf("export projection: %s already exists", runDir)
	}
	if err := fsys.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("export projection: %w", err)
	}
	path := filepath.Join(runDir, ProjectionFile)
	if err := p.Save(fsys, path); err != nil {
		return "", err
	}
	return path, nil
}

// Save writes the projection as gzip-compressed JSON.
func (p *Projection) Save(fsys fsutil.FileSystem, path string) error {
	err := fsutil.WriteGzip(fsys, path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		return enc.Encode(p)
	})
	if err != nil {
		return fmt.Errorf("save projection: %w", err)
	}
	return nil
}

// Load reads a projection written by Save. path may also be an export
// directory.
func Load(fsys fsutil.FileSystem, path string) (*Projection, error) {
	if info, err := fsys.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ProjectionFile)
	}
	var p Projection
	err := fsutil.ReadGzip(fsys, path, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&p)
	})
	if err != nil {
		return nil, fmt.Errorf("load projection: %w", err)
	}
	return &p, nil
}

// LoadProjection is Load on the local filesystem.
func LoadProjection(path string) (*Projection, error) {
	return Load(fsutil.OSFileSystem{}, path)
}

type projectionJSON struct {
	Version      int                  `json:"version"`
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	Source       *organJSON           `json:"source"`
	Target       *organJSON           `json:"target"`
	Steps        []stepJSON           `json:"steps"`
	Registration *surfaceJSON         `json:"registration"`
	Params       *config.Registration `json:"params,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

type stepJSON struct {
	Stage     registration.StageName `json:"stage"`
	Inverse   bool                   `json:"inverse,omitempty"`
	Transform *transform.Transform   `json:"transform"`
}

type organJSON struct {
	Name      string               `json:"name"`
	Surface   *surfaceJSON         `json:"surface"`
	Placement *transform.Transform `json:"placement,omitempty"`
}

type surfaceJSON struct {
	Vertices [][3]float64      `json:"vertices"`
	Faces    [][3]int          `json:"faces"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON encodes the projection with every transform's replay state.
func (p *Projection) MarshalJSON() ([]byte, error) {
	out := projectionJSON{
		Version:      formatVersion,
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		Source:       encodeOrgan(p.Source),
		Target:       encodeOrgan(p.Target),
		Registration: encodeSurface(p.Registration),
		Params:       p.Params,
		CreatedAt:    p.CreatedAt,
	}
	for _, s := range p.Steps {
		out.Steps = append(out.Steps, stepJSON{Stage: s.Stage, Inverse: s.Inverse, Transform: s.Transform})
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a projection written by MarshalJSON.
func (p *Projection) UnmarshalJSON(data []byte) error {
	var in projectionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Version != formatVersion {
		return fmt.Errorf("unsupported projection format version %d", in.Version)
	}
	steps := make([]Step, 0, len(in.Steps))
	for i, s := range in.Steps {
		if s.Transform == nil {
			return fmt.Errorf("step %d (%s) has no transform", i, s.Stage)
		}
		steps = append(steps, Step{Stage: s.Stage, Inverse: s.Inverse, Transform: s.Transform})
	}
	src, err := decodeOrgan(in.Source)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	tgt, err := decodeOrgan(in.Target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	reg, err := decodeSurface(in.Registration)
	if err != nil {
		return fmt.Errorf("registration: %w", err)
	}

	*p = Projection{
		ID:           in.ID,
		Name:         in.Name,
		Description:  in.Description,
		Source:       src,
		Target:       tgt,
		Steps:        steps,
		Registration: reg,
		Params:       in.Params,
		CreatedAt:    in.CreatedAt,
	}
	return nil
}

func encodeOrgan(o *organ.Organ) *organJSON {
	if o == nil {
		return nil
	}
	return &organJSON{Name: o.Name, Surface: encodeSurface(o.Surface), Placement: o.Placement}
}

func decodeOrgan(o *organJSON) (*organ.Organ, error) {
	if o == nil {
		return nil, nil
	}
	s, err := decodeSurface(o.Surface)
	if err != nil {
		return nil, err
	}
	return organ.New(o.Name, s, o.Placement)
}

func encodeSurface(s *geometry.Surface) *surfaceJSON {
	if s == nil {
		return nil
	}
	out := &surfaceJSON{
		Vertices: make([][3]float64, len(s.Vertices)),
		Faces:    s.Faces,
		Metadata: s.Metadata,
	}
	for i, v := range s.Vertices {
		out.Vertices[i] = [3]float64{v.X, v.Y, v.Z}
	}
	return out
}

func decodeSurface(s *surfaceJSON) (*geometry.Surface, error) {
	if s == nil {
		return nil, nil
	}
	vertices := make([]r3.Vec, len(s.Vertices))
	for i, v := range s.Vertices {
		vertices[i] = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	}
	out, err := geometry.NewSurface(vertices, s.Faces)
	if err != nil {
		return nil, err
	}
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	return out, nil
}
