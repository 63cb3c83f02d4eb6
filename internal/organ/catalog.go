package organ

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/organ.projection/internal/transform"
)

// ErrUnknownOrgan is returned when a catalog has no entry for a name.
var ErrUnknownOrgan = errors.New("organ: no placement for organ")

// Placement is one catalog entry: the similarity transform that moves a
// reference organ's local origin to the shared world origin. Translation
// is stored in millimetres.
type Placement struct {
	Scaling     []float64 `yaml:"scaling" json:"scaling"`
	Rotation    []float64 `yaml:"rotation" json:"rotation"`
	Translation []float64 `yaml:"translation" json:"translation"`
}

// Catalog maps reference organ names to their placements.
type Catalog map[string]Placement

// LoadCatalog reads a YAML placement catalog.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read placement catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse placement catalog %s: %w", path, err)
	}
	for _, name := range c.Names() {
		if err := c[name].validate(); err != nil {
			return nil, fmt.Errorf("placement catalog %s: %s: %w", path, name, err)
		}
	}
	return c, nil
}

// Names returns the catalog's organ names sorted.
func (c Catalog) Names() []string {
	out := make([]string, 0, len(c))
	for name := range c {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Transform returns the placement for name with translation divided by
// divisionFactor (1e3 for millimetre catalogs into metres).
func (c Catalog) Transform(name string, divisionFactor float64) (*transform.Transform, error) {
	p, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownOrgan, name)
	}
	return p.Transform(divisionFactor)
}

func (p Placement) validate() error {
	for field, v := range map[string][]float64{"scaling": p.Scaling, "rotation": p.Rotation, "translation": p.Translation} {
		if len(v) != 3 {
			return fmt.Errorf("%s has %d components, want 3", field, len(v))
		}
	}
	return nil
}

// Transform builds the placement transform; rotation angles are degrees
// about x, y and z.
func (p Placement) Transform(divisionFactor float64) (*transform.Transform, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if divisionFactor == 0 {
		return nil, errors.New("organ: zero division factor")
	}
	return transform.New(transform.Params{
		Scale:       vec(p.Scaling),
		Rotation:    transform.Rotation{Angles: [3]float64{p.Rotation[0], p.Rotation[1], p.Rotation[2]}},
		Translation: r3.Scale(1/divisionFactor, vec(p.Translation)),
	})
}

func vec(v []float64) r3.Vec {
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}
