// Package organ holds the named surfaces that take part in a registration:
// reference organs with their canonical placement, and tissue blocks
// described by RUI samples.
package organ

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/transform"
)

// MillimetreFactor converts catalog translations into the organ frame.
const MillimetreFactor = 1e3

// Organ is a named surface with an optional placement that moves it into
// the shared world frame.
type Organ struct {
	Name    string
	Surface *geometry.Surface
	// Placement is nil for organs outside the reference catalog.
	Placement *transform.Transform
}

// New wraps a surface. placement may be nil.
func New(name string, s *geometry.Surface, placement *transform.Transform) (*Organ, error) {
	if s == nil || len(s.Vertices) == 0 {
		return nil, errors.New("organ: empty surface")
	}
	return &Organ{Name: name, Surface: s, Placement: placement}, nil
}

// Load reads an organ surface from path. The organ is named after the file
// stem; when catalog has an entry for that name the placement is attached.
func Load(path string, catalog Catalog) (*Organ, error) {
	s, err := geometry.LoadSurface(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var placement *transform.Transform
	if _, ok := catalog[name]; ok {
		if placement, err = catalog.Transform(name, MillimetreFactor); err != nil {
			return nil, fmt.Errorf("organ %s: %w", name, err)
		}
	}
	return New(name, s, placement)
}

// Clone deep-copies the surface. The placement is shared: transforms are
// safe for concurrent use and only memoize.
func (o *Organ) Clone() *Organ {
	if o == nil {
		return nil
	}
	return &Organ{Name: o.Name, Surface: o.Surface.Clone(), Placement: o.Placement}
}

// PointCloud returns the surface vertices with normals from k neighbours.
func (o *Organ) PointCloud(k int) *geometry.PointCloud {
	return o.Surface.PointCloud(k)
}
