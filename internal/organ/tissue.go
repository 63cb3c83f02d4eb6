package organ

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/security"
	"github.com/banshee-data/organ.projection/internal/transform"
	"github.com/banshee-data/organ.projection/internal/units"
)

// Sample is an RUI tissue sample registration.
type Sample struct {
	Label       string      `json:"label,omitempty"`
	RUILocation RUILocation `json:"rui_location"`
}

// RUILocation is the spatial entity of a sample: the block's dimensions and
// its placement relative to a reference organ.
type RUILocation struct {
	ID             string       `json:"@id,omitempty"`
	Type           string       `json:"@type,omitempty"`
	Label          string       `json:"label,omitempty"`
	CreationDate   string       `json:"creation_date,omitempty"`
	XDimension     float64      `json:"x_dimension"`
	YDimension     float64      `json:"y_dimension"`
	ZDimension     float64      `json:"z_dimension"`
	DimensionUnits string       `json:"dimension_units"`
	Placement      RUIPlacement `json:"placement"`
}

// RUIPlacement positions a block on its target organ. Rotation is in
// degrees; the rotation order field is recorded but blocks are always
// rotated about x, then y, then z in the fixed frame.
type RUIPlacement struct {
	ID               string  `json:"@id,omitempty"`
	Type             string  `json:"@type,omitempty"`
	Target           string  `json:"target"`
	PlacementDate    string  `json:"placement_date,omitempty"`
	ScalingUnits     string  `json:"scaling_units,omitempty"`
	RotationOrder    string  `json:"rotation_order,omitempty"`
	RotationUnits    string  `json:"rotation_units,omitempty"`
	TranslationUnits string  `json:"translation_units,omitempty"`
	XScaling         float64 `json:"x_scaling"`
	YScaling         float64 `json:"y_scaling"`
	ZScaling         float64 `json:"z_scaling"`
	XRotation        float64 `json:"x_rotation"`
	YRotation        float64 `json:"y_rotation"`
	ZRotation        float64 `json:"z_rotation"`
	XTranslation     float64 `json:"x_translation"`
	YTranslation     float64 `json:"y_translation"`
	ZTranslation     float64 `json:"z_translation"`
}

// TargetName returns the organ name after the last '#' of the target IRI.
func (p RUIPlacement) TargetName() string {
	if i := strings.LastIndex(p.Target, "#"); i >= 0 {
		return p.Target[i+1:]
	}
	return p.Target
}

// LoadSample reads an RUI sample JSON file.
func LoadSample(path string) (*Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample: %w", err)
	}
	var s Sample
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse sample %s: %w", path, err)
	}
	return &s, nil
}

// TissueBlock is a sample's box in the local frame of its target organ.
type TissueBlock struct {
	Label      string
	TargetName string
	Surface    *geometry.Surface

	// DivisionFactor is the unit conversion of the sample's lengths.
	DivisionFactor float64
	// Placement is the target organ's catalog placement scaled by
	// DivisionFactor. Projecting the block applies it.
	Placement *transform.Transform

	Location RUILocation
}

// FromSample builds the block described by sample: a box with the sample's
// dimensions centred at the origin, moved by the sample's placement and
// then brought into organ-local space by inverting the target organ's
// catalog placement. An empty targetName is taken from the sample.
func FromSample(sample *Sample, catalog Catalog, targetName string) (*TissueBlock, error) {
	loc := sample.RUILocation
	df, err := units.DivisionFactor(loc.DimensionUnits)
	if err != nil {
		return nil, fmt.Errorf("organ: sample %q: %w", sample.Label, err)
	}
	if targetName == "" {
		targetName = loc.Placement.TargetName()
	}
	dims := r3.Vec{X: loc.XDimension, Y: loc.YDimension, Z: loc.ZDimension}
	if dims.X <= 0 || dims.Y <= 0 || dims.Z <= 0 {
		return nil, fmt.Errorf("organ: sample %q has non-positive dimensions %v", sample.Label, dims)
	}

	placement, err := catalog.Transform(targetName, df)
	if err != nil {
		return nil, err
	}
	pl := loc.Placement
	blockTransform, err := transform.New(transform.Params{
		Scale:       r3.Vec{X: pl.XScaling, Y: pl.YScaling, Z: pl.ZScaling},
		Rotation:    transform.Rotation{Angles: [3]float64{pl.XRotation, pl.YRotation, pl.ZRotation}},
		Translation: r3.Scale(1/df, r3.Vec{X: pl.XTranslation, Y: pl.YTranslation, Z: pl.ZTranslation}),
	})
	if err != nil {
		return nil, err
	}

	var g geometry.Geometry = box(r3.Scale(1/df, dims))
	if g, err = blockTransform.Apply(g, false); err != nil {
		return nil, err
	}
	if g, err = placement.Invert(g); err != nil {
		return nil, err
	}

	label := sample.Label
	if label == "" {
		label = loc.Label
	}
	return &TissueBlock{
		Label:          label,
		TargetName:     targetName,
		Surface:        g.(*geometry.Surface),
		DivisionFactor: df,
		Placement:      placement,
		Location:       loc,
	}, nil
}

// FromSurface wraps a block surface that is already in the target organ's
// local frame, such as one cut from a millitome. Lengths are taken to be
// millimetres. s is copied; nothing is moved.
func FromSurface(label, targetName string, s *geometry.Surface, catalog Catalog) (*TissueBlock, error) {
	if s == nil || len(s.Vertices) == 0 {
		return nil, fmt.Errorf("organ: tissue block %q has no surface", label)
	}
	df, err := units.DivisionFactor(units.Millimeter)
	if err != nil {
		return nil, err
	}
	placement, err := catalog.Transform(targetName, df)
	if err != nil {
		return nil, err
	}
	return &TissueBlock{
		Label:          label,
		TargetName:     targetName,
		Surface:        s.Clone(),
		DivisionFactor: df,
		Placement:      placement,
		Location:       RUILocation{Label: label, DimensionUnits: units.Millimeter},
	}, nil
}

// Sample describes the block's current axis-aligned bounding box as an RUI
// sample: box extents as dimensions, unit scaling, no rotation and the box
// centre as translation, all in the sample's units.
func (b *TissueBlock) Sample() *Sample {
	lo, hi := geometry.Bounds(b.Surface.Vertices)
	ext := r3.Scale(b.DivisionFactor, r3.Sub(hi, lo))
	centre := r3.Scale(b.DivisionFactor, r3.Scale(0.5, r3.Add(lo, hi)))

	loc := b.Location
	loc.XDimension, loc.YDimension, loc.ZDimension = ext.X, ext.Y, ext.Z
	p := &loc.Placement
	p.XScaling, p.YScaling, p.ZScaling = 1, 1, 1
	p.XRotation, p.YRotation, p.ZRotation = 0, 0, 0
	p.XTranslation, p.YTranslation, p.ZTranslation = centre.X, centre.Y, centre.Z
	if p.Target == "" {
		p.Target = "http://purl.org/ccf/latest/ccf.owl#" + b.TargetName
	}
	return &Sample{Label: b.Label, RUILocation: loc}
}

// WriteSample writes Sample() to <dir>/<label>.json, with the label
// sanitized for use as a file name.
func (b *TissueBlock) WriteSample(dir string) (string, error) {
	if b.Label == "" {
		return "", fmt.Errorf("organ: tissue block has no label")
	}
	data, err := json.MarshalIndent(b.Sample(), "", "  ")
	if err != nil {
		return "", err
	}
	path, err := security.OutputPath(dir, b.Label, ".json")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write sample: %w", err)
	}
	return path, nil
}
