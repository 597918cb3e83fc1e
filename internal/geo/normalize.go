package geo

import (
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/ctessum/geom"
)

// TargetCRS decides the common planar system for two layers. If either layer
// is geographic both go to EqualAreaCRS; otherwise b follows a.
func TargetCRS(a, b domain.CRS) (domain.CRS, error) {
	aGeo, err := IsGeographic(a)
	if err != nil {
		return "", err
	}
	bGeo, err := IsGeographic(b)
	if err != nil {
		return "", err
	}
	if aGeo || bGeo {
		return EqualAreaCRS, nil
	}
	return a, nil
}

// Normalize returns both layers in a common planar CRS suitable for area
// computation. Layers already sharing a planar CRS are returned unchanged.
func Normalize(src domain.CategoryLayer, attrs domain.AttributeLayer) (domain.CategoryLayer, domain.AttributeLayer, error) {
	target, err := TargetCRS(src.CRS, attrs.CRS)
	if err != nil {
		return src, attrs, err
	}
	s, err := ReprojectCategoryLayer(src, target)
	if err != nil {
		return src, attrs, err
	}
	a, err := ReprojectAttributeLayer(attrs, target)
	if err != nil {
		return src, attrs, err
	}
	return s, a, nil
}

// ReprojectCategoryLayer returns a copy of layer in CRS to.
func ReprojectCategoryLayer(layer domain.CategoryLayer, to domain.CRS) (domain.CategoryLayer, error) {
	if layer.CRS == to {
		return layer, nil
	}
	polys := make([]geom.Polygonal, len(layer.Features))
	for i, f := range layer.Features {
		polys[i] = f.Geometry
	}
	moved, err := ReprojectPolygons(polys, layer.CRS, to)
	if err != nil {
		return layer, err
	}
	out := domain.CategoryLayer{CRS: to, Features: make([]domain.CategoryFeature, len(layer.Features))}
	for i, f := range layer.Features {
		out.Features[i] = domain.CategoryFeature{Geometry: moved[i], Value: f.Value}
	}
	return out, nil
}

// ReprojectAttributeLayer returns a copy of layer in CRS to. Attribute maps
// are shared with the input, which is never mutated.
func ReprojectAttributeLayer(layer domain.AttributeLayer, to domain.CRS) (domain.AttributeLayer, error) {
	if layer.CRS == to {
		return layer, nil
	}
	polys := make([]geom.Polygonal, len(layer.Features))
	for i, f := range layer.Features {
		polys[i] = f.Geometry
	}
	moved, err := ReprojectPolygons(polys, layer.CRS, to)
	if err != nil {
		return layer, err
	}
	out := layer
	out.CRS = to
	out.Features = make([]domain.AttributeFeature, len(layer.Features))
	for i, f := range layer.Features {
		f.Geometry = moved[i]
		out.Features[i] = f
	}
	return out, nil
}
