// Package region tests whether coordinates fall inside polygon boundaries
// loaded from ESRI shapefiles.
package region

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
)

var (
	// ErrNoShapes means no polygon matched the requested attribute values.
	ErrNoShapes = errors.New("no matching shapes")
	// ErrUnknownField means the shapefile has no attribute with that name.
	ErrUnknownField = errors.New("unknown shapefile field")
)

// polygon is one shape: its rings (outer boundaries and holes) and bounds.
type polygon struct {
	rings [][]shp.Point
	box   shp.Box
}

// Region is a set of polygons. Coordinates are longitude (X) and latitude (Y).
type Region struct {
	Name     string
	polygons []polygon
	box      shp.Box
}

// Box returns a rectangular region, bounds included.
func Box(name string, minLat, maxLat, minLon, maxLon float64) *Region {
	ring := []shp.Point{
		{X: minLon, Y: minLat}, {X: maxLon, Y: minLat},
		{X: maxLon, Y: maxLat}, {X: minLon, Y: maxLat},
		{X: minLon, Y: minLat},
	}
	r := &Region{Name: name}
	r.add(polygon{rings: [][]shp.Point{ring}, box: shp.BBoxFromPoints(ring)})
	return r
}

// Len returns the number of polygons.
func (r *Region) Len() int { return len(r.polygons) }

// Contains reports whether (lat, lon) lies in any polygon of the region.
// Points on a bounding box edge of a Box region are inside.
func (r *Region) Contains(lat, lon float64) bool {
	if !inBox(r.box, lon, lat) {
		return false
	}
	for _, p := range r.polygons {
		if inBox(p.box, lon, lat) && p.contains(lon, lat) {
			return true
		}
	}
	return false
}

func (r *Region) add(p polygon) {
	if len(r.polygons) == 0 {
		r.box = p.box
	} else {
		r.box.Extend(p.box)
	}
	r.polygons = append(r.polygons, p)
}

// contains applies the even-odd rule across all rings, so holes are
// excluded. A point on a boundary of an axis-aligned ring counts as inside.
func (p polygon) contains(x, y float64) bool {
	inside := false
	for _, ring := range p.rings {
		n := len(ring)
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			a, b := ring[i], ring[j]
			if onSegment(a, b, x, y) {
				return true
			}
			if (a.Y > y) != (b.Y > y) &&
				x < (b.X-a.X)*(y-a.Y)/(b.Y-a.Y)+a.X {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b shp.Point, x, y float64) bool {
	const eps = 1e-12
	cross := (b.X-a.X)*(y-a.Y) - (b.Y-a.Y)*(x-a.X)
	if math.Abs(cross) > eps {
		return false
	}
	return x >= math.Min(a.X, b.X)-eps && x <= math.Max(a.X, b.X)+eps &&
		y >= math.Min(a.Y, b.Y)-eps && y <= math.Max(a.Y, b.Y)+eps
}

func inBox(b shp.Box, x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Open loads a region from a .shp file or a .zip archive holding one. For
// archives, the first shapefile found is used after extraction into a
// temporary directory.
func Open(path, field string, values ...string) (*Region, error) {
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return LoadShapefile(path, field, values...)
	}

	dir, err := os.MkdirTemp("", "isdlite-region-")
	if err != nil {
		return nil, fmt.Errorf("creating extraction directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := ExtractZip(path, dir); err != nil {
		return nil, fmt.Errorf("extracting shapefile: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.shp"))
	if err != nil || len(matches) == 0 {
		matches, _ = filepath.Glob(filepath.Join(dir, "*", "*.shp"))
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no .shp file in %s", path)
	}
	return LoadShapefile(matches[0], field, values...)
}

// LoadShapefile reads the polygons of a shapefile. When field is set, only
// shapes whose attribute of that name equals one of values (ignoring case)
// are kept; otherwise every polygon is kept.
func LoadShapefile(path, field string, values ...string) (*Region, error) {
	shape, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile: %w", err)
	}
	defer shape.Close()

	fieldIdx := -1
	if field != "" {
		for i, f := range shape.Fields() {
			if strings.EqualFold(strings.TrimRight(f.String(), "\x00 "), field) {
				fieldIdx = i
				break
			}
		}
		if fieldIdx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
	}
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[strings.ToUpper(strings.TrimSpace(v))] = true
	}

	r := &Region{Name: strings.Join(values, ",")}
	if r.Name == "" {
		r.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	for shape.Next() {
		n, s := shape.Shape()
		if fieldIdx >= 0 {
			attr := strings.ToUpper(strings.TrimSpace(shape.ReadAttribute(n, fieldIdx)))
			if !want[attr] {
				continue
			}
		}
		p, ok := s.(*shp.Polygon)
		if !ok || len(p.Points) == 0 {
			continue
		}
		r.add(polygon{rings: splitRings(p), box: p.BBox()})
	}
	if len(r.polygons) == 0 {
		return nil, ErrNoShapes
	}
	return r, nil
}

func splitRings(p *shp.Polygon) [][]shp.Point {
	rings := make([][]shp.Point, 0, len(p.Parts))
	for i := range p.Parts {
		start := int(p.Parts[i])
		end := len(p.Points)
		if i+1 < len(p.Parts) {
			end = int(p.Parts[i+1])
		}
		if start < end {
			rings = append(rings, p.Points[start:end])
		}
	}
	return rings
}
