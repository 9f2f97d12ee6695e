// Package tilegrid maps land parcel boundaries to satellite grid tiles.
//
// Tiles follow the MGRS 100km grid naming. The mapping uses a representative
// point of the parcel polygon matched against an ordered list of bounding
// boxes; parcels outside every box get the configured default tile so a
// gap in the rule table never drops a parcel from harvesting.
package tilegrid

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// boundingBox is one grid rule: a lat/lng box and the tile covering it.
type boundingBox struct {
	minLat, maxLat float64
	minLng, maxLng float64
	tileID         string
}

// Ordered rule list, first match wins.
var gridRules = []boundingBox{
	{minLat: 16, maxLat: 20, minLng: 78, maxLng: 82, tileID: "43RGN"},
	{minLat: 20, maxLat: 24, minLng: 78, maxLng: 82, tileID: "43RHP"},
	{minLat: 24, maxLat: 28, minLng: 78, maxLng: 82, tileID: "43RJP"},
}

// Locator resolves parcel boundaries to tile IDs.
type Locator struct {
	defaultTile string
}

// New returns a Locator falling back to defaultTile when no grid rule
// matches.
func New(defaultTile string) *Locator {
	return &Locator{defaultTile: defaultTile}
}

// Locate decodes a GeoJSON boundary and returns the tile covering it.
// Returns ok=false for empty or undecodable geometry; callers skip the
// parcel rather than abort the batch.
func (l *Locator) Locate(boundary string) (tileID string, ok bool) {
	point, ok := representativePoint(boundary)
	if !ok {
		return "", false
	}

	// Bounds are inclusive on both ends; a point on a shared edge goes to
	// the first matching rule.
	lng, lat := point.X(), point.Y()
	for _, rule := range gridRules {
		if lat >= rule.minLat && lat <= rule.maxLat && lng >= rule.minLng && lng <= rule.maxLng {
			return rule.tileID, true
		}
	}
	return l.defaultTile, true
}

// representativePoint extracts the first coordinate of the polygon's outer
// ring. Good enough for tile resolution since parcels are tiny relative to
// a 100km tile.
func representativePoint(boundary string) (orb.Point, bool) {
	if boundary == "" {
		return orb.Point{}, false
	}

	geom, err := geojson.UnmarshalGeometry([]byte(boundary))
	if err != nil {
		return orb.Point{}, false
	}

	switch g := geom.Geometry().(type) {
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) == 0 {
			return orb.Point{}, false
		}
		return g[0][0], true
	case orb.MultiPolygon:
		if len(g) == 0 || len(g[0]) == 0 || len(g[0][0]) == 0 {
			return orb.Point{}, false
		}
		return g[0][0][0], true
	case orb.Point:
		return g, true
	default:
		return orb.Point{}, false
	}
}
