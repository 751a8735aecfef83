// Package geo provides position validation and geometry helpers.
//
// Positions are stored as EPSG:3857 (Web Mercator) points in WKB form
// alongside the plain lat/lng columns, so spatial consumers can read
// them without re-projecting, including from SQLite which has no
// spatial awareness of its own.
package geo

import (
	"errors"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/coastalguard/beacon/pkg/sos"
)

// ErrInvalidCoordinates is returned when a position is outside WGS84 bounds.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Validate checks that a position is a plausible WGS84 fix.
func Validate(p sos.Position) error {
	if p.Lat < -90 || p.Lat > 90 {
		return ErrInvalidCoordinates
	}
	if p.Lng < -180 || p.Lng > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// Point3857 projects a WGS84 position to an EPSG:3857 point.
func Point3857(p sos.Position) (geom.Point, error) {
	if err := Validate(p); err != nil {
		return geom.Point{}, err
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(p.Lng, p.Lat, 0)
	point, err := geom.NewPoint(geom.Coordinates{
		XY: geom.XY{X: x, Y: y},
	})
	if err != nil {
		return geom.Point{}, err
	}
	return point, nil
}

// MarshalWKB projects a position to 3857 and encodes it as WKB.
func MarshalWKB(p sos.Position) ([]byte, error) {
	point, err := Point3857(p)
	if err != nil {
		return nil, err
	}
	return point.AsBinary(), nil
}

// WebMercator returns the projected x/y of a position for map display.
func WebMercator(p sos.Position) (x, y float64, err error) {
	point, err := Point3857(p)
	if err != nil {
		return 0, 0, err
	}
	xy, ok := point.XY()
	if !ok {
		return 0, 0, ErrInvalidCoordinates
	}
	return xy.X, xy.Y, nil
}
