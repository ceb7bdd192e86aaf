package geo

import (
	"fmt"
	"math"

	"github.com/samber/lo"
)

// Projection identifies how a virtual image maps latitude/longitude to pixels
type Projection string

const (
	Equirectangular Projection = "equirectangular"
	WebMercator     Projection = "web-mercator"
)

// LongitudeConvention is the native longitude range of a tile family
type LongitudeConvention string

const (
	// LongitudeSigned sources span [-180, 180) left to right (web map services)
	LongitudeSigned LongitudeConvention = "signed"
	// LongitudeEast360 sources span [0, 360) left to right (planetary mosaics)
	LongitudeEast360 LongitudeConvention = "east360"
)

const (
	// MaxMercatorLatitude keeps the Mercator y finite
	MaxMercatorLatitude = 85.0511287798
	MaxLatitude         = 90.0
)

// GeoPoint is a geographic coordinate in degrees
type GeoPoint struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Pixel is a position in a virtual image, origin at the top-left corner
type Pixel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// IsFinite reports whether both components are real numbers
func (p GeoPoint) IsFinite() bool {
	return !math.IsNaN(p.Longitude) && !math.IsInf(p.Longitude, 0) &&
		!math.IsNaN(p.Latitude) && !math.IsInf(p.Latitude, 0)
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("(lon=%.6f, lat=%.6f)", p.Longitude, p.Latitude)
}

// Valid reports whether the projection is one the transform understands
func (p Projection) Valid() bool {
	return p == Equirectangular || p == WebMercator
}

// Valid reports whether the convention is known
func (c LongitudeConvention) Valid() bool {
	return c == LongitudeSigned || c == LongitudeEast360
}

// NormalizeLongitude wraps lon into the native range of the convention
func NormalizeLongitude(lon float64, convention LongitudeConvention) float64 {
	wrapped := math.Mod(math.Mod(lon, 360)+360, 360)
	if convention == LongitudeEast360 {
		return wrapped
	}
	if wrapped >= 180 {
		wrapped -= 360
	}
	return wrapped
}

// ClampLatitude limits lat to the valid domain of the projection
func ClampLatitude(lat float64, projection Projection) float64 {
	limit := MaxLatitude
	if projection == WebMercator {
		limit = MaxMercatorLatitude
	}
	return lo.Clamp(lat, -limit, limit)
}

// ToPixel converts a coordinate to a pixel position in a width x height image
func ToPixel(p GeoPoint, width, height float64, projection Projection, convention LongitudeConvention) Pixel {
	lon := NormalizeLongitude(p.Longitude, convention)
	lat := ClampLatitude(p.Latitude, projection)

	var x float64
	if convention == LongitudeEast360 {
		x = lon / 360 * width
	} else {
		x = (lon + 180) / 360 * width
	}

	var y float64
	switch projection {
	case WebMercator:
		mercY := math.Log(math.Tan(math.Pi/4 + lat*math.Pi/360))
		y = (math.Pi - mercY) / (2 * math.Pi) * height
	default:
		y = (90 - lat) / 180 * height
	}

	return Pixel{X: x, Y: y}
}

// ToGeo converts a pixel position back to a coordinate.
// The returned longitude is always in [-180, 180).
func ToGeo(px Pixel, width, height float64, projection Projection, convention LongitudeConvention) GeoPoint {
	var lon float64
	if convention == LongitudeEast360 {
		lon = px.X / width * 360
	} else {
		lon = px.X/width*360 - 180
	}
	lon = NormalizeLongitude(lon, LongitudeSigned)

	var lat float64
	switch projection {
	case WebMercator:
		mercY := math.Pi - px.Y/height*2*math.Pi
		lat = (2*math.Atan(math.Exp(mercY)) - math.Pi/2) * 180 / math.Pi
	default:
		lat = 90 - px.Y/height*180
	}

	return GeoPoint{Longitude: lon, Latitude: ClampLatitude(lat, projection)}
}

// FlipRow converts a tile row between XYZ (north origin) and TMS (south origin)
// numbering at absolute zoom z. Applying it twice returns the original row.
func FlipRow(z, row int) int {
	return (1 << z) - 1 - row
}
