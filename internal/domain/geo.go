package domain

import (
	"fmt"
	"math"
)

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the point is finite and inside the lat/lng ranges.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) ||
		math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// String formats the point the way popups show it.
func (p GeoPoint) String() string {
	return fmt.Sprintf("%.4f, %.4f", p.Latitude, p.Longitude)
}

// BoundingBox represents a geographic rectangle
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MinLng float64 `json:"minLng"`
	MaxLat float64 `json:"maxLat"`
	MaxLng float64 `json:"maxLng"`
}

// Contains checks if a point is within the bounding box
func (bb BoundingBox) Contains(p GeoPoint) bool {
	return p.Latitude >= bb.MinLat && p.Latitude <= bb.MaxLat &&
		p.Longitude >= bb.MinLng && p.Longitude <= bb.MaxLng
}

func (bb BoundingBox) Center() GeoPoint {
	return GeoPoint{
		Latitude:  (bb.MinLat + bb.MaxLat) / 2,
		Longitude: (bb.MinLng + bb.MaxLng) / 2,
	}
}

// Extend grows the box to include p.
func (bb BoundingBox) Extend(p GeoPoint) BoundingBox {
	return BoundingBox{
		MinLat: math.Min(bb.MinLat, p.Latitude),
		MinLng: math.Min(bb.MinLng, p.Longitude),
		MaxLat: math.Max(bb.MaxLat, p.Latitude),
		MaxLng: math.Max(bb.MaxLng, p.Longitude),
	}
}

// PointBox is the degenerate box around a single point.
func PointBox(p GeoPoint) BoundingBox {
	return BoundingBox{MinLat: p.Latitude, MinLng: p.Longitude, MaxLat: p.Latitude, MaxLng: p.Longitude}
}
