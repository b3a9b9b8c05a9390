// Package camera positions the map viewport over a bounding box using the
// Web Mercator (slippy map) scheme shared with the tile provider.
package camera

import (
	"math"

	"busmap/internal/domain"
)

const (
	TileSize = 256

	// MaxLatitude is the Web Mercator cutoff.
	MaxLatitude = 85.0511287798
)

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Padding is the margin in pixels kept free on each side of the fitted box.
type Padding [2]int

type Camera struct {
	Center domain.GeoPoint `json:"center"`
	Zoom   int             `json:"zoom"`
}

// Fitter fits boxes into a fixed viewport.
type Fitter struct {
	Viewport Viewport
	Padding  Padding
	MinZoom  int
	MaxZoom  int
}

// Fit returns the highest zoom at which bb fits inside the padded viewport
// and the camera center. A degenerate box (one point) fits at MaxZoom.
func (f Fitter) Fit(bb domain.BoundingBox) Camera {
	x1, y1 := project(bb.MaxLat, bb.MinLng)
	x2, y2 := project(bb.MinLat, bb.MaxLng)

	innerW := float64(f.Viewport.Width - 2*f.Padding[0])
	innerH := float64(f.Viewport.Height - 2*f.Padding[1])

	zoom := f.MaxZoom
	if innerW <= 0 || innerH <= 0 {
		zoom = f.MinZoom
	} else {
		zx := zoomFor(innerW, x2-x1)
		zy := zoomFor(innerH, y2-y1)
		z := math.Floor(math.Min(zx, zy))
		if z < float64(zoom) {
			zoom = int(z)
		}
	}
	if zoom < f.MinZoom {
		zoom = f.MinZoom
	}

	lat, lng := unproject((x1+x2)/2, (y1+y2)/2)
	return Camera{
		Center: domain.GeoPoint{Latitude: lat, Longitude: lng},
		Zoom:   zoom,
	}
}

// ViewBounds returns the box visible in the viewport for a camera.
func (f Fitter) ViewBounds(c Camera) domain.BoundingBox {
	scale := TileSize * math.Exp2(float64(c.Zoom))
	cx, cy := project(c.Center.Latitude, c.Center.Longitude)
	halfW := float64(f.Viewport.Width) / 2 / scale
	halfH := float64(f.Viewport.Height) / 2 / scale

	maxLat, minLng := unproject(math.Max(0, cx-halfW), math.Max(0, cy-halfH))
	minLat, maxLng := unproject(math.Min(1, cx+halfW), math.Min(1, cy+halfH))
	return domain.BoundingBox{MinLat: minLat, MinLng: minLng, MaxLat: maxLat, MaxLng: maxLng}
}

// zoomFor returns the fractional zoom at which span (in normalized Mercator
// units) covers px pixels. Zero span fits at any zoom.
func zoomFor(px, span float64) float64 {
	if span <= 0 {
		return math.Inf(1)
	}
	return math.Log2(px / (span * TileSize))
}

// project maps a coordinate into normalized Mercator space [0,1]x[0,1].
func project(lat, lng float64) (x, y float64) {
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	x = (lng + 180.0) / 360.0
	latRad := lat * math.Pi / 180.0
	y = (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0
	return x, y
}

func unproject(x, y float64) (lat, lng float64) {
	lng = x*360.0 - 180.0
	lat = math.Atan(math.Sinh(math.Pi*(1-2*y))) * 180.0 / math.Pi
	return lat, lng
}
