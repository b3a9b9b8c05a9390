package camera

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"busmap/internal/domain"
)

// TileLayer is the XYZ raster base map configuration.
type TileLayer struct {
	URLTemplate string   `json:"url"`
	Attribution string   `json:"attribution"`
	Subdomains  []string `json:"subdomains,omitempty"`
}

// URL expands the {s}, {z}, {x} and {y} placeholders for a tile.
func (l TileLayer) URL(t maptile.Tile) string {
	sub := ""
	if len(l.Subdomains) > 0 {
		sub = l.Subdomains[int(t.X+t.Y)%len(l.Subdomains)]
	}
	r := strings.NewReplacer(
		"{s}", sub,
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
		"{r}", "",
	)
	return r.Replace(l.URLTemplate)
}

// TileAt returns the tile containing p at zoom.
func TileAt(p domain.GeoPoint, zoom int) maptile.Tile {
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, p.Latitude))
	t := maptile.At(orb.Point{p.Longitude, lat}, maptile.Zoom(zoom))

	maxTile := uint32(1)<<uint32(zoom) - 1
	if t.X > maxTile {
		t.X = maxTile
	}
	if t.Y > maxTile {
		t.Y = maxTile
	}
	return t
}

// TileID formats a tile as z/x/y.
func TileID(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// TilesInBounds returns all tiles that intersect the box at zoom, row by row
// from the north-west corner.
func TilesInBounds(bb domain.BoundingBox, zoom int) []maptile.Tile {
	topLeft := TileAt(domain.GeoPoint{Latitude: bb.MaxLat, Longitude: bb.MinLng}, zoom)
	bottomRight := TileAt(domain.GeoPoint{Latitude: bb.MinLat, Longitude: bb.MaxLng}, zoom)

	var tiles []maptile.Tile
	for y := topLeft.Y; y <= bottomRight.Y; y++ {
		for x := topLeft.X; x <= bottomRight.X; x++ {
			tiles = append(tiles, maptile.New(x, y, maptile.Zoom(zoom)))
		}
	}
	return tiles
}
