package view

import "busmap/internal/domain"

// Bounds returns the componentwise min/max box of the valid points. ok is
// false when there is nothing to fit, in which case the camera must not move.
func Bounds(points []domain.GeoPoint) (bb domain.BoundingBox, ok bool) {
	for _, p := range points {
		if !p.Valid() {
			continue
		}
		if !ok {
			bb, ok = domain.PointBox(p), true
			continue
		}
		bb = bb.Extend(p)
	}
	return bb, ok
}

func samePoints(a, b []domain.GeoPoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
