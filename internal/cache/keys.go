package cache

import (
	"fmt"
	"strconv"
)

const keyAllRoutes = "all"

// KeyFrame addresses the stateless frame of a dataset version for a route
// filter; nil means all routes.
func KeyFrame(version uint64, routeID *int) string {
	filter := keyAllRoutes
	if routeID != nil {
		filter = strconv.Itoa(*routeID)
	}
	return fmt.Sprintf("frame:%d:%s", version, filter)
}

// KeyFramePattern matches every cached frame of a dataset version.
func KeyFramePattern(version uint64) string {
	return fmt.Sprintf("frame:%d:*", version)
}
