package functions

import (
	"encoding/json"
	"fmt"

	"github.com/basket/geomcp/internal/amap"
)

// RegisterBuiltins populates the registry with the full geospatial function
// set: local computations plus the Amap-backed lookups.
func RegisterBuiltins(r *Registry, amapClient *amap.Client) error {
	ah := &amapHandlers{client: amapClient}

	builtins := []struct {
		name        string
		description string
		schema      string
		handler     Handler
	}{
		{
			"calculate_geodesic_distance",
			"Compute the geodesic distance between two coordinate points. Accepts a JSON object with point1/point2 [lat, lon] pairs or the compact \"lat_lon,lat_lon\" form.",
			geodesicDistanceSchema,
			geodesicDistance,
		},
		{
			"read_table_file",
			"Read the column names and first rows of a csv or xlsx file.",
			readTableFileSchema,
			readTableFile,
		},
		{
			"analyze_distance_distribution",
			"Summarize a distance column: mean, spread, percentiles, and counts per distance band.",
			distanceDistributionSchema,
			distanceDistribution,
		},
		{
			"hotspot_analysis_getis_ord_gi_star",
			"Getis-Ord Gi* hotspot analysis over point data with a fixed neighborhood distance.",
			hotspotSchema,
			hotspotGiStar,
		},
		{
			"search_nearby_poi",
			"Search points of interest around a center coordinate via the Amap API.",
			searchNearbyPOISchema,
			ah.searchNearbyPOI,
		},
		{
			"geocode_address",
			"Resolve a street address to coordinates via the Amap API.",
			geocodeAddressSchema,
			ah.geocodeAddress,
		},
		{
			"calculate_route_distance",
			"Plan a route between two points via the Amap API and report its distance and duration.",
			routeDistanceSchema,
			ah.routeDistance,
		},
	}

	for _, b := range builtins {
		if err := r.Register(b.name, b.description, json.RawMessage(b.schema), b.handler); err != nil {
			return fmt.Errorf("register builtins: %w", err)
		}
	}
	return nil
}
