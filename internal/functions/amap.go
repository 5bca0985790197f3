package functions

import (
	"context"
	"fmt"

	"github.com/basket/geomcp/internal/amap"
)

const searchNearbyPOISchema = `{
	"type": "object",
	"properties": {
		"location": {"type": "string", "description": "Center point as \"lon,lat\""},
		"keywords": {"type": "string", "description": "Search keywords"},
		"poi_type": {"type": "string", "description": "Amap POI category code, e.g. \"050000\""},
		"radius": {"type": "integer", "minimum": 0, "maximum": 50000, "description": "Search radius in meters, default 5000"},
		"page": {"type": "integer", "minimum": 1, "description": "Page number, default 1"},
		"offset": {"type": "integer", "minimum": 1, "maximum": 25, "description": "Page size, default 20"}
	},
	"required": ["location"],
	"additionalProperties": false
}`

const geocodeAddressSchema = `{
	"type": "object",
	"properties": {
		"address": {"type": "string", "description": "Street address to geocode"},
		"city": {"type": "string", "description": "Restrict lookup to a city (name, pinyin, citycode, or adcode)"}
	},
	"required": ["address"],
	"additionalProperties": false
}`

const routeDistanceSchema = `{
	"type": "object",
	"properties": {
		"origin": {"type": "string", "description": "Origin as \"lon,lat\""},
		"destination": {"type": "string", "description": "Destination as \"lon,lat\""},
		"mode": {"type": "string", "enum": ["driving", "walking", "bicycling", "transit"], "description": "Travel mode, default driving"}
	},
	"required": ["origin", "destination"],
	"additionalProperties": false
}`

const keyMissingInfo = "amap api key not configured; set api_keys.amap in config.yaml or the AMAP_API_KEY environment variable"

// amapHandlers adapts the Amap client to registered functions. Transport
// errors become failure payloads so the client sees them on its channel.
type amapHandlers struct {
	client *amap.Client
}

func (h *amapHandlers) searchNearbyPOI(ctx context.Context, params map[string]any) (any, error) {
	if !h.client.Available() {
		return failure(keyMissingInfo, nil), nil
	}
	res, err := h.client.SearchNearbyPOI(ctx, amap.POIQuery{
		Location: stringParam(params, "location", ""),
		Keywords: stringParam(params, "keywords", ""),
		POIType:  stringParam(params, "poi_type", ""),
		Radius:   intParam(params, "radius", 5000),
		Page:     intParam(params, "page", 1),
		Offset:   intParam(params, "offset", 20),
	})
	if err != nil {
		return failure(fmt.Sprintf("poi search request failed: %v", err), nil), nil
	}
	return res, nil
}

func (h *amapHandlers) geocodeAddress(ctx context.Context, params map[string]any) (any, error) {
	if !h.client.Available() {
		return failure(keyMissingInfo, nil), nil
	}
	res, err := h.client.GeocodeAddress(ctx,
		stringParam(params, "address", ""),
		stringParam(params, "city", ""))
	if err != nil {
		return failure(fmt.Sprintf("geocode request failed: %v", err), nil), nil
	}
	return res, nil
}

func (h *amapHandlers) routeDistance(ctx context.Context, params map[string]any) (any, error) {
	if !h.client.Available() {
		return failure(keyMissingInfo, nil), nil
	}
	res, err := h.client.RouteDistance(ctx,
		stringParam(params, "origin", ""),
		stringParam(params, "destination", ""),
		stringParam(params, "mode", "driving"))
	if err != nil {
		return failure(fmt.Sprintf("route request failed: %v", err), nil), nil
	}
	return res, nil
}
