// Package amap is a client for the Amap (Gaode) REST API: place search,
// geocoding, and route planning.
package amap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const defaultBaseURL = "https://restapi.amap.com"

// Client calls the Amap REST API. The API key may be swapped at runtime
// when the config file changes.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// NewClient builds a client. An empty baseURL uses the production host; an
// empty key leaves the client unavailable until SetAPIKey.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
	}
}

// SetAPIKey replaces the key, for config reloads.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

// Available reports whether an API key is configured.
func (c *Client) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

func (c *Client) key() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// apiResponse holds the envelope fields every Amap endpoint returns.
// Status is "1" on success. Amap encodes numbers as JSON strings.
type apiResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	Infocode string `json:"infocode"`
}

// get performs a GET against the given API path and decodes the body into
// both the envelope and a generic map for endpoint-specific fields.
func (c *Client) get(ctx context.Context, path string, params url.Values) (*apiResponse, map[string]any, error) {
	params.Set("key", c.key())
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("amap API returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, err
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, fmt.Errorf("parse amap response: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, nil, fmt.Errorf("parse amap response: %w", err)
	}
	return &envelope, fields, nil
}

// POIQuery describes a nearby place search.
type POIQuery struct {
	// Location is the center point as "lon,lat".
	Location string
	Keywords string
	// POIType is an Amap category code such as "050000".
	POIType string
	// Radius is the search radius in meters, 0-50000.
	Radius int
	Page   int
	// Offset is the page size; Amap recommends at most 25.
	Offset int
}

// SearchNearbyPOI searches places around a center point, sorted by distance.
func (c *Client) SearchNearbyPOI(ctx context.Context, q POIQuery) (map[string]any, error) {
	if q.Radius == 0 {
		q.Radius = 5000
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Offset == 0 {
		q.Offset = 20
	}

	params := url.Values{}
	params.Set("location", q.Location)
	params.Set("radius", strconv.Itoa(q.Radius))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("extensions", "all")
	params.Set("sortrule", "distance")
	if q.Keywords != "" {
		params.Set("keywords", q.Keywords)
	}
	if q.POIType != "" {
		params.Set("types", q.POIType)
	}

	envelope, fields, err := c.get(ctx, "/v3/place/around", params)
	if err != nil {
		return nil, err
	}
	searchQuery := map[string]any{"keywords": q.Keywords, "poi_type": q.POIType}
	if envelope.Status != "1" {
		return map[string]any{
			"status":   "failure",
			"info":     orUnknown(envelope.Info),
			"infocode": envelope.Infocode,
			"search_query": map[string]any{
				"location": q.Location,
				"keywords": q.Keywords,
				"poi_type": q.POIType,
				"radius":   q.Radius,
			},
		}, nil
	}

	pois := fields["pois"]
	if pois == nil {
		pois = []any{}
	}
	count, _ := fields["count"].(string)
	if count == "" {
		count = "0"
	}
	return map[string]any{
		"status":       "success",
		"count":        count,
		"pois":         pois,
		"center":       q.Location,
		"radius":       q.Radius,
		"search_query": searchQuery,
	}, nil
}

// GeocodeAddress resolves a street address to coordinates. The first
// geocode candidate wins.
func (c *Client) GeocodeAddress(ctx context.Context, address, city string) (map[string]any, error) {
	params := url.Values{}
	params.Set("address", address)
	if city != "" {
		params.Set("city", city)
	}

	envelope, fields, err := c.get(ctx, "/v3/geocode/geo", params)
	if err != nil {
		return nil, err
	}

	geocodes, _ := fields["geocodes"].([]any)
	if envelope.Status != "1" || len(geocodes) == 0 {
		return map[string]any{
			"status":        "failure",
			"info":          orUnknown(envelope.Info),
			"infocode":      envelope.Infocode,
			"query_address": address,
		}, nil
	}

	first, _ := geocodes[0].(map[string]any)
	return map[string]any{
		"status":            "success",
		"original_address":  address,
		"formatted_address": strField(first, "formatted_address"),
		"location":          strField(first, "location"),
		"level":             strField(first, "level"),
		"city":              strField(first, "city"),
		"district":          strField(first, "district"),
		"adcode":            strField(first, "adcode"),
	}, nil
}

// RouteModes are the supported travel modes for RouteDistance.
var RouteModes = []string{"driving", "walking", "bicycling", "transit"}

var routePaths = map[string]string{
	"driving":   "/v3/direction/driving",
	"walking":   "/v3/direction/walking",
	"bicycling": "/v4/direction/bicycling",
	"transit":   "/v3/direction/transit/integrated",
}

// RouteDistance plans a route between two points and reports its distance
// and duration. Transit routes report taxi cost and the transit legs
// instead of a duration.
func (c *Client) RouteDistance(ctx context.Context, origin, destination, mode string) (map[string]any, error) {
	path, ok := routePaths[mode]
	if !ok {
		return map[string]any{
			"status": "failure",
			"info":   fmt.Sprintf("invalid mode: %s", mode),
			"query":  routeQuery(origin, destination, mode),
		}, nil
	}

	params := url.Values{}
	params.Set("origin", origin)
	params.Set("destination", destination)
	params.Set("extensions", "base")

	envelope, fields, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}
	if envelope.Status == "1" {
		route, _ := fields["route"].(map[string]any)
		if mode == "transit" {
			transits := route["transits"]
			if transits == nil {
				transits = []any{}
			}
			return map[string]any{
				"status":      "success",
				"mode":        mode,
				"origin":      origin,
				"destination": destination,
				"distance":    strFieldOr(route, "distance", "0"),
				"taxi_cost":   strFieldOr(route, "taxi_cost", "0"),
				"transits":    transits,
			}, nil
		}
		paths, _ := route["paths"].([]any)
		if len(paths) > 0 {
			first, _ := paths[0].(map[string]any)
			result := map[string]any{
				"status":      "success",
				"mode":        mode,
				"origin":      origin,
				"destination": destination,
				"distance":    strFieldOr(first, "distance", "0"),
				"duration":    strFieldOr(first, "duration", "0"),
			}
			if mode == "driving" {
				result["tolls"] = strFieldOr(first, "tolls", "0")
				result["toll_distance"] = strFieldOr(first, "toll_distance", "0")
			}
			return result, nil
		}
	}

	return map[string]any{
		"status":   "failure",
		"info":     orUnknown(envelope.Info),
		"infocode": envelope.Infocode,
		"query":    routeQuery(origin, destination, mode),
	}, nil
}

func routeQuery(origin, destination, mode string) map[string]any {
	return map[string]any{"origin": origin, "destination": destination, "mode": mode}
}

func orUnknown(info string) string {
	if info == "" {
		return "unknown error"
	}
	return info
}

func strField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func strFieldOr(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}
