package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const earthRadiusMeters = 6371000.0

// haversineMeters returns the great-circle distance between two points in
// meters, on a sphere of mean Earth radius.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lon2 - lon1) * degToRad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

const geodesicDistanceSchema = `{
	"type": "object",
	"properties": {
		"coordinates_json": {
			"type": "string",
			"description": "Either a JSON object {\"point1\": [lat, lon], \"point2\": [lat, lon]} or the compact form \"lat_lon,lat_lon\""
		}
	},
	"required": ["coordinates_json"],
	"additionalProperties": false
}`

// geodesicDistance computes the distance between two coordinate points.
// Two input encodings are accepted: a JSON object with point1/point2 pairs,
// or the compact "lat_lon,lat_lon" string. Malformed input yields a failure
// payload, not an error.
func geodesicDistance(_ context.Context, params map[string]any) (any, error) {
	input := stringParam(params, "coordinates_json", "")
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return distanceFromJSON(trimmed, input), nil
	}
	return distanceFromCompact(trimmed, input), nil
}

func distanceFromJSON(trimmed, original string) map[string]any {
	var data map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return failure("invalid JSON coordinates", map[string]any{"input": original})
	}
	raw1, ok1 := data["point1"]
	raw2, ok2 := data["point2"]
	if !ok1 || !ok2 {
		return failure("missing 'point1' or 'point2' field", map[string]any{"input": original})
	}

	p1, err1 := parsePointPair(raw1)
	p2, err2 := parsePointPair(raw2)
	if err1 != nil || err2 != nil {
		return failure("coordinates must be [latitude, longitude] pairs", map[string]any{"input": original})
	}

	meters := haversineMeters(p1[0], p1[1], p2[0], p2[1])
	return map[string]any{
		"status":       "success",
		"distance_km":  round2(meters / 1000),
		"distance_m":   round2(meters),
		"point1":       []float64{p1[0], p1[1]},
		"point2":       []float64{p2[0], p2[1]},
		"input_format": "json",
	}
}

func distanceFromCompact(trimmed, original string) map[string]any {
	parts := strings.Split(trimmed, ",")
	if len(parts) != 2 {
		return failure("coordinates must be 'lat_lon,lat_lon'", map[string]any{"input": original})
	}
	p1, err := parseCompactPoint(parts[0])
	if err != nil {
		return failure("first point must be 'lat_lon'", map[string]any{"input": parts[0]})
	}
	p2, err := parseCompactPoint(parts[1])
	if err != nil {
		return failure("second point must be 'lat_lon'", map[string]any{"input": parts[1]})
	}

	meters := haversineMeters(p1[0], p1[1], p2[0], p2[1])
	return map[string]any{
		"status":      "success",
		"distance_km": round2(meters / 1000),
		"distance_m":  round2(meters),
		"point1": map[string]any{
			"latitude":  p1[0],
			"longitude": p1[1],
			"formatted": fmt.Sprintf("%v_%v", p1[0], p1[1]),
		},
		"point2": map[string]any{
			"latitude":  p2[0],
			"longitude": p2[1],
			"formatted": fmt.Sprintf("%v_%v", p2[0], p2[1]),
		},
		"input_format": "simple",
	}
}

func parsePointPair(raw json.RawMessage) ([2]float64, error) {
	var pair []float64
	if err := json.Unmarshal(raw, &pair); err != nil {
		return [2]float64{}, err
	}
	if len(pair) != 2 {
		return [2]float64{}, fmt.Errorf("point has %d elements", len(pair))
	}
	return [2]float64{pair[0], pair[1]}, nil
}

func parseCompactPoint(s string) ([2]float64, error) {
	fields := strings.Split(strings.TrimSpace(s), "_")
	if len(fields) != 2 {
		return [2]float64{}, fmt.Errorf("point %q not in lat_lon form", s)
	}
	lat, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return [2]float64{}, err
	}
	lon, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return [2]float64{}, err
	}
	return [2]float64{lat, lon}, nil
}
