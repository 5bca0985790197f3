package functions

import (
	"context"
	"math"
	"testing"
)

func callDistance(t *testing.T, coordinates string) map[string]any {
	t.Helper()
	res, err := geodesicDistance(context.Background(), map[string]any{"coordinates_json": coordinates})
	if err != nil {
		t.Fatal(err)
	}
	payload, ok := res.(map[string]any)
	if !ok {
		t.Fatalf("result type %T", res)
	}
	return payload
}

func TestGeodesicDistanceJSONFormat(t *testing.T) {
	// Beijing to Shanghai, roughly 1068 km.
	res := callDistance(t, `{"point1": [39.90923, 116.397428], "point2": [31.23039, 121.473702]}`)
	if res["status"] != "success" {
		t.Fatalf("res = %v", res)
	}
	if res["input_format"] != "json" {
		t.Errorf("input_format = %v", res["input_format"])
	}
	km := res["distance_km"].(float64)
	if km < 1050 || km > 1080 {
		t.Errorf("distance_km = %v, outside plausible range", km)
	}
	m := res["distance_m"].(float64)
	if math.Abs(m-km*1000) > 10 {
		t.Errorf("distance_m = %v inconsistent with distance_km = %v", m, km)
	}
}

func TestGeodesicDistanceCompactFormat(t *testing.T) {
	res := callDistance(t, "39.90923_116.397428,31.23039_121.473702")
	if res["status"] != "success" {
		t.Fatalf("res = %v", res)
	}
	if res["input_format"] != "simple" {
		t.Errorf("input_format = %v", res["input_format"])
	}
	p1, ok := res["point1"].(map[string]any)
	if !ok {
		t.Fatalf("point1 type %T", res["point1"])
	}
	if p1["latitude"] != 39.90923 || p1["formatted"] != "39.90923_116.397428" {
		t.Errorf("point1 = %v", p1)
	}
}

func TestGeodesicDistanceBothFormatsAgree(t *testing.T) {
	a := callDistance(t, `{"point1": [39.9, 116.4], "point2": [31.2, 121.5]}`)
	b := callDistance(t, "39.9_116.4,31.2_121.5")
	if a["distance_m"] != b["distance_m"] {
		t.Errorf("formats disagree: %v vs %v", a["distance_m"], b["distance_m"])
	}
}

func TestGeodesicDistanceZero(t *testing.T) {
	res := callDistance(t, "39.9_116.4,39.9_116.4")
	if res["distance_m"] != 0.0 {
		t.Errorf("distance_m = %v, want 0", res["distance_m"])
	}
}

func TestGeodesicDistanceFailures(t *testing.T) {
	cases := map[string]string{
		"invalid json":       `{"point1": [1, 2], "point2": `,
		"missing point":      `{"point1": [1, 2]}`,
		"short pair":         `{"point1": [1], "point2": [3, 4]}`,
		"too many points":    "1_2,3_4,5_6",
		"malformed first":    "abc,3_4",
		"malformed second":   "1_2,3-4",
		"non-numeric fields": "a_b,c_d",
	}
	for name, input := range cases {
		res := callDistance(t, input)
		if res["status"] != "failure" {
			t.Errorf("%s: status = %v, want failure", name, res["status"])
		}
		if res["info"] == "" {
			t.Errorf("%s: empty info", name)
		}
	}
}
