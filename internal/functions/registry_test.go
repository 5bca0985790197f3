package functions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/basket/geomcp/internal/amap"
)

func newBuiltinRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	client := amap.NewClient("", "", time.Second)
	if err := RegisterBuiltins(r, client); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRegisterBuiltins(t *testing.T) {
	r := newBuiltinRegistry(t)
	want := []string{
		"analyze_distance_distribution",
		"calculate_geodesic_distance",
		"calculate_route_distance",
		"geocode_address",
		"hotspot_analysis_getis_ord_gi_star",
		"read_table_file",
		"search_nearby_poi",
	}
	list := r.List()
	if len(list) != len(want) {
		t.Fatalf("registered %d functions, want %d", len(list), len(want))
	}
	for i, s := range list {
		if s.Name != want[i] {
			t.Errorf("list[%d] = %s, want %s", i, s.Name, want[i])
		}
		if s.Description == "" || len(s.Parameters) == 0 {
			t.Errorf("%s missing description or schema", s.Name)
		}
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	schema := json.RawMessage(`{"type": "object"}`)
	h := func(context.Context, map[string]any) (any, error) { return nil, nil }
	if err := r.Register("f", "d", schema, h); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("f", "d", schema, h); err == nil {
		t.Error("duplicate registration succeeded")
	}
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	r := NewRegistry()
	h := func(context.Context, map[string]any) (any, error) { return nil, nil }
	if err := r.Register("f", "d", json.RawMessage(`{"type": 42}`), h); err == nil {
		t.Error("invalid schema accepted")
	}
}

func TestValidateParams(t *testing.T) {
	r := newBuiltinRegistry(t)
	d, ok := r.Lookup("calculate_geodesic_distance")
	if !ok {
		t.Fatal("function not found")
	}

	if err := d.ValidateParams(map[string]any{"coordinates_json": "1_2,3_4"}); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}

	cases := []map[string]any{
		nil,                            // missing required field
		{"coordinates_json": 42},            // wrong type
		{"coordinates_json": "x", "y": "z"}, // additional property
	}
	for i, params := range cases {
		err := d.ValidateParams(params)
		if err == nil {
			t.Errorf("case %d: invalid params accepted", i)
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("case %d: error type %T", i, err)
		}
	}
}

func TestValidateNumericBounds(t *testing.T) {
	r := newBuiltinRegistry(t)
	d, _ := r.Lookup("search_nearby_poi")

	if err := d.ValidateParams(map[string]any{"location": "1,1", "radius": float64(1000)}); err != nil {
		t.Errorf("valid radius rejected: %v", err)
	}
	if err := d.ValidateParams(map[string]any{"location": "1,1", "radius": float64(60000)}); err == nil {
		t.Error("radius above maximum accepted")
	}
}
