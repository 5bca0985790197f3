package functions

// Typed accessors for validated parameter maps. JSON numbers decode as
// float64; schema validation has already run, so these only apply defaults
// for optional fields.

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// failure builds the standard failure payload. Domain failures travel as
// results, not errors, so the client sees them on its push channel.
func failure(info string, extra map[string]any) map[string]any {
	out := map[string]any{"status": "failure", "info": info}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
