package functions

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const hotspotSchema = `{
	"type": "object",
	"properties": {
		"file_path": {"type": "string", "description": "Path to a csv or xlsx file"},
		"lat_col": {"type": "string", "description": "Latitude column name"},
		"lon_col": {"type": "string", "description": "Longitude column name"},
		"value_col": {"type": "string", "description": "Numeric column to analyze"},
		"distance_threshold": {"type": "number", "exclusiveMinimum": 0, "description": "Neighborhood distance in meters, default 1000"}
	},
	"required": ["file_path", "lat_col", "lon_col", "value_col"],
	"additionalProperties": false
}`

// zCritical99 is the two-tailed 99% confidence cutoff used to label
// hotspots and coldspots.
const zCritical99 = 2.58

// hotspotGiStar runs a Getis-Ord Gi* analysis over point data: each point
// gets a Gi* statistic against its neighborhood within distance_threshold
// meters, a z-score, a p-value, and a hotspot/coldspot label.
func hotspotGiStar(_ context.Context, params map[string]any) (any, error) {
	path := stringParam(params, "file_path", "")
	latCol := stringParam(params, "lat_col", "")
	lonCol := stringParam(params, "lon_col", "")
	valueCol := stringParam(params, "value_col", "")
	threshold := floatParam(params, "distance_threshold", 1000)

	t, fail := loadTable(path)
	if fail != nil {
		return fail, nil
	}
	for _, col := range []string{latCol, lonCol, valueCol} {
		if t.colIndex(col) < 0 {
			return failure(fmt.Sprintf("missing column: %s", col), nil), nil
		}
	}

	lats, fail := t.floatColumn(latCol)
	if fail != nil {
		return fail, nil
	}
	lons, fail := t.floatColumn(lonCol)
	if fail != nil {
		return fail, nil
	}
	values, fail := t.floatColumn(valueCol)
	if fail != nil {
		return fail, nil
	}

	n := len(values)
	if n < 2 {
		return failure("at least two data rows are required", nil), nil
	}

	// Binary weight matrix: wij[i][j] = 1 when j lies within the
	// neighborhood of i, excluding i itself.
	weights := make([][]int, n)
	for i := range weights {
		weights[i] = make([]int, n)
		for j := range weights[i] {
			if i == j {
				continue
			}
			if haversineMeters(lats[i], lons[i], lats[j], lons[j]) <= threshold {
				weights[i][j] = 1
			}
		}
	}

	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}
	meanX := sum / float64(n)
	s := math.Sqrt(sumSq/float64(n) - meanX*meanX)

	results := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		var weightedSum float64
		neighborCount := 0
		for j := 0; j < n; j++ {
			if weights[i][j] == 1 {
				weightedSum += values[j]
				neighborCount++
			}
		}
		// Binary weights, so sum(w^2) equals the neighbor count.
		sumW := float64(neighborCount)
		denom := s * math.Sqrt((float64(n)*sumW-sumW*sumW)/float64(n-1))

		var giStar, zScore, pValue float64
		if denom == 0 {
			pValue = 1
		} else {
			giStar = (weightedSum - meanX*sumW) / denom
			zScore = giStar
			pValue = math.Erfc(math.Abs(zScore) / math.Sqrt2)
		}

		label := "not significant"
		switch {
		case zScore > zCritical99:
			label = "hotspot"
		case zScore < -zCritical99:
			label = "coldspot"
		}

		results = append(results, map[string]any{
			"index":     i,
			"latitude":  lats[i],
			"longitude": lons[i],
			"value":     values[i],
			"gi_star":   giStar,
			"z_score":   zScore,
			"p_value":   pValue,
			"label":     label,
			"neighbors": neighborCount,
		})
	}

	return map[string]any{
		"status":             "success",
		"count":              n,
		"distance_threshold": threshold,
		"results":            results,
	}, nil
}

// floatColumn parses every cell of a column as float64.
func (t *table) floatColumn(name string) ([]float64, map[string]any) {
	idx := t.colIndex(name)
	out := make([]float64, len(t.rows))
	for i := range t.rows {
		raw := strings.TrimSpace(t.cell(i, idx))
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, failure(fmt.Sprintf("non-numeric value in column %s: %q", name, raw), nil)
		}
		out[i] = v
	}
	return out, nil
}
