package functions

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const distanceDistributionSchema = `{
	"type": "object",
	"properties": {
		"file_path": {"type": "string", "description": "Path to a csv or xlsx file"},
		"distance_col": {"type": "string", "description": "Distance column name, default \"distance\""}
	},
	"required": ["file_path"],
	"additionalProperties": false
}`

var distanceRanges = []struct {
	label string
	lo    float64
	hi    float64
}{
	{"0-100m", 0, 100},
	{"100-500m", 100, 500},
	{"500-1000m", 500, 1000},
	{"1-2km", 1000, 2000},
	{"2-5km", 2000, 5000},
	{">5km", 5000, math.Inf(1)},
}

// distanceDistribution summarizes a distance column: central statistics,
// percentiles, and counts per distance band.
func distanceDistribution(_ context.Context, params map[string]any) (any, error) {
	path := stringParam(params, "file_path", "")
	col := stringParam(params, "distance_col", "distance")

	t, fail := loadTable(path)
	if fail != nil {
		return fail, nil
	}
	idx := t.colIndex(col)
	if idx < 0 {
		return failure(fmt.Sprintf("missing distance column: %s", col), nil), nil
	}

	distances := make([]float64, 0, len(t.rows))
	for i := range t.rows {
		raw := strings.TrimSpace(t.cell(i, idx))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return failure(fmt.Sprintf("non-numeric value in column %s: %q", col, raw), nil), nil
		}
		distances = append(distances, v)
	}
	if len(distances) == 0 {
		return failure(fmt.Sprintf("no values in column %s", col), nil), nil
	}

	sorted := append([]float64(nil), distances...)
	sort.Float64s(sorted)

	stats := map[string]any{
		"count":  len(distances),
		"mean":   mean(distances),
		"std":    sampleStd(distances),
		"min":    sorted[0],
		"max":    sorted[len(sorted)-1],
		"median": quantile(sorted, 0.5),
		"q1":     quantile(sorted, 0.25),
		"q3":     quantile(sorted, 0.75),
		"percentiles": map[string]any{
			"10": quantile(sorted, 0.10),
			"25": quantile(sorted, 0.25),
			"50": quantile(sorted, 0.50),
			"75": quantile(sorted, 0.75),
			"90": quantile(sorted, 0.90),
		},
	}

	rangeCounts := map[string]int{}
	for _, r := range distanceRanges {
		rangeCounts[r.label] = 0
	}
	for _, v := range distances {
		for _, r := range distanceRanges {
			// Bands are left-exclusive, right-inclusive; zero and negative
			// distances fall outside every band.
			if v > r.lo && v <= r.hi {
				rangeCounts[r.label]++
				break
			}
		}
	}

	return map[string]any{
		"status":          "success",
		"statistics":      stats,
		"distance_ranges": rangeCounts,
	}, nil
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// sampleStd is the n-1 denominator standard deviation. A single value has
// no spread; 0 is returned rather than NaN.
func sampleStd(vals []float64) float64 {
	n := len(vals)
	if n < 2 {
		return 0
	}
	m := mean(vals)
	var ss float64
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// quantile interpolates linearly between order statistics. Input must be
// sorted ascending.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
