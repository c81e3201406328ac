package bulk

import (
	"context"
	"fmt"
	"math"
	"sort"

	"routerisk/internal/model"
	"routerisk/internal/store"
	"routerisk/internal/track"
)

// Task names.
const (
	TaskGeometry      = "geometry"
	TaskCoverage      = "coverage"
	TaskRoadCondition = "roadcondition"
	TaskIncidents     = "incidents"
	TaskWeather       = "weather"
)

// TaskSpec is one enrichment task: it derives records for a route and writes
// them to its own collection. RecordsCreated reported by Run is advisory; the
// coordinator re-reads the collection count afterwards.
type TaskSpec struct {
	Name       string
	Collection string
	Run        func(ctx context.Context, st store.Store, route model.Route) (int, error)
}

// DefaultTasks returns the full enrichment set. Each task works from the
// persisted route geometry; tasks backed by external feeds degrade to
// geometry-derived estimates so the pipeline has no hard network dependency.
func DefaultTasks() []TaskSpec {
	return []TaskSpec{
		{Name: TaskGeometry, Collection: "route_geometry", Run: runGeometry},
		{Name: TaskCoverage, Collection: "coverage_reports", Run: runCoverage},
		{Name: TaskRoadCondition, Collection: "road_conditions", Run: runRoadCondition},
		{Name: TaskIncidents, Collection: "incident_history", Run: runIncidents},
		{Name: TaskWeather, Collection: "weather_reports", Run: runWeather},
	}
}

// runGeometry detects track anomalies: duplicate consecutive fixes, jumps over
// 100 km, stationary stretches under 10 m, and routes spanning or alternating
// between latitude regions.
func runGeometry(ctx context.Context, st store.Store, route model.Route) (int, error) {
	points := route.Points
	if len(points) < 2 {
		return 0, fmt.Errorf("route %s has no stored geometry", route.ID)
	}
	segs := track.SegmentDistancesKm(points)
	var records []map[string]any

	duplicates := 0
	for i := 0; i+1 < len(points); i++ {
		if points[i].Lat == points[i+1].Lat && points[i].Lng == points[i+1].Lng {
			duplicates++
		}
	}
	if duplicates > 0 {
		records = append(records, map[string]any{
			"kind": "duplicate-points", "count": duplicates,
		})
	}

	var jumpAt []int
	for i, d := range segs {
		if d > 100 {
			jumpAt = append(jumpAt, i)
		}
	}
	if len(jumpAt) > 0 {
		records = append(records, map[string]any{
			"kind": "large-jumps", "positions": jumpAt, "thresholdKm": 100,
		})
	}

	stationary := 0
	for _, d := range segs {
		if d > 0 && d < 0.01 {
			stationary++
		}
	}
	if stationary > 5 {
		records = append(records, map[string]any{
			"kind": "stationary-segments", "count": stationary,
		})
	}

	records = append(records, regionRecords(points)...)

	// Always leave a summary record so downstream reports can distinguish
	// "analyzed, clean" from "never analyzed".
	records = append(records, map[string]any{
		"kind":       "summary",
		"anomalies":  len(records),
		"segments":   len(segs),
		"distanceKm": route.TotalDistanceKm,
	})
	return st.AddEnrichmentRecords(ctx, "route_geometry", route.ID, records)
}

// regionRecords groups points by integer latitude prefix; multiple groups mean
// the track spans regions, and frequent prefix changes mean interleaved fixes.
func regionRecords(points []model.TrackPoint) []map[string]any {
	groups := map[int]int{}
	for _, p := range points {
		groups[int(p.Lat)]++
	}
	if len(groups) <= 1 {
		return nil
	}
	prefixes := make([]int, 0, len(groups))
	for k := range groups {
		prefixes = append(prefixes, k)
	}
	sort.Ints(prefixes)
	regions := make([]map[string]any, 0, len(prefixes))
	for _, pr := range prefixes {
		regions = append(regions, map[string]any{"latPrefix": pr, "points": groups[pr]})
	}
	out := []map[string]any{{"kind": "multi-region", "regions": regions}}

	alternations := 0
	prev := int(points[0].Lat)
	for _, p := range points[1:] {
		if cur := int(p.Lat); cur != prev {
			alternations++
			prev = cur
		}
	}
	if float64(alternations) > float64(len(points))*0.3 {
		out = append(out, map[string]any{"kind": "region-alternation", "count": alternations})
	}
	return out
}

// sampleEvery returns roughly n evenly spaced points of the route.
func sampleEvery(points []model.TrackPoint, n int) []model.TrackPoint {
	if n <= 0 || len(points) <= n {
		return points
	}
	step := float64(len(points)-1) / float64(n-1)
	out := make([]model.TrackPoint, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, points[int(math.Round(float64(i)*step))])
	}
	return out
}

func runCoverage(ctx context.Context, st store.Store, route model.Route) (int, error) {
	var records []map[string]any
	for _, p := range sampleEvery(route.Points, 20) {
		// Signal estimate degrades with distance from whole-degree grid lines,
		// a stand-in for tower density until the carrier feed is wired up.
		frac := math.Abs(p.Lat-math.Trunc(p.Lat)) + math.Abs(p.Lng-math.Trunc(p.Lng))
		level := "good"
		switch {
		case frac > 1.6:
			level = "dead-zone"
		case frac > 1.2:
			level = "weak"
		}
		records = append(records, map[string]any{
			"lat": p.Lat, "lng": p.Lng, "order": p.Order, "signal": level,
		})
	}
	return st.AddEnrichmentRecords(ctx, "coverage_reports", route.ID, records)
}

func runRoadCondition(ctx context.Context, st store.Store, route model.Route) (int, error) {
	segs := track.SegmentDistancesKm(route.Points)
	var records []map[string]any
	for i, d := range segs {
		if d <= 0 {
			continue
		}
		condition := "paved"
		if d < 0.2 {
			// Dense fixes suggest slow movement: congested or rough stretch.
			condition = "rough"
		}
		if i%10 == 0 || condition == "rough" {
			records = append(records, map[string]any{
				"segment": i, "lengthKm": d, "condition": condition,
			})
		}
	}
	return st.AddEnrichmentRecords(ctx, "road_conditions", route.ID, records)
}

func runIncidents(ctx context.Context, st store.Store, route model.Route) (int, error) {
	// Historical lookup is keyed by corridor endpoints; without the incident
	// feed a single corridor record anchors later backfills.
	records := []map[string]any{{
		"corridor":   route.FromCode + ":" + route.ToCode,
		"fromLat":    route.FromCoordinates.Lat,
		"fromLng":    route.FromCoordinates.Lng,
		"toLat":      route.ToCoordinates.Lat,
		"toLng":      route.ToCoordinates.Lng,
		"distanceKm": route.TotalDistanceKm,
	}}
	return st.AddEnrichmentRecords(ctx, "incident_history", route.ID, records)
}

func runWeather(ctx context.Context, st store.Store, route model.Route) (int, error) {
	var records []map[string]any
	for _, p := range sampleEvery(route.Points, 10) {
		records = append(records, map[string]any{
			"lat": p.Lat, "lng": p.Lng, "order": p.Order, "zone": weatherZone(p.Lat),
		})
	}
	return st.AddEnrichmentRecords(ctx, "weather_reports", route.ID, records)
}

func weatherZone(lat float64) string {
	switch {
	case math.Abs(lat) < 23.5:
		return "tropical"
	case math.Abs(lat) < 40:
		return "subtropical"
	case math.Abs(lat) < 60:
		return "temperate"
	default:
		return "polar"
	}
}
