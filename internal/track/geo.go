package track

import (
	"math"

	"routerisk/internal/model"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(a, b model.TrackPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// TotalDistanceKm sums consecutive segment distances over the sequence.
func TotalDistanceKm(points []model.TrackPoint) float64 {
	total := 0.0
	for i := 0; i+1 < len(points); i++ {
		total += HaversineKm(points[i], points[i+1])
	}
	return total
}

// SegmentDistancesKm returns the distance of each consecutive segment.
func SegmentDistancesKm(points []model.TrackPoint) []float64 {
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, len(points)-1)
	for i := 0; i+1 < len(points); i++ {
		out[i] = HaversineKm(points[i], points[i+1])
	}
	return out
}

// Decimate reduces points to at most cap entries, always keeping the first and
// last point. Order fields are rewritten to the new positions.
func Decimate(points []model.TrackPoint, cap int) []model.TrackPoint {
	if cap < 2 {
		cap = 2
	}
	if len(points) <= cap {
		out := make([]model.TrackPoint, len(points))
		copy(out, points)
		for i := range out {
			out[i].Order = i
		}
		return out
	}
	step := float64(len(points)-1) / float64(cap-1)
	out := make([]model.TrackPoint, 0, cap)
	for i := 0; i < cap; i++ {
		idx := int(math.Round(float64(i) * step))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		p := points[idx]
		p.Order = i
		out = append(out, p)
	}
	return out
}

// ValidCoordinate reports whether lat/lng are inside WGS84 bounds.
func ValidCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
