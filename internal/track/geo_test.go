package track

import (
	"math"
	"testing"

	"routerisk/internal/model"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Nagpur to Pune, roughly 614 km.
	nagpur := model.TrackPoint{Lat: 21.1458, Lng: 79.0882}
	pune := model.TrackPoint{Lat: 18.5204, Lng: 73.8567}
	d := HaversineKm(nagpur, pune)
	if math.Abs(d-614) > 15 {
		t.Fatalf("got %.1f km, want ~614", d)
	}
	if HaversineKm(nagpur, nagpur) != 0 {
		t.Fatal("distance to self should be zero")
	}
}

func TestTotalDistanceSumsSegments(t *testing.T) {
	pts := []model.TrackPoint{
		{Lat: 20.0, Lng: 78.0},
		{Lat: 20.1, Lng: 78.0},
		{Lat: 20.2, Lng: 78.0},
	}
	segs := SegmentDistancesKm(pts)
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	total := TotalDistanceKm(pts)
	if math.Abs(total-(segs[0]+segs[1])) > 1e-9 {
		t.Fatalf("total %.6f != sum of segments %.6f", total, segs[0]+segs[1])
	}
}

func TestDecimateKeepsEndpointsAndCap(t *testing.T) {
	pts := make([]model.TrackPoint, 5000)
	for i := range pts {
		pts[i] = model.TrackPoint{Lat: 20 + float64(i)*0.001, Lng: 78, Order: i}
	}
	out := Decimate(pts, 1000)
	if len(out) != 1000 {
		t.Fatalf("got %d points, want 1000", len(out))
	}
	if out[0].Lat != pts[0].Lat || out[len(out)-1].Lat != pts[len(pts)-1].Lat {
		t.Fatal("endpoints must survive decimation")
	}
	for i, p := range out {
		if p.Order != i {
			t.Fatalf("order not rewritten at %d: %d", i, p.Order)
		}
	}
	// Under the cap, points pass through untouched.
	small := Decimate(pts[:10], 1000)
	if len(small) != 10 {
		t.Fatalf("got %d, want 10", len(small))
	}
}

func TestValidCoordinate(t *testing.T) {
	cases := []struct {
		lat, lng float64
		ok       bool
	}{
		{21.1, 79.0, true},
		{90, 180, true},
		{-90.01, 0, false},
		{0, 180.5, false},
	}
	for _, c := range cases {
		if got := ValidCoordinate(c.lat, c.lng); got != c.ok {
			t.Fatalf("ValidCoordinate(%v,%v) = %v, want %v", c.lat, c.lng, got, c.ok)
		}
	}
}
