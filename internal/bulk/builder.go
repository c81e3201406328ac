package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"routerisk/internal/model"
	"routerisk/internal/store"
	"routerisk/internal/track"
)

// SourceVersion tags routes created by this pipeline revision.
const SourceVersion = "bulk-v2"

// avgSpeedKmh is the coarse duration heuristic for truck routes.
const avgSpeedKmh = 40.0

// Builder derives and persists the primary route record from a track sequence.
type Builder struct {
	Store          store.Store
	StoredPointCap int
}

// Build creates the route for the item, or returns the pre-existing one with
// existing=true when skipExisting is set and the (owner, fromCode, toCode) key
// is already taken.
func (b *Builder) Build(ctx context.Context, item model.WorkItem, seq track.Sequence, ownerID, terrain string, skipExisting bool) (model.Route, bool, error) {
	if skipExisting {
		r, err := b.Store.FindRouteByKey(ctx, ownerID, item.FromCode, item.ToCode)
		if err == nil {
			return r, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return model.Route{}, false, err
		}
	}

	capPoints := b.StoredPointCap
	if capPoints <= 0 {
		capPoints = 1000
	}
	points := track.Decimate(seq.Points, capPoints)
	distance := track.TotalDistanceKm(points)
	duration := int(distance / avgSpeedKmh * 60)

	r := model.Route{
		ID:                   uuid.New().String(),
		OwnerID:              ownerID,
		Name:                 fmt.Sprintf("%s to %s", item.FromName, item.ToName),
		FromCode:             item.FromCode,
		ToCode:               item.ToCode,
		FromCoordinates:      model.GeoPoint{Lat: points[0].Lat, Lng: points[0].Lng},
		ToCoordinates:        model.GeoPoint{Lat: points[len(points)-1].Lat, Lng: points[len(points)-1].Lng},
		TotalDistanceKm:      distance,
		EstimatedDurationMin: duration,
		Points:               points,
		Terrain:              terrain,
		Quality:              classifyQuality(seq, points),
		Metadata: map[string]any{
			"bulkProcessing": true,
			"sourceVersion":  SourceVersion,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := b.Store.CreateRoute(ctx, r); err != nil {
		return model.Route{}, false, err
	}
	return r, false, nil
}

// classifyQuality mirrors the track grading used in route reports: a file
// where under half the rows parsed into valid points is poor quality, and a
// clean parse with suspect geometry is flagged has-anomalies.
func classifyQuality(seq track.Sequence, points []model.TrackPoint) string {
	if seq.RowsRead > 0 && len(seq.Points) < seq.RowsRead/2 {
		return "poor-quality"
	}
	for i := 0; i+1 < len(points); i++ {
		if points[i].Lat == points[i+1].Lat && points[i].Lng == points[i+1].Lng {
			return "has-anomalies"
		}
	}
	for _, d := range track.SegmentDistancesKm(points) {
		if d > 100 {
			return "has-anomalies"
		}
	}
	return "good"
}
