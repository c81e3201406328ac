package model

import "time"

// WorkItem is one manifest row describing a route to process.
// Immutable once created by the manifest parser.
type WorkItem struct {
	FromCode      string `json:"fromCode"`
	FromName      string `json:"fromName"`
	ToCode        string `json:"toCode"`
	ToName        string `json:"toName"`
	SequenceIndex int    `json:"sequenceIndex"`
}

// Key identifies the route a WorkItem maps to within one owner's namespace.
func (w WorkItem) Key() string { return w.FromCode + ":" + w.ToCode }

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TrackPoint is one GPS fix from a route's input file.
type TrackPoint struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Order int     `json:"order"`
}

// Route is the persisted primary record derived from a WorkItem's track.
type Route struct {
	ID                   string         `json:"id"`
	OwnerID              string         `json:"ownerId"`
	Name                 string         `json:"name"`
	FromCode             string         `json:"fromCode"`
	ToCode               string         `json:"toCode"`
	FromCoordinates      GeoPoint       `json:"fromCoordinates"`
	ToCoordinates        GeoPoint       `json:"toCoordinates"`
	TotalDistanceKm      float64        `json:"totalDistanceKm"`
	EstimatedDurationMin int            `json:"estimatedDurationMin"`
	Points               []TrackPoint   `json:"points,omitempty"` // decimated, capped
	Terrain              string         `json:"terrain,omitempty"`
	Quality              string         `json:"quality,omitempty"` // good | has-anomalies | poor-quality
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
}

// EnrichmentResult is the settled outcome of one enrichment task for one item.
type EnrichmentResult struct {
	Task           string `json:"task"`
	Attempted      bool   `json:"attempted"`
	Succeeded      bool   `json:"succeeded"`
	RecordsCreated int    `json:"recordsCreated"`
	Error          string `json:"error,omitempty"`
	ElapsedMs      int64  `json:"elapsedMs"`
}

// Job status values.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Per-item outcome values.
const (
	ItemSuccessful   = "successful"
	ItemWithWarnings = "successful-with-warnings"
	ItemFailed       = "failed"
	ItemSkipped      = "skipped"
)

// ItemResult records how one WorkItem settled.
type ItemResult struct {
	Index       int                `json:"index"`
	Key         string             `json:"key"`
	Status      string             `json:"status"`
	RouteID     string             `json:"routeId,omitempty"`
	Existing    bool               `json:"existing,omitempty"`
	DistanceKm  float64            `json:"distanceKm,omitempty"`
	Error       string             `json:"error,omitempty"`
	Enrichments []EnrichmentResult `json:"enrichments,omitempty"`
	ElapsedMs   int64              `json:"elapsedMs"`
}

// ProcessingState is the live, pollable view of a running job.
type ProcessingState struct {
	JobID            string         `json:"jobId"`
	OwnerID          string         `json:"ownerId"`
	Status           string         `json:"status"`
	TotalItems       int            `json:"totalItems"`
	CompletedItems   int            `json:"completedItems"`
	FailedItems      int            `json:"failedItems"`
	SkippedItems     int            `json:"skippedItems"`
	CurrentItem      string         `json:"currentItem,omitempty"`
	CurrentBatch     int            `json:"currentBatch"`
	TotalBatches     int            `json:"totalBatches"`
	ItemsPerSecond   float64        `json:"itemsPerSecond"`
	EnrichmentTotals map[string]int `json:"enrichmentTotals,omitempty"`
	StartedAt        time.Time      `json:"startedAt"`
	LastUpdatedAt    time.Time      `json:"lastUpdatedAt"`
	ResultID         string         `json:"resultId,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// Terminal reports whether the job has settled.
func (s ProcessingState) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Checkpoint is a durable snapshot for resuming an interrupted job.
type Checkpoint struct {
	JobID               string          `json:"jobId"`
	OwnerID             string          `json:"ownerId"`
	TotalItems          int             `json:"totalItems"`
	CompletedCount      int             `json:"completedCount"` // monotonically increasing settled count
	ResumeIndex         int             `json:"resumeIndex"`
	SettingsFingerprint string          `json:"settingsFingerprint"`
	State               ProcessingState `json:"state"`
	WrittenAt           time.Time       `json:"writtenAt"`
}

// Summary is the persisted final report of a job.
type Summary struct {
	ResultID         string         `json:"resultId"`
	JobID            string         `json:"jobId"`
	OwnerID          string         `json:"ownerId"`
	Status           string         `json:"status"`
	TotalItems       int            `json:"totalItems"`
	Successful       int            `json:"successful"`
	Failed           int            `json:"failed"`
	Skipped          int            `json:"skipped"`
	RowErrors        []string       `json:"rowErrors,omitempty"`
	EnrichmentTotals map[string]int `json:"enrichmentTotals,omitempty"`
	TotalDistanceKm  float64        `json:"totalDistanceKm"`
	AvgDistanceKm    float64        `json:"avgDistanceKm"`
	MinDistanceKm    float64        `json:"minDistanceKm"`
	MaxDistanceKm    float64        `json:"maxDistanceKm"`
	FilesNotFound    int            `json:"filesNotFound"`
	FailedItems      []ItemResult   `json:"failedItems,omitempty"` // capped; full list in Items
	Items            []ItemResult   `json:"items,omitempty"`
	ElapsedMs        int64          `json:"elapsedMs"`
	ItemsPerSecond   float64        `json:"itemsPerSecond"`
	FinishedAt       time.Time      `json:"finishedAt"`
}
