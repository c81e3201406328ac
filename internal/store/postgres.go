package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"routerisk/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// MigrateDir applies *.sql files from dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, f := range files {
		sqlText, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(sqlText)); err != nil {
			return fmt.Errorf("migration %s: %w", f, err)
		}
	}
	return nil
}

// Ping reports store reachability for the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) CreateRoute(ctx context.Context, r model.Route) error {
	points, err := json.Marshal(r.Points)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO routes (id, owner_id, name, from_code, to_code, from_lat, from_lng, to_lat, to_lng,
			total_distance_km, estimated_duration_min, points, terrain, quality, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (owner_id, from_code, to_code) DO UPDATE SET
			id=EXCLUDED.id, name=EXCLUDED.name,
			from_lat=EXCLUDED.from_lat, from_lng=EXCLUDED.from_lng,
			to_lat=EXCLUDED.to_lat, to_lng=EXCLUDED.to_lng,
			total_distance_km=EXCLUDED.total_distance_km,
			estimated_duration_min=EXCLUDED.estimated_duration_min,
			points=EXCLUDED.points, terrain=EXCLUDED.terrain,
			quality=EXCLUDED.quality, metadata=EXCLUDED.metadata,
			created_at=EXCLUDED.created_at`,
		r.ID, r.OwnerID, r.Name, r.FromCode, r.ToCode,
		r.FromCoordinates.Lat, r.FromCoordinates.Lng, r.ToCoordinates.Lat, r.ToCoordinates.Lng,
		r.TotalDistanceKm, r.EstimatedDurationMin, points, r.Terrain, r.Quality, meta, r.CreatedAt)
	return err
}

func (p *Postgres) FindRouteByKey(ctx context.Context, ownerID, fromCode, toCode string) (model.Route, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, from_code, to_code, from_lat, from_lng, to_lat, to_lng,
			total_distance_km, estimated_duration_min, points, terrain, quality, metadata, created_at
		FROM routes WHERE owner_id=$1 AND from_code=$2 AND to_code=$3`, ownerID, fromCode, toCode)
	return scanRoute(row)
}

func (p *Postgres) GetRoute(ctx context.Context, ownerID, id string) (model.Route, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, from_code, to_code, from_lat, from_lng, to_lat, to_lng,
			total_distance_km, estimated_duration_min, points, terrain, quality, metadata, created_at
		FROM routes WHERE owner_id=$1 AND id=$2`, ownerID, id)
	return scanRoute(row)
}

func scanRoute(row *sql.Row) (model.Route, error) {
	var r model.Route
	var points, meta []byte
	err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.FromCode, &r.ToCode,
		&r.FromCoordinates.Lat, &r.FromCoordinates.Lng, &r.ToCoordinates.Lat, &r.ToCoordinates.Lng,
		&r.TotalDistanceKm, &r.EstimatedDurationMin, &points, &r.Terrain, &r.Quality, &meta, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, ErrNotFound
	}
	if err != nil {
		return model.Route{}, err
	}
	if len(points) > 0 {
		_ = json.Unmarshal(points, &r.Points)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &r.Metadata)
	}
	return r, nil
}

func (p *Postgres) AddEnrichmentRecords(ctx context.Context, collection, routeID string, records []map[string]any) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	created := 0
	for _, rec := range records {
		doc, err := json.Marshal(rec)
		if err != nil {
			return created, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO enrichment_records (id, collection, route_id, doc, created_at)
			VALUES ($1,$2,$3,$4,now())`, uuid.New(), collection, routeID, doc); err != nil {
			return created, err
		}
		created++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

func (p *Postgres) CountEnrichmentRecords(ctx context.Context, collection, routeID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM enrichment_records WHERE collection=$1 AND route_id=$2`,
		collection, routeID).Scan(&n)
	return n, err
}

func (p *Postgres) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	doc, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO bulk_checkpoints (job_id, doc, written_at) VALUES ($1,$2,$3)
		ON CONFLICT (job_id) DO UPDATE SET doc=EXCLUDED.doc, written_at=EXCLUDED.written_at`,
		cp.JobID, doc, cp.WrittenAt)
	return err
}

func (p *Postgres) LoadCheckpoint(ctx context.Context, jobID string) (model.Checkpoint, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM bulk_checkpoints WHERE job_id=$1`, jobID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return model.Checkpoint{}, err
	}
	var cp model.Checkpoint
	if err := json.Unmarshal(doc, &cp); err != nil {
		return model.Checkpoint{}, err
	}
	return cp, nil
}

func (p *Postgres) DeleteCheckpoint(ctx context.Context, jobID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM bulk_checkpoints WHERE job_id=$1`, jobID)
	return err
}

func (p *Postgres) SaveSummary(ctx context.Context, s model.Summary) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO bulk_results (id, owner_id, job_id, doc, finished_at) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET doc=EXCLUDED.doc, finished_at=EXCLUDED.finished_at`,
		s.ResultID, s.OwnerID, s.JobID, doc, s.FinishedAt)
	return err
}

func (p *Postgres) GetSummary(ctx context.Context, ownerID, resultID string) (model.Summary, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM bulk_results WHERE id=$1 AND owner_id=$2`, resultID, ownerID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Summary{}, ErrNotFound
	}
	if err != nil {
		return model.Summary{}, err
	}
	var s model.Summary
	if err := json.Unmarshal(doc, &s); err != nil {
		return model.Summary{}, err
	}
	return s, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return Subscription{}, err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, owner_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
		sub.ID, sub.OwnerID, sub.URL, events, sub.Secret)
	return sub, err
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, ownerID, eventType string) ([]Subscription, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, owner_id, url, events, secret FROM subscriptions WHERE owner_id=$1`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		var s Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(events, &s.Events)
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, rows.Err()
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, ownerID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, owner_id, subscription_id, event_type, url, secret, payload, attempts, status, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,'pending',now())`,
		id, ownerID, subscriptionID, eventType, url, secret, payload)
	return id, err
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, subscription_id, event_type, url, secret, payload, attempts
		FROM webhook_deliveries
		WHERE status='pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	status := "pending"
	if success {
		status = "delivered"
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET attempts=attempts+1, status=$2, next_attempt_at=COALESCE($3, next_attempt_at),
			last_error=$4, response_code=$5, latency_ms=$6
		WHERE id=$1`, id, status, nextAttemptAt, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET attempts=attempts+1, status='failed', last_error=$2, response_code=$3, latency_ms=$4
		WHERE id=$1`, id, lastError, responseCode, latencyMs)
	return err
}
