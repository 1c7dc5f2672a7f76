package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"dronewatch.eu/core/internal/globaltime"
	"dronewatch.eu/core/internal/incident"
	"dronewatch.eu/core/internal/store"
)

var (
	minTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// IncidentStore persists incidents in postgres. Embeddings live in a pgvector
// column and are searched with the cosine distance operator.
type IncidentStore struct {
	pool   *Pool
	logger zerolog.Logger
}

var _ store.Backend = (*IncidentStore)(nil)

func NewIncidentStore(pool *Pool, logger zerolog.Logger) *IncidentStore {
	return &IncidentStore{pool: pool, logger: logger}
}

const incidentColumns = `
	i.incident_uuid::text,
	i.title,
	i.narrative,
	i.occurred_at,
	i.latitude,
	i.longitude,
	i.location_name,
	i.asset_type,
	i.country,
	i.evidence_score,
	i.merged_from,
	i.content_hashes,
	i.title_at,
	i.narrative_at,
	i.last_merged_at,
	i.created_at,
	i.updated_at,
	COALESCE(e.embedding::text, '')`

func scanIncident(row rowScanner, extra ...any) (incident.Incident, error) {
	var (
		inc       incident.Incident
		rawID     string
		assetType string
		evidence  int
		hashes    datatypes.JSON
		vector    string
	)
	dest := []any{
		&rawID,
		&inc.Title,
		&inc.Narrative,
		&inc.OccurredAt,
		&inc.Location.Latitude,
		&inc.Location.Longitude,
		&inc.Location.Name,
		&assetType,
		&inc.Country,
		&evidence,
		&inc.MergedFrom,
		&hashes,
		&inc.TitleAt,
		&inc.NarrativeAt,
		&inc.LastMergedAt,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&vector,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return incident.Incident{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return incident.Incident{}, fmt.Errorf("parse incident id %q: %w", rawID, err)
	}
	inc.ID = id
	inc.AssetType = incident.ParseAssetType(assetType)
	inc.EvidenceScore = incident.Evidence(evidence)
	if len(hashes) > 0 {
		if err := json.Unmarshal(hashes, &inc.ContentHashes); err != nil {
			return incident.Incident{}, fmt.Errorf("decode content hashes of %s: %w", id, err)
		}
	}
	if inc.Embedding, err = parseVectorLiteral(vector); err != nil {
		return incident.Incident{}, fmt.Errorf("decode embedding of %s: %w", id, err)
	}
	return inc, nil
}

func (s *IncidentStore) Peers(ctx context.Context, q store.PeerQuery) ([]incident.Incident, error) {
	from, to := windowBounds(q.From, q.To)
	limit := q.Limit
	if limit <= 0 {
		limit = 300
	}

	query := `
SELECT` + incidentColumns + `
FROM dronewatch.incidents i
LEFT JOIN dronewatch.incident_embeddings e ON e.incident_uuid = i.incident_uuid
WHERE ($1 = '' OR i.country = $1)
  AND i.occurred_at >= $2
  AND i.occurred_at <= $3
ORDER BY i.updated_at DESC
LIMIT $4
`
	rows, err := s.pool.Query(ctx, query, incident.NormalizeCountry(q.Country), from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	out := make([]incident.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return s.withSources(ctx, s.pool, out)
}

func (s *IncidentStore) Nearest(ctx context.Context, q store.NeighborQuery) ([]store.Neighbor, error) {
	literal, err := toVectorLiteral(q.Vector)
	if err != nil {
		return nil, fmt.Errorf("nearest incidents: %w", err)
	}
	from, to := windowBounds(q.From, q.To)
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	var lat, lon *float64
	if q.Center.HasCoordinates() {
		lat, lon = q.Center.Latitude, q.Center.Longitude
	}

	query := `
SELECT` + incidentColumns + `,
	(1 - (e.embedding <=> $1::vector))::double precision AS cosine,
	CASE
		WHEN $5::double precision IS NULL OR i.latitude IS NULL THEN NULL
		ELSE dronewatch.haversine_km($5::double precision, $6::double precision, i.latitude, i.longitude)
	END AS distance_km
FROM dronewatch.incidents i
JOIN dronewatch.incident_embeddings e ON e.incident_uuid = i.incident_uuid
WHERE e.dimensions = $2
  AND ($3 = '' OR i.country = $3)
  AND i.occurred_at >= $4
  AND i.occurred_at <= $7
  AND (
	$8::double precision <= 0
	OR $5::double precision IS NULL
	OR i.latitude IS NULL
	OR dronewatch.haversine_km($5::double precision, $6::double precision, i.latitude, i.longitude) <= $8::double precision
  )
ORDER BY e.embedding <=> $1::vector ASC
LIMIT $9
`
	rows, err := s.pool.Query(ctx, query,
		literal, len(q.Vector), incident.NormalizeCountry(q.Country), from,
		lat, lon, to, q.RadiusKm, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query nearest incidents: %w", err)
	}
	defer rows.Close()

	neighbors := make([]store.Neighbor, 0, limit)
	incidents := make([]incident.Incident, 0, limit)
	for rows.Next() {
		var (
			similarity float64
			distance   *float64
		)
		inc, err := scanIncident(rows, &similarity, &distance)
		if err != nil {
			return nil, fmt.Errorf("scan nearest incident: %w", err)
		}
		neighbors = append(neighbors, store.Neighbor{Similarity: similarity, DistanceKm: distance})
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest incidents: %w", err)
	}

	incidents, err = s.withSources(ctx, s.pool, incidents)
	if err != nil {
		return nil, err
	}
	for i := range neighbors {
		neighbors[i].Incident = incidents[i]
	}
	return neighbors, nil
}

func (s *IncidentStore) Get(ctx context.Context, id uuid.UUID) (incident.Incident, error) {
	return s.get(ctx, s.pool, id, false)
}

func (s *IncidentStore) get(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (incident.Incident, error) {
	query := `
SELECT` + incidentColumns + `
FROM dronewatch.incidents i
LEFT JOIN dronewatch.incident_embeddings e ON e.incident_uuid = i.incident_uuid
WHERE i.incident_uuid = $1::uuid
`
	if forUpdate {
		query = lockForUpdate(query, "i")
	}
	inc, err := scanIncident(q.QueryRow(ctx, query, id.String()))
	if err != nil {
		if IsNoRows(err) {
			return incident.Incident{}, fmt.Errorf("get incident %s: %w", id, store.ErrNotFound)
		}
		return incident.Incident{}, fmt.Errorf("get incident %s: %w", id, err)
	}
	loaded, err := s.withSources(ctx, q, []incident.Incident{inc})
	if err != nil {
		return incident.Incident{}, err
	}
	return loaded[0], nil
}

func (s *IncidentStore) withSources(ctx context.Context, q querier, incidents []incident.Incident) ([]incident.Incident, error) {
	if len(incidents) == 0 {
		return incidents, nil
	}
	ids := make([]string, len(incidents))
	for i, inc := range incidents {
		ids[i] = inc.ID.String()
	}

	const query = `
SELECT
	incident_uuid::text,
	source_url,
	source_name,
	source_type,
	trust_weight,
	published_at,
	quote,
	language
FROM dronewatch.incident_sources
WHERE incident_uuid::text = ANY(string_to_array($1, ','))
ORDER BY incident_uuid, position, source_id
`
	rows, err := q.Query(ctx, query, strings.Join(ids, ","))
	if err != nil {
		return nil, fmt.Errorf("query incident sources: %w", err)
	}
	defer rows.Close()

	byIncident := make(map[string][]incident.Source, len(incidents))
	for rows.Next() {
		var (
			incidentID string
			src        incident.Source
		)
		if err := rows.Scan(&incidentID, &src.URL, &src.Name, &src.Type, &src.TrustWeight, &src.PublishedAt, &src.Quote, &src.Language); err != nil {
			return nil, fmt.Errorf("scan incident source: %w", err)
		}
		byIncident[incidentID] = append(byIncident[incidentID], src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incident sources: %w", err)
	}

	for i := range incidents {
		incidents[i].Sources = byIncident[incidents[i].ID.String()]
	}
	return incidents, nil
}

func (s *IncidentStore) Create(ctx context.Context, inc incident.Incident, fold store.Fold) error {
	if len(inc.Sources) == 0 {
		return fmt.Errorf("create incident %s: %w", inc.ID, incident.ErrEmptySources)
	}
	err := s.pool.WithTx(ctx, func(tx querier) error {
		hashes, err := json.Marshal(nonNilStrings(inc.ContentHashes))
		if err != nil {
			return fmt.Errorf("encode content hashes: %w", err)
		}
		const insert = `
INSERT INTO dronewatch.incidents (
	incident_uuid, title, narrative, occurred_at, latitude, longitude, location_name,
	asset_type, country, evidence_score, merged_from, content_hashes,
	title_at, narrative_at, last_merged_at, created_at, updated_at
) VALUES (
	$1::uuid, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12::jsonb,
	$13, $14, $15, $16, $17
)
`
		if _, err := tx.Exec(ctx, insert,
			inc.ID.String(), inc.Title, inc.Narrative, inc.OccurredAt, inc.Location.Latitude, inc.Location.Longitude, inc.Location.Name,
			string(inc.AssetType), inc.Country, int(inc.EvidenceScore), inc.MergedFrom, string(hashes),
			inc.TitleAt, inc.NarrativeAt, inc.LastMergedAt, inc.CreatedAt, inc.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert incident %s: %w", inc.ID, err)
		}
		if err := upsertSources(ctx, tx, inc.ID, inc.Sources); err != nil {
			return err
		}
		if len(inc.Embedding) > 0 {
			if err := upsertEmbedding(ctx, tx, inc.ID, inc.Embedding); err != nil {
				return err
			}
		}
		fold.IncidentID = inc.ID
		return insertFold(ctx, tx, fold)
	})
	if err != nil {
		return err
	}
	s.logger.Debug().Str("incident_id", inc.ID.String()).Str("country", inc.Country).Msg("incident created")
	return nil
}

func (s *IncidentStore) Update(ctx context.Context, id uuid.UUID, fold store.Fold, fn store.ApplyFunc) (incident.Incident, error) {
	var updated incident.Incident
	err := s.pool.WithTx(ctx, func(tx querier) error {
		existing, err := s.get(ctx, tx, id, true)
		if err != nil {
			return fmt.Errorf("update incident: %w", err)
		}
		next, err := fn(existing.Clone())
		if err != nil {
			return err
		}
		if len(next.Sources) == 0 {
			return fmt.Errorf("update incident %s: %w", id, incident.ErrEmptySources)
		}
		next.ID = id
		if len(next.Embedding) == 0 {
			next.Embedding = existing.Embedding
		}

		hashes, err := json.Marshal(nonNilStrings(next.ContentHashes))
		if err != nil {
			return fmt.Errorf("encode content hashes: %w", err)
		}
		const update = `
UPDATE dronewatch.incidents
SET title = $2,
	narrative = $3,
	location_name = $4,
	asset_type = $5,
	evidence_score = $6,
	merged_from = $7,
	content_hashes = $8::jsonb,
	title_at = $9,
	narrative_at = $10,
	last_merged_at = $11,
	updated_at = $12
WHERE incident_uuid = $1::uuid
`
		if _, err := tx.Exec(ctx, update,
			id.String(), next.Title, next.Narrative, next.Location.Name, string(next.AssetType),
			int(next.EvidenceScore), next.MergedFrom, string(hashes),
			next.TitleAt, next.NarrativeAt, next.LastMergedAt, next.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update incident %s: %w", id, err)
		}
		if err := upsertSources(ctx, tx, id, next.Sources); err != nil {
			return err
		}
		fold.IncidentID = id
		if err := insertFold(ctx, tx, fold); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return incident.Incident{}, err
	}
	s.logger.Debug().Str("incident_id", id.String()).Str("tier", fold.Tier).Int("sources", len(updated.Sources)).Msg("incident updated")
	return updated, nil
}

func (s *IncidentStore) SetEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error {
	return upsertEmbedding(ctx, s.pool, id, vector)
}

func (s *IncidentStore) RecordDecision(ctx context.Context, event store.DecisionEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = globaltime.UTC()
	}
	const insert = `
INSERT INTO dronewatch.decision_events (
	event_uuid, outcome, tier, incident_uuid, best_candidate_uuid,
	similarity, confidence, content_hash, spacetime_key, reason, created_at
) VALUES ($1::uuid, $2, $3, $4::uuid, $5::uuid, $6, $7, $8, $9, $10, $11)
`
	_, err := s.pool.Exec(ctx, insert,
		event.ID.String(), event.Outcome, event.Tier, uuidText(event.IncidentID), uuidText(event.BestCandidateID),
		event.Similarity, event.Confidence, event.ContentHash, event.SpacetimeKey, event.Reason, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert decision event: %w", err)
	}
	return nil
}

func (s *IncidentStore) List(ctx context.Context, filter store.ListFilter) ([]incident.Incident, int64, error) {
	from, to := minTime, maxTime
	if filter.From != nil {
		from = filter.From.UTC()
	}
	if filter.To != nil {
		to = filter.To.UTC()
	}
	country := incident.NormalizeCountry(filter.Country)

	const count = `
SELECT COUNT(*)
FROM dronewatch.incidents i
WHERE ($1 = '' OR i.country = $1)
  AND i.evidence_score >= $2
  AND i.occurred_at >= $3
  AND i.occurred_at <= $4
`
	var total int64
	if err := s.pool.QueryRow(ctx, count, country, filter.MinEvidence, from, to).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	page := max(filter.Page, 1)
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	query := `
SELECT` + incidentColumns + `
FROM dronewatch.incidents i
LEFT JOIN dronewatch.incident_embeddings e ON e.incident_uuid = i.incident_uuid
WHERE ($1 = '' OR i.country = $1)
  AND i.evidence_score >= $2
  AND i.occurred_at >= $3
  AND i.occurred_at <= $4
ORDER BY i.occurred_at DESC, i.incident_uuid
LIMIT $5 OFFSET $6
`
	rows, err := s.pool.Query(ctx, query, country, filter.MinEvidence, from, to, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	out := make([]incident.Incident, 0, pageSize)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate incidents: %w", err)
	}
	out, err = s.withSources(ctx, s.pool, out)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *IncidentStore) Folds(ctx context.Context, id uuid.UUID) ([]store.Fold, error) {
	const query = `
SELECT
	fold_uuid::text,
	content_hash,
	spacetime_key,
	tier,
	similarity,
	confidence,
	rationale,
	details,
	source_urls,
	folded_at
FROM dronewatch.incident_folds
WHERE incident_uuid = $1::uuid
ORDER BY folded_at, fold_uuid
`
	rows, err := s.pool.Query(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("query folds of %s: %w", id, err)
	}
	defer rows.Close()

	folds := make([]store.Fold, 0)
	for rows.Next() {
		var (
			fold    store.Fold
			rawID   string
			details datatypes.JSON
			urls    datatypes.JSON
		)
		if err := rows.Scan(&rawID, &fold.ContentHash, &fold.SpacetimeKey, &fold.Tier, &fold.Similarity, &fold.Confidence, &fold.Rationale, &details, &urls, &fold.FoldedAt); err != nil {
			return nil, fmt.Errorf("scan fold: %w", err)
		}
		if fold.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse fold id %q: %w", rawID, err)
		}
		fold.IncidentID = id
		if len(details) > 0 {
			if err := json.Unmarshal(details, &fold.Details); err != nil {
				return nil, fmt.Errorf("decode fold details: %w", err)
			}
		}
		if len(urls) > 0 {
			if err := json.Unmarshal(urls, &fold.SourceURLs); err != nil {
				return nil, fmt.Errorf("decode fold urls: %w", err)
			}
		}
		folds = append(folds, fold)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folds: %w", err)
	}
	return folds, nil
}

func (s *IncidentStore) Stats(ctx context.Context) (store.Stats, error) {
	stats := store.Stats{
		ByEvidence: make(map[string]int64),
		Decisions:  make(map[string]int64),
	}

	const totals = `
SELECT
	(SELECT COUNT(*) FROM dronewatch.incidents),
	(SELECT COUNT(*) FROM dronewatch.incident_sources),
	(SELECT COUNT(*) FROM dronewatch.incident_folds),
	(SELECT MAX(updated_at) FROM dronewatch.incidents)
`
	if err := s.pool.QueryRow(ctx, totals).Scan(&stats.Incidents, &stats.Sources, &stats.Folds, &stats.LastUpdate); err != nil {
		return store.Stats{}, fmt.Errorf("query totals: %w", err)
	}

	grouped := []struct {
		query string
		into  map[string]int64
		label func(string) string
	}{
		{
			query: `SELECT evidence_score::text, COUNT(*) FROM dronewatch.incidents GROUP BY evidence_score`,
			into:  stats.ByEvidence,
			label: evidenceLabel,
		},
		{
			query: `SELECT outcome || ':' || tier, COUNT(*) FROM dronewatch.decision_events GROUP BY outcome, tier`,
			into:  stats.Decisions,
			label: func(v string) string { return v },
		},
	}
	for _, g := range grouped {
		rows, err := s.pool.Query(ctx, g.query)
		if err != nil {
			return store.Stats{}, fmt.Errorf("query stats: %w", err)
		}
		for rows.Next() {
			var (
				key   string
				count int64
			)
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return store.Stats{}, fmt.Errorf("scan stats: %w", err)
			}
			g.into[g.label(key)] = count
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return store.Stats{}, fmt.Errorf("iterate stats: %w", err)
		}
	}
	return stats, nil
}

func (s *IncidentStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *IncidentStore) StartRun(ctx context.Context, run store.IngestRun) (store.IngestRun, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = globaltime.UTC()
	}
	run.Status = store.RunStatusRunning
	const insert = `
INSERT INTO dronewatch.ingest_runs (run_uuid, origin, mode, status, started_at)
VALUES ($1::uuid, $2, $3, $4, $5)
`
	if _, err := s.pool.Exec(ctx, insert, run.ID.String(), run.Origin, run.Mode, run.Status, run.StartedAt); err != nil {
		return store.IngestRun{}, fmt.Errorf("insert ingest run: %w", err)
	}
	return run, nil
}

func (s *IncidentStore) FinishRun(ctx context.Context, run store.IngestRun) error {
	finished := globaltime.UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	var errorMessage *string
	if strings.TrimSpace(run.Error) != "" {
		errorMessage = &run.Error
	}
	const update = `
UPDATE dronewatch.ingest_runs
SET status = $2,
	finished_at = $3,
	processed = $4,
	new_incidents = $5,
	merged = $6,
	rejected = $7,
	failed = $8,
	error_message = $9
WHERE run_uuid = $1::uuid
`
	affected, err := s.pool.Exec(ctx, update,
		run.ID.String(), run.Status, finished, run.Processed, run.NewIncidents,
		run.Merged, run.Rejected, run.Failed, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("finish ingest run %s: %w", run.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("finish ingest run %s: run not found", run.ID)
	}
	return nil
}

func (s *IncidentStore) Close() error {
	return s.pool.Close()
}

func upsertSources(ctx context.Context, q querier, id uuid.UUID, sources []incident.Source) error {
	const upsert = `
INSERT INTO dronewatch.incident_sources (
	incident_uuid, canonical_url, source_url, source_name, source_type,
	trust_weight, published_at, quote, language, position, added_at
) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (incident_uuid, canonical_url) DO UPDATE
SET source_name = EXCLUDED.source_name,
	source_type = EXCLUDED.source_type,
	trust_weight = EXCLUDED.trust_weight,
	published_at = EXCLUDED.published_at,
	quote = EXCLUDED.quote,
	language = EXCLUDED.language,
	position = EXCLUDED.position
`
	now := globaltime.UTC()
	for position, src := range sources {
		canonical := incident.CanonicalURL(src.URL)
		if canonical == "" {
			return fmt.Errorf("source %d of incident %s: %w", position, id, incident.ErrMalformedCandidate)
		}
		if _, err := q.Exec(ctx, upsert,
			id.String(), canonical, src.URL, src.Name, src.Type,
			src.TrustWeight, src.PublishedAt, src.Quote, src.Language, position, now,
		); err != nil {
			return fmt.Errorf("upsert source %s: %w", canonical, err)
		}
	}
	return nil
}

func upsertEmbedding(ctx context.Context, q querier, id uuid.UUID, vector []float32) error {
	literal, err := toVectorLiteral(vector)
	if err != nil {
		return fmt.Errorf("embedding of %s: %w", id, err)
	}
	const upsert = `
INSERT INTO dronewatch.incident_embeddings (incident_uuid, dimensions, embedding, embedded_at)
VALUES ($1::uuid, $2, $3::vector, $4)
ON CONFLICT (incident_uuid) DO UPDATE
SET dimensions = EXCLUDED.dimensions,
	embedding = EXCLUDED.embedding,
	embedded_at = EXCLUDED.embedded_at
`
	if _, err := q.Exec(ctx, upsert, id.String(), len(vector), literal, globaltime.UTC()); err != nil {
		return fmt.Errorf("upsert embedding of %s: %w", id, err)
	}
	return nil
}

func insertFold(ctx context.Context, q querier, fold store.Fold) error {
	if fold.ID == uuid.Nil {
		fold.ID = uuid.New()
	}
	if fold.FoldedAt.IsZero() {
		fold.FoldedAt = globaltime.UTC()
	}
	details := fold.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode fold details: %w", err)
	}
	urlsJSON, err := json.Marshal(nonNilStrings(fold.SourceURLs))
	if err != nil {
		return fmt.Errorf("encode fold urls: %w", err)
	}

	const insert = `
INSERT INTO dronewatch.incident_folds (
	fold_uuid, incident_uuid, content_hash, spacetime_key, tier,
	similarity, confidence, rationale, details, source_urls, folded_at
) VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11)
`
	if _, err := q.Exec(ctx, insert,
		fold.ID.String(), fold.IncidentID.String(), fold.ContentHash, fold.SpacetimeKey, fold.Tier,
		fold.Similarity, fold.Confidence, fold.Rationale, string(detailsJSON), string(urlsJSON), fold.FoldedAt,
	); err != nil {
		return fmt.Errorf("insert fold: %w", err)
	}
	return nil
}

func windowBounds(from, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = minTime
	}
	if to.IsZero() {
		to = maxTime
	}
	return from.UTC(), to.UTC()
}

func uuidText(id *uuid.UUID) *string {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	text := id.String()
	return &text
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func evidenceLabel(raw string) string {
	var score int
	if _, err := fmt.Sscanf(raw, "%d", &score); err != nil {
		return raw
	}
	return incident.Evidence(score).Label()
}

