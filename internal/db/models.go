package db

import (
	"time"

	"gorm.io/datatypes"
)

// Incident maps dronewatch.incidents.
type Incident struct {
	IncidentUUID  string         `gorm:"column:incident_uuid;type:uuid;primaryKey"`
	Title         string         `gorm:"column:title;type:text;not null"`
	Narrative     string         `gorm:"column:narrative;type:text;not null;default:''"`
	OccurredAt    time.Time      `gorm:"column:occurred_at;type:timestamptz;not null;index:incidents_country_occurred_idx,priority:2"`
	Latitude      *float64       `gorm:"column:latitude;type:double precision"`
	Longitude     *float64       `gorm:"column:longitude;type:double precision"`
	LocationName  string         `gorm:"column:location_name;type:text;not null;default:''"`
	AssetType     string         `gorm:"column:asset_type;type:text;not null;default:unknown"`
	Country       string         `gorm:"column:country;type:char(2);not null;index:incidents_country_occurred_idx,priority:1"`
	EvidenceScore int            `gorm:"column:evidence_score;type:smallint;not null"`
	MergedFrom    int            `gorm:"column:merged_from;type:integer;not null;default:1"`
	ContentHashes datatypes.JSON `gorm:"column:content_hashes;type:jsonb;not null;default:'[]'"`
	TitleAt       time.Time      `gorm:"column:title_at;type:timestamptz;not null"`
	NarrativeAt   time.Time      `gorm:"column:narrative_at;type:timestamptz;not null"`
	LastMergedAt  *time.Time     `gorm:"column:last_merged_at;type:timestamptz"`
	CreatedAt     time.Time      `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Incident) TableName() string { return "dronewatch.incidents" }

// IncidentSource maps dronewatch.incident_sources. One row per canonical URL
// per incident.
type IncidentSource struct {
	SourceID     int64      `gorm:"column:source_id;primaryKey;autoIncrement"`
	IncidentUUID string     `gorm:"column:incident_uuid;type:uuid;not null;uniqueIndex:incident_sources_url_key,priority:1"`
	CanonicalURL string     `gorm:"column:canonical_url;type:text;not null;uniqueIndex:incident_sources_url_key,priority:2"`
	SourceURL    string     `gorm:"column:source_url;type:text;not null"`
	SourceName   string     `gorm:"column:source_name;type:text;not null;default:''"`
	SourceType   string     `gorm:"column:source_type;type:text;not null;default:''"`
	TrustWeight  int        `gorm:"column:trust_weight;type:smallint;not null"`
	PublishedAt  *time.Time `gorm:"column:published_at;type:timestamptz"`
	Quote        string     `gorm:"column:quote;type:text;not null;default:''"`
	Language     string     `gorm:"column:language;type:text;not null;default:''"`
	Position     int        `gorm:"column:position;type:integer;not null;default:0"`
	AddedAt      time.Time  `gorm:"column:added_at;type:timestamptz;not null;default:now()"`
}

func (IncidentSource) TableName() string { return "dronewatch.incident_sources" }

// IncidentFold maps dronewatch.incident_folds.
type IncidentFold struct {
	FoldUUID     string         `gorm:"column:fold_uuid;type:uuid;primaryKey"`
	IncidentUUID string         `gorm:"column:incident_uuid;type:uuid;not null;index"`
	ContentHash  string         `gorm:"column:content_hash;type:text;not null"`
	SpacetimeKey string         `gorm:"column:spacetime_key;type:text;not null"`
	Tier         string         `gorm:"column:tier;type:text;not null"`
	Similarity   *float64       `gorm:"column:similarity;type:double precision"`
	Confidence   *float64       `gorm:"column:confidence;type:double precision"`
	Rationale    string         `gorm:"column:rationale;type:text;not null;default:''"`
	Details      datatypes.JSON `gorm:"column:details;type:jsonb;not null;default:'{}'"`
	SourceURLs   datatypes.JSON `gorm:"column:source_urls;type:jsonb;not null;default:'[]'"`
	FoldedAt     time.Time      `gorm:"column:folded_at;type:timestamptz;not null;default:now()"`
}

func (IncidentFold) TableName() string { return "dronewatch.incident_folds" }

// DecisionEvent maps dronewatch.decision_events.
type DecisionEvent struct {
	EventUUID         string    `gorm:"column:event_uuid;type:uuid;primaryKey"`
	Outcome           string    `gorm:"column:outcome;type:text;not null"`
	Tier              string    `gorm:"column:tier;type:text;not null"`
	IncidentUUID      *string   `gorm:"column:incident_uuid;type:uuid;index"`
	BestCandidateUUID *string   `gorm:"column:best_candidate_uuid;type:uuid"`
	Similarity        *float64  `gorm:"column:similarity;type:double precision"`
	Confidence        *float64  `gorm:"column:confidence;type:double precision"`
	ContentHash       string    `gorm:"column:content_hash;type:text;not null;default:''"`
	SpacetimeKey      string    `gorm:"column:spacetime_key;type:text;not null;default:''"`
	Reason            string    `gorm:"column:reason;type:text;not null;default:''"`
	CreatedAt         time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (DecisionEvent) TableName() string { return "dronewatch.decision_events" }

// IngestRun maps dronewatch.ingest_runs.
type IngestRun struct {
	RunUUID      string     `gorm:"column:run_uuid;type:uuid;primaryKey"`
	Origin       string     `gorm:"column:origin;type:text;not null"`
	Mode         string     `gorm:"column:mode;type:text;not null"`
	Status       string     `gorm:"column:status;type:text;not null;default:running"`
	StartedAt    time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt   *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Processed    int        `gorm:"column:processed;type:integer;not null;default:0"`
	NewIncidents int        `gorm:"column:new_incidents;type:integer;not null;default:0"`
	Merged       int        `gorm:"column:merged;type:integer;not null;default:0"`
	Rejected     int        `gorm:"column:rejected;type:integer;not null;default:0"`
	Failed       int        `gorm:"column:failed;type:integer;not null;default:0"`
	ErrorMessage *string    `gorm:"column:error_message;type:text"`
}

func (IngestRun) TableName() string { return "dronewatch.ingest_runs" }

// incident_embeddings is created in SQL because the vector column type comes
// from the pgvector extension.
func autoMigrateModels() []any {
	return []any{
		&Incident{},
		&IncidentSource{},
		&IncidentFold{},
		&DecisionEvent{},
		&IngestRun{},
	}
}
