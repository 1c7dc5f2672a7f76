package pipeline

import (
	"strings"
	"time"

	"dronewatch.eu/core/internal/incident"
)

const (
	DefaultFuzzyRatio            = 0.75
	DefaultFuzzyWindow           = 6 * time.Hour
	DefaultFuzzyRadiusKm         = 25.0
	DefaultPeerLimit             = 300
	DefaultSemanticHigh          = 0.92
	DefaultSemanticLow           = 0.80
	DefaultSemanticFloor         = 0.85
	DefaultSemanticWindow        = 48 * time.Hour
	DefaultSemanticRadiusKm      = 50.0
	DefaultNeighborLimit         = 10
	DefaultTieEpsilon            = 0.01
	DefaultAdjudicatorConfidence = 0.80
	DefaultEmbeddingTimeout      = 300 * time.Millisecond
	DefaultReasoningTimeout      = 1000 * time.Millisecond
	DefaultNarrativeExcerptChars = 200
	DefaultBatchWorkers          = 4
)

const (
	TierNone        = "none"
	TierExact       = "exact"
	TierFuzzy       = "fuzzy"
	TierSemantic    = "semantic"
	TierAdjudicated = "adjudicated"
	TierSpacetime   = "spacetime"
)

type Options struct {
	FuzzyRatio    float64
	FuzzyWindow   time.Duration
	FuzzyRadiusKm float64
	PeerLimit     int

	SemanticHigh     float64
	SemanticLow      float64
	SemanticFloor    float64
	SemanticWindow   time.Duration
	SemanticRadiusKm float64
	NeighborLimit    int
	TieEpsilon       float64

	AdjudicatorConfidence float64
	PromptTemplate        string

	EmbeddingTimeout time.Duration
	ReasoningTimeout time.Duration

	NarrativeExcerptChars int
	BatchWorkers          int
	Merge                 incident.MergeOptions
}

func DefaultOptions() Options {
	return normalizeOptions(Options{})
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if normalized.FuzzyRatio <= 0 || normalized.FuzzyRatio > 1 {
		normalized.FuzzyRatio = DefaultFuzzyRatio
	}
	if normalized.FuzzyWindow <= 0 {
		normalized.FuzzyWindow = DefaultFuzzyWindow
	}
	if normalized.FuzzyRadiusKm <= 0 {
		normalized.FuzzyRadiusKm = DefaultFuzzyRadiusKm
	}
	if normalized.PeerLimit <= 0 {
		normalized.PeerLimit = DefaultPeerLimit
	}
	if normalized.SemanticHigh <= 0 || normalized.SemanticHigh > 1 {
		normalized.SemanticHigh = DefaultSemanticHigh
	}
	if normalized.SemanticLow <= 0 || normalized.SemanticLow > normalized.SemanticHigh {
		normalized.SemanticLow = min(DefaultSemanticLow, normalized.SemanticHigh)
	}
	if normalized.SemanticFloor <= 0 || normalized.SemanticFloor > normalized.SemanticHigh {
		normalized.SemanticFloor = min(DefaultSemanticFloor, normalized.SemanticHigh)
	}
	if normalized.SemanticWindow <= 0 {
		normalized.SemanticWindow = DefaultSemanticWindow
	}
	if normalized.SemanticRadiusKm <= 0 {
		normalized.SemanticRadiusKm = DefaultSemanticRadiusKm
	}
	if normalized.NeighborLimit <= 0 {
		normalized.NeighborLimit = DefaultNeighborLimit
	}
	if normalized.TieEpsilon <= 0 {
		normalized.TieEpsilon = DefaultTieEpsilon
	}
	if normalized.AdjudicatorConfidence <= 0 || normalized.AdjudicatorConfidence > 1 {
		normalized.AdjudicatorConfidence = DefaultAdjudicatorConfidence
	}
	if strings.TrimSpace(normalized.PromptTemplate) == "" {
		normalized.PromptTemplate = DefaultPromptTemplate
	}
	if normalized.EmbeddingTimeout <= 0 {
		normalized.EmbeddingTimeout = DefaultEmbeddingTimeout
	}
	if normalized.ReasoningTimeout <= 0 {
		normalized.ReasoningTimeout = DefaultReasoningTimeout
	}
	if normalized.NarrativeExcerptChars <= 0 {
		normalized.NarrativeExcerptChars = DefaultNarrativeExcerptChars
	}
	if normalized.BatchWorkers <= 0 {
		normalized.BatchWorkers = DefaultBatchWorkers
	}
	if normalized.Merge.MinWords <= 0 {
		normalized.Merge.MinWords = incident.DefaultMinWords
	}
	return normalized
}
