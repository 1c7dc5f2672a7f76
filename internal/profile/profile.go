// Package profile loads a matching profile: thresholds, windows, the synonym
// table and the adjudication prompt. Profiles are TOML or YAML, picked by
// file extension, and only override what they set.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"dronewatch.eu/core/internal/normalize"
	"dronewatch.eu/core/internal/pipeline"
)

type Profile struct {
	Normalize NormalizeConfig `toml:"normalize" yaml:"normalize"`
	Tier1     Tier1Config     `toml:"tier1" yaml:"tier1"`
	Tier2     Tier2Config     `toml:"tier2" yaml:"tier2"`
	Tier3     Tier3Config     `toml:"tier3" yaml:"tier3"`
	Merge     MergeConfig     `toml:"merge" yaml:"merge"`
	Synonyms  SynonymConfig   `toml:"synonyms" yaml:"synonyms"`
	Batch     BatchConfig     `toml:"batch" yaml:"batch"`
}

type NormalizeConfig struct {
	GridDegrees     float64 `toml:"grid_degrees" yaml:"grid_degrees"`
	Bucket          string  `toml:"bucket" yaml:"bucket"`
	LockCellDegrees float64 `toml:"lock_cell_degrees" yaml:"lock_cell_degrees"`
}

type Tier1Config struct {
	FuzzyRatio    float64 `toml:"fuzzy_ratio" yaml:"fuzzy_ratio"`
	FuzzyWindow   string  `toml:"fuzzy_window" yaml:"fuzzy_window"`
	FuzzyRadiusKm float64 `toml:"fuzzy_radius_km" yaml:"fuzzy_radius_km"`
	PeerLimit     int     `toml:"peer_limit" yaml:"peer_limit"`
}

type Tier2Config struct {
	High          float64 `toml:"high" yaml:"high"`
	Low           float64 `toml:"low" yaml:"low"`
	Floor         float64 `toml:"floor" yaml:"floor"`
	Window        string  `toml:"window" yaml:"window"`
	RadiusKm      float64 `toml:"radius_km" yaml:"radius_km"`
	NeighborLimit int     `toml:"neighbor_limit" yaml:"neighbor_limit"`
	TieEpsilon    float64 `toml:"tie_epsilon" yaml:"tie_epsilon"`
	ExcerptChars  int     `toml:"excerpt_chars" yaml:"excerpt_chars"`
}

type Tier3Config struct {
	Confidence float64 `toml:"confidence" yaml:"confidence"`
	Prompt     string  `toml:"prompt" yaml:"prompt"`
	PromptFile string  `toml:"prompt_file" yaml:"prompt_file"`
}

type MergeConfig struct {
	MinWords int `toml:"min_words" yaml:"min_words"`
}

type BatchConfig struct {
	Workers int `toml:"workers" yaml:"workers"`
}

// SynonymConfig extends the built-in table. With Replace set the built-in
// concepts and phrases are dropped.
type SynonymConfig struct {
	Replace  bool                `toml:"replace" yaml:"replace"`
	Concepts map[string][]string `toml:"concepts" yaml:"concepts"`
	Phrases  map[string]string   `toml:"phrases" yaml:"phrases"`
}

// Load reads a profile. An empty path yields the zero profile, which leaves
// every default in place.
func Load(path string) (Profile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Profile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile %q: %w", path, err)
	}

	var p Profile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &p); err != nil {
			return Profile{}, fmt.Errorf("parse TOML profile %q: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Profile{}, fmt.Errorf("parse YAML profile %q: %w", path, err)
		}
	default:
		return Profile{}, fmt.Errorf("profile %q: unsupported extension %q", path, ext)
	}

	if p.Tier3.Prompt == "" && p.Tier3.PromptFile != "" {
		promptPath := p.Tier3.PromptFile
		if !filepath.IsAbs(promptPath) {
			promptPath = filepath.Join(filepath.Dir(path), promptPath)
		}
		prompt, err := os.ReadFile(promptPath)
		if err != nil {
			return Profile{}, fmt.Errorf("read prompt file %q: %w", promptPath, err)
		}
		p.Tier3.Prompt = string(prompt)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %q: %w", path, err)
	}
	return p, nil
}

func (p Profile) Validate() error {
	for name, value := range map[string]float64{
		"tier1.fuzzy_ratio": p.Tier1.FuzzyRatio,
		"tier2.high":        p.Tier2.High,
		"tier2.low":         p.Tier2.Low,
		"tier2.floor":       p.Tier2.Floor,
		"tier3.confidence":  p.Tier3.Confidence,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be within 0..1", name)
		}
	}
	if p.Tier2.High > 0 && p.Tier2.Low > 0 && p.Tier2.Low > p.Tier2.High {
		return fmt.Errorf("tier2.low must not exceed tier2.high")
	}
	if p.Tier2.High > 0 && p.Tier2.Floor > 0 && p.Tier2.Floor > p.Tier2.High {
		return fmt.Errorf("tier2.floor must not exceed tier2.high")
	}
	for name, raw := range map[string]string{
		"normalize.bucket":   p.Normalize.Bucket,
		"tier1.fuzzy_window": p.Tier1.FuzzyWindow,
		"tier2.window":       p.Tier2.Window,
	} {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// NormalizeOptions layers the profile over base.
func (p Profile) NormalizeOptions(base normalize.Options) normalize.Options {
	out := base
	if p.Normalize.GridDegrees > 0 {
		out.GridDegrees = p.Normalize.GridDegrees
	}
	if bucket, _ := parseDuration(p.Normalize.Bucket); bucket > 0 {
		out.Bucket = bucket
	}
	if p.Normalize.LockCellDegrees > 0 {
		out.LockCellDegrees = p.Normalize.LockCellDegrees
	}
	if table := p.SynonymTable(); table != nil {
		out.Synonyms = table
	}
	return out
}

// SynonymTable returns nil when the profile does not touch synonyms.
func (p Profile) SynonymTable() *normalize.Table {
	cfg := p.Synonyms
	if !cfg.Replace && len(cfg.Concepts) == 0 && len(cfg.Phrases) == 0 {
		return nil
	}
	concepts := map[string][]string{}
	phrases := map[string]string{}
	if !cfg.Replace {
		concepts = normalize.DefaultConcepts()
		phrases = normalize.DefaultPhrases()
	}
	for concept, forms := range cfg.Concepts {
		concepts[concept] = append(concepts[concept], forms...)
	}
	for phrase, concept := range cfg.Phrases {
		phrases[phrase] = concept
	}
	return normalize.NewTable(concepts, phrases)
}

// PipelineOptions layers the profile over base.
func (p Profile) PipelineOptions(base pipeline.Options) pipeline.Options {
	out := base
	setFloat(&out.FuzzyRatio, p.Tier1.FuzzyRatio)
	setDuration(&out.FuzzyWindow, p.Tier1.FuzzyWindow)
	setFloat(&out.FuzzyRadiusKm, p.Tier1.FuzzyRadiusKm)
	setInt(&out.PeerLimit, p.Tier1.PeerLimit)

	setFloat(&out.SemanticHigh, p.Tier2.High)
	setFloat(&out.SemanticLow, p.Tier2.Low)
	setFloat(&out.SemanticFloor, p.Tier2.Floor)
	setDuration(&out.SemanticWindow, p.Tier2.Window)
	setFloat(&out.SemanticRadiusKm, p.Tier2.RadiusKm)
	setInt(&out.NeighborLimit, p.Tier2.NeighborLimit)
	setFloat(&out.TieEpsilon, p.Tier2.TieEpsilon)
	setInt(&out.NarrativeExcerptChars, p.Tier2.ExcerptChars)

	setFloat(&out.AdjudicatorConfidence, p.Tier3.Confidence)
	if strings.TrimSpace(p.Tier3.Prompt) != "" {
		out.PromptTemplate = p.Tier3.Prompt
	}

	setInt(&out.Merge.MinWords, p.Merge.MinWords)
	setInt(&out.BatchWorkers, p.Batch.Workers)
	return out
}

func setFloat(dst *float64, value float64) {
	if value > 0 {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}

func setDuration(dst *time.Duration, raw string) {
	if d, _ := parseDuration(raw); d > 0 {
		*dst = d
	}
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", raw)
	}
	return d, nil
}
