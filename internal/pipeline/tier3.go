package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"dronewatch.eu/core/internal/incident"
	"dronewatch.eu/core/internal/metrics"
	"dronewatch.eu/core/internal/reader"
	"dronewatch.eu/core/internal/reasoning"
)

const DefaultPromptTemplate = `Decide whether two reports describe the same drone incident.

Guidelines:
- Same facility and overlapping time means the same incident, even when wording, language or the asset type tag differs (one outlet may call a site an airport, another a military base).
- Coverage that continues over several days about one underlying event is the same incident: follow-ups, police statements and reopenings included.
- The same kind of facility in a different city, or on a different date with no link between the reports, is a different incident.
- One flight or patrol seen over several distinct facilities is one incident per facility. Do not merge reports about different facilities.
- Source names, types and trust weights show who reported what; an official source confirming the other report's details supports a match.

Report A (existing incident):
Title: {{.Existing.Title}}
Occurred: {{.Existing.OccurredAt}}
Country: {{.Existing.Country}}
Location: {{.Existing.Location}}
Asset: {{.Existing.AssetType}}
Narrative: {{.Existing.Narrative}}
Sources:
{{- range .Existing.Sources}}
- {{.Name}} ({{.Type}}, trust {{.TrustWeight}}{{if .PublishedAt}}, published {{.PublishedAt}}{{end}}): {{.URL}}
{{- end}}

Report B (new candidate):
Title: {{.Candidate.Title}}
Occurred: {{.Candidate.OccurredAt}}
Country: {{.Candidate.Country}}
Location: {{.Candidate.Location}}
Asset: {{.Candidate.AssetType}}
Narrative: {{.Candidate.Narrative}}
Sources:
{{- range .Candidate.Sources}}
- {{.Name}} ({{.Type}}, trust {{.TrustWeight}}{{if .PublishedAt}}, published {{.PublishedAt}}{{end}}): {{.URL}}
{{- end}}

Embedding similarity: {{printf "%.3f" .Similarity}}

Answer with JSON only: {"same_incident": true|false, "confidence": 0.0-1.0, "rationale": "one sentence"}`

// promptSourceLimit caps how many sources of one report reach the prompt.
const promptSourceLimit = 8

// primaryBudgetShare is the part of the reasoning deadline the primary
// provider may spend before the secondary gets the rest.
const primaryBudgetShare = 0.6

var errNoVerdict = errors.New("no verdict in reasoning output")

// Verdict is what a reasoning provider concluded about a pair.
type Verdict struct {
	Same       bool    `json:"same_incident"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	Provider   string  `json:"-"`
}

type promptReport struct {
	Title      string
	OccurredAt string
	Country    string
	Location   string
	AssetType  string
	Narrative  string
	Sources    []promptSource
}

type promptSource struct {
	Name        string
	Type        string
	TrustWeight int
	PublishedAt string
	URL         string
}

type promptData struct {
	Existing   promptReport
	Candidate  promptReport
	Similarity float64
}

// Adjudicator asks a primary and then a secondary reasoning provider
// whether an ambiguous pair is one incident. When neither answers it
// abstains.
type Adjudicator struct {
	primary   reasoning.Provider
	secondary reasoning.Provider
	prompt    *template.Template
	budget    time.Duration
	excerpt   int
	metrics   metrics.Recorder
	logger    zerolog.Logger
}

type AdjudicatorOptions struct {
	Primary        reasoning.Provider
	Secondary      reasoning.Provider
	PromptTemplate string
	Timeout        time.Duration
	ExcerptChars   int
	Metrics        metrics.Recorder
	Logger         zerolog.Logger
}

// NewAdjudicator returns nil when no provider is configured.
func NewAdjudicator(opts AdjudicatorOptions) (*Adjudicator, error) {
	if opts.Primary == nil && opts.Secondary == nil {
		return nil, nil
	}
	if opts.Primary == nil {
		opts.Primary, opts.Secondary = opts.Secondary, nil
	}
	text := opts.PromptTemplate
	if strings.TrimSpace(text) == "" {
		text = DefaultPromptTemplate
	}
	tmpl, err := template.New("adjudicate").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultReasoningTimeout
	}
	if opts.ExcerptChars <= 0 {
		opts.ExcerptChars = DefaultNarrativeExcerptChars
	}
	if opts.Metrics == nil {
		opts.Metrics = (*metrics.Metrics)(nil)
	}
	return &Adjudicator{
		primary:   opts.Primary,
		secondary: opts.Secondary,
		prompt:    tmpl,
		budget:    opts.Timeout,
		excerpt:   opts.ExcerptChars,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}, nil
}

// Adjudicate returns the first parseable verdict. The bool is false when
// every provider failed inside the budget.
func (a *Adjudicator) Adjudicate(ctx context.Context, c incident.Candidate, existing incident.Incident, similarity float64) (Verdict, bool) {
	if a == nil {
		return Verdict{}, false
	}
	prompt, err := a.render(c, existing, similarity)
	if err != nil {
		a.logger.Error().Err(err).Msg("render adjudication prompt")
		return Verdict{}, false
	}

	deadline := time.Now().Add(a.budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	primaryBudget := a.budget
	if a.secondary != nil {
		primaryBudget = time.Duration(float64(a.budget) * primaryBudgetShare)
	}
	verdict, err := a.ask(ctx, a.primary, prompt, primaryBudget)
	if err == nil {
		return verdict, true
	}
	a.logger.Warn().Err(err).Str("provider", a.primary.Name()).Msg("primary adjudicator failed")

	if a.secondary == nil {
		return Verdict{}, false
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return Verdict{}, false
	}
	verdict, err = a.ask(ctx, a.secondary, prompt, remaining)
	if err != nil {
		a.logger.Warn().Err(err).Str("provider", a.secondary.Name()).Msg("secondary adjudicator failed")
		return Verdict{}, false
	}
	return verdict, true
}

func (a *Adjudicator) ask(ctx context.Context, provider reasoning.Provider, prompt string, budget time.Duration) (Verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	started := time.Now()
	output, err := provider.Complete(callCtx, prompt)
	a.metrics.CapabilityLatency("reasoning", provider.Name(), time.Since(started))
	if err != nil {
		a.metrics.CapabilityFailure("reasoning", provider.Name())
		return Verdict{}, err
	}
	verdict, err := ParseVerdict(output)
	if err != nil {
		a.metrics.CapabilityFailure("reasoning", provider.Name())
		return Verdict{}, err
	}
	verdict.Provider = provider.Name()
	return verdict, nil
}

func (a *Adjudicator) render(c incident.Candidate, existing incident.Incident, similarity float64) (string, error) {
	data := promptData{
		Existing: promptReport{
			Title:      existing.Title,
			OccurredAt: existing.OccurredAt.UTC().Format(time.RFC3339),
			Country:    existing.Country,
			Location:   describeLocation(existing.Location),
			AssetType:  string(existing.AssetType),
			Narrative:  a.excerptOf(existing.Narrative),
			Sources:    describeSources(existing.Sources),
		},
		Candidate: promptReport{
			Title:      c.Title,
			OccurredAt: c.OccurredAt.UTC().Format(time.RFC3339),
			Country:    incident.NormalizeCountry(c.Country),
			Location:   describeLocation(c.Location),
			AssetType:  string(incident.ParseAssetType(string(c.AssetType))),
			Narrative:  a.excerptOf(c.Narrative),
			Sources:    describeSources(c.Sources),
		},
		Similarity: similarity,
	}
	var buf bytes.Buffer
	if err := a.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute prompt template: %w", err)
	}
	return buf.String(), nil
}

func (a *Adjudicator) excerptOf(narrative string) string {
	excerpt, _ := reader.TruncateText(narrative, a.excerpt)
	return excerpt
}

func describeSources(sources []incident.Source) []promptSource {
	out := make([]promptSource, 0, min(len(sources), promptSourceLimit))
	for _, source := range sources {
		if len(out) == promptSourceLimit {
			break
		}
		entry := promptSource{
			Name:        strings.TrimSpace(source.Name),
			Type:        strings.TrimSpace(source.Type),
			TrustWeight: source.TrustWeight,
			URL:         incident.CanonicalURL(source.URL),
		}
		if entry.Name == "" {
			entry.Name = "unnamed outlet"
		}
		if entry.Type == "" {
			entry.Type = "unknown type"
		}
		if source.PublishedAt != nil {
			entry.PublishedAt = source.PublishedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	return out
}

func describeLocation(location incident.Location) string {
	name := strings.TrimSpace(location.Name)
	if !location.HasCoordinates() {
		if name == "" {
			return "unknown"
		}
		return name
	}
	coords := fmt.Sprintf("%.4f, %.4f", *location.Latitude, *location.Longitude)
	if name == "" {
		return coords
	}
	return name + " (" + coords + ")"
}

// ParseVerdict reads the JSON object a provider returned. Models sometimes
// wrap it in prose or code fences, so only the outermost braces are parsed.
func ParseVerdict(output string) (Verdict, error) {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end <= start {
		return Verdict{}, errNoVerdict
	}

	var raw struct {
		Same       *bool    `json:"same_incident"`
		Confidence *float64 `json:"confidence"`
		Rationale  string   `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(output[start:end+1]), &raw); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", errNoVerdict, err)
	}
	if raw.Same == nil || raw.Confidence == nil {
		return Verdict{}, fmt.Errorf("%w: missing same_incident or confidence", errNoVerdict)
	}
	confidence := *raw.Confidence
	if confidence < 0 || confidence > 1 {
		return Verdict{}, fmt.Errorf("%w: confidence %v out of range", errNoVerdict, confidence)
	}
	return Verdict{
		Same:       *raw.Same,
		Confidence: confidence,
		Rationale:  strings.TrimSpace(raw.Rationale),
	}, nil
}
