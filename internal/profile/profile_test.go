package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dronewatch.eu/core/internal/normalize"
	"dronewatch.eu/core/internal/pipeline"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_TOML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "prompt.tmpl", "Compare {{.Candidate.Title}} with {{.Existing.Title}}")
	path := writeFile(t, dir, "profile.toml", `
[normalize]
grid_degrees = 0.05
bucket = "3h"

[tier1]
fuzzy_ratio = 0.8
fuzzy_window = "4h"

[tier2]
high = 0.95
low = 0.82
window = "24h"

[tier3]
confidence = 0.9
prompt_file = "prompt.tmpl"

[merge]
min_words = 5

[synonyms.concepts]
drone = ["dronų"]
`)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}

	opts := p.PipelineOptions(pipeline.DefaultOptions())
	if opts.FuzzyRatio != 0.8 || opts.FuzzyWindow != 4*time.Hour {
		t.Fatalf("unexpected tier1 options: ratio=%f window=%s", opts.FuzzyRatio, opts.FuzzyWindow)
	}
	if opts.SemanticHigh != 0.95 || opts.SemanticLow != 0.82 || opts.SemanticWindow != 24*time.Hour {
		t.Fatalf("unexpected tier2 options: %+v", opts)
	}
	if opts.SemanticFloor != pipeline.DefaultSemanticFloor {
		t.Fatalf("unset floor should keep default, got %f", opts.SemanticFloor)
	}
	if opts.AdjudicatorConfidence != 0.9 || !strings.Contains(opts.PromptTemplate, "Compare") {
		t.Fatalf("unexpected tier3 options: confidence=%f prompt=%q", opts.AdjudicatorConfidence, opts.PromptTemplate)
	}
	if opts.Merge.MinWords != 5 {
		t.Fatalf("unexpected min words: %d", opts.Merge.MinWords)
	}

	normOpts := p.NormalizeOptions(normalize.Options{})
	if normOpts.GridDegrees != 0.05 || normOpts.Bucket != 3*time.Hour {
		t.Fatalf("unexpected normalize options: %+v", normOpts)
	}
	n := normalize.New(normOpts)
	if got := n.Text("Dronų lufthavn"); got != "drone airport" {
		t.Fatalf("extended synonyms not applied: %q", got)
	}
}

func TestLoad_YAMLReplacingSynonyms(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "profile.yaml", `
tier2:
  floor: 0.88
synonyms:
  replace: true
  concepts:
    drone: [uav]
  phrases:
    unmanned aircraft: drone
`)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if got := p.PipelineOptions(pipeline.DefaultOptions()).SemanticFloor; got != 0.88 {
		t.Fatalf("unexpected floor: %f", got)
	}

	n := normalize.New(p.NormalizeOptions(normalize.Options{}))
	if got := n.Text("UAV and unmanned aircraft near lufthavn"); got != "drone and drone near lufthavn" {
		t.Fatalf("unexpected folding with replaced table: %q", got)
	}
}

func TestLoad_EmptyPathKeepsDefaults(t *testing.T) {
	t.Parallel()

	p, err := Load("")
	if err != nil {
		t.Fatalf("load empty profile: %v", err)
	}
	if p.SynonymTable() != nil {
		t.Fatalf("expected no synonym override")
	}
	if got := p.PipelineOptions(pipeline.DefaultOptions()); got != pipeline.DefaultOptions() {
		t.Fatalf("expected defaults to be unchanged")
	}
}

func TestLoad_Rejects(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cases := map[string]string{
		"bad.json":            `{}`,
		"range.toml":          "[tier2]\nhigh = 1.4\n",
		"order.toml":          "[tier2]\nhigh = 0.85\nlow = 0.9\n",
		"duration.yaml":       "tier1:\n  fuzzy_window: soon\n",
		"broken.toml":         "[tier2\n",
		"missing-prompt.toml": "[tier3]\nprompt_file = \"nope.tmpl\"\n",
	}
	for name, content := range cases {
		path := writeFile(t, dir, name, content)
		if _, err := Load(path); err == nil {
			t.Fatalf("expected %s to be rejected", name)
		}
	}
}
