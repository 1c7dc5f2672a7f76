package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingText_CarriesWhatWhereWhen(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Dependencies{}, Options{})

	first := kastrupCandidate("Drone closes Kastrup Airport", "https://dr.dk/a", "DR", 2)
	later := first
	later.OccurredAt = first.OccurredAt.Add(72 * time.Hour)

	text := svc.EmbeddingText(first)
	assert.Contains(t, text, "2025-09-22")
	assert.Contains(t, text, "Copenhagen Airport")
	assert.Contains(t, text, "lufthavn", "asset type synonyms are spelled out")
	assert.NotEqual(t, text, svc.EmbeddingText(later), "reports days apart must not embed identically")
}

func TestEmbeddingText_ShortNarrativeExcerpt(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Dependencies{}, Options{})

	c := kastrupCandidate("Drone closes Kastrup Airport", "https://dr.dk/a", "DR", 2)
	c.Narrative = strings.Repeat("runway ", 100)

	lines := strings.Split(svc.EmbeddingText(c), "\n")
	excerpt := lines[len(lines)-1]
	require.True(t, strings.HasPrefix(excerpt, "runway"))
	assert.LessOrEqual(t, len([]rune(excerpt)), DefaultNarrativeExcerptChars)
}
