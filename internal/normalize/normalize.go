// Package normalize turns free-text reports into comparable forms: folded
// text, spacetime keys, content hashes and lock keys.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"dronewatch.eu/core/internal/incident"
)

const (
	// DefaultGridDegrees is roughly 1.1 km of latitude.
	DefaultGridDegrees = 0.01
	DefaultBucket      = 6 * time.Hour
)

type Options struct {
	GridDegrees float64
	Bucket      time.Duration
	// LockCellDegrees sizes the geographic cell used for write locks. Zero
	// locks per country.
	LockCellDegrees float64
	Synonyms        *Table
}

type Normalizer struct {
	opts Options
}

func New(opts Options) *Normalizer {
	return &Normalizer{opts: normalizeOptions(opts)}
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if normalized.GridDegrees <= 0 {
		normalized.GridDegrees = DefaultGridDegrees
	}
	if normalized.Bucket <= 0 || normalized.Bucket > 24*time.Hour {
		normalized.Bucket = DefaultBucket
	}
	if normalized.LockCellDegrees < 0 {
		normalized.LockCellDegrees = 0
	}
	if normalized.Synonyms == nil {
		normalized.Synonyms = DefaultTable()
	}
	return normalized
}

func (n *Normalizer) Options() Options {
	return n.opts
}

// Text lower-cases, strips punctuation, collapses whitespace and folds
// synonyms onto concept tokens.
func (n *Normalizer) Text(input string) string {
	return strings.Join(n.Tokens(input), " ")
}

func (n *Normalizer) Tokens(input string) []string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return nil
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := true
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}

	folded := n.opts.Synonyms.replacePhrases(strings.TrimSpace(b.String()))
	fields := strings.Fields(folded)
	for i, token := range fields {
		fields[i] = n.opts.Synonyms.Fold(token)
	}
	return fields
}

// Key is the spacetime grouping key of a candidate. Only located keys may be
// used to merge candidates without pairwise matching.
type Key struct {
	Value   string
	Located bool
}

func (k Key) String() string {
	return k.Value
}

// Spacetime rounds location to the grid, occurrence time to a bucket aligned
// on UTC midnight, and combines them with asset type and country.
func (n *Normalizer) Spacetime(c incident.Candidate) Key {
	bucket := n.BucketLabel(c.OccurredAt)
	asset := string(incident.ParseAssetType(string(c.AssetType)))
	country := incident.NormalizeCountry(c.Country)

	if !c.Location.HasCoordinates() {
		return Key{
			Value:   fmt.Sprintf("unlocated|%s|%s|%s", country, bucket, asset),
			Located: false,
		}
	}
	return Key{
		Value:   fmt.Sprintf("geo|%s|%s|%s|%s", country, n.cell(c.Location, n.opts.GridDegrees), bucket, asset),
		Located: true,
	}
}

// BucketLabel names the time bucket containing t.
func (n *Normalizer) BucketLabel(t time.Time) string {
	if t.IsZero() {
		return "undated"
	}
	utc := t.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	index := utc.Sub(midnight) / n.opts.Bucket
	return midnight.Add(index * n.opts.Bucket).Format("2006-01-02T15:04")
}

// ContentHash identifies byte-identical reports: same folded title, same
// time bucket, same grid cell.
func (n *Normalizer) ContentHash(c incident.Candidate) string {
	place := "nogeo"
	if c.Location.HasCoordinates() {
		place = n.cell(c.Location, n.opts.GridDegrees)
	}
	payload := strings.Join([]string{
		n.Text(c.Title),
		n.BucketLabel(c.OccurredAt),
		place,
		incident.NormalizeCountry(c.Country),
	}, "\x1f")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// LockKey names the coarse region whose writes must be serialised.
func (n *Normalizer) LockKey(c incident.Candidate) string {
	country := incident.NormalizeCountry(c.Country)
	if n.opts.LockCellDegrees <= 0 || !c.Location.HasCoordinates() {
		return "country:" + country
	}
	return "country:" + country + "|cell:" + n.cell(c.Location, n.opts.LockCellDegrees)
}

func (n *Normalizer) cell(location incident.Location, grid float64) string {
	decimals := int(math.Max(0, math.Ceil(-math.Log10(grid))))
	return roundTo(*location.Latitude, grid, decimals) + ":" + roundTo(*location.Longitude, grid, decimals)
}

func roundTo(value, grid float64, decimals int) string {
	rounded := math.Round(value/grid) * grid
	if rounded == 0 {
		rounded = 0
	}
	return strconv.FormatFloat(rounded, 'f', decimals, 64)
}
