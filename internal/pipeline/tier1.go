package pipeline

import (
	"math"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"dronewatch.eu/core/internal/incident"
	"dronewatch.eu/core/internal/normalize"
)

// Match is a decision to fold a candidate into an existing incident.
type Match struct {
	Incident   incident.Incident
	Tier       string
	Similarity float64
	Confidence *float64
	Rationale  string
	Details    map[string]any
}

// TierOutcome is the verdict of one matching tier.
type TierOutcome int

const (
	TierAbstained TierOutcome = iota
	TierMatched
	TierTied
)

// MatchTier1 looks for an exact content hash among peers, then for a peer
// whose folded title is a close Ratcliff/Obershelp match within the fuzzy
// time window and radius. A near-tie between two different incidents is
// reported as a tie and never merged.
func (s *Service) MatchTier1(c incident.Candidate, contentHash string, peers []incident.Incident) (Match, []incident.Incident, TierOutcome) {
	if exact := exactPeers(contentHash, peers); len(exact) > 0 {
		return Match{
			Incident:   exact[0],
			Tier:       TierExact,
			Similarity: 1,
			Details:    map[string]any{"signal": "content_hash"},
		}, nil, TierMatched
	}

	candidateTitle := s.normalizer.Text(c.Title)
	if candidateTitle == "" {
		return Match{}, nil, TierAbstained
	}

	type scored struct {
		peer    incident.Incident
		ratio   float64
		overlap float64
	}
	var hits []scored
	for _, peer := range peers {
		if !s.withinFuzzyWindow(c, peer) {
			continue
		}
		peerTitle := s.normalizer.Text(peer.Title)
		ratio := TitleRatio(candidateTitle, peerTitle)
		if ratio < s.opts.FuzzyRatio {
			continue
		}
		hits = append(hits, scored{peer: peer, ratio: ratio, overlap: tokenJaccard(candidateTitle, peerTitle)})
	}
	if len(hits) == 0 {
		return Match{}, nil, TierAbstained
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].ratio != hits[j].ratio {
			return hits[i].ratio > hits[j].ratio
		}
		return hits[i].peer.UpdatedAt.After(hits[j].peer.UpdatedAt)
	})
	best := hits[0]
	if len(hits) > 1 && best.ratio-hits[1].ratio <= s.opts.TieEpsilon {
		return Match{}, []incident.Incident{best.peer, hits[1].peer}, TierTied
	}

	return Match{
		Incident:   best.peer,
		Tier:       TierFuzzy,
		Similarity: best.ratio,
		Details: map[string]any{
			"signal":        "title_ratio",
			"title_ratio":   round4(best.ratio),
			"title_overlap": round4(best.overlap),
		},
	}, nil, TierMatched
}

func (s *Service) withinFuzzyWindow(c incident.Candidate, peer incident.Incident) bool {
	if incident.NormalizeCountry(c.Country) != peer.Country {
		return false
	}
	if math.Abs(c.OccurredAt.Sub(peer.OccurredAt).Hours()) > s.opts.FuzzyWindow.Hours() {
		return false
	}
	if km, ok := normalize.DistanceKm(c.Location, peer.Location); ok && km > s.opts.FuzzyRadiusKm {
		return false
	}
	return true
}

// exactPeers returns peers already holding the hash, most recently updated
// first.
func exactPeers(contentHash string, peers []incident.Incident) []incident.Incident {
	var out []incident.Incident
	for _, peer := range peers {
		if peer.HasContentHash(contentHash) {
			out = append(out, peer)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// TitleRatio is the Ratcliff/Obershelp similarity of two strings measured on
// runes: twice the matched characters over the total length.
func TitleRatio(left, right string) float64 {
	if left == "" && right == "" {
		return 1
	}
	matcher := difflib.NewMatcherWithJunk(splitRunes(left), splitRunes(right), false, nil)
	return matcher.Ratio()
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func tokenJaccard(left, right string) float64 {
	leftSet := tokenSet(left)
	rightSet := tokenSet(right)
	if len(leftSet) == 0 || len(rightSet) == 0 {
		return 0
	}

	intersection := 0
	for token := range leftSet {
		if _, ok := rightSet[token]; ok {
			intersection++
		}
	}
	union := len(leftSet) + len(rightSet) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.Fields(text)
	out := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		out[field] = struct{}{}
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
