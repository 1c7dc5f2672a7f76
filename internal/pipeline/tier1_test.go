package pipeline

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"dronewatch.eu/core/internal/incident"
)

func TestTitleRatio(t *testing.T) {
	t.Parallel()

	if got := TitleRatio("drone closed kastrup airport", "drone closed kastrup airport"); got != 1 {
		t.Fatalf("identical titles: got %f want 1", got)
	}
	if got := TitleRatio("", ""); got != 1 {
		t.Fatalf("empty titles: got %f want 1", got)
	}
	got := TitleRatio("drone closes kastrup airport tonight", "drone closes kastrup airport")
	if got < 0.87 || got > 0.88 {
		t.Fatalf("unexpected ratio for suffix variant: %f", got)
	}
	if got := TitleRatio("north pier drone sighting", "lights above south terminal"); got >= DefaultFuzzyRatio {
		t.Fatalf("unrelated titles matched: %f", got)
	}
}

func TestTokenJaccard(t *testing.T) {
	t.Parallel()

	score := tokenJaccard("drone closed kastrup airport", "drone closed billund airport")
	if score <= 0 || score >= 1 {
		t.Fatalf("expected partial overlap score in (0,1), got %f", score)
	}
}

func TestMatchTier1_RespectsFuzzyWindow(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t, Dependencies{}, Options{})
	peer, err := incident.NewIncident(kastrupCandidate("Drone closes Kastrup Airport", "https://a.example/1", "A", 2), uuid.New(), "other-hash", baseTime)
	if err != nil {
		t.Fatalf("seed incident: %v", err)
	}

	near := kastrupCandidate("Drone closes Kastrup Airport tonight", "https://b.example/2", "B", 2)
	near.OccurredAt = baseTime.Add(5 * time.Hour)
	if _, _, outcome := service.MatchTier1(near, "candidate-hash", []incident.Incident{peer}); outcome != TierMatched {
		t.Fatalf("expected fuzzy match inside window, got %v", outcome)
	}

	late := near
	late.OccurredAt = baseTime.Add(7 * time.Hour)
	if _, _, outcome := service.MatchTier1(late, "candidate-hash", []incident.Incident{peer}); outcome != TierAbstained {
		t.Fatalf("expected abstain outside window, got %v", outcome)
	}

	far := near
	far.Location = located("Billund Airport", 55.7403, 9.1518)
	if _, _, outcome := service.MatchTier1(far, "candidate-hash", []incident.Incident{peer}); outcome != TierAbstained {
		t.Fatalf("expected abstain outside radius, got %v", outcome)
	}
}

func TestMatchTier1_ExactHashWinsOverFuzzy(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t, Dependencies{}, Options{})
	c := kastrupCandidate("Drone closes Kastrup Airport", "https://a.example/1", "A", 2)
	hash := service.Normalizer().ContentHash(c)

	fuzzy, _ := incident.NewIncident(kastrupCandidate("Drone closes Kastrup Airport now", "https://x.example/1", "X", 2), uuid.New(), "unrelated", baseTime)
	exact, _ := incident.NewIncident(c, uuid.New(), hash, baseTime)

	match, _, outcome := service.MatchTier1(c, hash, []incident.Incident{fuzzy, exact})
	if outcome != TierMatched {
		t.Fatalf("expected match, got %v", outcome)
	}
	if match.Tier != TierExact || match.Incident.ID != exact.ID {
		t.Fatalf("expected exact match on %s, got tier=%s id=%s", exact.ID, match.Tier, match.Incident.ID)
	}
}

func TestMatchTier1_NearTieIsNotMerged(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t, Dependencies{}, Options{})
	first, _ := incident.NewIncident(kastrupCandidate("Drone closes Kastrup Airport east", "https://a.example/1", "A", 2), uuid.New(), "h1", baseTime)
	second, _ := incident.NewIncident(kastrupCandidate("Drone closes Kastrup Airport west", "https://b.example/2", "B", 2), uuid.New(), "h2", baseTime)

	c := kastrupCandidate("Drone closes Kastrup Airport", "https://c.example/3", "C", 2)
	_, tied, outcome := service.MatchTier1(c, "h3", []incident.Incident{first, second})
	if outcome != TierTied {
		t.Fatalf("expected tie, got %v", outcome)
	}
	if len(tied) != 2 {
		t.Fatalf("expected both tied peers, got %d", len(tied))
	}
}
