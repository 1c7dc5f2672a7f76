package incident

import "strings"

// Evidence is the 1..4 credibility score of an incident.
type Evidence int

const (
	EvidenceUnconfirmed Evidence = 1
	EvidenceReported    Evidence = 2
	EvidenceVerified    Evidence = 3
	EvidenceOfficial    Evidence = 4
)

const (
	officialTrustWeight    = 4
	credibleTrustWeight    = 2
	corroborationSourceMin = 2
)

func (e Evidence) Label() string {
	switch e {
	case EvidenceOfficial:
		return "official"
	case EvidenceVerified:
		return "verified"
	case EvidenceReported:
		return "reported"
	default:
		return "unconfirmed"
	}
}

// Score derives the evidence score from a source list. It depends only on the
// set of sources, so order and duplicates do not change the result.
//
//	any source with trust 4                         -> 4
//	two or more distinct outlets with trust >= 2    -> 3
//	one source with trust >= 2                      -> 2
//	otherwise                                       -> 1
func Score(sources []Source) Evidence {
	credible := make(map[string]struct{}, len(sources))
	for _, source := range sources {
		if source.TrustWeight >= officialTrustWeight {
			return EvidenceOfficial
		}
		if source.TrustWeight >= credibleTrustWeight {
			credible[outletKey(source)] = struct{}{}
		}
	}
	switch {
	case len(credible) >= corroborationSourceMin:
		return EvidenceVerified
	case len(credible) == 1:
		return EvidenceReported
	default:
		return EvidenceUnconfirmed
	}
}

// outletKey identifies the publisher behind a source. Two articles from the
// same outlet are one voice, not corroboration.
func outletKey(source Source) string {
	if name := strings.ToLower(strings.Join(strings.Fields(source.Name), " ")); name != "" {
		return "name:" + name
	}
	return "url:" + CanonicalURL(source.URL)
}
