package normalize

import (
	"sort"
	"strings"
)

// Table folds regional vocabulary onto shared concept tokens so that
// "lufthavn", "flygplats" and "airport" compare equal.
type Table struct {
	phrases     map[string]string
	phraseOrder []string
	tokens      map[string]string
	concepts    map[string][]string
}

// DefaultTable covers the Nordic, Baltic and central European languages the
// feeds publish in.
func DefaultTable() *Table {
	return NewTable(defaultConcepts, defaultPhrases)
}

// DefaultConcepts returns a copy of the built-in concept -> surface forms map.
func DefaultConcepts() map[string][]string {
	out := make(map[string][]string, len(defaultConcepts))
	for concept, forms := range defaultConcepts {
		out[concept] = append([]string(nil), forms...)
	}
	return out
}

// DefaultPhrases returns a copy of the built-in phrase -> concept map.
func DefaultPhrases() map[string]string {
	out := make(map[string]string, len(defaultPhrases))
	for phrase, concept := range defaultPhrases {
		out[phrase] = concept
	}
	return out
}

// NewTable builds a table from concept -> surface forms and phrase -> concept
// maps. Surface forms are matched after lower-casing.
func NewTable(concepts map[string][]string, phrases map[string]string) *Table {
	t := &Table{
		phrases:  make(map[string]string, len(phrases)),
		tokens:   make(map[string]string),
		concepts: make(map[string][]string, len(concepts)),
	}
	for concept, forms := range concepts {
		t.AddConcept(concept, forms...)
	}
	for phrase, concept := range phrases {
		key := strings.ToLower(strings.Join(strings.Fields(phrase), " "))
		if key == "" {
			continue
		}
		t.phrases[key] = strings.ToLower(strings.TrimSpace(concept))
	}
	t.phraseOrder = make([]string, 0, len(t.phrases))
	for phrase := range t.phrases {
		t.phraseOrder = append(t.phraseOrder, phrase)
	}
	// longest first so "nuclear power plant" beats "power plant"
	sort.Slice(t.phraseOrder, func(i, j int) bool {
		left, right := t.phraseOrder[i], t.phraseOrder[j]
		if len(left) != len(right) {
			return len(left) > len(right)
		}
		return left < right
	})
	return t
}

// AddConcept registers surface forms for a concept. Later registrations win
// when a form is claimed twice.
func (t *Table) AddConcept(concept string, forms ...string) {
	concept = strings.ToLower(strings.TrimSpace(concept))
	if concept == "" {
		return
	}
	t.tokens[concept] = concept
	for _, form := range forms {
		form = strings.ToLower(strings.TrimSpace(form))
		if form == "" {
			continue
		}
		t.tokens[form] = concept
		t.concepts[concept] = append(t.concepts[concept], form)
	}
}

// Fold maps a single lower-case token to its concept, or returns it unchanged.
func (t *Table) Fold(token string) string {
	if t == nil {
		return token
	}
	if concept, ok := t.tokens[token]; ok {
		return concept
	}
	return token
}

// Synonyms lists the surface forms of a concept, sorted.
func (t *Table) Synonyms(concept string) []string {
	if t == nil {
		return nil
	}
	forms := append([]string(nil), t.concepts[strings.ToLower(strings.TrimSpace(concept))]...)
	sort.Strings(forms)
	return forms
}

func (t *Table) replacePhrases(text string) string {
	if t == nil || len(t.phraseOrder) == 0 {
		return text
	}
	padded := " " + text + " "
	for _, phrase := range t.phraseOrder {
		padded = strings.ReplaceAll(padded, " "+phrase+" ", " "+t.phrases[phrase]+" ")
	}
	return strings.TrimSpace(padded)
}

var defaultConcepts = map[string][]string{
	"drone": {
		"drone", "drones", "uav", "uavs", "uas", "quadcopter", "multicopter",
		"droner", "dronen", "dronerne", "dronene", "drönare", "drönaren", "drönarna",
		"drohne", "drohnen", "dron", "drony", "dronów", "drooni", "droonit", "drooneja",
		"droon", "droonid", "bezpilotnik", "dronas", "dronai", "drons",
	},
	"airport": {
		"airport", "airports", "airfield", "aerodrome", "lufthavn", "lufthavnen",
		"flyplass", "flyplassen", "flygplats", "flygplatsen", "flughafen", "flugplatz",
		"lotnisko", "lotnisku", "lentoasema", "lentokenttä", "luchthaven", "aéroport",
		"aeroport", "lennujaam", "lidosta",
	},
	"military": {
		"military", "airbase", "barracks", "militær", "militärbas", "militärflygplats",
		"flybase", "flyvestation", "kaserne", "fliegerhorst", "militärbasis",
		"wojskowy", "varuskunta", "koszary", "sõjaväebaas",
	},
	"harbor": {
		"harbor", "harbour", "port", "seaport", "havn", "havnen", "hamn", "hamnen",
		"hafen", "haven", "satama", "sadam", "uostas",
	},
	"powerplant": {
		"powerplant", "powerstation", "kraftværk", "kraftverk", "kraftverket",
		"kraftwerk", "kernkraftwerk", "kärnkraftverk", "elektrownia", "voimalaitos",
		"ydinvoimala", "elektrijaam", "elektrinė",
	},
	"bridge": {
		"bridge", "bro", "broen", "bron", "bru", "brua", "brücke", "brug", "silta", "sild",
	},
	"sighted": {
		"sighted", "spotted", "observed", "seen", "observeret", "observert", "sett",
		"sedd", "observerad", "observerade", "gesichtet", "beobachtet",
		"zauważono", "zaobserwowano", "havaittiin", "waargenomen",
	},
	"closed": {
		"closed", "shut", "halted", "suspended", "lukket", "lukkede", "stengt", "stengte",
		"stängd", "stängdes", "stängde", "geschlossen", "gesperrt", "zamknięte",
		"zamknięto", "suljettiin", "gesloten",
	},
}

var defaultPhrases = map[string]string{
	"power plant":         "powerplant",
	"power station":       "powerstation",
	"nuclear power plant": "powerplant",
	"air base":            "airbase",
	"air force base":      "airbase",
	"naval base":          "military",
	"unmanned aerial":     "drone",
}
