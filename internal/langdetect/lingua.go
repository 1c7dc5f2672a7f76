// Package langdetect labels source text with an ISO 639-1 code. Detection is
// limited to the languages the monitored region publishes in, which keeps the
// models small and avoids exotic guesses on short headlines.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const minLetters = 6

var regionalLanguages = []lingua.Language{
	lingua.English,
	lingua.Danish,
	lingua.Bokmal,
	lingua.Nynorsk,
	lingua.Swedish,
	lingua.Finnish,
	lingua.Estonian,
	lingua.Latvian,
	lingua.Lithuanian,
	lingua.Polish,
	lingua.German,
	lingua.Dutch,
	lingua.French,
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// Resolve prefers an adapter-supplied language hint and falls back to
// detection on text. It returns "" when neither yields a code.
func Resolve(hint, text string) string {
	if code := NormalizeCode(hint); code != "" {
		return code
	}
	return DetectISO6391(text)
}

func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	// Bokmål and Nynorsk are both Norwegian for matching purposes.
	if code == "nb" || code == "nn" {
		return "no"
	}
	return code
}

// NormalizeCode reduces a language tag such as "da-DK" or "nb_NO" to its
// primary subtag. Invalid tags yield "".
func NormalizeCode(raw string) string {
	tag := strings.ToLower(strings.TrimSpace(raw))
	if tag == "" {
		return ""
	}
	tag = strings.ReplaceAll(tag, "_", "-")
	primary, _, _ := strings.Cut(tag, "-")
	if len(primary) < 2 || len(primary) > 3 {
		return ""
	}
	for _, r := range primary {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	if primary == "nb" || primary == "nn" {
		return "no"
	}
	return primary
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(regionalLanguages...).
			Build()
	})
	return detector
}
