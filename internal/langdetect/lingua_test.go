package langdetect

import "testing"

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "da-DK", want: "da"},
		{in: " EN_gb ", want: "en"},
		{in: "nb", want: "no"},
		{in: "nn-NO", want: "no"},
		{in: "", want: ""},
		{in: "x", want: ""},
		{in: "d4", want: ""},
	}
	for _, tc := range cases {
		if got := NormalizeCode(tc.in); got != tc.want {
			t.Fatalf("NormalizeCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolvePrefersHint(t *testing.T) {
	t.Parallel()

	if got := Resolve("sv-SE", "Drones spotted over Copenhagen Airport tonight"); got != "sv" {
		t.Fatalf("Resolve() = %q, want sv", got)
	}
	if got := Resolve("", "UAV"); got != "" {
		t.Fatalf("Resolve() on short text = %q, want empty", got)
	}
}

func TestDetectRegionalLanguage(t *testing.T) {
	t.Parallel()

	if got := DetectISO6391("Flere droner er blevet observeret over lufthavnen i aften, og flytrafikken er indstillet."); got != "da" {
		t.Fatalf("DetectISO6391(danish) = %q", got)
	}
	if got := DetectISO6391("Several drones were observed over the airport tonight and air traffic was suspended."); got != "en" {
		t.Fatalf("DetectISO6391(english) = %q", got)
	}
}
