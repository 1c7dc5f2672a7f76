package payloadschema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"dronewatch.eu/core/internal/incident"
)

const kastrupPayload = `{
	"payload_version":"v1",
	"title":"Drones spotted over Copenhagen Airport",
	"narrative":"Air traffic was halted for several hours after drone sightings.",
	"occurred_at":"2025-09-22T20:30:00Z",
	"location":{"lat":55.618,"lon":12.6476,"name":"Copenhagen Airport"},
	"asset_type":"Airport",
	"country":"dk",
	"sources":[{
		"source_url":"https://www.dr.dk/nyheder/droner-kastrup",
		"source_name":"DR",
		"source_type":"media",
		"trust_weight":3,
		"published_at":"2025-09-22T21:05:00Z"
	}]
}`

func TestValidateCandidatePayload_Valid(t *testing.T) {
	t.Parallel()

	candidate, err := ValidateCandidatePayload(json.RawMessage(kastrupPayload))
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if candidate.Country != "DK" {
		t.Fatalf("expected country=DK, got %q", candidate.Country)
	}
	if !candidate.Location.HasCoordinates() || *candidate.Location.Latitude != 55.618 {
		t.Fatalf("expected coordinates to survive decoding, got %+v", candidate.Location)
	}
	if len(candidate.Sources) != 1 || candidate.Sources[0].TrustWeight != 3 {
		t.Fatalf("unexpected sources %+v", candidate.Sources)
	}
	if candidate.Sources[0].PublishedAt == nil {
		t.Fatalf("expected published_at to be decoded")
	}
}

func TestValidateCandidatePayload_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "missing sources",
			payload: `{"title":"x","occurred_at":"2025-09-22T20:30:00Z","country":"DK"}`,
			want:    "schema validation failed",
		},
		{
			name:    "trust weight out of range",
			payload: `{"title":"x","occurred_at":"2025-09-22T20:30:00Z","country":"DK","sources":[{"source_url":"https://a.dk/1","trust_weight":5}]}`,
			want:    "schema validation failed",
		},
		{
			name:    "bad timestamp",
			payload: `{"title":"x","occurred_at":"yesterday","country":"DK","sources":[{"source_url":"https://a.dk/1","trust_weight":2}]}`,
			want:    "schema validation failed",
		},
		{
			name:    "three letter country",
			payload: `{"title":"x","occurred_at":"2025-09-22T20:30:00Z","country":"DNK","sources":[{"source_url":"https://a.dk/1","trust_weight":2}]}`,
			want:    "schema validation failed",
		},
		{
			name:    "whitespace title",
			payload: `{"title":"   ","occurred_at":"2025-09-22T20:30:00Z","country":"DK","sources":[{"source_url":"https://a.dk/1","trust_weight":2}]}`,
			want:    "title is required",
		},
		{
			name:    "half coordinates",
			payload: `{"title":"x","occurred_at":"2025-09-22T20:30:00Z","country":"DK","location":{"lat":55.6},"sources":[{"source_url":"https://a.dk/1","trust_weight":2}]}`,
			want:    "both lat and lon",
		},
		{
			name:    "non http source",
			payload: `{"title":"x","occurred_at":"2025-09-22T20:30:00Z","country":"DK","sources":[{"source_url":"ftp://a.dk/1","trust_weight":2}]}`,
			want:    "http or https",
		},
		{
			name:    "wrong version",
			payload: `{"payload_version":"v2","title":"x","occurred_at":"2025-09-22T20:30:00Z","country":"DK","sources":[{"source_url":"https://a.dk/1","trust_weight":2}]}`,
			want:    "schema validation failed",
		},
		{
			name:    "trailing content",
			payload: `{"title":"x"} {}`,
			want:    "trailing content",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ValidateCandidatePayload(json.RawMessage(tc.payload))
			if err == nil {
				t.Fatalf("expected validation to fail")
			}
			if !errors.Is(err, incident.ErrMalformedCandidate) {
				t.Fatalf("expected ErrMalformedCandidate, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeCandidates_ArrayKeepsGoodElements(t *testing.T) {
	t.Parallel()

	payload := "[" + kastrupPayload + `,{"title":"broken"}]`
	decoded, err := DecodeCandidates([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeCandidates failed: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(decoded))
	}
	if decoded[0].Err != nil {
		t.Fatalf("expected first element to be valid, got %v", decoded[0].Err)
	}
	if decoded[1].Index != 1 || !errors.Is(decoded[1].Err, incident.ErrMalformedCandidate) {
		t.Fatalf("expected second element to be malformed, got %+v", decoded[1])
	}
}

func TestDecodeCandidates_SingleObject(t *testing.T) {
	t.Parallel()

	decoded, err := DecodeCandidates([]byte(kastrupPayload))
	if err != nil {
		t.Fatalf("DecodeCandidates failed: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Err != nil {
		t.Fatalf("expected one valid element, got %+v", decoded)
	}
	if decoded[0].Candidate.Title != "Drones spotted over Copenhagen Airport" {
		t.Fatalf("unexpected title %q", decoded[0].Candidate.Title)
	}
}

func TestDecodeCandidates_NotJSON(t *testing.T) {
	t.Parallel()

	if _, err := DecodeCandidates([]byte("not json")); err == nil {
		t.Fatalf("expected error for non-JSON payload")
	}
	if _, err := DecodeCandidates([]byte("  ")); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}
