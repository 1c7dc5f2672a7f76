// Package payloadschema validates candidate payloads produced by the feed
// adapters before they reach the matcher.
package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"dronewatch.eu/core/internal/incident"
)

//go:embed candidate.schema.json
var candidateSchemaJSON string

const PayloadVersion = "v1"

// Decoded is one element of a candidate payload. Err is set when the element
// is malformed and wraps incident.ErrMalformedCandidate.
type Decoded struct {
	Index     int
	Raw       json.RawMessage
	Candidate incident.Candidate
	Err       error
}

type candidatePayload struct {
	PayloadVersion string `json:"payload_version,omitempty"`
	incident.Candidate
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateCandidatePayload validates a single candidate object.
func ValidateCandidatePayload(payload json.RawMessage) (*incident.Candidate, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload JSON: %v", incident.ErrMalformedCandidate, err)
	}
	candidate, err := validateValue(value)
	if err != nil {
		return nil, err
	}
	return &candidate, nil
}

// DecodeCandidates accepts one candidate object or an array of them. Elements
// are validated independently so one bad report does not sink a batch; the
// returned error covers only payloads that are not JSON at all.
func DecodeCandidates(payload []byte) ([]Decoded, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	elements, ok := value.([]any)
	if !ok {
		elements = []any{value}
	}

	out := make([]Decoded, 0, len(elements))
	for i, element := range elements {
		raw, err := json.Marshal(element)
		if err != nil {
			return nil, fmt.Errorf("re-encode element %d: %w", i, err)
		}
		candidate, err := validateValue(element)
		out = append(out, Decoded{Index: i, Raw: raw, Candidate: candidate, Err: err})
	}
	return out, nil
}

func validateValue(value any) (incident.Candidate, error) {
	schema, err := loadSchema()
	if err != nil {
		return incident.Candidate{}, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return incident.Candidate{}, fmt.Errorf("%w: schema validation failed: %v", incident.ErrMalformedCandidate, err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return incident.Candidate{}, fmt.Errorf("normalize payload JSON: %w", err)
	}
	var payload candidatePayload
	if err := json.Unmarshal(normalized, &payload); err != nil {
		return incident.Candidate{}, fmt.Errorf("%w: unmarshal payload: %v", incident.ErrMalformedCandidate, err)
	}
	if err := validateSemantics(&payload.Candidate); err != nil {
		return incident.Candidate{}, err
	}
	return payload.Candidate, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("candidate.schema.json", strings.NewReader(candidateSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("candidate.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

// validateSemantics covers what the schema cannot express, such as
// whitespace-only titles and half-specified coordinates.
func validateSemantics(c *incident.Candidate) error {
	if c == nil {
		return fmt.Errorf("%w: payload is nil", incident.ErrMalformedCandidate)
	}
	c.Country = incident.NormalizeCountry(c.Country)
	if err := c.Validate(); err != nil {
		return err
	}
	for i, source := range c.Sources {
		if err := validateSourceURL(fmt.Sprintf("sources[%d].source_url", i), source.URL); err != nil {
			return fmt.Errorf("%w: %v", incident.ErrMalformedCandidate, err)
		}
	}
	return nil
}

func validateSourceURL(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if scheme := strings.ToLower(parsed.Scheme); scheme != "http" && scheme != "https" {
		return fmt.Errorf("%s must use http or https", fieldName)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must have a host", fieldName)
	}
	return nil
}
