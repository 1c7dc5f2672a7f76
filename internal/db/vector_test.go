package db

import "testing"

func TestVectorLiteralRoundTrip(t *testing.T) {
	t.Parallel()

	literal, err := toVectorLiteral([]float32{0.25, -1, 3.5})
	if err != nil {
		t.Fatalf("toVectorLiteral: %v", err)
	}
	if literal != "[0.25,-1,3.5]" {
		t.Fatalf("unexpected literal: %q", literal)
	}

	parsed, err := parseVectorLiteral(literal)
	if err != nil {
		t.Fatalf("parseVectorLiteral: %v", err)
	}
	if len(parsed) != 3 || parsed[0] != 0.25 || parsed[1] != -1 || parsed[2] != 3.5 {
		t.Fatalf("unexpected parsed vector: %#v", parsed)
	}
}

func TestVectorLiteralRejects(t *testing.T) {
	t.Parallel()

	if _, err := toVectorLiteral(nil); err == nil {
		t.Fatalf("expected empty vector to be rejected")
	}
	if _, err := parseVectorLiteral("0.1,0.2"); err == nil {
		t.Fatalf("expected literal without brackets to be rejected")
	}
	if _, err := parseVectorLiteral("[0.1,abc]"); err == nil {
		t.Fatalf("expected non-numeric element to be rejected")
	}
	if got, err := parseVectorLiteral(""); err != nil || got != nil {
		t.Fatalf("expected empty literal to mean no vector, got %#v %v", got, err)
	}
}
