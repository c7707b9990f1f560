package canonicalize

import (
	"encoding/json"
	"testing"
)

func TestJCS_Sorting(t *testing.T) {
	input := map[string]interface{}{
		"userAgent": "curl/8.0",
		"action":    "SIGNED",
		"ip":        "10.0.0.1",
	}

	expected := `{"action":"SIGNED","ip":"10.0.0.1","userAgent":"curl/8.0"}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{
			"y": "foo",
			"x": "bar",
		},
		"a": 1,
	}

	expected := `{"a":1,"z":{"x":"bar","y":"foo"}}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	// Signer names and payload strings may carry HTML-significant runes;
	// RFC 8785 forbids escaping them.
	input := map[string]string{
		"html": "<script>alert('xss')</script> &",
	}

	expected := `{"html":"<script>alert('xss')</script> &"}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

// Two processes hashing the same event payload must agree byte-for-byte,
// regardless of whether the payload came from a map or a struct.
func TestCanonicalHash_Stability(t *testing.T) {
	v1 := map[string]interface{}{"actorId": "u-1", "action": "VIEWED"}

	type payload struct {
		Action  string `json:"action"`
		ActorID string `json:"actorId"`
	}
	v2 := payload{Action: "VIEWED", ActorID: "u-1"}

	h1, err := CanonicalHash(v1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := CanonicalHash(v2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("Hash mismatch for semantically identical inputs: %s != %s", h1, h2)
	}
}

func TestJCS_NumberTypes(t *testing.T) {
	input := map[string]interface{}{
		"num": json.Number("123.456"),
	}
	expected := `{"num":123.456}`

	b, err := JCS(input)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCSString(t *testing.T) {
	s, err := JCSString(map[string]int{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if s != `{"a":1,"b":2}` {
		t.Fatalf("unexpected canonical form: %s", s)
	}
}

func TestHashBytes(t *testing.T) {
	if len(HashBytes([]byte("x"))) != 64 {
		t.Fatal("expected 64 hex chars")
	}
}
