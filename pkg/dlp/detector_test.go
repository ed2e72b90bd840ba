package dlp

import (
	"strings"
	"testing"
)

func TestDetectorFindsResidualIdentifiers(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}

	data := map[string]interface{}{
		"note":   "Follow up with patient, SSN 123-45-6789, email john@example.com",
		"nested": map[string]interface{}{"contact": "(555) 123-4567"},
	}

	result := detector.Detect(data)
	if !result.Detected {
		t.Fatal("expected residual identifiers to be detected")
	}
	if len(result.Types) < 3 {
		t.Fatalf("expected ssn, email and phone types, got %v", result.Types)
	}
	if len(result.Findings) != 3 {
		t.Fatalf("findings = %d, want 3", len(result.Findings))
	}
	if result.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", result.Confidence)
	}
}

func TestDetectorCleanPayload(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}

	result := detector.Detect(map[string]interface{}{
		"gender":    "female",
		"birthDate": "1955-01-01",
	})
	if result.Detected {
		t.Fatalf("clean payload flagged: %+v", result)
	}
	if result.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", result.Confidence)
	}
}

func TestSanitizeMasksMatches(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}

	data := map[string]interface{}{
		"note":   "SSN 123-45-6789 on file",
		"nested": map[string]interface{}{"contact": "555-123-4567"},
	}
	sanitized := detector.Sanitize(data)

	note := sanitized["note"].(string)
	if strings.Contains(note, "123-45-6789") {
		t.Errorf("ssn not masked: %s", note)
	}
	if !strings.Contains(note, "***-**-****") {
		t.Errorf("mask missing: %s", note)
	}

	contact := sanitized["nested"].(map[string]interface{})["contact"].(string)
	if strings.Contains(contact, "555-123-4567") {
		t.Errorf("phone not masked: %s", contact)
	}

	// Original payload untouched.
	if data["note"].(string) != "SSN 123-45-6789 on file" {
		t.Error("sanitize mutated its input")
	}
}

func TestNilDetectorIsNoop(t *testing.T) {
	var detector *Detector

	if result := detector.Detect(map[string]interface{}{"note": "123-45-6789"}); result.Detected {
		t.Error("nil detector should detect nothing")
	}
	data := map[string]interface{}{"note": "123-45-6789"}
	if out := detector.Sanitize(data); out["note"] != "123-45-6789" {
		t.Error("nil detector should pass data through")
	}
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	cfg := RulesConfig{Rules: []Rule{
		{Name: "SSN", Type: "ssn", Pattern: `\b\d{3}-\d{2}-\d{4}\b`, Mask: "***", Enabled: false},
	}}
	detector, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}

	if result := detector.Detect(map[string]interface{}{"note": "123-45-6789"}); result.Detected {
		t.Error("disabled rule should not match")
	}
}
