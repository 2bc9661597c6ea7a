package dlp

import "testing"

func TestDetectorDetectsPatterns(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}

	note := "Patient John Doe SSN 123-45-6789 email john@example.com call (555) 123-4567"
	findings := detector.Detect(note)
	if len(findings) != 3 {
		t.Fatalf("expected three findings, got %v", findings)
	}
	if findings[0].Type != "ssn" || findings[1].Type != "email" || findings[2].Type != "phone" {
		t.Fatalf("unexpected finding order %v", findings)
	}

	sanitized := detector.Sanitize(note)
	want := "Patient John Doe SSN ***-**-**** email ***@*** call (***) ***-****"
	if sanitized != want {
		t.Fatalf("sanitize: got %q want %q", sanitized, want)
	}
}

func TestMaskValue(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}

	if got := detector.MaskValue("123456^^^MRN^MR", true); got != "999999^^^AAA^AA" {
		t.Fatalf("phi shape: got %q", got)
	}
	if got := detector.MaskValue("EPICADT", false); got != "EPICADT" {
		t.Fatalf("non-phi value changed: %q", got)
	}
	if got := detector.MaskValue("SSN 123-45-6789", false); got != "SSN ***-**-****" {
		t.Fatalf("non-phi value not sanitized: %q", got)
	}
}

func TestNilDetector(t *testing.T) {
	var detector *Detector
	if got := detector.Sanitize("123-45-6789"); got != "123-45-6789" {
		t.Fatalf("nil detector must pass values through, got %q", got)
	}
	if detector.Detect("123-45-6789") != nil {
		t.Fatal("nil detector must not report findings")
	}
}

func TestLoadRules(t *testing.T) {
	cfg, err := LoadRules("")
	if err != nil {
		t.Fatalf("default rules: %v", err)
	}
	if len(cfg.Rules) != 5 {
		t.Fatalf("expected five default rules, got %d", len(cfg.Rules))
	}
	if _, err := LoadRules("/nonexistent/rules.yaml"); err == nil {
		t.Fatal("expected error for missing rules file")
	}
	dup := RulesConfig{Rules: []Rule{{Name: "a", Pattern: "x"}, {Name: "a", Pattern: "y"}}}
	if err := dup.Validate(); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if err := (RulesConfig{Rules: []Rule{{Name: "empty"}}}).Validate(); err == nil {
		t.Fatal("expected missing pattern error")
	}
	d, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("detector: %v", err)
	}
	if got := d.Detect("seen MRN: 12345678 today"); len(got) != 1 || got[0].Type != "mrn" {
		t.Fatalf("expected one mrn finding, got %+v", got)
	}
	if _, err := NewDetector(RulesConfig{Rules: []Rule{{Name: "bad", Pattern: "(", Enabled: true}}}); err == nil {
		t.Fatal("expected compile error")
	}
}
