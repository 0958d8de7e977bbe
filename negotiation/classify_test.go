package negotiation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyBuckets(t *testing.T) {
	c := NewClassifier()
	cases := []struct {
		text string
		want ResponseKind
	}{
		{"yes sounds good", ResponsePositive},
		{"sure, let's do it", ResponsePositive},
		{"deal 🤝", ResponsePositive},
		{"no thanks", ResponseNegative},
		{"nope, not interested", ResponseNegative},
		{"stop messaging me, this is spam", ResponseNegative},
		{"how about 20 likes instead", ResponseNegotiation},
		{"I'd prefer fewer comments", ResponseNegotiation},
		{"hmm let me think", ResponseUnclear},
		{"", ResponseUnclear},
		{"what is this about?", ResponseUnclear},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.text); got != tc.want {
			t.Fatalf("Classify(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestClassifyPositiveWithNumbersIsNegotiation(t *testing.T) {
	c := NewClassifier()
	// A positive lead that still proposes numbers is a counter-offer, not an
	// acceptance.
	if got := c.Classify("yes! but make it 10 likes"); got != ResponseNegotiation {
		t.Fatalf("Classify() = %s, want %s", got, ResponseNegotiation)
	}
	if got := c.Classify("sounds good, 20 likes and 2 subs"); got != ResponseNegotiation {
		t.Fatalf("Classify() = %s, want %s", got, ResponseNegotiation)
	}
}

func TestClassifyNegativeBeatsWeakPositive(t *testing.T) {
	c := NewClassifier()
	if got := c.Classify("no, go away, this is spam"); got != ResponseNegative {
		t.Fatalf("Classify() = %s, want %s", got, ResponseNegative)
	}
}

func TestClassifyIsPure(t *testing.T) {
	c := NewClassifier()
	const text = "yes but 15 likes"
	first := c.Classify(text)
	for i := 0; i < 5; i++ {
		if got := c.Classify(text); got != first {
			t.Fatalf("Classify() not deterministic: got %s then %s", first, got)
		}
	}
}

func TestIndicatesCompletion(t *testing.T) {
	c := NewClassifier()
	cases := []struct {
		text string
		want bool
	}{
		{"done!", true},
		{"all finished on my side", true},
		{"completed ✅", true},
		{"✅", true},
		{"working on it", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := c.IndicatesCompletion(tc.text); got != tc.want {
			t.Fatalf("IndicatesCompletion(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestLoadClassifierMissingFileFallsBack(t *testing.T) {
	c, err := LoadClassifier(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadClassifier(absent) error = %v", err)
	}
	if got := c.Classify("yes sounds good"); got != ResponsePositive {
		t.Fatalf("fallback Classify() = %s, want %s", got, ResponsePositive)
	}
}

func TestLoadClassifierCustomTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	table := `positive:
  - '(?i)\bda\b'
negative:
  - '(?i)\bnyet\b'
negotiation:
  - '\d+'
completion:
  - '(?i)\bgotovo\b'
`
	if err := os.WriteFile(path, []byte(table), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	c, err := LoadClassifier(path)
	if err != nil {
		t.Fatalf("LoadClassifier() error = %v", err)
	}
	if got := c.Classify("da"); got != ResponsePositive {
		t.Fatalf("Classify(da) = %s, want %s", got, ResponsePositive)
	}
	if got := c.Classify("nyet"); got != ResponseNegative {
		t.Fatalf("Classify(nyet) = %s, want %s", got, ResponseNegative)
	}
	if !c.IndicatesCompletion("gotovo") {
		t.Fatalf("IndicatesCompletion(gotovo) = false, want true")
	}
}

func TestLoadClassifierRejectsIncompleteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(path, []byte("positive:\n  - yes\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadClassifier(path); err == nil {
		t.Fatalf("LoadClassifier(incomplete) expected error")
	}
}
