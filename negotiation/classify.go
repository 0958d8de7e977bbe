package negotiation

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

type ResponseKind string

const (
	ResponsePositive    ResponseKind = "positive"
	ResponseNegative    ResponseKind = "negative"
	ResponseNegotiation ResponseKind = "negotiation"
	ResponseUnclear     ResponseKind = "unclear"
)

//go:embed classify_patterns.yaml
var defaultPatternsYAML []byte

type patternFile struct {
	Positive    []string `yaml:"positive"`
	Negative    []string `yaml:"negative"`
	Negotiation []string `yaml:"negotiation"`
	Completion  []string `yaml:"completion"`
}

// Classifier buckets inbound text by weighted pattern matching. Instances
// are immutable after construction and safe for concurrent use.
type Classifier struct {
	positive    []*regexp.Regexp
	negative    []*regexp.Regexp
	negotiation []*regexp.Regexp
	completion  []*regexp.Regexp
}

func NewClassifier() *Classifier {
	c, err := parseClassifier(defaultPatternsYAML)
	if err != nil {
		// The embedded table is validated by tests; a parse failure here is
		// a build defect.
		panic(err)
	}
	return c
}

// LoadClassifier reads a pattern table from path, falling back to the
// embedded defaults when the file does not exist.
func LoadClassifier(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewClassifier(), nil
		}
		return nil, fmt.Errorf("read pattern table %s: %w", path, err)
	}
	c, err := parseClassifier(data)
	if err != nil {
		return nil, fmt.Errorf("parse pattern table %s: %w", path, err)
	}
	return c, nil
}

func parseClassifier(data []byte) (*Classifier, error) {
	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal pattern table: %w", err)
	}
	if len(file.Positive) == 0 || len(file.Negative) == 0 || len(file.Negotiation) == 0 {
		return nil, fmt.Errorf("pattern table must define positive, negative and negotiation families")
	}
	c := &Classifier{}
	var err error
	if c.positive, err = compilePatterns("positive", file.Positive); err != nil {
		return nil, err
	}
	if c.negative, err = compilePatterns("negative", file.Negative); err != nil {
		return nil, err
	}
	if c.negotiation, err = compilePatterns("negotiation", file.Negotiation); err != nil {
		return nil, err
	}
	if c.completion, err = compilePatterns("completion", file.Completion); err != nil {
		return nil, err
	}
	return c, nil
}

func compilePatterns(family string, raw []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, expr := range raw {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern %q: %w", family, expr, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Classify scores the text against each family and resolves mixed signals in
// a fixed order: a positive lead with any negotiation signal is a
// negotiation, a negative lead wins next, then any negotiation signal, then
// unclear. Pure function of the input text.
func (c *Classifier) Classify(text string) ResponseKind {
	positiveScore := countMatches(c.positive, text)
	negativeScore := countMatches(c.negative, text)
	negotiationScore := countMatches(c.negotiation, text)

	switch {
	case positiveScore > negativeScore && positiveScore > 0:
		if negotiationScore > 0 {
			return ResponseNegotiation
		}
		return ResponsePositive
	case negativeScore > positiveScore && negativeScore > 0:
		return ResponseNegative
	case negotiationScore > 0:
		return ResponseNegotiation
	default:
		return ResponseUnclear
	}
}

// IndicatesCompletion reports whether text claims the counterparty finished
// their obligations.
func (c *Classifier) IndicatesCompletion(text string) bool {
	return countMatches(c.completion, text) > 0
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	score := 0
	for _, re := range patterns {
		if re.MatchString(text) {
			score++
		}
	}
	return score
}
