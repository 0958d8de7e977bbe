package negotiation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	likesPattern    = regexp.MustCompile(`(?i)(\d+)\s*(?:likes?\b|👍|❤️|♥️)`)
	subsPattern     = regexp.MustCompile(`(?i)(\d+)\s*(?:sub(?:s|scribers?|scriptions?|scribes?)?\b)`)
	commentsPattern = regexp.MustCompile(`(?i)(\d+)\s*(?:comments?\b|💬)`)
	watchPattern    = regexp.MustCompile(`(?i)(\d+)\s*(?:minutes?\b|mins?\b|seconds?\b|secs?\b|watch\b)`)
)

// ExtractTerms parses free text into a partial terms offer. Missing unit
// families yield missing keys, never zero. Pure function.
//
// Watch-time keeps the source heuristic: a value under 10 reads as minutes
// and is multiplied by 60, 10 or more reads as seconds directly.
func ExtractTerms(text string) TermsPatch {
	var patch TermsPatch
	if v, ok := firstNumber(likesPattern, text); ok {
		patch.Likes = &v
	}
	if v, ok := firstNumber(subsPattern, text); ok {
		patch.Subs = &v
	}
	if v, ok := firstNumber(commentsPattern, text); ok {
		patch.Comments = &v
	}
	if v, ok := firstNumber(watchPattern, text); ok {
		if v < 10 {
			v *= 60
		}
		patch.WatchSeconds = &v
	}
	return patch
}

func firstNumber(pattern *regexp.Regexp, text string) (int, bool) {
	m := pattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// FormatTerms renders every present category exactly once, in a fixed order.
func FormatTerms(patch TermsPatch) string {
	parts := make([]string, 0, 4)
	if patch.Likes != nil {
		parts = append(parts, fmt.Sprintf("%d %s", *patch.Likes, plural(*patch.Likes, "like", "likes")))
	}
	if patch.Subs != nil {
		parts = append(parts, fmt.Sprintf("%d %s", *patch.Subs, plural(*patch.Subs, "sub", "subs")))
	}
	if patch.Comments != nil {
		parts = append(parts, fmt.Sprintf("%d %s", *patch.Comments, plural(*patch.Comments, "comment", "comments")))
	}
	if patch.WatchSeconds != nil {
		parts = append(parts, fmt.Sprintf("%d seconds watch", *patch.WatchSeconds))
	}
	return strings.Join(parts, ", ")
}

// FormatAgreedTerms renders the non-zero categories of a full terms value.
func FormatAgreedTerms(terms Terms) string {
	var patch TermsPatch
	if terms.Likes > 0 {
		patch.Likes = &terms.Likes
	}
	if terms.Subs > 0 {
		patch.Subs = &terms.Subs
	}
	if terms.Comments > 0 {
		patch.Comments = &terms.Comments
	}
	if terms.WatchSeconds > 0 {
		patch.WatchSeconds = &terms.WatchSeconds
	}
	out := FormatTerms(patch)
	if out == "" {
		out = "nothing"
	}
	return out
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}
