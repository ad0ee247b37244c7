package intent

import (
	"regexp"
	"strings"
)

var spaceRe = regexp.MustCompile(`\s+`)

// WakeDetector matches configured wake phrases against a transcript.
type WakeDetector struct {
	Phrases []string
	WindowS int
}

func NewWakeDetector(phrases []string, windowS int) *WakeDetector {
	return &WakeDetector{Phrases: phrases, WindowS: windowS}
}

// Detect returns (matched, stripped). stripped is the transcript with the
// wake phrase removed, so "hey computer what time is it" still carries a
// command after the wake path fires. WindowS > 0 widens matching to a word
// window near the start instead of a strict prefix.
func (w *WakeDetector) Detect(text string) (bool, string) {
	if text == "" {
		return false, ""
	}
	s := Normalize(text)
	for _, wp := range w.Phrases {
		if wp == "" {
			continue
		}
		if s == wp {
			return true, ""
		}
		if w.WindowS == 0 {
			for _, sep := range []string{" ", ",", ".", "!", "?", ":"} {
				if strings.HasPrefix(s, wp+sep) {
					return true, trimPunct(s[len(wp)+len(sep):])
				}
			}
			continue
		}
		if stripped, ok := w.windowMatch(s, wp); ok {
			return true, stripped
		}
	}
	return false, ""
}

// windowMatch looks for the phrase within the first WindowS*3 words.
func (w *WakeDetector) windowMatch(s, wp string) (string, bool) {
	words := strings.Fields(s)
	wpWords := strings.Fields(wp)
	if len(wpWords) == 0 {
		return "", false
	}
	k := w.WindowS * 3
	if k < 3 {
		k = 3
	}
	limit := len(words) - len(wpWords)
	if limit > k {
		limit = k
	}
	for i := 0; i <= limit; i++ {
		match := true
		for j := range wpWords {
			if trimPunct(words[i+j]) != wpWords[j] {
				match = false
				break
			}
		}
		if match {
			return trimPunct(strings.Join(words[i+len(wpWords):], " ")), true
		}
	}
	return "", false
}

// Normalize lowercases, collapses whitespace, and trims surrounding
// punctuation so transcript variants compare equal.
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = spaceRe.ReplaceAllString(s, " ")
	return trimPunct(s)
}

func trimPunct(s string) string {
	return strings.Trim(strings.TrimSpace(s), " ,.!?;:-\"'`~")
}
