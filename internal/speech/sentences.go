package speech

import "strings"

// SplitSentences cuts reply text into speakable sentence fragments so
// synthesis and playback can start before the whole reply is processed.
// Splits on terminal punctuation; a trailing unterminated span still comes
// back as a final fragment.
func SplitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n', ';', '。', '！', '？', '；':
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}
