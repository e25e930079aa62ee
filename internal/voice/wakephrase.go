package voice

import "strings"

const wakeTrim = " ,.!?;:-\"'`~"

// WakeDetector gates replies on a spoken wake phrase.
type WakeDetector struct {
	Phrases []string
	// Window is how many leading words may precede the phrase, so a short
	// filler ("uh, hey bot") still matches.
	Window int
}

func NewWakeDetector(phrases []string, window int) *WakeDetector {
	var ps []string
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			ps = append(ps, p)
		}
	}
	return &WakeDetector{Phrases: ps, Window: window}
}

func normalizeWord(w string) string {
	return strings.Trim(strings.ToLower(w), wakeTrim)
}

// Detect reports whether text opens with a wake phrase and returns the text
// that follows it.
func (w *WakeDetector) Detect(text string) (bool, string) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return false, ""
	}
	norm := make([]string, len(words))
	for i, wd := range words {
		norm[i] = normalizeWord(wd)
	}
	for _, phrase := range w.Phrases {
		pw := strings.Fields(phrase)
		for i := range pw {
			pw[i] = normalizeWord(pw[i])
		}
		for start := 0; start <= w.Window && start+len(pw) <= len(norm); start++ {
			if !wordsEqual(norm[start:start+len(pw)], pw) {
				continue
			}
			rest := strings.Join(words[start+len(pw):], " ")
			return true, strings.Trim(rest, wakeTrim)
		}
	}
	return false, ""
}

func wordsEqual(a, b []string) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
