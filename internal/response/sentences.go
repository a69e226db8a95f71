package response

import "strings"

// sentenceSplitter accumulates streamed text and hands out complete
// sentences, so synthesis can start before the model finishes.
type sentenceSplitter struct {
	buf strings.Builder
}

// Push adds delta and returns every sentence it completed.
func (s *sentenceSplitter) Push(delta string) []string {
	s.buf.WriteString(delta)
	var out []string
	for {
		text := s.buf.String()
		idx := firstSentenceBoundary(text)
		if idx < 0 {
			return out
		}
		out = append(out, strings.TrimSpace(text[:idx+1]))
		rest := strings.TrimLeft(text[idx+1:], " \t\n\r")
		s.buf.Reset()
		s.buf.WriteString(rest)
	}
}

// Flush returns whatever partial sentence is left and resets the splitter.
func (s *sentenceSplitter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}

// firstSentenceBoundary returns the index of the first '.', '!' or '?'
// followed by whitespace, or -1.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
