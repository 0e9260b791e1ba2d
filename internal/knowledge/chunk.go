package knowledge

import "strings"

// Chunker splits text into overlapping pieces sized for embedding.
// Size and overlap are measured in runes so multi-byte scripts do not
// get cut mid-character.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a chunker with the given size and overlap.
// Callers validate configuration; this clamps only the nonsensical
// cases so Split never loops forever.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split cuts text into chunks of at most size runes with the configured
// overlap between consecutive chunks. Cuts prefer paragraph breaks,
// then line breaks, then spaces, falling back to a hard cut. Empty and
// whitespace-only inputs produce no chunks.
func (c *Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = splitPoint(runes, start, end)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// splitPoint finds the best cut position in runes[start:limit], scanning
// backwards for a natural boundary. It never returns a cut in the first
// half of the window, so pathological inputs still make progress.
func splitPoint(runes []rune, start, limit int) int {
	min := start + (limit-start)/2
	for _, sep := range []string{"\n\n", "\n", " "} {
		sepRunes := []rune(sep)
		for i := limit - len(sepRunes); i > min; i-- {
			if matchAt(runes, i, sepRunes) {
				return i + len(sepRunes)
			}
		}
	}
	return limit
}

func matchAt(runes []rune, i int, sep []rune) bool {
	if i+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}
