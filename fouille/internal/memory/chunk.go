package memory

// Chunk splits the normalized text into windows of size runes, each
// starting max(1, size-overlap) runes after the previous one. Windows run
// until the start passes the end, so the tail may be shorter than size.
// size <= 0 returns the whole normalized text as one chunk; empty text
// returns nil.
func Chunk(text string, size, overlap int) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	step := max(1, size-max(0, overlap))
	var out []string
	for i := 0; i < len(runes); i += step {
		out = append(out, string(runes[i:min(i+size, len(runes))]))
	}
	return out
}
