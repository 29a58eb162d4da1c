// Package chunk splits text into sentence-boundary-aware chunks of a
// target byte size, with optional retroactive overlap for context
// continuity across chunk boundaries.
package chunk

import "fmt"

// Chunk is a slice of the original text with byte offsets. Once
// overlap is applied, Text may contain more bytes than
// text[Start:End] — the extra leading bytes are borrowed from the
// previous chunk; Start/End still describe this chunk's own
// non-overlapped span.
type Chunk struct {
	Text  string
	Start int
	End   int
	Index int
}

// Config controls chunk size and overlap, both in bytes.
type Config struct {
	// TargetSize is the byte threshold at which a chunk is closed
	// once a sentence boundary is reached.
	TargetSize int
	// Overlap is how many trailing bytes of the previous chunk are
	// prepended to each subsequent chunk.
	Overlap int
}

// DefaultConfig targets ~512 tokens (2048 bytes) per chunk with a
// ~50-token (200 byte) overlap.
func DefaultConfig() Config {
	return Config{TargetSize: 2048, Overlap: 200}
}

// Chunker splits text per Config.
type Chunker struct {
	cfg Config
}

// New creates a Chunker with the given target size and overlap.
func New(targetSize, overlap int) *Chunker {
	return &Chunker{cfg: Config{TargetSize: targetSize, Overlap: overlap}}
}

// NewWithConfig creates a Chunker from a Config.
func NewWithConfig(cfg Config) *Chunker {
	return &Chunker{cfg: cfg}
}

// Chunk splits text at sentence boundaries (., ?, !, \n) while
// respecting the configured target size, then applies overlap.
func (c *Chunker) Chunk(text string) []Chunk {
	if len(text) == 0 {
		return nil
	}

	var chunks []Chunk
	chunkStart := 0
	lastBoundary := 0

	for i := 0; i < len(text); i++ {
		b := text[i]
		isBoundary := b == '.' || b == '?' || b == '!' || b == '\n'
		if !isBoundary {
			continue
		}

		potentialEnd := i + 1
		if potentialEnd-chunkStart >= c.cfg.TargetSize && lastBoundary > chunkStart {
			chunks = append(chunks, Chunk{
				Text:  text[chunkStart:lastBoundary],
				Start: chunkStart,
				End:   lastBoundary,
				Index: len(chunks),
			})
			chunkStart = lastBoundary
		}
		lastBoundary = potentialEnd
	}

	if chunkStart < len(text) {
		chunks = append(chunks, Chunk{
			Text:  text[chunkStart:],
			Start: chunkStart,
			End:   len(text),
			Index: len(chunks),
		})
	}

	if c.cfg.Overlap > 0 && len(chunks) > 1 {
		applyOverlap(chunks, text, c.cfg.Overlap)
	}

	return chunks
}

// applyOverlap prepends up to overlap bytes of preceding context to
// every chunk after the first, snapping the overlap start to the
// nearest following whitespace so words aren't split mid-token.
func applyOverlap(chunks []Chunk, original string, overlap int) {
	for i := 1; i < len(chunks); i++ {
		currStart := chunks[i].Start

		overlapStart := currStart - overlap
		if overlapStart < 0 {
			overlapStart = 0
		}
		if overlapStart >= currStart {
			continue
		}

		overlapStart = findWordBoundary(original, overlapStart, true)
		if overlapStart < currStart {
			chunks[i].Text = fmt.Sprintf("%s%s", original[overlapStart:currStart], chunks[i].Text)
		}
	}
}

// findWordBoundary scans up to 50 bytes from pos for whitespace,
// returning the position just past it, or pos unchanged if none is
// found. Only the forward direction is needed by applyOverlap, but
// both are implemented to mirror the original's bidirectional
// contract.
func findWordBoundary(text string, pos int, forward bool) int {
	if forward {
		limit := pos + 50
		if limit > len(text) {
			limit = len(text)
		}
		for i := pos; i < limit; i++ {
			if text[i] == ' ' || text[i] == '\n' {
				return i + 1
			}
		}
		return pos
	}

	start := pos - 50
	if start < 0 {
		start = 0
	}
	for i := pos - 1; i >= start; i-- {
		if text[i] == ' ' || text[i] == '\n' {
			return i + 1
		}
	}
	return pos
}

// EstimateTokens gives a rough token count for a chunk, assuming
// ~4 bytes per token for English text.
func EstimateTokens(c Chunk) int {
	return len(c.Text) / 4
}
