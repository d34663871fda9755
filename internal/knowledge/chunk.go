package knowledge

import "strings"

// Default chunk sizing, carried over from original_source's RAGSystem
// (chunk_size=500, chunk_overlap=50).
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Chunker splits long source text into overlapping, sentence-boundary-aware
// windows before embedding, the same shape as RAGSystem._chunk_text: grow a
// window to Size bytes, then back off to the last ". " within it so chunks
// don't split mid-sentence, before sliding forward by Size-Overlap.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker returns a Chunker using sensible default sizing.
func NewChunker() Chunker {
	return Chunker{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

// Split breaks text into chunks. A text shorter than Size is returned whole.
func (c Chunker) Split(text string) []string {
	size, overlap := c.Size, c.Overlap
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	text = strings.TrimSpace(text)
	if len(text) <= size {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, strings.TrimSpace(text[start:]))
			break
		}
		window := text[start:end]
		if cut := strings.LastIndex(window, ". "); cut > size/2 {
			end = start + cut + 1
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
