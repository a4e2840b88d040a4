// Package chunk splits file text into overlapping windows with line-number
// provenance. The splitter is language-agnostic: it prefers paragraph
// breaks, then newlines, then spaces, then raw characters.
package chunk

import (
	"strings"
)

// Sizing in characters, approximating 4 characters per token.
const (
	// DefaultChunkSize targets ~1000 tokens per chunk.
	DefaultChunkSize = 4000
	// DefaultOverlap targets ~200 tokens of overlap between windows.
	DefaultOverlap = 800
)

// separators in preference order. The empty string means per-character.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunk is one window of a file's text.
type Chunk struct {
	Text      string
	StartLine int // 1-indexed
	EndLine   int // inclusive
}

// Chunker splits text into chunks.
type Chunker struct {
	chunkSize int
	overlap   int
}

// New creates a Chunker with the given size and overlap in characters.
// A non-positive chunk size falls back to DefaultChunkSize; a negative
// overlap, or one not smaller than the chunk size, falls back to a fifth of
// the chunk size. A zero overlap is kept.
func New(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

type span struct {
	start, end int
}

// Split chunks the text. The concatenation of all chunks covers the input;
// overlap regions repeat text. Line numbers count line terminators up to
// each chunk's byte offsets.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := c.pieces(text, 0, len(text), 0)
	spans := c.merge(pieces, len(text))

	chunks := make([]Chunk, 0, len(spans))
	for _, s := range spans {
		body := text[s.start:s.end]
		if strings.TrimSpace(body) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Text:      body,
			StartLine: 1 + strings.Count(text[:s.start], "\n"),
			EndLine:   1 + strings.Count(text[:s.end-1], "\n"),
		})
	}
	return chunks
}

// pieces recursively cuts text[start:end] into ordered, non-overlapping
// spans that each fit the chunk size, cutting on the preferred separator
// and falling through to finer ones for oversized segments.
func (c *Chunker) pieces(text string, start, end, sepIdx int) []span {
	if end-start <= c.chunkSize {
		return []span{{start, end}}
	}

	sep := separators[sepIdx]
	if sep == "" {
		var out []span
		for s := start; s < end; s += c.chunkSize {
			e := s + c.chunkSize
			if e > end {
				e = end
			}
			out = append(out, span{s, e})
		}
		return out
	}

	if !strings.Contains(text[start:end], sep) {
		return c.pieces(text, start, end, sepIdx+1)
	}

	var out []span
	segStart := start
	for segStart < end {
		idx := strings.Index(text[segStart:end], sep)
		var segEnd int
		if idx < 0 {
			segEnd = end
		} else {
			// Keep the separator attached to the left segment so the
			// pieces concatenate back to the original text.
			segEnd = segStart + idx + len(sep)
		}
		if segEnd-segStart <= c.chunkSize {
			out = append(out, span{segStart, segEnd})
		} else {
			out = append(out, c.pieces(text, segStart, segEnd, sepIdx+1)...)
		}
		segStart = segEnd
	}
	return out
}

// merge packs pieces into adjacent windows of at most chunkSize, then backs
// every window's start (except the first) up by the overlap so neighboring
// chunks repeat text.
func (c *Chunker) merge(pieces []span, textLen int) []span {
	if len(pieces) == 0 {
		return nil
	}

	var out []span
	start := pieces[0].start
	end := pieces[0].end
	for _, p := range pieces[1:] {
		if p.end-start > c.chunkSize {
			out = append(out, span{start, end})
			start = end
		}
		end = p.end
	}
	out = append(out, span{start, end})

	for i := 1; i < len(out); i++ {
		s := out[i].start - c.overlap
		if s < 0 {
			s = 0
		}
		out[i].start = s
	}
	return out
}
