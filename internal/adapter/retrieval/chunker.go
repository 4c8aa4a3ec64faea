package retrieval

import (
	"strings"
)

// DefaultChunkTokens is the chunk budget used when none is configured.
const DefaultChunkTokens = 256

// Chunker splits documents into passages of at most maxTokens tokens.
// Paragraph boundaries are kept where possible; oversized paragraphs are
// split on sentences, and oversized sentences on words.
type Chunker struct {
	counter   TokenCounter
	maxTokens int
}

// NewChunker creates a chunker. A nil counter uses the default tiktoken encoding.
func NewChunker(counter TokenCounter, maxTokens int) *Chunker {
	if counter == nil {
		counter = NewTiktokenCounter(DefaultEncoding)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultChunkTokens
	}
	return &Chunker{counter: counter, maxTokens: maxTokens}
}

// piece is a unit of text to merge into chunks. para marks the start of a
// new paragraph.
type piece struct {
	text   string
	tokens int
	para   bool
}

// Split returns the chunks of text in order. Empty input yields no chunks.
func (c *Chunker) Split(text string) []string {
	var pieces []piece
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pieces = append(pieces, c.paragraphPieces(line)...)
	}
	if len(pieces) == 0 {
		return nil
	}

	var (
		chunks []string
		buf    strings.Builder
		used   int
	)
	flush := func() {
		if buf.Len() > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
			used = 0
		}
	}
	for _, p := range pieces {
		if used > 0 && used+p.tokens+1 > c.maxTokens {
			flush()
		}
		if buf.Len() > 0 {
			if p.para {
				buf.WriteString("\n")
			} else {
				buf.WriteString(" ")
			}
			used++
		}
		buf.WriteString(p.text)
		used += p.tokens
	}
	flush()
	return chunks
}

func (c *Chunker) paragraphPieces(para string) []piece {
	n := c.counter.Count(para)
	if n <= c.maxTokens {
		return []piece{{text: para, tokens: n, para: true}}
	}

	var out []piece
	for _, s := range splitSentences(para) {
		sn := c.counter.Count(s)
		if sn <= c.maxTokens {
			out = append(out, piece{text: s, tokens: sn})
			continue
		}
		out = append(out, c.wordPieces(s)...)
	}
	if len(out) > 0 {
		out[0].para = true
	}
	return out
}

// wordPieces packs the words of an oversized sentence greedily.
func (c *Chunker) wordPieces(sentence string) []piece {
	var (
		out  []piece
		cur  []string
		used int
	)
	for _, w := range strings.Fields(sentence) {
		wn := c.counter.Count(w)
		if len(cur) > 0 && used+wn+1 > c.maxTokens {
			out = append(out, piece{text: strings.Join(cur, " "), tokens: used})
			cur, used = nil, 0
		}
		cur = append(cur, w)
		used += wn
		if len(cur) > 1 {
			used++
		}
	}
	if len(cur) > 0 {
		out = append(out, piece{text: strings.Join(cur, " "), tokens: used})
	}
	return out
}

// splitSentences splits after '.', '!' or '?' followed by whitespace.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
