// Package chunker splits raw transcript text into token-bounded chunks.
// Token counts are approximated by word count. Offsets are rune offsets
// into the original text, and a chunk's content is the exact substring
// between them.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/WessleyAI/interview-insights/engine/domain"
)

const (
	// DefaultTargetTokens is the target number of tokens per chunk.
	DefaultTargetTokens = 512
	// DefaultOverlapTokens is the number of overlapping tokens between chunks.
	DefaultOverlapTokens = 50
)

// Config controls chunk boundaries.
type Config struct {
	TargetTokens      int  `yaml:"target_tokens"`
	OverlapTokens     int  `yaml:"overlap_tokens"`
	PreserveSentences bool `yaml:"preserve_sentences"` // false packs words
}

// DefaultConfig returns the chunking defaults.
func DefaultConfig() Config {
	return Config{
		TargetTokens:      DefaultTargetTokens,
		OverlapTokens:     DefaultOverlapTokens,
		PreserveSentences: true,
	}
}

// Chunker produces transcript chunks from text.
type Chunker struct {
	cfg Config
}

// New creates a Chunker. Non-positive sizes fall back to the defaults.
func New(cfg Config) *Chunker {
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = DefaultTargetTokens
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	return &Chunker{cfg: cfg}
}

// span is a trimmed run of text [start, end) in rune offsets.
type span struct {
	start, end int
	words      int
}

// Chunk splits text into chunks with IDs "<fileID>-<index>". Embeddings are
// left empty.
func (c *Chunker) Chunk(fileID, label, text string) []domain.TranscriptChunk {
	runes := []rune(text)
	var units []span
	if c.cfg.PreserveSentences {
		units = splitSentences(runes)
	} else {
		units = splitWords(runes)
	}
	if len(units) == 0 {
		return nil
	}

	var chunks []domain.TranscriptChunk
	start := 0
	for start < len(units) {
		tokens := 0
		end := start
		for end < len(units) {
			if tokens+units[end].words > c.cfg.TargetTokens && tokens > 0 {
				break
			}
			tokens += units[end].words
			end++
		}

		first, last := units[start], units[end-1]
		chunks = append(chunks, domain.TranscriptChunk{
			ID:           fmt.Sprintf("%s-%d", fileID, len(chunks)),
			Content:      string(runes[first.start:last.end]),
			StartChar:    first.start,
			EndChar:      last.end,
			TokenCount:   tokens,
			SourceFileID: fileID,
			SourceLabel:  label,
		})
		if end == len(units) {
			break
		}

		// Step back over trailing units to build the overlap.
		overlap := 0
		next := end
		for next > start && overlap < c.cfg.OverlapTokens {
			next--
			overlap += units[next].words
		}
		if next == start {
			next = end
		}
		start = next
	}
	return chunks
}

// splitSentences breaks text on terminal punctuation followed by whitespace
// and on newlines.
func splitSentences(runes []rune) []span {
	var out []span
	begin := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' && r != '\n' {
			continue
		}
		if r == '\n' || i == len(runes)-1 || unicode.IsSpace(runes[i+1]) {
			if s, ok := trimmed(runes, begin, i+1); ok {
				out = append(out, s)
			}
			begin = i + 1
		}
	}
	if s, ok := trimmed(runes, begin, len(runes)); ok {
		out = append(out, s)
	}
	return out
}

func splitWords(runes []rune) []span {
	var out []span
	start := -1
	for i, r := range runes {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, span{start: start, end: i, words: 1})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, span{start: start, end: len(runes), words: 1})
	}
	return out
}

func trimmed(runes []rune, start, end int) (span, bool) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	if start == end {
		return span{}, false
	}
	return span{start: start, end: end, words: len(strings.Fields(string(runes[start:end])))}, true
}
