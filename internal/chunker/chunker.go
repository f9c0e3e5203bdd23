// Package chunker provides token-aware text chunking at two granularities:
// small chunks for retrieval and large chunks for map-reduce summarization.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
)

// Granularity identifies which pipeline a chunk was produced for.
type Granularity string

const (
	// GranularityRAG produces small chunks suited for embedding and retrieval.
	GranularityRAG Granularity = "rag"
	// GranularitySummary produces large chunks suited for map-reduce summarization.
	GranularitySummary Granularity = "summary"
)

// Profile holds chunking parameters for one granularity.
type Profile struct {
	Granularity   Granularity
	MaxTokens     int // Maximum tokens per chunk
	OverlapTokens int // Overlap tokens between consecutive chunks
	Encoding      string
}

// RAGProfile returns the retrieval chunking profile.
func RAGProfile() Profile {
	return Profile{
		Granularity:   GranularityRAG,
		MaxTokens:     1000,
		OverlapTokens: 100,
		Encoding:      "cl100k_base",
	}
}

// SummaryProfile returns the summarization chunking profile.
func SummaryProfile() Profile {
	return Profile{
		Granularity:   GranularitySummary,
		MaxTokens:     15000,
		OverlapTokens: 500,
		Encoding:      "cl100k_base",
	}
}

// ChunkMetadata holds metadata about the document being chunked.
type ChunkMetadata struct {
	DocumentID    string                 `json:"document_id"`
	DocumentTitle string                 `json:"document_title"`
	PageNumber    int                    `json:"page_number,omitempty"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// Chunk represents a text chunk with metadata.
type Chunk struct {
	ID          string                 `json:"id"`
	Content     string                 `json:"content"`
	TokenCount  int                    `json:"token_count"`
	Granularity Granularity            `json:"granularity"`
	PageNumber  int                    `json:"page_number,omitempty"`
	ChunkIndex  int                    `json:"chunk_index"`
	StartChar   int                    `json:"start_char"`
	EndChar     int                    `json:"end_char"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// PageContent represents a page with its text content.
type PageContent struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// Chunker splits text into token-bounded chunks with configurable overlap.
type Chunker struct {
	profile   Profile
	tokenizer *tiktoken.Tiktoken
}

// New creates a chunker for the given profile.
func New(profile Profile) (*Chunker, error) {
	if profile.MaxTokens <= 0 {
		return nil, fmt.Errorf("max tokens must be positive, got %d", profile.MaxTokens)
	}
	if profile.OverlapTokens >= profile.MaxTokens {
		return nil, fmt.Errorf("overlap (%d) must be smaller than max tokens (%d)",
			profile.OverlapTokens, profile.MaxTokens)
	}

	encoding := profile.Encoding
	if encoding == "" {
		encoding = "cl100k_base"
	}

	tokenizer, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	return &Chunker{
		profile:   profile,
		tokenizer: tokenizer,
	}, nil
}

// Profile returns the chunker's profile.
func (c *Chunker) Profile() Profile {
	return c.profile
}

// Chunk splits text into chunks with the given metadata.
func (c *Chunker) Chunk(text string, metadata ChunkMetadata) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	chunkIndex := 0
	chunks := c.split(text, metadata, &chunkIndex, 0)
	return c.addOverlap(chunks)
}

// ChunkPages chunks per-page text, preserving page attribution on each chunk.
func (c *Chunker) ChunkPages(pages []PageContent, metadata ChunkMetadata) []Chunk {
	var allChunks []Chunk
	chunkIndex := 0
	offset := 0

	for _, page := range pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}

		pageMetadata := metadata
		pageMetadata.PageNumber = page.PageNumber

		pageChunks := c.split(page.Text, pageMetadata, &chunkIndex, offset)
		for i := range pageChunks {
			pageChunks[i].PageNumber = page.PageNumber
		}
		allChunks = append(allChunks, pageChunks...)
		offset += len(page.Text) + 2
	}

	return c.addOverlap(allChunks)
}

// split breaks text into token-bounded chunks. It packs paragraphs greedily;
// a paragraph that alone exceeds the budget is split by sentences, and a
// sentence that alone exceeds the budget is split by words.
func (c *Chunker) split(text string, metadata ChunkMetadata, chunkIndex *int, startPos int) []Chunk {
	paragraphs := splitParagraphs(text)
	var chunks []Chunk
	var buf strings.Builder
	bufTokens := 0

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		chunks = append(chunks, c.newChunk(buf.String(), metadata, *chunkIndex, startPos))
		*chunkIndex++
		startPos += buf.Len()
		buf.Reset()
		bufTokens = 0
	}

	for _, para := range paragraphs {
		paraTokens := c.CountTokens(para)

		if paraTokens > c.profile.MaxTokens {
			flush()
			for _, piece := range c.splitOversized(para) {
				chunks = append(chunks, c.newChunk(piece, metadata, *chunkIndex, startPos))
				*chunkIndex++
				startPos += len(piece) + 1
			}
			continue
		}

		if bufTokens+paraTokens > c.profile.MaxTokens {
			flush()
		}

		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
		bufTokens += paraTokens
	}

	flush()
	return chunks
}

// splitOversized splits a paragraph that exceeds the token budget on its own,
// first by sentences and then, as a last resort, by words.
func (c *Chunker) splitOversized(para string) []string {
	var pieces []string
	var buf strings.Builder
	bufTokens := 0

	flush := func() {
		if buf.Len() > 0 {
			pieces = append(pieces, buf.String())
			buf.Reset()
			bufTokens = 0
		}
	}

	appendUnit := func(unit string, unitTokens int) {
		if bufTokens+unitTokens > c.profile.MaxTokens {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(unit)
		bufTokens += unitTokens
	}

	for _, sent := range splitSentences(para) {
		sentTokens := c.CountTokens(sent)

		if sentTokens > c.profile.MaxTokens {
			flush()
			for _, word := range strings.Fields(sent) {
				appendUnit(word, c.CountTokens(word))
			}
			flush()
			continue
		}

		appendUnit(sent, sentTokens)
	}

	flush()
	return pieces
}

// addOverlap prepends the tail of each chunk to its successor.
func (c *Chunker) addOverlap(chunks []Chunk) []Chunk {
	if len(chunks) <= 1 || c.profile.OverlapTokens == 0 {
		return chunks
	}

	for i := 1; i < len(chunks); i++ {
		overlapText := c.overlapTail(chunks[i-1].Content)
		if overlapText == "" || strings.HasPrefix(chunks[i].Content, overlapText) {
			continue
		}

		newContent := overlapText + " " + chunks[i].Content
		chunks[i].Content = newContent
		chunks[i].TokenCount = c.CountTokens(newContent)
	}

	return chunks
}

// overlapTail extracts the last OverlapTokens worth of text from a chunk.
func (c *Chunker) overlapTail(text string) string {
	tokens := c.tokenizer.Encode(text, nil, nil)
	if len(tokens) <= c.profile.OverlapTokens {
		return ""
	}

	tail := c.tokenizer.Decode(tokens[len(tokens)-c.profile.OverlapTokens:])
	tail = strings.TrimSpace(tail)

	// Start at a word boundary when one is near the front
	if idx := strings.Index(tail, " "); idx > 0 && idx < len(tail)/2 {
		tail = tail[idx+1:]
	}

	return strings.TrimSpace(tail)
}

// newChunk builds a chunk with a fresh UUID and document metadata attached.
func (c *Chunker) newChunk(content string, metadata ChunkMetadata, index, startPos int) Chunk {
	chunk := Chunk{
		ID:          uuid.New().String(),
		Content:     content,
		TokenCount:  c.CountTokens(content),
		Granularity: c.profile.Granularity,
		PageNumber:  metadata.PageNumber,
		ChunkIndex:  index,
		StartChar:   startPos,
		EndChar:     startPos + len(content),
		Metadata:    make(map[string]interface{}),
	}

	chunk.Metadata["document_id"] = metadata.DocumentID
	chunk.Metadata["document_title"] = metadata.DocumentTitle

	for k, v := range metadata.Extra {
		chunk.Metadata[k] = v
	}

	return chunk
}

// CountTokens returns the token count of text under the chunker's encoding.
func (c *Chunker) CountTokens(text string) int {
	return len(c.tokenizer.Encode(text, nil, nil))
}

// Helper functions

// splitParagraphs splits text into paragraphs.
func splitParagraphs(text string) []string {
	re := regexp.MustCompile(`\n\s*\n`)
	parts := re.Split(text, -1)

	var paragraphs []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	return paragraphs
}

// splitSentences splits text into sentences.
func splitSentences(text string) []string {
	text = protectAbbreviations(text)

	re := regexp.MustCompile(`([.!?]+)\s+`)
	parts := re.Split(text, -1)
	matches := re.FindAllStringSubmatch(text, -1)
	matchIdx := 0

	var sentences []string
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Restore the punctuation
		if matchIdx < len(matches) && i < len(parts)-1 {
			part += matches[matchIdx][1]
			matchIdx++
		}

		sentences = append(sentences, restoreAbbreviations(part))
	}

	return sentences
}

// protectAbbreviations replaces periods in common abbreviations.
func protectAbbreviations(text string) string {
	abbrevs := []string{
		"Mr.", "Mrs.", "Ms.", "Dr.", "Prof.", "Sr.", "Jr.",
		"Inc.", "Ltd.", "Corp.", "Co.",
		"e.g.", "i.e.", "etc.", "vs.",
		"No.", "Vol.", "Art.", "Sec.",
	}

	for _, abbr := range abbrevs {
		protected := strings.ReplaceAll(abbr, ".", "<DOT>")
		text = strings.ReplaceAll(text, abbr, protected)
	}

	return text
}

// restoreAbbreviations restores protected abbreviations.
func restoreAbbreviations(text string) string {
	return strings.ReplaceAll(text, "<DOT>", ".")
}

// NormalizeText normalizes text for consistent processing.
func NormalizeText(text string) string {
	text = strings.ToValidUTF8(text, "")

	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, text)

	re := regexp.MustCompile(`\s+`)
	text = re.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
