package ingest

import (
	"strings"
	"unicode"
)

// ChunkConfig defines semantic chunking parameters.
type ChunkConfig struct {
	// Threshold: content at or below this length stays a single chunk
	Threshold int
	// TargetSize: ideal chunk size
	TargetSize int
	// MinSize: minimum chunk size (smaller sections merge with neighbors)
	MinSize int
	// MaxSize: maximum chunk size (larger pieces split at sentences)
	MaxSize int
	// Overlap: character overlap carried into the next chunk
	Overlap int
}

// DefaultChunkConfig returns sensible defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Threshold:  1500,
		TargetSize: 750,
		MinSize:    200,
		MaxSize:    1000,
		Overlap:    100,
	}
}

// ChunkConfigFromParams overlays strategy params onto the defaults.
// Recognized keys: chunk_target, chunk_max, chunk_overlap.
func ChunkConfigFromParams(params Params) ChunkConfig {
	cfg := DefaultChunkConfig()
	cfg.TargetSize = params.Int("chunk_target", cfg.TargetSize)
	cfg.MaxSize = params.Int("chunk_max", cfg.MaxSize)
	cfg.Overlap = params.Int("chunk_overlap", cfg.Overlap)
	if cfg.MaxSize < cfg.TargetSize {
		cfg.MaxSize = cfg.TargetSize
	}
	return cfg
}

// ChunkPiece is one chunk produced by the semantic chunker.
type ChunkPiece struct {
	Content     string
	HeadingPath string // Section context, empty when unsectioned
}

// ChunkDocument splits a parsed document into semantic chunks.
// Prefers section boundaries, then paragraphs, then sentences.
func ChunkDocument(doc *MarkdownDoc, cfg ChunkConfig) []ChunkPiece {
	if len(doc.Content) <= cfg.Threshold {
		return []ChunkPiece{{Content: doc.Content}}
	}

	if len(doc.Sections) > 0 {
		return applyOverlap(chunkSections(doc.Sections, cfg), cfg.Overlap)
	}

	return applyOverlap(chunkParagraphs(doc.Content, "", cfg), cfg.Overlap)
}

// ChunkText splits plain text (no heading structure) into chunks.
func ChunkText(content string, cfg ChunkConfig) []ChunkPiece {
	if len(content) <= cfg.Threshold {
		return []ChunkPiece{{Content: content}}
	}
	return applyOverlap(chunkParagraphs(content, "", cfg), cfg.Overlap)
}

func chunkSections(sections []Section, cfg ChunkConfig) []ChunkPiece {
	var chunks []ChunkPiece

	for _, section := range sections {
		if len(section.Content) <= cfg.MaxSize {
			if len(section.Content) >= cfg.MinSize || len(chunks) == 0 {
				chunks = append(chunks, ChunkPiece{
					Content:     section.Content,
					HeadingPath: section.Path,
				})
			} else {
				// Tiny section folds into the previous chunk
				chunks[len(chunks)-1].Content += "\n\n" + section.Content
			}
			continue
		}

		chunks = append(chunks, chunkParagraphs(section.Content, section.Path, cfg)...)
	}

	return chunks
}

func chunkParagraphs(content, headingPath string, cfg ChunkConfig) []ChunkPiece {
	paragraphs := strings.Split(content, "\n\n")

	var chunks []ChunkPiece
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, ChunkPiece{
				Content:     strings.TrimSpace(current.String()),
				HeadingPath: headingPath,
			})
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len()+len(para) > cfg.MaxSize && current.Len() > 0 {
			flush()
		}

		// A paragraph too large on its own splits at sentence boundaries
		if len(para) > cfg.MaxSize {
			flush()
			for _, piece := range chunkSentences(para, cfg) {
				chunks = append(chunks, ChunkPiece{Content: piece, HeadingPath: headingPath})
			}
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}

	flush()
	return chunks
}

func chunkSentences(text string, cfg ChunkConfig) []string {
	var chunks []string
	var current strings.Builder

	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if current.Len()+len(sentence) > cfg.TargetSize && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				if i > 1 && unicode.IsUpper(runes[i-1]) {
					continue // likely an abbreviation like "Dr."
				}
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}

	return sentences
}

// applyOverlap prepends the trailing words of each chunk to its successor.
func applyOverlap(chunks []ChunkPiece, overlap int) []ChunkPiece {
	if overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}

	result := make([]ChunkPiece, len(chunks))
	copy(result, chunks)

	for i := 1; i < len(result); i++ {
		prev := result[i-1].Content
		if len(prev) > overlap {
			tail := prev[len(prev)-overlap:]
			if spaceIdx := strings.LastIndex(tail, " "); spaceIdx > 0 {
				tail = tail[spaceIdx+1:]
			}
			result[i].Content = tail + " " + result[i].Content
		}
	}

	return result
}
